// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"valid absolute", "/media/movies/a.mp4", nil},
		{"relative", "movies/a.mp4", ErrRelativePath},
		{"traversal", "/media/../etc/passwd", ErrPathTraversal},
		{"embedded traversal", "/media/movies/../../etc/shadow", ErrPathTraversal},
		{"dotdot in name is fine", "/media/what..ever.mp4", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFilePath(tt.path)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCheckWithinRoots(t *testing.T) {
	roots := []string{"/media/movies", "/media/shows"}

	assert.NoError(t, CheckWithinRoots("/media/movies/a.mp4", roots))
	assert.NoError(t, CheckWithinRoots("/media/shows/s1/e1.mkv", roots))
	assert.ErrorIs(t, CheckWithinRoots("/media/music/a.flac", roots), ErrOutsideRoots)
	// Sibling directory sharing a prefix must not match.
	assert.ErrorIs(t, CheckWithinRoots("/media/movies2/a.mp4", roots), ErrOutsideRoots)
}

func TestCheckToolArgs(t *testing.T) {
	assert.NoError(t, CheckToolArgs([]string{"-v", "error", "-i", "/media/a.mp4"}))

	bad := [][]string{
		{"-i", "/media/a.mp4; rm -rf /"},
		{"$(whoami)"},
		{"a|b"},
		{"back`tick"},
		{"multi\nline"},
	}
	for _, args := range bad {
		assert.ErrorIs(t, CheckToolArgs(args), ErrUnsafeArgument)
	}
}

func TestCheckExtension(t *testing.T) {
	assert.NoError(t, CheckExtension("mp4"))
	assert.NoError(t, CheckExtension(".MKV"))
	assert.Error(t, CheckExtension(""))
	assert.Error(t, CheckExtension(".mp4;rm"))
	assert.Error(t, CheckExtension("waytoolongextensionname"))
}
