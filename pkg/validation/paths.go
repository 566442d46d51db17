// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input-safety checks shared by the HTTP
// surface and the media prober.
//
// Two classes of input cross a trust boundary in MediaSentry: file paths
// arriving from API callers, and argument lists handed to external media
// tools. Both are validated here so the rules cannot drift between
// callers. Rejections are plain errors; callers decide whether to log
// them as audit events.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Sentinel errors for validation failures.
var (
	// ErrRelativePath indicates a path that is not absolute.
	ErrRelativePath = errors.New("path must be absolute")

	// ErrPathTraversal indicates a path containing ".." segments.
	ErrPathTraversal = errors.New("path contains traversal sequences")

	// ErrOutsideRoots indicates a path outside every configured scan root.
	ErrOutsideRoots = errors.New("path is outside configured scan roots")

	// ErrUnsafeArgument indicates a tool argument containing shell
	// metacharacters.
	ErrUnsafeArgument = errors.New("argument contains unsafe characters")
)

// dangerousChars are rejected in external-tool arguments. Tools are
// invoked with argument lists, never a shell, but stripping these keeps
// a defect in any downstream wrapper from becoming an injection.
const dangerousChars = ";|&$`<>\n\r\x00"

// CheckFilePath validates an API-supplied file path.
//
// Description:
//
//	Requires an absolute, clean path with no traversal segments.
//	The raw string is checked for ".." before cleaning so that
//	"/media/../etc/passwd" is rejected even though Clean would
//	normalize it.
//
// Inputs:
//
//	path - The candidate path.
//
// Outputs:
//
//	error - ErrRelativePath or ErrPathTraversal on rejection.
func CheckFilePath(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %q", ErrRelativePath, path)
	}
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return fmt.Errorf("%w: %q", ErrPathTraversal, path)
		}
	}
	return nil
}

// CheckWithinRoots validates that path lives under one of the given
// scan roots. Roots are compared segment-wise, so "/media/movies2" does
// not match the root "/media/movies".
func CheckWithinRoots(path string, roots []string) error {
	if err := CheckFilePath(path); err != nil {
		return err
	}
	cleaned := filepath.Clean(path)
	for _, root := range roots {
		root = filepath.Clean(root)
		if cleaned == root || strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrOutsideRoots, path)
}

// CheckToolArgs validates an external-tool argument list.
//
// Outputs:
//
//	error - ErrUnsafeArgument naming the offending argument.
func CheckToolArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, dangerousChars) {
			return fmt.Errorf("%w: %q", ErrUnsafeArgument, arg)
		}
	}
	return nil
}

// CheckExtension validates an exclusion-extension entry: a short
// alphanumeric token with an optional leading dot.
func CheckExtension(ext string) error {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" || len(ext) > 16 {
		return fmt.Errorf("invalid extension %q", ext)
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("invalid extension %q", ext)
		}
	}
	return nil
}
