// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultMaxWorkers, cfg.MaxWorkers)
	assert.Equal(t, DefaultDatabaseURL, cfg.DatabaseURL)
	assert.Equal(t, DefaultResetBatchSize, cfg.ResetBatchSize)
	assert.Empty(t, cfg.ScanRoots)
	assert.Zero(t, cfg.FileLimit)
}

func TestLoad_ScanRoots(t *testing.T) {
	t.Setenv("MEDIASENTRY_SCAN_ROOTS", "/media/movies, /media/shows ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"/media/movies", "/media/shows"}, cfg.ScanRoots)
}

func TestLoad_RelativeScanRootRejected(t *testing.T) {
	t.Setenv("MEDIASENTRY_SCAN_ROOTS", "media/movies")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "MEDIASENTRY_PORT", "not-a-port"},
		{"port out of range", "MEDIASENTRY_PORT", "70000"},
		{"zero workers", "MEDIASENTRY_MAX_WORKERS", "0"},
		{"negative limit", "MEDIASENTRY_FILE_LIMIT", "-5"},
		{"bad timezone", "MEDIASENTRY_TIMEZONE", "Mars/Olympus"},
		{"bad legacy ui", "MEDIASENTRY_LEGACY_UI", "perhaps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDatabasePath(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"file:mediasentry.db", "mediasentry.db"},
		{"file:/var/lib/mediasentry/catalog.db?_pragma=busy_timeout(30000)", "/var/lib/mediasentry/catalog.db"},
		{"postgres://host/db", ""},
	}

	for _, tt := range tests {
		cfg := &Config{DatabaseURL: tt.url}
		assert.Equal(t, tt.want, cfg.DatabasePath())
	}
}
