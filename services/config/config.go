// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the MediaSentry service configuration from the
// environment.
//
// All settings have defaults suitable for a single-host deployment. The
// environment is read once at startup; runtime-editable settings (scan
// roots, exclusions, schedules, ignored patterns) live in the catalog
// database instead.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Default values applied when the corresponding variable is unset.
const (
	DefaultPort           = 8310
	DefaultMaxWorkers     = 4
	DefaultResetBatchSize = 500
	DefaultDatabaseURL    = "file:mediasentry.db"
)

// Config holds the startup configuration for the service.
type Config struct {
	// Port is the HTTP listen port.
	Port int

	// ScanRoots are the default scan root directories, comma-separated
	// in MEDIASENTRY_SCAN_ROOTS. The active configuration in the catalog
	// takes precedence once one exists.
	ScanRoots []string

	// MaxWorkers bounds concurrent probes and discovery parallelism.
	MaxWorkers int

	// FileLimit caps the number of new files discovered per scan.
	// Zero means unlimited.
	FileLimit int

	// DatabaseURL points at the embedded SQLite database. Only "file:"
	// URLs are supported by the core.
	DatabaseURL string

	// Timezone is the IANA zone name used for report timestamps.
	Timezone *time.Location

	// SecretKey is reserved for deployments that front the service with
	// an authenticating proxy.
	SecretKey string

	// LogDir enables file logging when non-empty.
	LogDir string

	// ResetBatchSize bounds how many rows a stuck-scan recovery resets
	// per write message.
	ResetBatchSize int

	// LegacyUI selects the alternate UI template set served by the
	// external UI collaborator. The core only forwards the flag.
	LegacyUI bool
}

// Load reads configuration from the environment.
//
// Description:
//
//	Reads MEDIASENTRY_* variables, applies defaults, and validates the
//	result. Scan roots must be absolute paths; relative entries are
//	rejected so an operator cannot accidentally scan the working
//	directory of the service process.
//
// Outputs:
//
//	*Config - The loaded configuration.
//	error - Non-nil if a variable is malformed.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           DefaultPort,
		MaxWorkers:     DefaultMaxWorkers,
		ResetBatchSize: DefaultResetBatchSize,
		DatabaseURL:    getEnvOr("MEDIASENTRY_DATABASE_URL", DefaultDatabaseURL),
		SecretKey:      os.Getenv("MEDIASENTRY_SECRET_KEY"),
		LogDir:         os.Getenv("MEDIASENTRY_LOG_DIR"),
		Timezone:       time.UTC,
	}

	if v := os.Getenv("MEDIASENTRY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid MEDIASENTRY_PORT %q", v)
		}
		cfg.Port = port
	}

	if v := os.Getenv("MEDIASENTRY_MAX_WORKERS"); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil || workers < 1 {
			return nil, fmt.Errorf("invalid MEDIASENTRY_MAX_WORKERS %q", v)
		}
		cfg.MaxWorkers = workers
	}

	if v := os.Getenv("MEDIASENTRY_FILE_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("invalid MEDIASENTRY_FILE_LIMIT %q", v)
		}
		cfg.FileLimit = limit
	}

	if v := os.Getenv("MEDIASENTRY_RESET_BATCH_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 {
			return nil, fmt.Errorf("invalid MEDIASENTRY_RESET_BATCH_SIZE %q", v)
		}
		cfg.ResetBatchSize = size
	}

	if v := os.Getenv("MEDIASENTRY_TIMEZONE"); v != "" {
		loc, err := time.LoadLocation(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MEDIASENTRY_TIMEZONE %q: %w", v, err)
		}
		cfg.Timezone = loc
	}

	if v := os.Getenv("MEDIASENTRY_LEGACY_UI"); v != "" {
		legacy, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MEDIASENTRY_LEGACY_UI %q", v)
		}
		cfg.LegacyUI = legacy
	}

	if v := os.Getenv("MEDIASENTRY_SCAN_ROOTS"); v != "" {
		for _, root := range strings.Split(v, ",") {
			root = strings.TrimSpace(root)
			if root == "" {
				continue
			}
			if !filepath.IsAbs(root) {
				return nil, fmt.Errorf("scan root %q must be an absolute path", root)
			}
			cfg.ScanRoots = append(cfg.ScanRoots, filepath.Clean(root))
		}
	}

	return cfg, nil
}

// DatabasePath extracts the filesystem path from a file: database URL.
//
// Outputs:
//
//	string - The path portion, or "" when the URL is not file-backed.
func (c *Config) DatabasePath() string {
	if !strings.HasPrefix(c.DatabaseURL, "file:") {
		return ""
	}
	path := strings.TrimPrefix(c.DatabaseURL, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
