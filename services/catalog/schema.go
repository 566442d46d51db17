// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Connection pool and durability policy for the embedded database.
// WAL keeps readers non-blocking while the write queue commits;
// busy_timeout covers the rare contended statement from an admin write.
const (
	busyTimeout     = 30 * time.Second
	connMaxLifetime = 5 * time.Minute
)

// Open opens (and migrates) the catalog database at the given URL.
//
// Description:
//
//	Accepts "file:" URLs. Pragmas are appended to the DSN unless the
//	caller already set them: WAL journaling, synchronous=NORMAL, and a
//	30 s busy timeout. The schema is created on first open and is
//	idempotent on subsequent opens.
//
// Inputs:
//
//	databaseURL - e.g. "file:/var/lib/mediasentry/catalog.db".
//
// Outputs:
//
//	*sqlx.DB - Pooled handle, pre-pinged.
//	error - Non-nil when the file cannot be opened or migrated.
func Open(databaseURL string) (*sqlx.DB, error) {
	if !strings.HasPrefix(databaseURL, "file:") {
		return nil, fmt.Errorf("unsupported database URL %q: only file: URLs are supported", databaseURL)
	}

	dsn := databaseURL
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + fmt.Sprintf(
			"_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
			busyTimeout.Milliseconds(),
		)
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func migrate(db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS scan_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL UNIQUE,
		file_size INTEGER NOT NULL DEFAULT 0,
		file_type TEXT NOT NULL DEFAULT '',
		creation_date TIMESTAMP,
		last_modified TIMESTAMP,
		scan_status TEXT NOT NULL DEFAULT 'pending',
		is_corrupted BOOLEAN,
		has_warnings BOOLEAN NOT NULL DEFAULT 0,
		warning_details TEXT NOT NULL DEFAULT '',
		corruption_details TEXT NOT NULL DEFAULT '',
		marked_as_good BOOLEAN NOT NULL DEFAULT 0,
		scan_tool TEXT NOT NULL DEFAULT '',
		scan_duration REAL NOT NULL DEFAULT 0,
		scan_output TEXT NOT NULL DEFAULT '',
		file_hash TEXT NOT NULL DEFAULT '',
		discovered_date TIMESTAMP,
		scan_date TIMESTAMP,
		deep_scan BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_file_path ON scan_results(file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_scan_status ON scan_results(scan_status)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_scan_date ON scan_results(scan_date)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_is_corrupted ON scan_results(is_corrupted)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_marked_as_good ON scan_results(marked_as_good)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_discovered_date ON scan_results(discovered_date)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_file_hash ON scan_results(file_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_last_modified ON scan_results(last_modified)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_status_date ON scan_results(scan_status, scan_date)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_corrupt_good ON scan_results(is_corrupted, marked_as_good)`,

	`CREATE TABLE IF NOT EXISTS operation_states (
		operation_id TEXT PRIMARY KEY,
		variant TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 0,
		phase TEXT NOT NULL DEFAULT '',
		phase_number INTEGER NOT NULL DEFAULT 1,
		phase_current INTEGER NOT NULL DEFAULT 0,
		phase_total INTEGER NOT NULL DEFAULT 0,
		files_processed INTEGER NOT NULL DEFAULT 0,
		total_files INTEGER NOT NULL DEFAULT 0,
		current_file TEXT NOT NULL DEFAULT '',
		progress_message TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		cancel_requested BOOLEAN NOT NULL DEFAULT 0,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		estimated_total INTEGER NOT NULL DEFAULT 0,
		discovery_count INTEGER NOT NULL DEFAULT 0,
		orphaned_found INTEGER NOT NULL DEFAULT 0,
		changes_found INTEGER NOT NULL DEFAULT 0,
		corrupted_found INTEGER NOT NULL DEFAULT 0,
		changed_files_json TEXT NOT NULL DEFAULT ''
	)`,
	// One active operation per variant, enforced by the database itself.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_operation_states_active
		ON operation_states(variant) WHERE is_active = 1`,
	`CREATE INDEX IF NOT EXISTS idx_operation_states_variant ON operation_states(variant, start_time)`,

	`CREATE TABLE IF NOT EXISTS scan_reports (
		report_id TEXT PRIMARY KEY,
		operation_id TEXT NOT NULL,
		scan_type TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		duration_seconds REAL NOT NULL DEFAULT 0,
		files_scanned INTEGER NOT NULL DEFAULT 0,
		files_added INTEGER NOT NULL DEFAULT 0,
		files_corrupted INTEGER NOT NULL DEFAULT 0,
		files_with_warnings INTEGER NOT NULL DEFAULT 0,
		files_errored INTEGER NOT NULL DEFAULT 0,
		orphaned_found INTEGER NOT NULL DEFAULT 0,
		orphaned_deleted INTEGER NOT NULL DEFAULT 0,
		files_changed INTEGER NOT NULL DEFAULT 0,
		files_corrupted_new INTEGER NOT NULL DEFAULT 0,
		directories_json TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_reports_type_created ON scan_reports(scan_type, created_at)`,

	`CREATE TABLE IF NOT EXISTS ignored_error_patterns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pattern TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS scan_configurations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS scan_schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		expression TEXT NOT NULL,
		variant TEXT NOT NULL,
		deep_scan BOOLEAN NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1,
		last_run TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS exclusions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(type, value)
	)`,
}
