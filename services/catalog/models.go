// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog owns the persistent state of MediaSentry: one row per
// discovered file, the operation-state rows for the three background
// operations, immutable scan reports, and the user-managed
// configuration tables (exclusions, ignored patterns, scan roots,
// schedules).
//
// All reads go through Store. All mutations issued by operation workers
// go through the WriteQueue so the embedded single-writer database only
// ever sees one writing goroutine.
package catalog

import (
	"time"
)

// =============================================================================
// Scan results
// =============================================================================

// Scan status values for ScanResult.ScanStatus.
const (
	StatusPending   = "pending"
	StatusScanning  = "scanning"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// ScanResult is one durable row per discovered file path.
//
// IsCorrupted is tri-state: nil means the file has not been scanned
// yet. MarkedAsGood is a user override: when true the row counts as
// healthy in every aggregate regardless of IsCorrupted.
type ScanResult struct {
	ID                int64      `db:"id" json:"id"`
	FilePath          string     `db:"file_path" json:"file_path"`
	FileSize          int64      `db:"file_size" json:"file_size"`
	FileType          string     `db:"file_type" json:"file_type"`
	CreationDate      *time.Time `db:"creation_date" json:"creation_date,omitempty"`
	LastModified      *time.Time `db:"last_modified" json:"last_modified,omitempty"`
	ScanStatus        string     `db:"scan_status" json:"scan_status"`
	IsCorrupted       *bool      `db:"is_corrupted" json:"is_corrupted"`
	HasWarnings       bool       `db:"has_warnings" json:"has_warnings"`
	WarningDetails    string     `db:"warning_details" json:"warning_details,omitempty"`
	CorruptionDetails string     `db:"corruption_details" json:"corruption_details,omitempty"`
	MarkedAsGood      bool       `db:"marked_as_good" json:"marked_as_good"`
	ScanTool          string     `db:"scan_tool" json:"scan_tool,omitempty"`
	ScanDuration      float64    `db:"scan_duration" json:"scan_duration"`
	ScanOutput        string     `db:"scan_output" json:"scan_output,omitempty"`
	FileHash          string     `db:"file_hash" json:"file_hash,omitempty"`
	DiscoveredDate    *time.Time `db:"discovered_date" json:"discovered_date,omitempty"`
	ScanDate          *time.Time `db:"scan_date" json:"scan_date,omitempty"`
	DeepScan          bool       `db:"deep_scan" json:"deep_scan"`
}

// EffectiveHealthy reports whether aggregate queries count this row as
// healthy: scanned clean, or overridden by the user.
func (r *ScanResult) EffectiveHealthy() bool {
	if r.MarkedAsGood {
		return true
	}
	return r.IsCorrupted != nil && !*r.IsCorrupted
}

// EffectiveCorrupted reports whether the row counts as corrupted:
// a positive verdict not overridden and not demoted to a warning.
func (r *ScanResult) EffectiveCorrupted() bool {
	return r.IsCorrupted != nil && *r.IsCorrupted && !r.MarkedAsGood && !r.HasWarnings
}

// EffectiveWarning reports whether the row counts as a warning.
func (r *ScanResult) EffectiveWarning() bool {
	return r.HasWarnings && !r.MarkedAsGood
}

// =============================================================================
// Operation state
// =============================================================================

// Operation variants. Exactly one OperationState row per variant may be
// active at any moment.
const (
	VariantScan        = "scan"
	VariantCleanup     = "cleanup"
	VariantFileChanges = "file_changes"
)

// Phase names for the scan operation.
const (
	PhaseDiscovery = "discovery"
	PhaseAdding    = "adding"
	PhaseScanning  = "scanning"
)

// Phase names for the cleanup operation.
const (
	PhaseScanningDB      = "scanning_db"
	PhaseCheckingFiles   = "checking_files"
	PhaseDeletingEntries = "deleting_entries"
)

// Phase names for the file-changes operation.
const (
	PhaseStarting         = "starting"
	PhaseCheckingHashes   = "checking_hashes"
	PhaseVerifyingChanges = "verifying_changes"
)

// Terminal phases shared by all variants.
const (
	PhaseCompleted   = "completed"
	PhaseCancelled   = "cancelled"
	PhaseInterrupted = "interrupted"
	PhaseError       = "error"
)

// OperationState is the persisted state of one background operation.
// The three variants share this shape; the trailing counters are
// variant-specific and zero for the others.
type OperationState struct {
	OperationID     string     `db:"operation_id" json:"operation_id"`
	Variant         string     `db:"variant" json:"variant"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	Phase           string     `db:"phase" json:"phase"`
	PhaseNumber     int        `db:"phase_number" json:"phase_number"`
	PhaseCurrent    int64      `db:"phase_current" json:"phase_current"`
	PhaseTotal      int64      `db:"phase_total" json:"phase_total"`
	FilesProcessed  int64      `db:"files_processed" json:"files_processed"`
	TotalFiles      int64      `db:"total_files" json:"total_files"`
	CurrentFile     string     `db:"current_file" json:"current_file,omitempty"`
	ProgressMessage string     `db:"progress_message" json:"progress_message,omitempty"`
	ErrorMessage    string     `db:"error_message" json:"error_message,omitempty"`
	CancelRequested bool       `db:"cancel_requested" json:"cancel_requested"`
	StartTime       time.Time  `db:"start_time" json:"start_time"`
	EndTime         *time.Time `db:"end_time" json:"end_time,omitempty"`

	// Scan-specific counters.
	EstimatedTotal int64 `db:"estimated_total" json:"estimated_total,omitempty"`
	DiscoveryCount int64 `db:"discovery_count" json:"discovery_count,omitempty"`

	// Cleanup-specific counter.
	OrphanedFound int64 `db:"orphaned_found" json:"orphaned_found,omitempty"`

	// File-changes-specific counters.
	ChangesFound     int64  `db:"changes_found" json:"changes_found,omitempty"`
	CorruptedFound   int64  `db:"corrupted_found" json:"corrupted_found,omitempty"`
	ChangedFilesJSON string `db:"changed_files_json" json:"changed_files_json,omitempty"`
}

// Terminal reports whether the operation reached a final phase.
func (s *OperationState) Terminal() bool {
	switch s.Phase {
	case PhaseCompleted, PhaseCancelled, PhaseInterrupted, PhaseError:
		return true
	}
	return false
}

// =============================================================================
// Scan reports
// =============================================================================

// ScanReport is an immutable summary written when an operation
// completes. Cancelled and interrupted operations never produce one.
type ScanReport struct {
	ReportID          string    `db:"report_id" json:"report_id"`
	OperationID       string    `db:"operation_id" json:"operation_id"`
	ScanType          string    `db:"scan_type" json:"scan_type"`
	StartTime         time.Time `db:"start_time" json:"start_time"`
	EndTime           time.Time `db:"end_time" json:"end_time"`
	DurationSeconds   float64   `db:"duration_seconds" json:"duration_seconds"`
	FilesScanned      int64     `db:"files_scanned" json:"files_scanned"`
	FilesAdded        int64     `db:"files_added" json:"files_added"`
	FilesCorrupted    int64     `db:"files_corrupted" json:"files_corrupted"`
	FilesWithWarnings int64     `db:"files_with_warnings" json:"files_with_warnings"`
	FilesErrored      int64     `db:"files_errored" json:"files_errored"`
	OrphanedFound     int64     `db:"orphaned_found" json:"orphaned_found"`
	OrphanedDeleted   int64     `db:"orphaned_deleted" json:"orphaned_deleted"`
	FilesChanged      int64     `db:"files_changed" json:"files_changed"`
	FilesCorruptedNew int64     `db:"files_corrupted_new" json:"files_corrupted_new"`
	DirectoriesJSON   string    `db:"directories_json" json:"directories_json,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// =============================================================================
// Configuration tables
// =============================================================================

// IgnoredErrorPattern is a user-managed substring. Candidate corruption
// lines matching an active pattern are stripped before classification.
type IgnoredErrorPattern struct {
	ID          int64     `db:"id" json:"id"`
	Pattern     string    `db:"pattern" json:"pattern"`
	Description string    `db:"description" json:"description,omitempty"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ScanConfiguration is one active scan-root path. The active
// configuration is the set of rows with IsActive true.
type ScanConfiguration struct {
	ID        int64     `db:"id" json:"id"`
	Path      string    `db:"path" json:"path"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ScanSchedule is a named trigger submitting an operation variant on a
// time expression ("interval:30m" or a cron line). The engine treats
// schedules purely as sources of in-process submissions.
type ScanSchedule struct {
	ID         int64      `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	Expression string     `db:"expression" json:"expression"`
	Variant    string     `db:"variant" json:"variant"`
	DeepScan   bool       `db:"deep_scan" json:"deep_scan"`
	Active     bool       `db:"active" json:"active"`
	LastRun    *time.Time `db:"last_run" json:"last_run,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Exclusion types consumed by the discovery walker.
const (
	ExclusionPath      = "path"
	ExclusionExtension = "extension"
)

// Exclusion removes paths under a prefix or files with an extension
// from discovery.
type Exclusion struct {
	ID        int64     `db:"id" json:"id"`
	Type      string    `db:"type" json:"type"`
	Value     string    `db:"value" json:"value"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// =============================================================================
// Aggregates
// =============================================================================

// Stats is the single-pass aggregate over scan_results used by the
// statistics endpoint and scan reports.
type Stats struct {
	Total      int64 `db:"total" json:"total"`
	Pending    int64 `db:"pending" json:"pending"`
	Scanning   int64 `db:"scanning" json:"scanning"`
	Completed  int64 `db:"completed" json:"completed"`
	Errors     int64 `db:"errors" json:"errors"`
	Corrupted  int64 `db:"corrupted" json:"corrupted"`
	Healthy    int64 `db:"healthy" json:"healthy"`
	Warnings   int64 `db:"warnings" json:"warnings"`
	MarkedGood int64 `db:"marked_good" json:"marked_good"`
}
