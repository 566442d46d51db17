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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Sentinel errors for the catalog store.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("catalog: not found")

	// ErrInvalidSort is returned for a sort column outside the whitelist.
	ErrInvalidSort = errors.New("catalog: invalid sort column")

	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("catalog: duplicate entry")
)

// sortColumns is the whitelist for ListScanResults ordering.
var sortColumns = map[string]bool{
	"id":              true,
	"file_path":       true,
	"file_size":       true,
	"file_type":       true,
	"scan_status":     true,
	"scan_date":       true,
	"discovered_date": true,
	"last_modified":   true,
	"is_corrupted":    true,
	"has_warnings":    true,
}

// Store provides read access to the catalog plus the low-rate
// administrative writes issued directly by HTTP handlers. All
// operation-driven mutations go through the WriteQueue instead.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an open catalog database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for the write queue.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// =============================================================================
// Scan result reads
// =============================================================================

// GetScanResult fetches one row by id.
func (s *Store) GetScanResult(ctx context.Context, id int64) (*ScanResult, error) {
	var result ScanResult
	err := s.db.GetContext(ctx, &result, `SELECT * FROM scan_results WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan result %d: %w", id, err)
	}
	return &result, nil
}

// GetScanResultByPath fetches one row by its unique file path.
func (s *Store) GetScanResultByPath(ctx context.Context, path string) (*ScanResult, error) {
	var result ScanResult
	err := s.db.GetContext(ctx, &result, `SELECT * FROM scan_results WHERE file_path = ?`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan result by path: %w", err)
	}
	return &result, nil
}

// ListFilter selects and orders scan results for the paginated list
// endpoint. Nil pointer fields mean "no filter".
type ListFilter struct {
	Status     string
	Corrupted  *bool
	Warnings   *bool
	MarkedGood *bool
	Search     string
	SortBy     string
	SortDesc   bool
	Limit      int
	Offset     int
}

// ListScanResults returns one page of rows plus the unpaginated match
// count.
//
// Description:
//
//	Filters follow the effective-health semantics: Corrupted=true
//	selects rows that count as corrupted (positive verdict, not marked
//	good, no warning demotion), not merely rows with is_corrupted set.
func (s *Store) ListScanResults(ctx context.Context, filter ListFilter) ([]ScanResult, int64, error) {
	var conds []string
	var args []any

	if filter.Status != "" {
		conds = append(conds, "scan_status = ?")
		args = append(args, filter.Status)
	}
	if filter.Corrupted != nil {
		if *filter.Corrupted {
			conds = append(conds, "(is_corrupted = 1 AND marked_as_good = 0 AND has_warnings = 0)")
		} else {
			conds = append(conds, "(is_corrupted = 0 OR marked_as_good = 1)")
		}
	}
	if filter.Warnings != nil {
		if *filter.Warnings {
			conds = append(conds, "(has_warnings = 1 AND marked_as_good = 0)")
		} else {
			conds = append(conds, "(has_warnings = 0 OR marked_as_good = 1)")
		}
	}
	if filter.MarkedGood != nil {
		conds = append(conds, "marked_as_good = ?")
		args = append(args, *filter.MarkedGood)
	}
	if filter.Search != "" {
		conds = append(conds, "file_path LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM scan_results"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count scan results: %w", err)
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "id"
	}
	if !sortColumns[sortBy] {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidSort, sortBy)
	}
	order := "ASC"
	if filter.SortDesc {
		order = "DESC"
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := fmt.Sprintf("SELECT * FROM scan_results%s ORDER BY %s %s LIMIT ? OFFSET ?", where, sortBy, order)
	args = append(args, limit, filter.Offset)

	results := []ScanResult{}
	if err := s.db.SelectContext(ctx, &results, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list scan results: %w", err)
	}
	return results, total, nil
}

// GetStats computes all aggregate counts in one table pass.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := s.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN scan_status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN scan_status = 'scanning' THEN 1 ELSE 0 END), 0) AS scanning,
			COALESCE(SUM(CASE WHEN scan_status = 'completed' THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN scan_status = 'error' THEN 1 ELSE 0 END), 0) AS errors,
			COALESCE(SUM(CASE WHEN is_corrupted = 1 AND marked_as_good = 0 AND has_warnings = 0 THEN 1 ELSE 0 END), 0) AS corrupted,
			COALESCE(SUM(CASE WHEN is_corrupted = 0 OR marked_as_good = 1 THEN 1 ELSE 0 END), 0) AS healthy,
			COALESCE(SUM(CASE WHEN has_warnings = 1 AND marked_as_good = 0 THEN 1 ELSE 0 END), 0) AS warnings,
			COALESCE(SUM(CASE WHEN marked_as_good = 1 THEN 1 ELSE 0 END), 0) AS marked_good
		FROM scan_results`)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &stats, nil
}

// ExistingPaths streams every known file_path into the given set in
// bounded id-ordered batches so discovery never loads an unbounded
// result set in one query.
func (s *Store) ExistingPaths(ctx context.Context, batchSize int, into map[string]struct{}) error {
	if batchSize <= 0 {
		batchSize = 10000
	}
	lastID := int64(0)
	for {
		rows := []struct {
			ID       int64  `db:"id"`
			FilePath string `db:"file_path"`
		}{}
		err := s.db.SelectContext(ctx, &rows,
			`SELECT id, file_path FROM scan_results WHERE id > ? ORDER BY id LIMIT ?`,
			lastID, batchSize)
		if err != nil {
			return fmt.Errorf("load existing paths: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		for _, row := range rows {
			into[row.FilePath] = struct{}{}
			lastID = row.ID
		}
	}
}

// PendingBatch returns the next id-ordered batch of pending rows after
// lastID.
func (s *Store) PendingBatch(ctx context.Context, lastID int64, limit int) ([]ScanResult, error) {
	results := []ScanResult{}
	err := s.db.SelectContext(ctx, &results,
		`SELECT * FROM scan_results WHERE scan_status = ? AND id > ? ORDER BY id LIMIT ?`,
		StatusPending, lastID, limit)
	if err != nil {
		return nil, fmt.Errorf("pending batch: %w", err)
	}
	return results, nil
}

// AllBatch returns the next id-ordered batch of all rows after lastID,
// used by cleanup and file-changes iteration.
func (s *Store) AllBatch(ctx context.Context, lastID int64, limit int) ([]ScanResult, error) {
	results := []ScanResult{}
	err := s.db.SelectContext(ctx, &results,
		`SELECT * FROM scan_results WHERE id > ? ORDER BY id LIMIT ?`, lastID, limit)
	if err != nil {
		return nil, fmt.Errorf("all batch: %w", err)
	}
	return results, nil
}

// CountByStatus counts rows in one scan status.
func (s *Store) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM scan_results WHERE scan_status = ?`, status)
	if err != nil {
		return 0, fmt.Errorf("count by status: %w", err)
	}
	return count, nil
}

// CountAll counts every catalog row.
func (s *Store) CountAll(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM scan_results`); err != nil {
		return 0, fmt.Errorf("count all: %w", err)
	}
	return count, nil
}

// IDsForPaths resolves catalog ids for an explicit path list,
// preserving only paths that exist.
func (s *Store) IDsForPaths(ctx context.Context, paths []string) ([]int64, error) {
	ids := []int64{}
	for start := 0; start < len(paths); start += 500 {
		end := min(start+500, len(paths))
		query, args, err := sqlx.In(`SELECT id FROM scan_results WHERE file_path IN (?)`, paths[start:end])
		if err != nil {
			return nil, fmt.Errorf("ids for paths: %w", err)
		}
		chunk := []int64{}
		if err := s.db.SelectContext(ctx, &chunk, s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("ids for paths: %w", err)
		}
		ids = append(ids, chunk...)
	}
	return ids, nil
}

// =============================================================================
// Operation state reads
// =============================================================================

// ActiveOperation returns the active state row for a variant, or
// ErrNotFound when the variant is idle.
func (s *Store) ActiveOperation(ctx context.Context, variant string) (*OperationState, error) {
	var state OperationState
	err := s.db.GetContext(ctx, &state,
		`SELECT * FROM operation_states WHERE variant = ? AND is_active = 1`, variant)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active operation %s: %w", variant, err)
	}
	return &state, nil
}

// LatestOperation returns the most recently started state row for a
// variant regardless of activity, for the status endpoints.
func (s *Store) LatestOperation(ctx context.Context, variant string) (*OperationState, error) {
	var state OperationState
	err := s.db.GetContext(ctx, &state,
		`SELECT * FROM operation_states WHERE variant = ? ORDER BY start_time DESC, operation_id DESC LIMIT 1`,
		variant)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest operation %s: %w", variant, err)
	}
	return &state, nil
}

// ActiveOperations returns every currently active state row.
func (s *Store) ActiveOperations(ctx context.Context) ([]OperationState, error) {
	states := []OperationState{}
	err := s.db.SelectContext(ctx, &states, `SELECT * FROM operation_states WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("active operations: %w", err)
	}
	return states, nil
}

// =============================================================================
// Report reads
// =============================================================================

// ListReports returns a page of reports, newest first, optionally
// restricted to one scan type.
func (s *Store) ListReports(ctx context.Context, scanType string, limit, offset int) ([]ScanReport, int64, error) {
	where := ""
	var args []any
	if scanType != "" {
		where = " WHERE scan_type = ?"
		args = append(args, scanType)
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM scan_reports"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	if limit <= 0 || limit > 500 {
		limit = 50
	}
	reports := []ScanReport{}
	query := "SELECT * FROM scan_reports" + where + " ORDER BY created_at DESC, report_id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	if err := s.db.SelectContext(ctx, &reports, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	return reports, total, nil
}

// GetReport fetches one report by id.
func (s *Store) GetReport(ctx context.Context, reportID string) (*ScanReport, error) {
	var report ScanReport
	err := s.db.GetContext(ctx, &report, `SELECT * FROM scan_reports WHERE report_id = ?`, reportID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}

// LatestReport returns the newest report of one scan type.
func (s *Store) LatestReport(ctx context.Context, scanType string) (*ScanReport, error) {
	var report ScanReport
	err := s.db.GetContext(ctx, &report,
		`SELECT * FROM scan_reports WHERE scan_type = ? ORDER BY created_at DESC, report_id DESC LIMIT 1`,
		scanType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest report: %w", err)
	}
	return &report, nil
}

// DeleteReport removes one report row.
func (s *Store) DeleteReport(ctx context.Context, reportID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scan_reports WHERE report_id = ?`, reportID)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Administrative tables
//
// These writes come from rate-limited HTTP handlers, never from
// operation workers, so they bypass the write queue and rely on the
// database busy timeout for the rare collision with the queue consumer.
// =============================================================================

// ListExclusions returns exclusions, optionally filtered by type.
func (s *Store) ListExclusions(ctx context.Context, exclusionType string) ([]Exclusion, error) {
	exclusions := []Exclusion{}
	var err error
	if exclusionType == "" {
		err = s.db.SelectContext(ctx, &exclusions, `SELECT * FROM exclusions ORDER BY id`)
	} else {
		err = s.db.SelectContext(ctx, &exclusions,
			`SELECT * FROM exclusions WHERE type = ? ORDER BY id`, exclusionType)
	}
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	return exclusions, nil
}

// AddExclusion inserts a typed exclusion row.
func (s *Store) AddExclusion(ctx context.Context, exclusionType, value string) (*Exclusion, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exclusions (type, value, created_at) VALUES (?, ?, ?)`,
		exclusionType, value, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("add exclusion: %w", err)
	}
	id, _ := res.LastInsertId()
	return &Exclusion{ID: id, Type: exclusionType, Value: value, CreatedAt: now}, nil
}

// RemoveExclusion deletes an exclusion by id.
func (s *Store) RemoveExclusion(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exclusions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove exclusion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIgnoredPatterns returns all ignored-error patterns.
func (s *Store) ListIgnoredPatterns(ctx context.Context) ([]IgnoredErrorPattern, error) {
	patterns := []IgnoredErrorPattern{}
	if err := s.db.SelectContext(ctx, &patterns, `SELECT * FROM ignored_error_patterns ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list ignored patterns: %w", err)
	}
	return patterns, nil
}

// ActiveIgnoredPatterns returns just the active pattern strings for the
// prober.
func (s *Store) ActiveIgnoredPatterns(ctx context.Context) ([]string, error) {
	patterns := []string{}
	err := s.db.SelectContext(ctx, &patterns,
		`SELECT pattern FROM ignored_error_patterns WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("active ignored patterns: %w", err)
	}
	return patterns, nil
}

// AddIgnoredPattern inserts a pattern row.
func (s *Store) AddIgnoredPattern(ctx context.Context, pattern, description string) (*IgnoredErrorPattern, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ignored_error_patterns (pattern, description, active, created_at) VALUES (?, ?, 1, ?)`,
		pattern, description, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("add ignored pattern: %w", err)
	}
	id, _ := res.LastInsertId()
	return &IgnoredErrorPattern{ID: id, Pattern: pattern, Description: description, Active: true, CreatedAt: now}, nil
}

// RemoveIgnoredPattern deletes a pattern by id.
func (s *Store) RemoveIgnoredPattern(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ignored_error_patterns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove ignored pattern: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListScanConfigurations returns all configured scan roots.
func (s *Store) ListScanConfigurations(ctx context.Context) ([]ScanConfiguration, error) {
	configs := []ScanConfiguration{}
	if err := s.db.SelectContext(ctx, &configs, `SELECT * FROM scan_configurations ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list scan configurations: %w", err)
	}
	return configs, nil
}

// ActiveScanRoots returns the paths of all active scan configurations.
func (s *Store) ActiveScanRoots(ctx context.Context) ([]string, error) {
	roots := []string{}
	err := s.db.SelectContext(ctx, &roots,
		`SELECT path FROM scan_configurations WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("active scan roots: %w", err)
	}
	return roots, nil
}

// AddScanConfiguration inserts an active scan-root row.
func (s *Store) AddScanConfiguration(ctx context.Context, path string) (*ScanConfiguration, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_configurations (path, is_active, created_at) VALUES (?, 1, ?)`, path, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("add scan configuration: %w", err)
	}
	id, _ := res.LastInsertId()
	return &ScanConfiguration{ID: id, Path: path, IsActive: true, CreatedAt: now}, nil
}

// RemoveScanConfiguration deletes a scan-root row by id.
func (s *Store) RemoveScanConfiguration(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scan_configurations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove scan configuration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSchedules returns all schedules.
func (s *Store) ListSchedules(ctx context.Context) ([]ScanSchedule, error) {
	schedules := []ScanSchedule{}
	if err := s.db.SelectContext(ctx, &schedules, `SELECT * FROM scan_schedules ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

// AddSchedule inserts a schedule row.
func (s *Store) AddSchedule(ctx context.Context, schedule ScanSchedule) (*ScanSchedule, error) {
	schedule.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_schedules (name, expression, variant, deep_scan, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		schedule.Name, schedule.Expression, schedule.Variant, schedule.DeepScan, schedule.Active, schedule.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("add schedule: %w", err)
	}
	schedule.ID, _ = res.LastInsertId()
	return &schedule, nil
}

// RemoveSchedule deletes a schedule by id.
func (s *Store) RemoveSchedule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scan_schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchSchedule records a schedule firing.
func (s *Store) TouchSchedule(ctx context.Context, id int64, when time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scan_schedules SET last_run = ? WHERE id = ?`, when, id)
	if err != nil {
		return fmt.Errorf("touch schedule: %w", err)
	}
	return nil
}

// SetMarkedAsGood flips the user health override on one row.
func (s *Store) SetMarkedAsGood(ctx context.Context, id int64, marked bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scan_results SET marked_as_good = ? WHERE id = ?`, marked, id)
	if err != nil {
		return fmt.Errorf("set marked as good: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDeepScan flags one row for the enhanced pipeline on its next scan.
func (s *Store) SetDeepScan(ctx context.Context, id int64, deep bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scan_results SET deep_scan = ? WHERE id = ?`, deep, id)
	if err != nil {
		return fmt.Errorf("set deep scan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Recovery
//
// Both methods run at process start (before any worker exists) or from
// the recover-stuck-scan endpoint, so they write directly instead of
// going through the queue.
// =============================================================================

// MarkInterrupted deactivates every active operation-state row, setting
// phase=interrupted. Returns how many rows were affected.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE operation_states SET is_active = 0, phase = ?, end_time = ? WHERE is_active = 1`,
		PhaseInterrupted, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ResetStuckScanning returns rows stuck in scanning to pending in
// bounded batches, clearing scan_date and corruption_details.
func (s *Store) ResetStuckScanning(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var total int64
	for {
		res, err := s.db.ExecContext(ctx, `
			UPDATE scan_results SET
				scan_status = ?, scan_date = NULL, corruption_details = ''
			WHERE id IN (
				SELECT id FROM scan_results WHERE scan_status = ? LIMIT ?
			)`, StatusPending, StatusScanning, batchSize)
		if err != nil {
			return total, fmt.Errorf("reset stuck scanning: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
