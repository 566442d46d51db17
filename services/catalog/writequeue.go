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
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Write messages
//
// Every catalog mutation issued by an operation worker is a tagged
// message with explicit fields. The queue applies one transaction per
// message; batch messages commit all their rows in one transaction.
// =============================================================================

// WriteMessage is the tagged-variant interface for queue messages.
type WriteMessage interface {
	// apply runs the mutation inside the given transaction.
	apply(tx *sqlx.Tx) error
}

// CreateOperationStateMsg inserts a fresh operation-state row.
type CreateOperationStateMsg struct {
	State OperationState
}

func (m CreateOperationStateMsg) apply(tx *sqlx.Tx) error {
	_, err := tx.NamedExec(`
		INSERT INTO operation_states (
			operation_id, variant, is_active, phase, phase_number, phase_current,
			phase_total, files_processed, total_files, current_file,
			progress_message, error_message, cancel_requested, start_time, end_time,
			estimated_total, discovery_count, orphaned_found, changes_found,
			corrupted_found, changed_files_json
		) VALUES (
			:operation_id, :variant, :is_active, :phase, :phase_number, :phase_current,
			:phase_total, :files_processed, :total_files, :current_file,
			:progress_message, :error_message, :cancel_requested, :start_time, :end_time,
			:estimated_total, :discovery_count, :orphaned_found, :changes_found,
			:corrupted_found, :changed_files_json
		)`, m.State)
	return err
}

// UpdateOperationStateMsg replaces the mutable columns of an
// operation-state row.
type UpdateOperationStateMsg struct {
	State OperationState
}

func (m UpdateOperationStateMsg) apply(tx *sqlx.Tx) error {
	_, err := tx.NamedExec(`
		UPDATE operation_states SET
			is_active = :is_active,
			phase = :phase,
			phase_number = :phase_number,
			phase_current = :phase_current,
			phase_total = :phase_total,
			files_processed = :files_processed,
			total_files = :total_files,
			current_file = :current_file,
			progress_message = :progress_message,
			error_message = :error_message,
			end_time = :end_time,
			estimated_total = :estimated_total,
			discovery_count = :discovery_count,
			orphaned_found = :orphaned_found,
			changes_found = :changes_found,
			corrupted_found = :corrupted_found,
			changed_files_json = :changed_files_json
		WHERE operation_id = :operation_id`, m.State)
	return err
}

// SetCancelRequestedMsg flags an active operation for cooperative
// cancellation. The worker observes the in-memory flag first; this row
// update keeps the database authoritative across restarts.
type SetCancelRequestedMsg struct {
	OperationID string
}

func (m SetCancelRequestedMsg) apply(tx *sqlx.Tx) error {
	_, err := tx.Exec(
		`UPDATE operation_states SET cancel_requested = 1 WHERE operation_id = ?`,
		m.OperationID)
	return err
}

// MarkOperationCompleteMsg transitions an operation to a terminal phase
// and, for successful completions, writes the scan report in the same
// transaction.
type MarkOperationCompleteMsg struct {
	OperationID  string
	Phase        string
	ErrorMessage string
	EndTime      time.Time
	Report       *ScanReport
}

func (m MarkOperationCompleteMsg) apply(tx *sqlx.Tx) error {
	_, err := tx.Exec(`
		UPDATE operation_states SET
			is_active = 0, phase = ?, error_message = ?, end_time = ?, current_file = ''
		WHERE operation_id = ?`,
		m.Phase, m.ErrorMessage, m.EndTime, m.OperationID)
	if err != nil {
		return err
	}
	if m.Report != nil {
		if _, err := tx.NamedExec(`
			INSERT INTO scan_reports (
				report_id, operation_id, scan_type, start_time, end_time,
				duration_seconds, files_scanned, files_added, files_corrupted,
				files_with_warnings, files_errored, orphaned_found, orphaned_deleted,
				files_changed, files_corrupted_new, directories_json, created_at
			) VALUES (
				:report_id, :operation_id, :scan_type, :start_time, :end_time,
				:duration_seconds, :files_scanned, :files_added, :files_corrupted,
				:files_with_warnings, :files_errored, :orphaned_found, :orphaned_deleted,
				:files_changed, :files_corrupted_new, :directories_json, :created_at
			)`, *m.Report); err != nil {
			return err
		}
	}
	return nil
}

// BatchUpsertScanResultsMsg inserts newly discovered rows. Paths that
// raced into the catalog since discovery are left untouched.
type BatchUpsertScanResultsMsg struct {
	Results []ScanResult
}

func (m BatchUpsertScanResultsMsg) apply(tx *sqlx.Tx) error {
	for i := range m.Results {
		if _, err := tx.NamedExec(`
			INSERT INTO scan_results (
				file_path, file_size, file_type, creation_date, last_modified,
				scan_status, discovered_date, deep_scan
			) VALUES (
				:file_path, :file_size, :file_type, :creation_date, :last_modified,
				:scan_status, :discovered_date, :deep_scan
			) ON CONFLICT(file_path) DO NOTHING`, m.Results[i]); err != nil {
			return err
		}
	}
	return nil
}

// MarkScanningMsg transitions a batch of rows to the scanning status
// before their probes launch.
type MarkScanningMsg struct {
	IDs []int64
}

func (m MarkScanningMsg) apply(tx *sqlx.Tx) error {
	if len(m.IDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`UPDATE scan_results SET scan_status = ? WHERE id IN (?)`, StatusScanning, m.IDs)
	if err != nil {
		return err
	}
	_, err = tx.Exec(tx.Rebind(query), args...)
	return err
}

// ScanResultUpdate applies one probe verdict to one row.
type ScanResultUpdate struct {
	ID                int64
	ScanStatus        string
	IsCorrupted       *bool
	HasWarnings       bool
	WarningDetails    string
	CorruptionDetails string
	ScanTool          string
	ScanDuration      float64
	ScanOutput        string
	ScanDate          *time.Time
	// FileHash and LastModified update only when non-zero; file-changes
	// verification refreshes them, plain scans leave them alone.
	FileHash     string
	LastModified *time.Time
	// ClearDeepScan drops the per-record deep request once honored.
	ClearDeepScan bool
}

func applyScanResultUpdate(tx *sqlx.Tx, u ScanResultUpdate) error {
	_, err := tx.Exec(`
		UPDATE scan_results SET
			scan_status = ?,
			is_corrupted = ?,
			has_warnings = ?,
			warning_details = ?,
			corruption_details = ?,
			scan_tool = ?,
			scan_duration = ?,
			scan_output = ?,
			scan_date = ?,
			file_hash = CASE WHEN ? = '' THEN file_hash ELSE ? END,
			last_modified = COALESCE(?, last_modified),
			deep_scan = CASE WHEN ? THEN 0 ELSE deep_scan END
		WHERE id = ?`,
		u.ScanStatus, u.IsCorrupted, u.HasWarnings, u.WarningDetails,
		u.CorruptionDetails, u.ScanTool, u.ScanDuration, u.ScanOutput,
		u.ScanDate, u.FileHash, u.FileHash, u.LastModified, u.ClearDeepScan, u.ID)
	return err
}

// UpdateScanResultMsg applies one verdict in its own transaction.
type UpdateScanResultMsg struct {
	Update ScanResultUpdate
}

func (m UpdateScanResultMsg) apply(tx *sqlx.Tx) error {
	return applyScanResultUpdate(tx, m.Update)
}

// BatchUpdateScanResultsMsg applies several verdicts in one
// transaction.
type BatchUpdateScanResultsMsg struct {
	Updates []ScanResultUpdate
}

func (m BatchUpdateScanResultsMsg) apply(tx *sqlx.Tx) error {
	for _, u := range m.Updates {
		if err := applyScanResultUpdate(tx, u); err != nil {
			return err
		}
	}
	return nil
}

// ResetScanResultsMsg returns rows to pending, clearing the verdict
// columns. Used by targeted rescans and stuck-scan recovery.
type ResetScanResultsMsg struct {
	IDs []int64
}

func (m ResetScanResultsMsg) apply(tx *sqlx.Tx) error {
	if len(m.IDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE scan_results SET
			scan_status = ?, scan_date = NULL, corruption_details = ''
		WHERE id IN (?)`, StatusPending, m.IDs)
	if err != nil {
		return err
	}
	_, err = tx.Exec(tx.Rebind(query), args...)
	return err
}

// DeleteScanResultsMsg removes orphaned rows.
type DeleteScanResultsMsg struct {
	IDs []int64
}

func (m DeleteScanResultsMsg) apply(tx *sqlx.Tx) error {
	if len(m.IDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM scan_results WHERE id IN (?)`, m.IDs)
	if err != nil {
		return err
	}
	_, err = tx.Exec(tx.Rebind(query), args...)
	return err
}

// =============================================================================
// Queue
// =============================================================================

// WriteQueue serializes catalog mutations through a single consumer
// goroutine so the embedded single-writer database never sees
// concurrent writes from operation workers.
//
// The queue is unbounded FIFO: Enqueue never blocks, and messages are
// applied strictly in submission order. A failed message is rolled
// back, logged, and dropped; the consumer continues.
//
// Thread Safety: Safe for concurrent use.
type WriteQueue struct {
	db     *sqlx.DB
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []WriteMessage
	closed  bool

	done chan struct{}
}

// NewWriteQueue creates a queue over the given database and starts its
// consumer goroutine.
func NewWriteQueue(db *sqlx.DB, logger *slog.Logger) *WriteQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &WriteQueue{
		db:     db,
		logger: logger.With(slog.String("component", "write_queue")),
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Enqueue appends a message to the queue. Messages enqueued after
// Close are dropped with a warning.
func (q *WriteQueue) Enqueue(msg WriteMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("write message dropped after queue close",
			slog.String("type", fmt.Sprintf("%T", msg)))
		return
	}
	q.pending = append(q.pending, msg)
	q.cond.Signal()
}

// Flush blocks until every message enqueued before the call has been
// applied (or dropped after a failure). Primarily for tests and for
// graceful shutdown.
func (q *WriteQueue) Flush() {
	fence := make(chan struct{})
	q.Enqueue(fenceMsg{ch: fence})

	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return
	}
	<-fence
}

// Close shuts the consumer down after draining already-enqueued
// messages.
func (q *WriteQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}

// fenceMsg unblocks Flush once the consumer reaches it.
type fenceMsg struct {
	ch chan struct{}
}

func (m fenceMsg) apply(*sqlx.Tx) error { return nil }

func (q *WriteQueue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if fence, ok := msg.(fenceMsg); ok {
			close(fence.ch)
			continue
		}
		q.applyOne(msg)
	}
}

// applyOne runs one message in its own transaction. Failures roll back
// and are logged; the queue never stops on a bad message.
func (q *WriteQueue) applyOne(msg WriteMessage) {
	tx, err := q.db.Beginx()
	if err != nil {
		q.logger.Error("begin transaction failed",
			slog.String("type", fmt.Sprintf("%T", msg)),
			slog.Any("error", err))
		return
	}
	if err := msg.apply(tx); err != nil {
		tx.Rollback()
		q.logger.Error("write message failed",
			slog.String("type", fmt.Sprintf("%T", msg)),
			slog.Any("error", err))
		return
	}
	if err := tx.Commit(); err != nil {
		q.logger.Error("commit failed",
			slog.String("type", fmt.Sprintf("%T", msg)),
			slog.Any("error", err))
	}
}
