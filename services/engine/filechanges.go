// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/mediasentry/services/catalog"
	"github.com/AleutianAI/mediasentry/services/probe"
)

const (
	// fileChangesBatch bounds the ID-paginated reads in phase 2.
	fileChangesBatch = 100

	// fileChangesProgressEvery throttles the in-batch progress writes.
	fileChangesProgressEvery = 5
)

// Change types for ChangeDescriptor.ChangeType.
const (
	ChangeDeleted  = "deleted"
	ChangeModified = "modified"
)

// ChangeDescriptor records one detected file change. The slice is
// persisted as JSON on the operation row and surfaced by the status
// endpoint.
type ChangeDescriptor struct {
	ID              int64      `json:"id"`
	FilePath        string     `json:"file_path"`
	ChangeType      string     `json:"change_type"`
	StoredHash      string     `json:"stored_hash,omitempty"`
	CurrentHash     string     `json:"current_hash,omitempty"`
	StoredModified  *time.Time `json:"stored_modified,omitempty"`
	CurrentModified *time.Time `json:"current_modified,omitempty"`
}

// runFileChanges executes the file-change check: compare every row's
// mtime and content hash against the filesystem, then rescan the
// changed files to decide whether the change introduced corruption.
func (e *Engine) runFileChanges(op *operation) {
	ctx := e.baseCtx

	// Phase 1: size the work.
	total, err := e.store.CountAll(ctx)
	if err != nil {
		op.finish(catalog.PhaseError, fmt.Sprintf("count catalog rows: %v", err), nil)
		return
	}
	op.state.TotalFiles = total
	op.enterPhase(catalog.PhaseStarting, 1, 1)
	op.setProgress(1, "")

	// Phase 2: hash comparison.
	op.enterPhase(catalog.PhaseCheckingHashes, 2, total)
	changes, cancelled := e.detectChanges(op)
	if cancelled {
		op.finish(catalog.PhaseCancelled, "", nil)
		return
	}

	op.state.ChangesFound = int64(len(changes))
	if data, err := json.Marshal(changes); err == nil {
		op.state.ChangedFilesJSON = string(data)
	}

	// Phase 3: rescan the modified files.
	modified := make([]ChangeDescriptor, 0, len(changes))
	for _, c := range changes {
		if c.ChangeType == ChangeModified {
			modified = append(modified, c)
		}
	}
	op.enterPhase(catalog.PhaseVerifyingChanges, 3, int64(len(modified)))

	var corruptedNew int64
	for i, change := range modified {
		if op.isCancelled() {
			op.finish(catalog.PhaseCancelled, "", nil)
			return
		}
		result := e.prober.Probe(ctx, change.FilePath, false)
		e.metrics.FileScanned(result.Status.String())
		if result.Status == probe.StatusCorrupted {
			corruptedNew++
			op.state.CorruptedFound = corruptedNew
		}

		update := verdictUpdate(catalog.ScanResult{ID: change.ID}, result)
		update.FileHash = change.CurrentHash
		update.LastModified = change.CurrentModified
		e.queue.Enqueue(catalog.UpdateScanResultMsg{Update: update})

		op.state.FilesProcessed++
		op.setProgress(int64(i+1), change.FilePath)
	}
	e.queue.Flush()

	report := op.newReport(catalog.VariantFileChanges)
	report.FilesChanged = int64(len(changes))
	report.FilesCorruptedNew = corruptedNew
	op.finish(catalog.PhaseCompleted, "", report)
}

// detectChanges walks the catalog in batches, comparing each row with
// the filesystem. Cancellation is honored before each batch and
// between records; progress publishes every few files and at batch
// boundaries.
func (e *Engine) detectChanges(op *operation) (changes []ChangeDescriptor, cancelled bool) {
	ctx := e.baseCtx
	var processed int64
	var lastID int64

	for {
		if op.isCancelled() {
			return changes, true
		}
		batch, err := e.store.AllBatch(ctx, lastID, fileChangesBatch)
		if err != nil {
			e.logger.Error("file-changes batch load failed", slog.Any("error", err))
			return changes, false
		}
		if len(batch) == 0 {
			return changes, false
		}
		lastID = batch[len(batch)-1].ID

		for _, row := range batch {
			if op.isCancelled() {
				return changes, true
			}
			if change, ok := e.compareRow(row); ok {
				changes = append(changes, change)
				op.state.ChangesFound = int64(len(changes))
			}
			processed++
			op.state.FilesProcessed = processed
			if processed%fileChangesProgressEvery == 0 {
				op.setProgress(processed, row.FilePath)
			}
		}
		op.setProgress(processed, batch[len(batch)-1].FilePath)
	}
}

// compareRow checks one catalog row against the filesystem.
func (e *Engine) compareRow(row catalog.ScanResult) (ChangeDescriptor, bool) {
	info, err := os.Stat(row.FilePath)
	if os.IsNotExist(err) {
		return ChangeDescriptor{
			ID:             row.ID,
			FilePath:       row.FilePath,
			ChangeType:     ChangeDeleted,
			StoredHash:     row.FileHash,
			StoredModified: row.LastModified,
		}, true
	}
	if err != nil {
		e.logger.Warn("file-changes stat failed",
			slog.String("path", row.FilePath), slog.Any("error", err))
		return ChangeDescriptor{}, false
	}

	modTime := info.ModTime().UTC()
	if row.LastModified != nil && !modTime.After(row.LastModified.UTC()) {
		return ChangeDescriptor{}, false
	}

	currentHash, err := probe.FileHash(row.FilePath)
	if err != nil {
		e.logger.Warn("file-changes hash failed",
			slog.String("path", row.FilePath), slog.Any("error", err))
		return ChangeDescriptor{}, false
	}
	if row.FileHash != "" && currentHash == row.FileHash {
		// Touched but content-identical; not a change.
		return ChangeDescriptor{}, false
	}

	return ChangeDescriptor{
		ID:              row.ID,
		FilePath:        row.FilePath,
		ChangeType:      ChangeModified,
		StoredHash:      row.FileHash,
		CurrentHash:     currentHash,
		StoredModified:  row.LastModified,
		CurrentModified: &modTime,
	}, true
}
