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
	"fmt"
	"os"

	"github.com/AleutianAI/mediasentry/services/catalog"
)

const (
	// cleanupReadBatch bounds the ID-paginated reads in phase 2.
	cleanupReadBatch = 500

	// cleanupDeleteBatch is the rows-per-commit bound in phase 3.
	cleanupDeleteBatch = 50
)

// runCleanup executes the orphan cleanup: count rows, check each path
// on the filesystem, delete the rows whose files are gone.
func (e *Engine) runCleanup(op *operation) {
	ctx := e.baseCtx

	// Phase 1: size the work.
	total, err := e.store.CountAll(ctx)
	if err != nil {
		op.finish(catalog.PhaseError, fmt.Sprintf("count catalog rows: %v", err), nil)
		return
	}
	op.state.TotalFiles = total
	op.enterPhase(catalog.PhaseScanningDB, 1, total)

	// Phase 2: existence check, record by record.
	op.enterPhase(catalog.PhaseCheckingFiles, 2, total)
	var orphanIDs []int64
	var checked int64
	var lastID int64
	cancelled := false

	for !cancelled {
		batch, err := e.store.AllBatch(ctx, lastID, cleanupReadBatch)
		if err != nil {
			op.finish(catalog.PhaseError, fmt.Sprintf("load catalog batch: %v", err), nil)
			return
		}
		if len(batch) == 0 {
			break
		}
		lastID = batch[len(batch)-1].ID

		for _, row := range batch {
			if op.isCancelled() {
				cancelled = true
				break
			}
			if _, err := os.Stat(row.FilePath); os.IsNotExist(err) {
				orphanIDs = append(orphanIDs, row.ID)
				op.state.OrphanedFound = int64(len(orphanIDs))
			}
			checked++
			op.state.FilesProcessed = checked
			op.setProgress(checked, row.FilePath)
		}
	}

	if cancelled || op.isCancelled() {
		op.finish(catalog.PhaseCancelled, "", nil)
		return
	}

	// Phase 3: delete in small commits.
	op.enterPhase(catalog.PhaseDeletingEntries, 3, int64(len(orphanIDs)))
	var deleted int64
	for start := 0; start < len(orphanIDs); start += cleanupDeleteBatch {
		if op.isCancelled() {
			op.finish(catalog.PhaseCancelled, "", nil)
			return
		}
		end := min(start+cleanupDeleteBatch, len(orphanIDs))
		e.queue.Enqueue(catalog.DeleteScanResultsMsg{IDs: orphanIDs[start:end]})
		deleted += int64(end - start)
		op.setProgress(deleted, "")
	}
	e.queue.Flush()

	report := op.newReport(catalog.VariantCleanup)
	report.OrphanedFound = int64(len(orphanIDs))
	report.OrphanedDeleted = deleted
	op.finish(catalog.PhaseCompleted, "", report)
}
