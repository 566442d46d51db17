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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/mediasentry/services/catalog"
	"github.com/AleutianAI/mediasentry/services/discovery"
	"github.com/AleutianAI/mediasentry/services/probe"
)

const (
	// Batch sizes for the scan operation.
	existingPathsBatch = 1000
	addingBatch        = 100
	scanBatch          = 1000
	rescanBatch        = 100
)

// runScan executes the scan operation: discovery, adding, scanning.
func (e *Engine) runScan(op *operation, req ScanRequest) {
	ctx := e.baseCtx

	var filesAdded int64

	if req.Rescan {
		// Targeted rescan: reset the requested rows and jump straight
		// to the scanning phase.
		ids, err := e.store.IDsForPaths(ctx, req.Paths)
		if err != nil {
			op.finish(catalog.PhaseError, fmt.Sprintf("resolve rescan paths: %v", err), nil)
			return
		}
		for start := 0; start < len(ids); start += e.cfg.ResetBatchSize {
			end := min(start+e.cfg.ResetBatchSize, len(ids))
			e.queue.Enqueue(catalog.ResetScanResultsMsg{IDs: ids[start:end]})
		}
		e.queue.Flush()
	} else {
		// Phase 1: discovery.
		discovered, err := e.discoverPhase(op, req)
		if err != nil {
			op.finish(catalog.PhaseError, err.Error(), nil)
			return
		}
		if op.isCancelled() {
			op.finish(catalog.PhaseCancelled, "", nil)
			return
		}

		// Phase 2: adding. Skipped entirely when discovery found
		// nothing new; pending rows from earlier runs still scan.
		if len(discovered) > 0 {
			filesAdded = e.addingPhase(op, discovered)
			if op.isCancelled() {
				op.finish(catalog.PhaseCancelled, "", nil)
				return
			}
		}
	}

	// Phase 3: scanning.
	batchSize := scanBatch
	if req.Rescan {
		batchSize = rescanBatch
	}
	counters, err := e.scanningPhase(op, req.Deep, batchSize)
	if err != nil {
		op.finish(catalog.PhaseError, err.Error(), nil)
		return
	}
	if op.isCancelled() {
		op.finish(catalog.PhaseCancelled, "", nil)
		return
	}

	// Partial completion check: pending rows surviving the last batch
	// mean pagination raced with writes or a worker bailed out.
	if remaining, err := e.store.CountByStatus(ctx, catalog.StatusPending); err == nil && remaining > 0 {
		e.logger.Warn("scan finished with pending rows remaining",
			slog.String("operation_id", op.state.OperationID),
			slog.Int64("pending", remaining))
	}

	report := op.newReport(catalog.VariantScan)
	report.FilesScanned = counters.scanned.Load()
	report.FilesAdded = filesAdded
	report.FilesCorrupted = counters.corrupted.Load()
	report.FilesWithWarnings = counters.warnings.Load()
	report.FilesErrored = counters.errored.Load()
	if roots, err := e.scanRoots(ctx); err == nil {
		if data, err := json.Marshal(roots); err == nil {
			report.DirectoriesJSON = string(data)
		}
	}
	op.finish(catalog.PhaseCompleted, "", report)
}

// scanRoots returns the database-backed roots, falling back to the
// environment configuration.
func (e *Engine) scanRoots(ctx context.Context) ([]string, error) {
	roots, err := e.store.ActiveScanRoots(ctx)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		roots = e.cfg.Roots
	}
	if len(roots) == 0 {
		return nil, ErrNoRootsConfigured
	}
	return roots, nil
}

// discoverPhase walks the roots and returns newly discovered files.
func (e *Engine) discoverPhase(op *operation, req ScanRequest) ([]discovery.File, error) {
	ctx := e.baseCtx

	roots, err := e.scanRoots(ctx)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]struct{})
	if err := e.store.ExistingPaths(ctx, existingPathsBatch, existing); err != nil {
		return nil, fmt.Errorf("load existing paths: %w", err)
	}
	existingSet := make(map[string]bool, len(existing))
	for path := range existing {
		existingSet[path] = true
	}

	var excludedPaths, excludedExts []string
	if rows, err := e.store.ListExclusions(ctx, catalog.ExclusionPath); err == nil {
		for _, r := range rows {
			excludedPaths = append(excludedPaths, r.Value)
		}
	}
	if rows, err := e.store.ListExclusions(ctx, catalog.ExclusionExtension); err == nil {
		for _, r := range rows {
			excludedExts = append(excludedExts, r.Value)
		}
	}

	op.enterPhase(catalog.PhaseDiscovery, 1, 0)

	// Per-root walkers report progress concurrently; the row publish
	// path is single-threaded behind this mutex.
	var progressMu sync.Mutex
	files, err := discovery.Walk(ctx, discovery.Options{
		Roots:              roots,
		ExcludedPaths:      excludedPaths,
		ExcludedExtensions: excludedExts,
		Existing:           existingSet,
		Limit:              e.cfg.FileLimit,
		MaxWorkers:         e.cfg.MaxWorkers,
		Cancelled:          op.isCancelled,
		Progress: func(examined, found int64) {
			progressMu.Lock()
			op.state.EstimatedTotal = examined
			op.state.DiscoveryCount = found
			op.setProgress(examined, "")
			progressMu.Unlock()
		},
	}, e.logger)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	op.state.DiscoveryCount = int64(len(files))
	return files, nil
}

// addingPhase inserts discovered files as pending rows in batches.
func (e *Engine) addingPhase(op *operation, files []discovery.File) int64 {
	op.enterPhase(catalog.PhaseAdding, 2, int64(len(files)))

	now := time.Now().UTC()
	var added int64
	for start := 0; start < len(files); start += addingBatch {
		if op.isCancelled() {
			break
		}
		end := min(start+addingBatch, len(files))
		rows := make([]catalog.ScanResult, 0, end-start)
		for _, f := range files[start:end] {
			modTime := f.ModTime
			discovered := now
			rows = append(rows, catalog.ScanResult{
				FilePath: f.Path,
				FileSize: f.Size,
				FileType: f.FileType,
				// Birth time is not portable; mtime stands in for the
				// creation date the walker ordered on.
				CreationDate:   &modTime,
				LastModified:   &modTime,
				ScanStatus:     catalog.StatusPending,
				DiscoveredDate: &discovered,
			})
		}
		e.queue.Enqueue(catalog.BatchUpsertScanResultsMsg{Results: rows})
		added += int64(len(rows))
		op.setProgress(added, files[end-1].Path)
	}
	e.queue.Flush()
	return added
}

// scanCounters aggregates verdicts across the probe workers.
type scanCounters struct {
	scanned   atomic.Int64
	corrupted atomic.Int64
	warnings  atomic.Int64
	errored   atomic.Int64
}

// scanningPhase probes pending rows batch by batch with a bounded
// worker pool.
func (e *Engine) scanningPhase(op *operation, forceDeep bool, batchSize int) (*scanCounters, error) {
	ctx := e.baseCtx

	total, err := e.store.CountByStatus(ctx, catalog.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("count pending rows: %w", err)
	}
	op.state.TotalFiles = total
	op.enterPhase(catalog.PhaseScanning, 3, total)

	counters := &scanCounters{}
	var mu sync.Mutex // guards op.setProgress from pool workers
	var lastID int64

	for {
		if op.isCancelled() {
			break
		}
		batch, err := e.store.PendingBatch(ctx, lastID, batchSize)
		if err != nil {
			return nil, fmt.Errorf("load pending batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		lastID = batch[len(batch)-1].ID

		ids := make([]int64, len(batch))
		for i, row := range batch {
			ids[i] = row.ID
		}
		e.queue.Enqueue(catalog.MarkScanningMsg{IDs: ids})

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.MaxWorkers)
		for _, row := range batch {
			row := row
			if op.isCancelled() {
				break
			}
			g.Go(func() error {
				if op.isCancelled() {
					// Leave the row in scanning; recovery or the next
					// run resets it to pending.
					return nil
				}
				start := time.Now()
				result := e.prober.Probe(gctx, row.FilePath, forceDeep || row.DeepScan)
				e.metrics.ProbeObserved(probeKindLabel(row.FilePath), time.Since(start))
				e.metrics.FileScanned(result.Status.String())

				e.queue.Enqueue(catalog.UpdateScanResultMsg{
					Update: verdictUpdate(row, result),
				})
				counters.count(result.Status)

				mu.Lock()
				op.state.FilesProcessed++
				op.setProgress(op.state.FilesProcessed, row.FilePath)
				mu.Unlock()
				return nil
			})
		}
		g.Wait()
		e.queue.Flush()
	}
	return counters, nil
}

func (c *scanCounters) count(status probe.Status) {
	c.scanned.Add(1)
	switch status {
	case probe.StatusCorrupted:
		c.corrupted.Add(1)
	case probe.StatusWarning:
		c.warnings.Add(1)
	case probe.StatusError:
		c.errored.Add(1)
	}
}

// verdictUpdate maps one probe result onto the row update message.
// Corrupted verdicts clear has_warnings so the row counts as corrupted
// in aggregates; errors keep the tri-state verdict column null.
func verdictUpdate(row catalog.ScanResult, result probe.Result) catalog.ScanResultUpdate {
	now := time.Now().UTC()
	update := catalog.ScanResultUpdate{
		ID:            row.ID,
		ScanTool:      result.Tool,
		ScanDuration:  result.Duration.Seconds(),
		ScanOutput:    result.Output,
		ScanDate:      &now,
		ClearDeepScan: row.DeepScan,
	}
	falseVal, trueVal := false, true
	switch result.Status {
	case probe.StatusHealthy:
		update.ScanStatus = catalog.StatusCompleted
		update.IsCorrupted = &falseVal
	case probe.StatusWarning:
		update.ScanStatus = catalog.StatusCompleted
		update.IsCorrupted = &falseVal
		update.HasWarnings = true
		update.WarningDetails = result.WarningDetails
	case probe.StatusCorrupted:
		update.ScanStatus = catalog.StatusCompleted
		update.IsCorrupted = &trueVal
		update.CorruptionDetails = result.Details
		update.WarningDetails = result.WarningDetails
	default:
		update.ScanStatus = catalog.StatusError
		update.CorruptionDetails = result.Details
	}
	return update
}

func probeKindLabel(path string) string {
	switch probe.KindForPath(path) {
	case probe.KindVideo:
		return "video"
	case probe.KindImage:
		return "image"
	case probe.KindAudio:
		return "audio"
	default:
		return "other"
	}
}
