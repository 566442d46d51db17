// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine drives the three background operations (scan, orphan
// cleanup, file-change check) through their phase sequences.
//
// One operation per variant may run at a time; the limit is enforced
// both by the in-process registry and by a partial unique index on the
// operation-state table. All catalog mutations issued by workers go
// through the write queue; the persisted operation row is the single
// source of truth for status reads.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/mediasentry/services/catalog"
	"github.com/AleutianAI/mediasentry/services/probe"
	"github.com/AleutianAI/mediasentry/services/telemetry"
)

var (
	// ErrOperationActive rejects a start request while the same variant
	// is already running.
	ErrOperationActive = errors.New("operation already active")

	// ErrNoActiveOperation rejects a cancel with nothing to cancel.
	ErrNoActiveOperation = errors.New("no active operation")

	// ErrNoRootsConfigured rejects a scan with no configured roots.
	ErrNoRootsConfigured = errors.New("no scan roots configured")
)

// FileProber probes a single file. *probe.Prober satisfies this; tests
// substitute stubs.
type FileProber interface {
	Probe(ctx context.Context, path string, deep bool) probe.Result
}

// Config carries the tunables the engine reads.
type Config struct {
	// Roots are the fallback scan roots when no database-backed
	// configuration rows are active.
	Roots []string

	// MaxWorkers bounds concurrent probes and discovery parallelism.
	MaxWorkers int

	// FileLimit caps discoveries per scan. Zero means unlimited.
	FileLimit int

	// ResetBatchSize bounds the stuck-row recovery updates.
	ResetBatchSize int
}

// Engine starts, tracks, and cancels the background operations.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	store   *catalog.Store
	queue   *catalog.WriteQueue
	prober  FileProber
	metrics *telemetry.Metrics
	cfg     Config
	logger  *slog.Logger

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	running map[string]*operation
}

// New builds an Engine. metrics may be nil.
func New(store *catalog.Store, queue *catalog.WriteQueue, prober FileProber,
	metrics *telemetry.Metrics, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.ResetBatchSize <= 0 {
		cfg.ResetBatchSize = 500
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     store,
		queue:     queue,
		prober:    prober,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "engine")),
		baseCtx:   ctx,
		cancelAll: cancel,
		running:   make(map[string]*operation),
	}
}

// Recover repairs state left behind by a previous process: active
// operation rows become interrupted, and rows stuck in the scanning
// status return to pending. Must run before the HTTP surface accepts
// start requests.
func (e *Engine) Recover(ctx context.Context) error {
	interrupted, err := e.store.MarkInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("mark interrupted operations: %w", err)
	}
	reset, err := e.store.ResetStuckScanning(ctx, e.cfg.ResetBatchSize)
	if err != nil {
		return fmt.Errorf("reset stuck scanning rows: %w", err)
	}
	if interrupted > 0 || reset > 0 {
		e.logger.Info("recovered prior-run state",
			slog.Int64("operations_interrupted", interrupted),
			slog.Int64("rows_reset", reset))
	}
	return nil
}

// ScanRequest parameterizes StartScan.
type ScanRequest struct {
	// Rescan restricts the operation to Paths, resetting them to
	// pending and entering the scanning phase directly.
	Rescan bool
	Paths  []string

	// Deep forces the enhanced video checks for every file in this
	// operation, in addition to per-record deep_scan flags.
	Deep bool
}

// StartScan launches a scan or targeted rescan and returns its
// operation id.
func (e *Engine) StartScan(ctx context.Context, req ScanRequest) (string, error) {
	if req.Rescan && len(req.Paths) == 0 {
		return "", fmt.Errorf("rescan requires at least one path")
	}

	phase, phaseNumber := catalog.PhaseDiscovery, 1
	if req.Rescan {
		phase, phaseNumber = catalog.PhaseScanning, 3
	}
	op, err := e.begin(ctx, catalog.VariantScan, phase, phaseNumber)
	if err != nil {
		return "", err
	}
	e.launch(op, func() { e.runScan(op, req) })
	return op.state.OperationID, nil
}

// StartCleanup launches an orphan cleanup.
func (e *Engine) StartCleanup(ctx context.Context) (string, error) {
	op, err := e.begin(ctx, catalog.VariantCleanup, catalog.PhaseScanningDB, 1)
	if err != nil {
		return "", err
	}
	e.launch(op, func() { e.runCleanup(op) })
	return op.state.OperationID, nil
}

// StartFileChanges launches a file-change check.
func (e *Engine) StartFileChanges(ctx context.Context) (string, error) {
	op, err := e.begin(ctx, catalog.VariantFileChanges, catalog.PhaseStarting, 1)
	if err != nil {
		return "", err
	}
	e.launch(op, func() { e.runFileChanges(op) })
	return op.state.OperationID, nil
}

// Cancel requests cooperative cancellation of the active operation for
// a variant. The request is acknowledged immediately; the worker
// transitions the row at its next check point. Repeated cancels are
// no-ops.
func (e *Engine) Cancel(ctx context.Context, variant string) error {
	e.mu.Lock()
	op := e.running[variant]
	e.mu.Unlock()
	if op == nil {
		return ErrNoActiveOperation
	}
	op.cancelled.Store(true)
	e.queue.Enqueue(catalog.SetCancelRequestedMsg{OperationID: op.state.OperationID})
	e.logger.Info("cancellation requested",
		slog.String("variant", variant),
		slog.String("operation_id", op.state.OperationID))
	return nil
}

// Active reports whether a variant is currently running in this
// process.
func (e *Engine) Active(variant string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running[variant] != nil
}

// Shutdown cancels all running operations and waits for their workers
// to finish publishing terminal state.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, op := range e.running {
		op.cancelled.Store(true)
	}
	e.mu.Unlock()
	e.cancelAll()
	e.wg.Wait()
}

// begin registers a new operation after the per-variant singleton
// checks and persists its initial row.
func (e *Engine) begin(ctx context.Context, variant, phase string, phaseNumber int) (*operation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running[variant] != nil {
		return nil, ErrOperationActive
	}
	// A stale active row from another process also blocks starts; the
	// recovery pass clears those at boot. ErrNotFound is the idle case.
	switch _, err := e.store.ActiveOperation(ctx, variant); {
	case err == nil:
		return nil, ErrOperationActive
	case !errors.Is(err, catalog.ErrNotFound):
		return nil, err
	}

	op := &operation{
		engine: e,
		state: catalog.OperationState{
			OperationID: uuid.NewString(),
			Variant:     variant,
			IsActive:    true,
			Phase:       phase,
			PhaseNumber: phaseNumber,
			StartTime:   time.Now().UTC(),
		},
	}
	e.queue.Enqueue(catalog.CreateOperationStateMsg{State: op.state})
	e.queue.Flush()
	e.running[variant] = op
	e.metrics.OperationStarted(variant)
	e.logger.Info("operation started",
		slog.String("variant", variant),
		slog.String("operation_id", op.state.OperationID))
	return op, nil
}

// launch runs an operation body on its own goroutine with panic
// containment.
func (e *Engine) launch(op *operation, body func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("operation panicked",
					slog.String("variant", op.state.Variant),
					slog.String("operation_id", op.state.OperationID),
					slog.Any("panic", r))
				op.finish(catalog.PhaseError, fmt.Sprintf("internal failure: %v", r), nil)
			}
			e.mu.Lock()
			delete(e.running, op.state.Variant)
			e.mu.Unlock()
			e.metrics.OperationEnded(op.state.Variant)
		}()
		body()
	}()
}

// operation is the in-process handle for one running operation. The
// worker goroutine owns state; Cancel only touches the atomic flag.
type operation struct {
	engine    *Engine
	state     catalog.OperationState
	cancelled atomic.Bool
	finished  atomic.Bool
}

func (o *operation) isCancelled() bool {
	return o.cancelled.Load() || o.engine.baseCtx.Err() != nil
}

// enterPhase resets the phase counters and publishes.
func (o *operation) enterPhase(phase string, number int, total int64) {
	o.state.Phase = phase
	o.state.PhaseNumber = number
	o.state.PhaseCurrent = 0
	o.state.PhaseTotal = total
	o.publish()
}

// setProgress updates the counters and the user-facing message, then
// publishes the row.
func (o *operation) setProgress(current int64, currentFile string) {
	o.state.PhaseCurrent = current
	o.state.CurrentFile = currentFile
	o.state.ProgressMessage = ProgressMessage(
		o.state.Phase, currentFile,
		o.state.FilesProcessed, o.state.TotalFiles,
		time.Since(o.state.StartTime))
	o.publish()
}

// publish enqueues the current row state.
func (o *operation) publish() {
	o.engine.queue.Enqueue(catalog.UpdateOperationStateMsg{State: o.state})
}

// finish transitions the row to a terminal phase, attaching the report
// for successful completions. Safe to call once; later calls are
// ignored.
func (o *operation) finish(phase, errorMessage string, report *catalog.ScanReport) {
	if !o.finished.CompareAndSwap(false, true) {
		return
	}
	end := time.Now().UTC()
	o.state.IsActive = false
	o.state.Phase = phase
	o.state.EndTime = &end
	o.publish()
	o.engine.queue.Enqueue(catalog.MarkOperationCompleteMsg{
		OperationID:  o.state.OperationID,
		Phase:        phase,
		ErrorMessage: errorMessage,
		EndTime:      end,
		Report:       report,
	})
	o.engine.queue.Flush()
	o.engine.metrics.OperationFinished(o.state.Variant, phase)
	o.engine.logger.Info("operation finished",
		slog.String("variant", o.state.Variant),
		slog.String("operation_id", o.state.OperationID),
		slog.String("phase", phase),
		slog.Duration("elapsed", end.Sub(o.state.StartTime)))
}

// newReport seeds a ScanReport with the envelope every variant shares.
func (o *operation) newReport(scanType string) *catalog.ScanReport {
	end := time.Now().UTC()
	return &catalog.ScanReport{
		ReportID:        uuid.NewString(),
		OperationID:     o.state.OperationID,
		ScanType:        scanType,
		StartTime:       o.state.StartTime,
		EndTime:         end,
		DurationSeconds: end.Sub(o.state.StartTime).Seconds(),
		CreatedAt:       end,
	}
}
