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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/mediasentry/services/catalog"
	"github.com/AleutianAI/mediasentry/services/probe"
)

// testRig wires an Engine over a temp database with a stub prober.
type testRig struct {
	db     *sqlx.DB
	store  *catalog.Store
	queue  *catalog.WriteQueue
	engine *Engine
}

// stubProber returns canned verdicts keyed by path substring; paths
// matching no key are healthy. block, when non-nil, is received from
// before every probe so tests can hold a scan open.
type stubProber struct {
	verdicts map[string]probe.Result
	block    chan struct{}
}

func (s *stubProber) Probe(_ context.Context, path string, _ bool) probe.Result {
	if s.block != nil {
		<-s.block
	}
	for key, result := range s.verdicts {
		if strings.Contains(path, key) {
			return result
		}
	}
	return probe.Result{Status: probe.StatusHealthy, Tool: "stub"}
}

func newRig(t *testing.T, prober FileProber, cfg Config) *testRig {
	t.Helper()
	db, err := catalog.Open("file:" + filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue := catalog.NewWriteQueue(db, nil)
	t.Cleanup(queue.Close)

	store := catalog.NewStore(db)
	eng := New(store, queue, prober, nil, cfg, nil)
	t.Cleanup(eng.Shutdown)
	return &testRig{db: db, store: store, queue: queue, engine: eng}
}

// makeMedia writes stub media files and returns their paths.
func makeMedia(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		full := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("content-"+name), 0o644))
		paths = append(paths, full)
	}
	return paths
}

// waitTerminal polls until the latest operation for a variant reaches
// a terminal phase.
func waitTerminal(t *testing.T, store *catalog.Store, variant string) *catalog.OperationState {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("operation %s did not reach a terminal phase", variant)
		case <-time.After(20 * time.Millisecond):
		}
		state, err := store.LatestOperation(context.Background(), variant)
		require.NoError(t, err)
		if state != nil && state.Terminal() {
			return state
		}
	}
}

func TestScanColdStart(t *testing.T) {
	root := t.TempDir()
	makeMedia(t, root, "a.mkv", "b.jpg", "bad.png")

	prober := &stubProber{verdicts: map[string]probe.Result{
		"bad.png": {
			Status:  probe.StatusCorrupted,
			Details: "header check failed",
			Tool:    "stub",
		},
	}}
	rig := newRig(t, prober, Config{Roots: []string{root}, MaxWorkers: 2})

	opID, err := rig.engine.StartScan(context.Background(), ScanRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, opID)

	state := waitTerminal(t, rig.store, catalog.VariantScan)
	assert.Equal(t, catalog.PhaseCompleted, state.Phase)
	assert.False(t, state.IsActive)
	require.NotNil(t, state.EndTime)

	ctx := context.Background()
	stats, err := rig.store.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 3, stats.Completed)
	assert.EqualValues(t, 1, stats.Corrupted)
	assert.EqualValues(t, 0, stats.Pending)

	report, err := rig.store.LatestReport(ctx, catalog.VariantScan)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, opID, report.OperationID)
	assert.EqualValues(t, 3, report.FilesScanned)
	assert.EqualValues(t, 3, report.FilesAdded)
	assert.EqualValues(t, 1, report.FilesCorrupted)
}

func TestStartHonorsPersistedActiveRow(t *testing.T) {
	rig := newRig(t, &stubProber{}, Config{})

	// A variant with no state rows at all is idle and starts cleanly.
	_, err := rig.engine.StartCleanup(context.Background())
	require.NoError(t, err)
	waitTerminal(t, rig.store, catalog.VariantCleanup)

	// An active row left by another process blocks starts even though
	// this process has no worker for the variant.
	_, err = rig.db.Exec(`
		INSERT INTO operation_states (operation_id, variant, is_active, phase, phase_number, start_time)
		VALUES ('other-proc', 'file_changes', 1, 'starting', 1, ?)`, time.Now().UTC())
	require.NoError(t, err)
	_, err = rig.engine.StartFileChanges(context.Background())
	assert.ErrorIs(t, err, ErrOperationActive)
}

func TestScanRejectsConcurrentStart(t *testing.T) {
	root := t.TempDir()
	makeMedia(t, root, "a.mkv")

	prober := &stubProber{block: make(chan struct{})}
	rig := newRig(t, prober, Config{Roots: []string{root}, MaxWorkers: 1})

	_, err := rig.engine.StartScan(context.Background(), ScanRequest{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rig.engine.Active(catalog.VariantScan)
	}, 5*time.Second, 10*time.Millisecond)

	_, err = rig.engine.StartScan(context.Background(), ScanRequest{})
	assert.ErrorIs(t, err, ErrOperationActive)

	// Other variants are not blocked by an active scan.
	_, err = rig.engine.StartCleanup(context.Background())
	require.NoError(t, err)

	close(prober.block)
	waitTerminal(t, rig.store, catalog.VariantScan)
	waitTerminal(t, rig.store, catalog.VariantCleanup)
}

func TestScanCancelMidway(t *testing.T) {
	root := t.TempDir()
	names := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		names = append(names, filepath.Join("d", "f"+strconv.Itoa(i)+".mkv"))
	}
	makeMedia(t, root, names...)

	release := make(chan struct{})
	prober := &stubProber{block: release}
	rig := newRig(t, prober, Config{Roots: []string{root}, MaxWorkers: 1})

	_, err := rig.engine.StartScan(context.Background(), ScanRequest{})
	require.NoError(t, err)

	// Let a few probes through, then cancel.
	for i := 0; i < 3; i++ {
		release <- struct{}{}
	}
	require.NoError(t, rig.engine.Cancel(context.Background(), catalog.VariantScan))
	close(release)

	state := waitTerminal(t, rig.store, catalog.VariantScan)
	assert.Equal(t, catalog.PhaseCancelled, state.Phase)
	assert.False(t, state.IsActive)
	require.NotNil(t, state.EndTime)

	// A cancelled operation never gets a report, and work remains.
	_, err = rig.store.LatestReport(context.Background(), catalog.VariantScan)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	pending, err := rig.store.CountByStatus(context.Background(), catalog.StatusPending)
	require.NoError(t, err)
	assert.Greater(t, pending, int64(0))

	// Cancel with nothing active is an error.
	assert.ErrorIs(t, rig.engine.Cancel(context.Background(), catalog.VariantScan), ErrNoActiveOperation)
}

func TestRescanTargeted(t *testing.T) {
	root := t.TempDir()
	paths := makeMedia(t, root, "a.mkv", "b.mkv", "c.png")

	rig := newRig(t, &stubProber{}, Config{Roots: []string{root}, MaxWorkers: 2})

	// First scan everything.
	_, err := rig.engine.StartScan(context.Background(), ScanRequest{})
	require.NoError(t, err)
	waitTerminal(t, rig.store, catalog.VariantScan)

	before, err := rig.store.GetScanResultByPath(context.Background(), paths[0])
	require.NoError(t, err)

	// Targeted rescan of c.png only.
	_, err = rig.engine.StartScan(context.Background(), ScanRequest{
		Rescan: true,
		Paths:  []string{paths[2]},
	})
	require.NoError(t, err)
	state := waitTerminal(t, rig.store, catalog.VariantScan)
	assert.Equal(t, catalog.PhaseCompleted, state.Phase)
	assert.Equal(t, 3, state.PhaseNumber)

	report, err := rig.store.LatestReport(context.Background(), catalog.VariantScan)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.FilesScanned)
	assert.EqualValues(t, 0, report.FilesAdded)

	// Untargeted rows keep their original scan date.
	after, err := rig.store.GetScanResultByPath(context.Background(), paths[0])
	require.NoError(t, err)
	require.NotNil(t, after.ScanDate)
	assert.True(t, after.ScanDate.Equal(*before.ScanDate))

	rescanned, err := rig.store.GetScanResultByPath(context.Background(), paths[2])
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCompleted, rescanned.ScanStatus)
}

func TestCleanupRemovesOrphans(t *testing.T) {
	root := t.TempDir()
	paths := makeMedia(t, root, "a.mkv", "b.mkv", "c.mkv", "d.mkv", "e.mkv")

	rig := newRig(t, &stubProber{}, Config{Roots: []string{root}, MaxWorkers: 2})
	_, err := rig.engine.StartScan(context.Background(), ScanRequest{})
	require.NoError(t, err)
	waitTerminal(t, rig.store, catalog.VariantScan)

	require.NoError(t, os.Remove(paths[1]))
	require.NoError(t, os.Remove(paths[3]))

	_, err = rig.engine.StartCleanup(context.Background())
	require.NoError(t, err)
	state := waitTerminal(t, rig.store, catalog.VariantCleanup)
	assert.Equal(t, catalog.PhaseCompleted, state.Phase)
	assert.EqualValues(t, 2, state.OrphanedFound)

	count, err := rig.store.CountAll(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	report, err := rig.store.LatestReport(context.Background(), catalog.VariantCleanup)
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.OrphanedFound)
	assert.EqualValues(t, 2, report.OrphanedDeleted)

	_, err = rig.store.GetScanResultByPath(context.Background(), paths[1])
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestFileChangesDetectsModification(t *testing.T) {
	root := t.TempDir()
	paths := makeMedia(t, root, "d.mp4", "same.mp4")

	prober := &stubProber{verdicts: map[string]probe.Result{
		"d.mp4": {Status: probe.StatusCorrupted, Details: "decode failed", Tool: "stub"},
	}}
	rig := newRig(t, prober, Config{Roots: []string{root}, MaxWorkers: 2})

	_, err := rig.engine.StartScan(context.Background(), ScanRequest{})
	require.NoError(t, err)
	waitTerminal(t, rig.store, catalog.VariantScan)

	// Seed stored hashes so the comparison has a baseline.
	for _, p := range paths {
		hash, err := probe.FileHash(p)
		require.NoError(t, err)
		old := time.Now().Add(-time.Hour).UTC()
		_, err = rig.db.Exec(
			`UPDATE scan_results SET file_hash = ?, last_modified = ? WHERE file_path = ?`,
			hash, old, p)
		require.NoError(t, err)
	}

	// Rewrite d.mp4 with new content and a newer mtime.
	require.NoError(t, os.WriteFile(paths[0], []byte("different content"), 0o644))
	now := time.Now()
	require.NoError(t, os.Chtimes(paths[0], now, now))

	_, err = rig.engine.StartFileChanges(context.Background())
	require.NoError(t, err)
	state := waitTerminal(t, rig.store, catalog.VariantFileChanges)
	assert.Equal(t, catalog.PhaseCompleted, state.Phase)
	assert.EqualValues(t, 1, state.ChangesFound)
	assert.EqualValues(t, 1, state.CorruptedFound)
	assert.Contains(t, state.ChangedFilesJSON, "d.mp4")
	assert.Contains(t, state.ChangedFilesJSON, ChangeModified)

	report, err := rig.store.LatestReport(context.Background(), catalog.VariantFileChanges)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.FilesChanged)
	assert.EqualValues(t, 1, report.FilesCorruptedNew)

	// The rescan refreshed the stored hash and verdict.
	row, err := rig.store.GetScanResultByPath(context.Background(), paths[0])
	require.NoError(t, err)
	require.NotNil(t, row.IsCorrupted)
	assert.True(t, *row.IsCorrupted)
	newHash, err := probe.FileHash(paths[0])
	require.NoError(t, err)
	assert.Equal(t, newHash, row.FileHash)
}

func TestRecoverInterruptsStaleOperations(t *testing.T) {
	rig := newRig(t, &stubProber{}, Config{})

	// Simulate a crash: an active row plus rows stuck in scanning.
	_, err := rig.db.Exec(`
		INSERT INTO operation_states (operation_id, variant, is_active, phase, phase_number, start_time)
		VALUES ('stale-op', 'scan', 1, 'scanning', 3, ?)`, time.Now().UTC())
	require.NoError(t, err)
	_, err = rig.db.Exec(`
		INSERT INTO scan_results (file_path, scan_status) VALUES ('/m/a.mkv', 'scanning')`)
	require.NoError(t, err)

	require.NoError(t, rig.engine.Recover(context.Background()))

	state, err := rig.store.LatestOperation(context.Background(), catalog.VariantScan)
	require.NoError(t, err)
	assert.Equal(t, catalog.PhaseInterrupted, state.Phase)
	assert.False(t, state.IsActive)
	require.NotNil(t, state.EndTime)

	row, err := rig.store.GetScanResultByPath(context.Background(), "/m/a.mkv")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusPending, row.ScanStatus)

	// A new scan can now be started.
	_, err = rig.engine.StartCleanup(context.Background())
	require.NoError(t, err)
	waitTerminal(t, rig.store, catalog.VariantCleanup)
}
