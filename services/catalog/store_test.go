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
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB opens a fresh catalog database in a temp directory.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open("file:" + filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedResult inserts a row directly and returns its id.
func seedResult(t *testing.T, db *sqlx.DB, r ScanResult) int64 {
	t.Helper()
	if r.ScanStatus == "" {
		r.ScanStatus = StatusPending
	}
	res, err := db.NamedExec(`
		INSERT INTO scan_results (
			file_path, file_size, file_type, creation_date, last_modified,
			scan_status, is_corrupted, has_warnings, warning_details,
			corruption_details, marked_as_good, scan_tool, scan_duration,
			scan_output, file_hash, discovered_date, scan_date, deep_scan
		) VALUES (
			:file_path, :file_size, :file_type, :creation_date, :last_modified,
			:scan_status, :is_corrupted, :has_warnings, :warning_details,
			:corruption_details, :marked_as_good, :scan_tool, :scan_duration,
			:scan_output, :file_hash, :discovered_date, :scan_date, :deep_scan
		)`, r)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func boolPtr(b bool) *bool { return &b }

func TestOpen_RejectsNonFileURL(t *testing.T) {
	_, err := Open("postgres://localhost/catalog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file:")
}

func TestGetScanResult(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	id := seedResult(t, db, ScanResult{FilePath: "/media/a.mp4", FileSize: 42, FileType: "video/mp4"})

	got, err := store.GetScanResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/media/a.mp4", got.FilePath)
	assert.Equal(t, int64(42), got.FileSize)
	assert.Equal(t, StatusPending, got.ScanStatus)
	assert.Nil(t, got.IsCorrupted)

	_, err = store.GetScanResult(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	byPath, err := store.GetScanResultByPath(ctx, "/media/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, id, byPath.ID)
}

func TestUniqueFilePath(t *testing.T) {
	db := openTestDB(t)
	seedResult(t, db, ScanResult{FilePath: "/media/a.mp4"})

	_, err := db.Exec(`INSERT INTO scan_results (file_path) VALUES ('/media/a.mp4')`)
	assert.Error(t, err)
}

func TestListScanResults_FiltersAndPagination(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	seedResult(t, db, ScanResult{FilePath: "/media/healthy.mp4", ScanStatus: StatusCompleted, IsCorrupted: boolPtr(false)})
	seedResult(t, db, ScanResult{FilePath: "/media/corrupt.mp4", ScanStatus: StatusCompleted, IsCorrupted: boolPtr(true)})
	seedResult(t, db, ScanResult{FilePath: "/media/overridden.mp4", ScanStatus: StatusCompleted, IsCorrupted: boolPtr(true), MarkedAsGood: true})
	seedResult(t, db, ScanResult{FilePath: "/media/warned.mkv", ScanStatus: StatusCompleted, IsCorrupted: boolPtr(false), HasWarnings: true})
	seedResult(t, db, ScanResult{FilePath: "/media/pending.avi"})

	t.Run("status filter", func(t *testing.T) {
		results, total, err := store.ListScanResults(ctx, ListFilter{Status: StatusPending})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, results, 1)
		assert.Equal(t, "/media/pending.avi", results[0].FilePath)
	})

	t.Run("corrupted respects marked_as_good", func(t *testing.T) {
		results, total, err := store.ListScanResults(ctx, ListFilter{Corrupted: boolPtr(true)})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, results, 1)
		assert.Equal(t, "/media/corrupt.mp4", results[0].FilePath)
	})

	t.Run("healthy includes override", func(t *testing.T) {
		_, total, err := store.ListScanResults(ctx, ListFilter{Corrupted: boolPtr(false)})
		require.NoError(t, err)
		// healthy.mp4, overridden.mp4, warned.mkv
		assert.Equal(t, int64(3), total)
	})

	t.Run("warnings filter", func(t *testing.T) {
		results, total, err := store.ListScanResults(ctx, ListFilter{Warnings: boolPtr(true)})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "/media/warned.mkv", results[0].FilePath)
	})

	t.Run("search", func(t *testing.T) {
		_, total, err := store.ListScanResults(ctx, ListFilter{Search: "corrupt"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("pagination", func(t *testing.T) {
		page1, total, err := store.ListScanResults(ctx, ListFilter{Limit: 2, SortBy: "file_path"})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, page1, 2)

		page2, _, err := store.ListScanResults(ctx, ListFilter{Limit: 2, Offset: 2, SortBy: "file_path"})
		require.NoError(t, err)
		require.Len(t, page2, 2)
		assert.NotEqual(t, page1[0].FilePath, page2[0].FilePath)
	})

	t.Run("sort whitelist", func(t *testing.T) {
		_, _, err := store.ListScanResults(ctx, ListFilter{SortBy: "file_path; DROP TABLE scan_results"})
		assert.ErrorIs(t, err, ErrInvalidSort)
	})
}

func TestGetStats_EffectiveHealthSemantics(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	seedResult(t, db, ScanResult{FilePath: "/m/healthy.mp4", ScanStatus: StatusCompleted, IsCorrupted: boolPtr(false)})
	seedResult(t, db, ScanResult{FilePath: "/m/corrupt.mp4", ScanStatus: StatusCompleted, IsCorrupted: boolPtr(true)})
	seedResult(t, db, ScanResult{FilePath: "/m/good-override.mp4", ScanStatus: StatusCompleted, IsCorrupted: boolPtr(true), MarkedAsGood: true})
	seedResult(t, db, ScanResult{FilePath: "/m/warned.mp4", ScanStatus: StatusCompleted, IsCorrupted: boolPtr(false), HasWarnings: true})
	seedResult(t, db, ScanResult{FilePath: "/m/pending.mp4"})
	seedResult(t, db, ScanResult{FilePath: "/m/errored.mp4", ScanStatus: StatusError})

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(6), stats.Total)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(4), stats.Completed)
	assert.Equal(t, int64(1), stats.Errors)
	// marked_as_good overrides is_corrupted in every aggregate
	assert.Equal(t, int64(1), stats.Corrupted)
	assert.Equal(t, int64(3), stats.Healthy)
	assert.Equal(t, int64(1), stats.Warnings)
	assert.Equal(t, int64(1), stats.MarkedGood)
}

func TestExistingPaths_Batched(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	for _, p := range []string{"/m/a.mp4", "/m/b.mp4", "/m/c.mp4", "/m/d.mp4", "/m/e.mp4"} {
		seedResult(t, db, ScanResult{FilePath: p})
	}

	paths := map[string]struct{}{}
	require.NoError(t, store.ExistingPaths(ctx, 2, paths))
	assert.Len(t, paths, 5)
	assert.Contains(t, paths, "/m/c.mp4")
}

func TestPendingBatch_IDPaginated(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	seedResult(t, db, ScanResult{FilePath: "/m/a.mp4"})
	seedResult(t, db, ScanResult{FilePath: "/m/b.mp4", ScanStatus: StatusCompleted})
	seedResult(t, db, ScanResult{FilePath: "/m/c.mp4"})
	seedResult(t, db, ScanResult{FilePath: "/m/d.mp4"})

	batch, err := store.PendingBatch(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "/m/a.mp4", batch[0].FilePath)
	assert.Equal(t, "/m/c.mp4", batch[1].FilePath)

	batch2, err := store.PendingBatch(ctx, batch[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, batch2, 1)
	assert.Equal(t, "/m/d.mp4", batch2[0].FilePath)
}

func TestActiveOperation_UniquePerVariant(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	_, err := db.Exec(`
		INSERT INTO operation_states (operation_id, variant, is_active, phase, start_time)
		VALUES ('op-1', 'scan', 1, 'discovery', ?)`, time.Now().UTC())
	require.NoError(t, err)

	// The partial unique index rejects a second active scan.
	_, err = db.Exec(`
		INSERT INTO operation_states (operation_id, variant, is_active, phase, start_time)
		VALUES ('op-2', 'scan', 1, 'discovery', ?)`, time.Now().UTC())
	assert.Error(t, err)

	// A different variant can be active concurrently.
	_, err = db.Exec(`
		INSERT INTO operation_states (operation_id, variant, is_active, phase, start_time)
		VALUES ('op-3', 'cleanup', 1, 'scanning_db', ?)`, time.Now().UTC())
	require.NoError(t, err)

	state, err := store.ActiveOperation(ctx, VariantScan)
	require.NoError(t, err)
	assert.Equal(t, "op-1", state.OperationID)

	_, err = store.ActiveOperation(ctx, VariantFileChanges)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecovery(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	_, err := db.Exec(`
		INSERT INTO operation_states (operation_id, variant, is_active, phase, start_time)
		VALUES ('op-1', 'scan', 1, 'scanning', ?)`, time.Now().UTC())
	require.NoError(t, err)
	seedResult(t, db, ScanResult{FilePath: "/m/stuck.mp4", ScanStatus: StatusScanning, CorruptionDetails: "partial"})
	seedResult(t, db, ScanResult{FilePath: "/m/done.mp4", ScanStatus: StatusCompleted})

	n, err := store.MarkInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	reset, err := store.ResetStuckScanning(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	state, err := store.LatestOperation(ctx, VariantScan)
	require.NoError(t, err)
	assert.Equal(t, PhaseInterrupted, state.Phase)
	assert.False(t, state.IsActive)
	assert.NotNil(t, state.EndTime)

	row, err := store.GetScanResultByPath(ctx, "/m/stuck.mp4")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, row.ScanStatus)
	assert.Nil(t, row.ScanDate)
	assert.Empty(t, row.CorruptionDetails)

	done, err := store.GetScanResultByPath(ctx, "/m/done.mp4")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.ScanStatus)
}

func TestExclusionCRUD(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	added, err := store.AddExclusion(ctx, ExclusionPath, "/media/ignore-me")
	require.NoError(t, err)
	assert.NotZero(t, added.ID)

	_, err = store.AddExclusion(ctx, ExclusionPath, "/media/ignore-me")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = store.AddExclusion(ctx, ExclusionExtension, "tmp")
	require.NoError(t, err)

	all, err := store.ListExclusions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	paths, err := store.ListExclusions(ctx, ExclusionPath)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "/media/ignore-me", paths[0].Value)

	require.NoError(t, store.RemoveExclusion(ctx, added.ID))
	assert.ErrorIs(t, store.RemoveExclusion(ctx, added.ID), ErrNotFound)
}

func TestIgnoredPatterns(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	_, err := store.AddIgnoredPattern(ctx, "CorruptImageProfile", "ICC profile noise")
	require.NoError(t, err)
	p2, err := store.AddIgnoredPattern(ctx, "deprecated pixel format", "")
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE ignored_error_patterns SET active = 0 WHERE id = ?`, p2.ID)
	require.NoError(t, err)

	active, err := store.ActiveIgnoredPatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"CorruptImageProfile"}, active)
}

func TestScanConfigurations(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	_, err := store.AddScanConfiguration(ctx, "/media/movies")
	require.NoError(t, err)
	cfg2, err := store.AddScanConfiguration(ctx, "/media/shows")
	require.NoError(t, err)

	roots, err := store.ActiveScanRoots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/media/movies", "/media/shows"}, roots)

	require.NoError(t, store.RemoveScanConfiguration(ctx, cfg2.ID))
	roots, err = store.ActiveScanRoots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/media/movies"}, roots)
}

func TestReports(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	insert := func(id, scanType string, created time.Time) {
		_, err := db.Exec(`
			INSERT INTO scan_reports (report_id, operation_id, scan_type, start_time, end_time, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, "op-"+id, scanType, created, created, created)
		require.NoError(t, err)
	}
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	insert("r1", "scan", base)
	insert("r2", "scan", base.Add(time.Hour))
	insert("r3", "cleanup", base.Add(2*time.Hour))

	reports, total, err := store.ListReports(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, "r3", reports[0].ReportID)

	latest, err := store.LatestReport(ctx, "scan")
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.ReportID)

	require.NoError(t, store.DeleteReport(ctx, "r1"))
	assert.ErrorIs(t, store.DeleteReport(ctx, "r1"), ErrNotFound)
}

func TestMarkAsGoodAndDeepScan(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	id := seedResult(t, db, ScanResult{FilePath: "/m/a.mp4", ScanStatus: StatusCompleted, IsCorrupted: boolPtr(true)})

	require.NoError(t, store.SetMarkedAsGood(ctx, id, true))
	require.NoError(t, store.SetDeepScan(ctx, id, true))

	row, err := store.GetScanResult(ctx, id)
	require.NoError(t, err)
	assert.True(t, row.MarkedAsGood)
	assert.True(t, row.DeepScan)
	assert.True(t, row.EffectiveHealthy())
	assert.False(t, row.EffectiveCorrupted())

	assert.ErrorIs(t, store.SetMarkedAsGood(ctx, 9999, true), ErrNotFound)
}
