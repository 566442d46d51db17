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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteQueue_OperationLifecycle(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	queue := NewWriteQueue(db, nil)
	defer queue.Close()
	ctx := context.Background()

	start := time.Now().UTC()
	state := OperationState{
		OperationID: "op-1",
		Variant:     VariantScan,
		IsActive:    true,
		Phase:       PhaseDiscovery,
		PhaseNumber: 1,
		StartTime:   start,
	}
	queue.Enqueue(CreateOperationStateMsg{State: state})

	state.Phase = PhaseScanning
	state.PhaseNumber = 3
	state.FilesProcessed = 10
	state.TotalFiles = 20
	queue.Enqueue(UpdateOperationStateMsg{State: state})
	queue.Flush()

	got, err := store.ActiveOperation(ctx, VariantScan)
	require.NoError(t, err)
	assert.Equal(t, PhaseScanning, got.Phase)
	assert.Equal(t, int64(10), got.FilesProcessed)

	end := time.Now().UTC()
	queue.Enqueue(MarkOperationCompleteMsg{
		OperationID: "op-1",
		Phase:       PhaseCompleted,
		EndTime:     end,
		Report: &ScanReport{
			ReportID:     "rep-1",
			OperationID:  "op-1",
			ScanType:     VariantScan,
			StartTime:    start,
			EndTime:      end,
			FilesScanned: 20,
			CreatedAt:    end,
		},
	})
	queue.Flush()

	_, err = store.ActiveOperation(ctx, VariantScan)
	assert.ErrorIs(t, err, ErrNotFound)

	latest, err := store.LatestOperation(ctx, VariantScan)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, latest.Phase)
	assert.False(t, latest.IsActive)

	report, err := store.GetReport(ctx, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", report.OperationID)
	assert.Equal(t, int64(20), report.FilesScanned)
}

func TestWriteQueue_ScanResultFlow(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	queue := NewWriteQueue(db, nil)
	defer queue.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	queue.Enqueue(BatchUpsertScanResultsMsg{Results: []ScanResult{
		{FilePath: "/m/a.mp4", FileSize: 100, FileType: "video/mp4", ScanStatus: StatusPending, DiscoveredDate: &now},
		{FilePath: "/m/b.mp4", FileSize: 200, FileType: "video/mp4", ScanStatus: StatusPending, DiscoveredDate: &now},
		// Duplicate path in the same batch is skipped, not an error.
		{FilePath: "/m/a.mp4", FileSize: 100, FileType: "video/mp4", ScanStatus: StatusPending, DiscoveredDate: &now},
	}})
	queue.Flush()

	total, err := store.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	a, err := store.GetScanResultByPath(ctx, "/m/a.mp4")
	require.NoError(t, err)
	queue.Enqueue(MarkScanningMsg{IDs: []int64{a.ID}})
	queue.Flush()

	a, err = store.GetScanResult(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScanning, a.ScanStatus)

	scanDate := time.Now().UTC()
	corrupted := true
	queue.Enqueue(UpdateScanResultMsg{Update: ScanResultUpdate{
		ID:                a.ID,
		ScanStatus:        StatusCompleted,
		IsCorrupted:       &corrupted,
		CorruptionDetails: "macroblock errors; CRC mismatch",
		ScanTool:          "ffmpeg",
		ScanDuration:      1.5,
		ScanOutput:        "error output",
		ScanDate:          &scanDate,
		ClearDeepScan:     true,
	}})
	queue.Flush()

	a, err = store.GetScanResult(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, a.ScanStatus)
	require.NotNil(t, a.IsCorrupted)
	assert.True(t, *a.IsCorrupted)
	assert.Equal(t, "macroblock errors; CRC mismatch", a.CorruptionDetails)
	assert.NotNil(t, a.ScanDate)
	assert.False(t, a.DeepScan)

	queue.Enqueue(ResetScanResultsMsg{IDs: []int64{a.ID}})
	queue.Flush()

	a, err = store.GetScanResult(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, a.ScanStatus)
	assert.Nil(t, a.ScanDate)
	assert.Empty(t, a.CorruptionDetails)

	b, err := store.GetScanResultByPath(ctx, "/m/b.mp4")
	require.NoError(t, err)
	queue.Enqueue(DeleteScanResultsMsg{IDs: []int64{b.ID}})
	queue.Flush()

	total, err = store.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestWriteQueue_FIFOOrdering(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	queue := NewWriteQueue(db, nil)
	defer queue.Close()
	ctx := context.Background()

	id := seedResult(t, db, ScanResult{FilePath: "/m/a.mp4"})

	// 50 sequential status flips; the last submission must win.
	for i := 0; i < 50; i++ {
		status := StatusScanning
		if i%2 == 1 {
			status = StatusPending
		}
		queue.Enqueue(UpdateScanResultMsg{Update: ScanResultUpdate{
			ID:         id,
			ScanStatus: status,
			ScanTool:   fmt.Sprintf("tool-%d", i),
		}})
	}
	queue.Flush()

	row, err := store.GetScanResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, row.ScanStatus)
	assert.Equal(t, "tool-49", row.ScanTool)
}

func TestWriteQueue_BadMessageDoesNotStopConsumer(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	queue := NewWriteQueue(db, nil)
	defer queue.Close()
	ctx := context.Background()

	// Duplicate operation_id: the second create fails and is dropped.
	state := OperationState{OperationID: "op-dup", Variant: VariantScan, Phase: PhaseDiscovery, StartTime: time.Now().UTC()}
	queue.Enqueue(CreateOperationStateMsg{State: state})
	queue.Enqueue(CreateOperationStateMsg{State: state})

	id := seedResult(t, db, ScanResult{FilePath: "/m/after.mp4"})
	queue.Enqueue(UpdateScanResultMsg{Update: ScanResultUpdate{ID: id, ScanStatus: StatusCompleted}})
	queue.Flush()

	row, err := store.GetScanResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, row.ScanStatus)
}

func TestWriteQueue_CloseDrains(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	queue := NewWriteQueue(db, nil)
	ctx := context.Background()

	id := seedResult(t, db, ScanResult{FilePath: "/m/a.mp4"})
	for i := 0; i < 100; i++ {
		queue.Enqueue(UpdateScanResultMsg{Update: ScanResultUpdate{ID: id, ScanStatus: StatusScanning}})
	}
	queue.Close()

	row, err := store.GetScanResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusScanning, row.ScanStatus)

	// Enqueue after close is dropped, not a panic.
	queue.Enqueue(UpdateScanResultMsg{Update: ScanResultUpdate{ID: id, ScanStatus: StatusPending}})
}
