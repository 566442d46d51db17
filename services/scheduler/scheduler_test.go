// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/mediasentry/services/catalog"
	"github.com/AleutianAI/mediasentry/services/engine"
	"github.com/AleutianAI/mediasentry/services/probe"
)

func TestParseExpression(t *testing.T) {
	tests := []struct {
		expr    string
		want    time.Duration
		wantErr bool
	}{
		{"interval:30m", 30 * time.Minute, false},
		{"interval:24h", 24 * time.Hour, false},
		{"interval:90s", 90 * time.Second, false},
		{"interval:10s", 0, true},
		{"interval:", 0, true},
		{"cron:0 3 * * *", 0, true},
		{"30m", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseExpression(tt.expr)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadExpression)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-45 * time.Minute)
	recent := now.Add(-10 * time.Minute)

	tests := []struct {
		name     string
		schedule catalog.ScanSchedule
		want     bool
	}{
		{"never ran fires immediately", catalog.ScanSchedule{Expression: "interval:30m"}, true},
		{"past interval fires", catalog.ScanSchedule{Expression: "interval:30m", LastRun: &earlier}, true},
		{"within interval waits", catalog.ScanSchedule{Expression: "interval:30m", LastRun: &recent}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due, err := Due(tt.schedule, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, due)
		})
	}

	_, err := Due(catalog.ScanSchedule{Expression: "whenever"}, now)
	assert.ErrorIs(t, err, ErrBadExpression)
}

// healthyProber keeps scheduled scans trivial.
type healthyProber struct{}

func (healthyProber) Probe(context.Context, string, bool) probe.Result {
	return probe.Result{Status: probe.StatusHealthy, Tool: "stub"}
}

func TestTickSubmitsDueSchedules(t *testing.T) {
	db, err := catalog.Open("file:" + filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue := catalog.NewWriteQueue(db, nil)
	t.Cleanup(queue.Close)
	store := catalog.NewStore(db)

	eng := engine.New(store, queue, healthyProber{}, nil,
		engine.Config{Roots: []string{t.TempDir()}}, nil)
	t.Cleanup(eng.Shutdown)

	_, err = store.AddSchedule(context.Background(), catalog.ScanSchedule{
		Name:       "nightly-cleanup",
		Expression: "interval:1h",
		Variant:    catalog.VariantCleanup,
		Active:     true,
	})
	require.NoError(t, err)
	_, err = store.AddSchedule(context.Background(), catalog.ScanSchedule{
		Name:       "paused",
		Expression: "interval:1h",
		Variant:    catalog.VariantCleanup,
		Active:     false,
	})
	require.NoError(t, err)

	s := New(store, eng, nil)
	now := time.Now().UTC()
	s.Tick(context.Background(), now)

	// The active schedule ran and recorded its run time.
	require.Eventually(t, func() bool {
		state, err := store.LatestOperation(context.Background(), catalog.VariantCleanup)
		return err == nil && state != nil && state.Terminal()
	}, 10*time.Second, 20*time.Millisecond)

	schedules, err := store.ListSchedules(context.Background())
	require.NoError(t, err)
	require.Len(t, schedules, 2)
	for _, schedule := range schedules {
		if schedule.Name == "nightly-cleanup" {
			require.NotNil(t, schedule.LastRun)
			assert.WithinDuration(t, now, *schedule.LastRun, time.Second)
		} else {
			assert.Nil(t, schedule.LastRun)
		}
	}

	// Within the interval, a second tick is a no-op.
	before := time.Now()
	s.Tick(context.Background(), now.Add(time.Minute))
	state, err := store.LatestOperation(context.Background(), catalog.VariantCleanup)
	require.NoError(t, err)
	assert.True(t, state.StartTime.Before(before))
}
