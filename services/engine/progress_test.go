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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/mediasentry/services/catalog"
)

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		name        string
		variant     string
		phaseNumber int
		current     int64
		total       int64
		want        float64
	}{
		{"scan phase 1 start", catalog.VariantScan, 1, 0, 100, 0},
		{"scan phase 1 half", catalog.VariantScan, 1, 50, 100, 10},
		{"scan phase 2 start", catalog.VariantScan, 2, 0, 10, 20},
		{"scan phase 3 start", catalog.VariantScan, 3, 0, 10, 30},
		{"scan phase 3 half", catalog.VariantScan, 3, 5, 10, 65},
		{"scan phase 3 done", catalog.VariantScan, 3, 10, 10, 100},
		{"cleanup phase 2 half", catalog.VariantCleanup, 2, 50, 100, 50},
		{"file changes phase 2 half", catalog.VariantFileChanges, 2, 50, 100, 45},
		{"zero total holds phase floor", catalog.VariantScan, 2, 0, 0, 20},
		{"overshoot clamped", catalog.VariantScan, 3, 20, 10, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProgressPercent(tt.variant, tt.phaseNumber, tt.current, tt.total)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}

func TestStatePercentPinsCompleted(t *testing.T) {
	state := &catalog.OperationState{
		Variant:      catalog.VariantScan,
		Phase:        catalog.PhaseCompleted,
		PhaseNumber:  3,
		PhaseCurrent: 1,
		PhaseTotal:   100,
	}
	assert.Equal(t, 100.0, StatePercent(state))
	assert.Equal(t, 0.0, StatePercent(nil))
}

func TestEstimateETA(t *testing.T) {
	t.Run("suppressed before first file", func(t *testing.T) {
		_, ok := EstimateETA(time.Minute, 0, 100)
		assert.False(t, ok)
	})

	t.Run("linear extrapolation", func(t *testing.T) {
		eta, ok := EstimateETA(10*time.Second, 10, 110)
		assert.True(t, ok)
		assert.InDelta(t, 100, eta.Seconds(), 0.5)
	})

	t.Run("done means zero", func(t *testing.T) {
		eta, ok := EstimateETA(10*time.Second, 100, 100)
		assert.True(t, ok)
		assert.Equal(t, time.Duration(0), eta)
	})
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "45s", FormatETA(45*time.Second))
	assert.Equal(t, "2m 5s", FormatETA(125*time.Second))
	assert.Equal(t, "1h 1m", FormatETA(time.Hour+90*time.Second))
	assert.Equal(t, "0s", FormatETA(-time.Second))
}

func TestProgressMessage(t *testing.T) {
	t.Run("with current file and eta", func(t *testing.T) {
		msg := ProgressMessage("scanning", "/media/movies/a.mkv", 10, 110, 10*time.Second)
		assert.Equal(t, "scanning: current file: a.mkv - 10 of 110 files ETA: 1m 40s", msg)
	})

	t.Run("without current file", func(t *testing.T) {
		msg := ProgressMessage("discovery", "", 0, 0, time.Second)
		assert.Equal(t, "discovery: 0 of 0 files", msg)
	})

	t.Run("eta suppressed before first file", func(t *testing.T) {
		msg := ProgressMessage("scanning", "/a/b.mkv", 0, 100, time.Minute)
		assert.NotContains(t, msg, "ETA")
	})
}
