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
	"path/filepath"
	"time"

	"github.com/AleutianAI/mediasentry/services/catalog"
)

// Phase weights per variant. Each set sums to 1.0; the index is
// phase_number-1.
var (
	scanWeights        = []float64{0.20, 0.10, 0.70}
	cleanupWeights     = []float64{0.10, 0.80, 0.10}
	fileChangesWeights = []float64{0.05, 0.80, 0.15}
)

// phaseWeights returns the weight vector for a variant.
func phaseWeights(variant string) []float64 {
	switch variant {
	case catalog.VariantCleanup:
		return cleanupWeights
	case catalog.VariantFileChanges:
		return fileChangesWeights
	default:
		return scanWeights
	}
}

// ProgressPercent converts a (phase_number, phase_current, phase_total)
// triple into a percentage: completed phase weights plus the active
// phase's weighted fraction, clamped to [0, 100].
func ProgressPercent(variant string, phaseNumber int, phaseCurrent, phaseTotal int64) float64 {
	weights := phaseWeights(variant)
	if phaseNumber < 1 {
		phaseNumber = 1
	}
	if phaseNumber > len(weights) {
		phaseNumber = len(weights)
	}

	done := 0.0
	for i := 0; i < phaseNumber-1; i++ {
		done += weights[i]
	}
	fraction := 0.0
	if phaseTotal > 0 {
		fraction = float64(phaseCurrent) / float64(phaseTotal)
		if fraction > 1 {
			fraction = 1
		}
	}
	percent := (done + weights[phaseNumber-1]*fraction) * 100
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// StatePercent computes the percentage for a persisted operation row.
// Terminal success is pinned to 100 so the completed phase is the only
// one that reports it.
func StatePercent(state *catalog.OperationState) float64 {
	if state == nil {
		return 0
	}
	if state.Phase == catalog.PhaseCompleted {
		return 100
	}
	return ProgressPercent(state.Variant, state.PhaseNumber, state.PhaseCurrent, state.PhaseTotal)
}

// EstimateETA derives the remaining duration from throughput so far.
// The estimate is suppressed (ok=false) until at least one file has
// been processed.
func EstimateETA(elapsed time.Duration, processed, total int64) (time.Duration, bool) {
	if processed <= 0 || elapsed <= 0 || total <= processed {
		return 0, processed > 0 && total <= processed
	}
	rate := float64(processed) / elapsed.Seconds()
	remaining := float64(total-processed) / rate
	return time.Duration(remaining * float64(time.Second)), true
}

// FormatETA renders a duration as "Ns", "Nm Ks", or "Nh Km".
func FormatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Seconds())
	switch {
	case total < 60:
		return fmt.Sprintf("%ds", total)
	case total < 3600:
		return fmt.Sprintf("%dm %ds", total/60, total%60)
	default:
		return fmt.Sprintf("%dh %dm", total/3600, (total%3600)/60)
	}
}

// ProgressMessage composes the user-facing progress line. The current
// file clause appears only when a file is known, the ETA clause only
// once an estimate exists.
func ProgressMessage(phase, currentFile string, processed, total int64, elapsed time.Duration) string {
	eta := ""
	if d, ok := EstimateETA(elapsed, processed, total); ok {
		eta = " ETA: " + FormatETA(d)
	}
	if currentFile != "" {
		return fmt.Sprintf("%s: current file: %s - %d of %d files%s",
			phase, filepath.Base(currentFile), processed, total, eta)
	}
	return fmt.Sprintf("%s: %d of %d files%s", phase, processed, total, eta)
}
