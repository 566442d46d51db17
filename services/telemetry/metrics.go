// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exposes the Prometheus metrics surface.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for the scanning pipeline.
//
// Thread Safety: Safe for concurrent use.
type Metrics struct {
	filesScanned  *prometheus.CounterVec
	operations    *prometheus.CounterVec
	activeOps     *prometheus.GaugeVec
	probeDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh
// registry so parallel tests never collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		filesScanned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediasentry",
			Name:      "files_scanned_total",
			Help:      "Files probed, labeled by verdict.",
		}, []string{"verdict"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediasentry",
			Name:      "operations_total",
			Help:      "Operations finished, labeled by variant and terminal phase.",
		}, []string{"variant", "phase"}),
		activeOps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mediasentry",
			Name:      "active_operations",
			Help:      "Currently running operations by variant.",
		}, []string{"variant"}),
		probeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mediasentry",
			Name:      "probe_duration_seconds",
			Help:      "Wall-clock duration of individual file probes.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
	}
}

// FileScanned records one probe verdict.
func (m *Metrics) FileScanned(verdict string) {
	if m == nil {
		return
	}
	m.filesScanned.WithLabelValues(verdict).Inc()
}

// OperationFinished records a terminal phase for a variant.
func (m *Metrics) OperationFinished(variant, phase string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(variant, phase).Inc()
}

// OperationStarted bumps the active gauge for a variant.
func (m *Metrics) OperationStarted(variant string) {
	if m == nil {
		return
	}
	m.activeOps.WithLabelValues(variant).Inc()
}

// OperationEnded drops the active gauge for a variant.
func (m *Metrics) OperationEnded(variant string) {
	if m == nil {
		return
	}
	m.activeOps.WithLabelValues(variant).Dec()
}

// ProbeObserved records one probe duration by file kind.
func (m *Metrics) ProbeObserved(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.probeDuration.WithLabelValues(kind).Observe(d.Seconds())
}
