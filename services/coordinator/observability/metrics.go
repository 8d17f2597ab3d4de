// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the coordinator.
//
// # Description
//
// Counters, histograms, and gauges covering the three coordinator
// loops: augmentation requests, pattern extraction runs, and
// supervisor recovery actions. Exposed via the /metrics endpoint for
// Prometheus + Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics.
const metricsNamespace = "kodiak"

// Subsystem for coordinator metrics.
const coordinatorSubsystem = "coordinator"

// Metrics holds all Prometheus metrics for the coordinator.
//
// # Fields
//
//   - AugmentRequests: Counter of augment calls by decision and status
//   - AugmentDuration: Histogram of augment latency
//   - ContextHitsPerQuery: Histogram of surviving context hits per call
//   - EventsRecorded: Counter of interaction events persisted
//   - TelemetryWritesDropped: Counter of abandoned fire-and-forget writes
//   - PatternsExtracted: Counter of extraction results (created/updated/skipped)
//   - ExtractionRuns: Counter of extraction runs by status
//   - RecoveryActions: Counter of recovery actions by service and action
//   - ServiceHealthState: Gauge of per-service health (0 unknown .. 3 unhealthy)
//   - ProbeDuration: Histogram of health probe latency by service
type Metrics struct {
	// AugmentRequests counts augment calls.
	// Labels: decision (local, remote), status (success, invalid_input)
	AugmentRequests *prometheus.CounterVec

	// AugmentDuration measures end-to-end augment latency.
	AugmentDuration prometheus.Histogram

	// ContextHitsPerQuery measures how many hits survive the cutoff.
	ContextHitsPerQuery prometheus.Histogram

	// EventsRecorded counts interaction events written to telemetry.
	// Labels: origin (local, remote)
	EventsRecorded *prometheus.CounterVec

	// TelemetryWritesDropped counts fire-and-forget writes abandoned
	// after their timeout.
	TelemetryWritesDropped prometheus.Counter

	// PatternsExtracted counts extraction outcomes.
	// Labels: result (created, updated, skipped)
	PatternsExtracted *prometheus.CounterVec

	// ExtractionRuns counts extraction runs.
	// Labels: status (success, partial_failure, skipped_overlap)
	ExtractionRuns *prometheus.CounterVec

	// RecoveryActions counts supervisor recovery attempts.
	// Labels: service, action (restart, force_recreate, alert)
	RecoveryActions *prometheus.CounterVec

	// ServiceHealthState reports the current state per service:
	// 0=unknown, 1=healthy, 2=degraded, 3=unhealthy.
	// Labels: service
	ServiceHealthState *prometheus.GaugeVec

	// ProbeDuration measures health probe latency.
	// Labels: service
	ProbeDuration *prometheus.HistogramVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var (
	DefaultMetrics *Metrics
	metricsOnce    sync.Once
)

// InitMetrics creates and registers all coordinator metrics on the
// default Prometheus registry. Safe to call more than once; only the
// first call registers.
func InitMetrics() *Metrics {
	metricsOnce.Do(func() {
		DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return DefaultMetrics
}

// NewMetrics creates the metric set on the given registerer. Tests
// pass a fresh registry to avoid duplicate registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AugmentRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "augment_requests_total",
				Help:      "Total augment requests by routing decision and status",
			},
			[]string{"decision", "status"},
		),

		AugmentDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "augment_duration_seconds",
				Help:      "End-to-end augment latency in seconds",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
		),

		ContextHitsPerQuery: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "context_hits_per_query",
				Help:      "Context hits surviving the similarity cutoff per query",
				Buckets:   []float64{0, 1, 2, 3, 4, 5, 8, 12},
			},
		),

		EventsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "events_recorded_total",
				Help:      "Interaction events persisted to the telemetry store",
			},
			[]string{"origin"},
		),

		TelemetryWritesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "telemetry_writes_dropped_total",
				Help:      "Fire-and-forget telemetry writes abandoned after timeout",
			},
		),

		PatternsExtracted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "patterns_extracted_total",
				Help:      "Pattern extraction outcomes by result",
			},
			[]string{"result"},
		),

		ExtractionRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "extraction_runs_total",
				Help:      "Pattern extraction runs by status",
			},
			[]string{"status"},
		),

		RecoveryActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "recovery_actions_total",
				Help:      "Supervisor recovery actions by service and action",
			},
			[]string{"service", "action"},
		),

		ServiceHealthState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "service_health_state",
				Help:      "Current health state per service (0=unknown 1=healthy 2=degraded 3=unhealthy)",
			},
			[]string{"service"},
		),

		ProbeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "probe_duration_seconds",
				Help:      "Health probe latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"service"},
		),
	}
}

// HealthStateValue maps a status string to its gauge value.
func HealthStateValue(status string) float64 {
	switch status {
	case "healthy":
		return 1
	case "degraded":
		return 2
	case "unhealthy":
		return 3
	default:
		return 0
	}
}
