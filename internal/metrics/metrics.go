// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

// Package metrics exposes Prometheus collectors for production observability:
// per-attempt sync outcomes, retry sweeps, reconciliation drift, circuit
// breaker health, and control-plane availability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Metrics
	SyncAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_attempts_total",
			Help: "Total number of sync attempts by target, entity type, and terminal status",
		},
		[]string{"target", "entity_type", "status"}, // status: success, failed, skipped
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_push_duration_seconds",
			Help:    "Duration of outbound push operations in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"target"},
	)

	SyncSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_skips_total",
			Help: "Total number of skipped sync attempts by reason",
		},
		[]string{"target", "reason"}, // reason: unchanged, disabled, not_applicable
	)

	// Retry Sweeper Metrics
	SweepRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Total number of retry sweeper runs",
		},
	)

	SweepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_retries_total",
			Help: "Total number of replayed sync attempts by outcome",
		},
		[]string{"target", "outcome"}, // outcome: succeeded, failed, abandoned
	)

	// Reconciliation Metrics
	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "Total number of reconciliation runs per target",
		},
		[]string{"target"},
	)

	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconcile_duration_seconds",
			Help:    "Duration of full reconciliation runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"target"},
	)

	DriftPercentage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconcile_drift_percentage",
			Help: "Drift percentage from the most recent reconciliation run per target",
		},
		[]string{"target"},
	)

	DriftedEntities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconcile_drifted_entities",
			Help: "Number of drifted entities from the most recent reconciliation run per target",
		},
		[]string{"target"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"dependency"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"dependency", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breakers by result",
		},
		[]string{"dependency", "result"}, // result: success, failure, rejected
	)

	// Control Plane Metrics
	ControlPlaneRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_plane_requests_total",
			Help: "Total number of control-plane requests by operation and result",
		},
		[]string{"operation", "result"}, // operation: license, entitlements, usage, heartbeat
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_query_errors_total",
			Help: "Total number of database query errors",
		},
		[]string{"operation", "table"},
	)
)
