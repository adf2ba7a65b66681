// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the ingestion pipeline:
// - collection window lifecycle
// - finalization and clustering outcomes
// - fan-out delivery results
// - execution gate state
// - replication jobs

var (
	// Window Metrics
	OpenWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "postwave_open_windows",
			Help: "Number of collection windows currently open",
		},
	)

	ItemsAdmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postwave_items_admitted_total",
			Help: "Total items admitted into collection windows",
		},
	)

	ItemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postwave_items_skipped_total",
			Help: "Total items excluded at admission",
		},
		[]string{"reason"}, // "short_duration", "parse_failed"
	)

	// Finalization Metrics
	Finalizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postwave_finalizations_total",
			Help: "Total finalization runs by trigger and outcome",
		},
		[]string{"trigger", "outcome"}, // trigger: "debounce", "size_cap"; outcome: "ok", "empty", "error"
	)

	ClustersFormed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postwave_clusters_formed_total",
			Help: "Total logical clusters produced during finalization",
		},
	)

	// Delivery Metrics
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postwave_deliveries_total",
			Help: "Total post deliveries by result",
		},
		[]string{"result"}, // "ok", "error"
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "postwave_delivery_duration_seconds",
			Help:    "Duration of a single post delivery including gate waits",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Gate Metrics
	GatePaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "postwave_gate_paused",
			Help: "1 while the execution gate pause is armed, 0 otherwise",
		},
	)

	GateHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "postwave_gate_healthy",
			Help: "1 while the execution gate is healthy, 0 otherwise",
		},
	)

	RateLimitTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postwave_rate_limit_trips_total",
			Help: "Total rate-limit pauses armed on the execution gate",
		},
	)

	RetryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postwave_retry_attempts_total",
			Help: "Total transient-failure retries issued by the executor",
		},
	)

	// Replication Metrics
	ActiveReplications = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "postwave_active_replication_jobs",
			Help: "Number of replication jobs currently running",
		},
	)

	ReplicationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postwave_replication_outcomes_total",
			Help: "Total replication job terminations by outcome",
		},
		[]string{"outcome"}, // "completed", "cancelled", "error"
	)
)
