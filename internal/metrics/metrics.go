// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

// Package metrics registers the Prometheus instruments for the ingestion and
// broadcast pipelines. All metrics are package-level promauto vars; the API
// layer exposes them via promhttp.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stream collector

	FeedBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_batches_total",
			Help: "Total number of feed batches successfully parsed",
		},
	)

	FeedSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_samples_total",
			Help: "Total number of position samples ingested from the feed",
		},
		[]string{"kind"},
	)

	FeedParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_parse_errors_total",
			Help: "Total number of feed lines that failed to parse (skipped, not fatal)",
		},
	)

	FeedInvalidSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_invalid_samples_total",
			Help: "Total number of samples rejected for out-of-range coordinates",
		},
	)

	CollectorReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_reconnects_total",
			Help: "Total number of reconnection attempts after a feed fault",
		},
	)

	CollectorState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_state",
			Help: "Collector state machine position (0=idle, 1=connecting, 2=streaming, 3=backoff)",
		},
	)

	// Ingestion queue

	IngestJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_jobs_in_flight",
			Help: "Current number of ingestion jobs being processed",
		},
	)

	IngestJobRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_job_retries_total",
			Help: "Total number of ingestion job retry attempts",
		},
	)

	IngestJobsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_jobs_dropped_total",
			Help: "Total number of ingestion jobs dropped after exhausting retries",
		},
	)

	IngestJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_job_duration_seconds",
			Help:    "Duration of ingestion job processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Broadcast path

	BroadcastTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_tick_duration_seconds",
			Help:    "Duration of one broadcast scheduler tick; a slow tick delays all subsequent fan-out",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 3},
		},
	)

	BroadcastTicksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_ticks_skipped_total",
			Help: "Total broadcast ticks skipped (no viewers, or previous tick still running)",
		},
		[]string{"reason"}, // "idle", "in_flight"
	)

	BroadcastEventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_events_sent_total",
			Help: "Total position events emitted to clients",
		},
		[]string{"kind", "path"}, // path: "tick" or "push"
	)

	DeltaSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_delta_suppressed_total",
			Help: "Total position events suppressed because the object had not moved",
		},
	)

	// Connections

	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connected_clients",
			Help: "Current number of connected WebSocket clients",
		},
	)

	ActiveViewports = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_viewports",
			Help: "Current number of registered viewport subscriptions",
		},
	)

	// PubSub bridge

	BridgePublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_publishes_total",
			Help: "Total messages published to the bridge",
		},
		[]string{"topic"},
	)

	BridgePublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_publish_errors_total",
			Help: "Total bridge publish failures (including circuit breaker rejections)",
		},
		[]string{"topic"},
	)

	BridgeSubscribeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_subscribe_failures_total",
			Help: "Total failed subscription attempts; the gateway runs tick-only while nonzero and unrecovered",
		},
	)

	// Enrichment

	EnrichmentAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_attempts_total",
			Help: "Total vessel enrichment attempts by outcome",
		},
		[]string{"outcome"}, // "success", "failure"
	)

	EnrichmentQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "enrichment_queue_depth",
			Help: "Current number of vessels waiting for enrichment",
		},
	)
)

// ObserveTick records one broadcast tick duration.
func ObserveTick(d time.Duration) {
	BroadcastTickDuration.Observe(d.Seconds())
}
