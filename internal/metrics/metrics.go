// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package metrics provides Prometheus instrumentation for:
//   - Aggregation latency and bucket yields
//   - Cache efficiency and invalidation pressure
//   - Event ingestion throughput
//   - Prewarm scheduler activity
//   - API endpoint latency and WebSocket connections
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Aggregation metrics
	AggregationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aggregation_duration_seconds",
			Help:    "Duration of aggregation passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"window", "resolution"},
	)

	AggregationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregation_errors_total",
			Help: "Total number of aggregation failures",
		},
		[]string{"error_type"}, // "unavailable", "timeout"
	)

	AggregationBucketsReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aggregation_buckets_returned",
			Help:    "Number of buckets returned per aggregation pass (after the k-anonymity gate)",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"resolution"},
	)

	AggregationBucketsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aggregation_buckets_suppressed_total",
			Help: "Total buckets dropped for falling below the k-anonymity minimum",
		},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_hits_total",
			Help: "Total number of result cache hits",
		},
		[]string{"query"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_misses_total",
			Help: "Total number of result cache misses",
		},
		[]string{"query"},
	)

	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "result_cache_invalidations_total",
			Help: "Total cache entries removed by write-driven invalidation",
		},
	)

	CacheDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "result_cache_degraded_total",
			Help: "Reads that fell through to direct computation because the cache layer failed",
		},
	)

	// Ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_events_ingested_total",
			Help: "Total emotion events accepted by the ingestion path",
		},
		[]string{"category", "visibility"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_events_rejected_total",
			Help: "Total emotion events rejected at validation",
		},
		[]string{"reason"},
	)

	// Prewarm metrics
	PrewarmRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prewarm_runs_total",
			Help: "Total prewarm scheduler passes",
		},
	)

	PrewarmCombos = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prewarm_combinations_total",
			Help: "Per-combination prewarm outcomes",
		},
		[]string{"combo", "outcome"}, // outcome: "ok", "error", "timeout"
	)

	PrewarmDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prewarm_pass_duration_seconds",
			Help:    "Duration of a full prewarm pass across all combinations",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	// API metrics
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

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_active_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total WebSocket messages broadcast",
		},
		[]string{"message_type"},
	)

	// Broadcast (NATS) metrics
	BroadcastPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_events_published_total",
			Help: "Bucket-change events published to the broadcast gateway",
		},
		[]string{"outcome"}, // "ok", "error", "breaker_open"
	)
)

// RecordAPIRequest records a completed API request with its latency.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TimeAggregation returns a function that records aggregation latency when
// called. Usage:
//
//	done := metrics.TimeAggregation("24h", "city")
//	defer done()
func TimeAggregation(window, resolution string) func() {
	start := time.Now()
	return func() {
		AggregationDuration.WithLabelValues(window, resolution).Observe(time.Since(start).Seconds())
	}
}
