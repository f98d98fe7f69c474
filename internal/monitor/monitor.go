// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package monitor runs the periodic anomaly detection cycle. Each cycle
// aggregates the last day of public events at city resolution, feeds the
// bucket counts and diversity into the trend analyzer's per-location
// history, and broadcasts any flagged anomalies plus a coarse stats
// update to connected WebSocket clients.
package monitor

import (
	"context"
	"time"

	"github.com/tomtom215/moodscape/internal/engine"
	"github.com/tomtom215/moodscape/internal/logging"
	"github.com/tomtom215/moodscape/internal/models"
	"github.com/tomtom215/moodscape/internal/trend"
)

// monitorToken is the window the detection cycle observes. Daily periods
// match the analyzer's period-over-period comparison granularity.
const monitorToken = "24h"

// Aggregator is the monitor's view of the aggregation engine.
type Aggregator interface {
	Aggregate(ctx context.Context, token string, level models.ResolutionLevel, filters engine.Filters) (*models.AggregationResult, error)
	Stats(ctx context.Context, token string) (*models.StatsSummary, error)
}

// AnomalyBroadcaster fans anomalies and stats updates out to clients.
// Satisfied by *websocket.Hub.
type AnomalyBroadcaster interface {
	BroadcastAnomalies(anomalies []models.Anomaly)
	BroadcastStatsUpdate(totalEvents int64, writeRate float64)
}

// Monitor periodically analyzes current aggregations for anomalies.
type Monitor struct {
	agg      Aggregator
	analyzer *trend.Analyzer
	hub      AnomalyBroadcaster
	interval time.Duration

	// cycleTimeout bounds each detection pass so a slow store cannot
	// stall the loop past its next tick.
	cycleTimeout time.Duration
}

// New creates a monitor running one detection cycle per interval.
func New(agg Aggregator, analyzer *trend.Analyzer, hub AnomalyBroadcaster, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{
		agg:          agg,
		analyzer:     analyzer,
		hub:          hub,
		interval:     interval,
		cycleTimeout: interval / 2,
	}
}

// Serve implements suture.Service, running detection cycles until the
// context is canceled.
func (m *Monitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle performs one detection pass. Failures are logged and skipped;
// the next tick tries again.
func (m *Monitor) RunCycle(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, m.cycleTimeout)
	defer cancel()

	result, err := m.agg.Aggregate(cycleCtx, monitorToken, models.ResolutionCity, engine.Filters{})
	if err != nil {
		logging.Warn().Err(err).Msg("Anomaly detection cycle skipped: aggregation failed")
		return
	}

	anomalies := m.analyzer.AnalyzeResult(result)
	if len(anomalies) > 0 {
		logging.Info().Int("count", len(anomalies)).Msg("Anomalies detected")
		m.hub.BroadcastAnomalies(anomalies)
	}

	summary, err := m.agg.Stats(cycleCtx, monitorToken)
	if err != nil {
		logging.Warn().Err(err).Msg("Stats update skipped: summary failed")
		return
	}
	m.hub.BroadcastStatsUpdate(summary.TotalEvents, summary.RecentWriteRate)
}
