// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/moodscape/internal/config"
	"github.com/tomtom215/moodscape/internal/engine"
	"github.com/tomtom215/moodscape/internal/models"
	"github.com/tomtom215/moodscape/internal/trend"
)

type fakeAggregator struct {
	result  *models.AggregationResult
	summary *models.StatsSummary
	err     error
	calls   int
}

func (f *fakeAggregator) Aggregate(context.Context, string, models.ResolutionLevel, engine.Filters) (*models.AggregationResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeAggregator) Stats(context.Context, string) (*models.StatsSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

type recordingHub struct {
	anomalies [][]models.Anomaly
	stats     []int64
}

func (r *recordingHub) BroadcastAnomalies(anomalies []models.Anomaly) {
	r.anomalies = append(r.anomalies, anomalies)
}

func (r *recordingHub) BroadcastStatsUpdate(totalEvents int64, _ float64) {
	r.stats = append(r.stats, totalEvents)
}

func testAnalyzer() *trend.Analyzer {
	return trend.NewAnalyzer(&config.TrendConfig{
		SpikeSigma:     2.0,
		HighSigma:      3.0,
		DiversityDelta: 1.0,
		HistorySize:    30,
	})
}

func resultWithCount(count int64) *models.AggregationResult {
	return &models.AggregationResult{
		WindowToken:     "24h",
		ResolutionLevel: models.ResolutionCity,
		WindowStart:     time.Now().Add(-24 * time.Hour),
		Buckets: []models.Bucket{{
			LocationKey: "city:New York,NY,US",
			TotalCount:  count,
			CategoryCounts: map[string]int64{
				"joy": count,
			},
		}},
	}
}

func TestRunCycleBroadcastsStats(t *testing.T) {
	agg := &fakeAggregator{
		result:  resultWithCount(100),
		summary: &models.StatsSummary{TotalEvents: 100, RecentWriteRate: 3.5},
	}
	hub := &recordingHub{}
	m := New(agg, testAnalyzer(), hub, time.Minute)

	m.RunCycle(context.Background())

	if len(hub.stats) != 1 || hub.stats[0] != 100 {
		t.Errorf("expected one stats update with 100 events, got %v", hub.stats)
	}
	if len(hub.anomalies) != 0 {
		t.Errorf("no anomalies expected on first observation, got %v", hub.anomalies)
	}
}

func TestRunCycleBroadcastsSpike(t *testing.T) {
	agg := &fakeAggregator{summary: &models.StatsSummary{}}
	hub := &recordingHub{}
	analyzer := testAnalyzer()
	m := New(agg, analyzer, hub, time.Minute)

	// Build stable history, then a spike well past mean + 2 sigma.
	for _, count := range []int64{90, 110, 90, 110} {
		agg.result = resultWithCount(count)
		m.RunCycle(context.Background())
	}
	agg.result = resultWithCount(200)
	m.RunCycle(context.Background())

	if len(hub.anomalies) != 1 {
		t.Fatalf("expected one anomaly broadcast, got %d", len(hub.anomalies))
	}
	if hub.anomalies[0][0].Type != models.AnomalySpike {
		t.Errorf("expected spike anomaly, got %+v", hub.anomalies[0][0])
	}
}

func TestRunCycleSkipsOnAggregationFailure(t *testing.T) {
	agg := &fakeAggregator{err: errors.New("store down")}
	hub := &recordingHub{}
	m := New(agg, testAnalyzer(), hub, time.Minute)

	m.RunCycle(context.Background())

	if len(hub.stats) != 0 || len(hub.anomalies) != 0 {
		t.Error("failed cycle should broadcast nothing")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	agg := &fakeAggregator{result: resultWithCount(1), summary: &models.StatsSummary{}}
	m := New(agg, testAnalyzer(), &recordingHub{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
	if agg.calls == 0 {
		t.Error("expected at least one cycle before cancel")
	}
}
