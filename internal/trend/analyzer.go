// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package trend derives period-over-period trend records and statistical
// anomaly flags from already-computed aggregation results. The analyzer
// never queries the event store itself; it only compares engine outputs.
package trend

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/moodscape/internal/config"
	"github.com/tomtom215/moodscape/internal/logging"
	"github.com/tomtom215/moodscape/internal/models"
)

// minHistorySamples is the smallest rolling history that yields a usable
// standard deviation for spike detection.
const minHistorySamples = 3

// Analyzer computes trend direction, diversity scores, and anomalies.
// It keeps a bounded rolling history of per-location period observations.
type Analyzer struct {
	cfg *config.TrendConfig

	mu        sync.Mutex
	histories map[string]*locationHistory
}

// locationHistory holds the most recent period observations for one
// location key, oldest first.
type locationHistory struct {
	counts      []float64
	diversities []float64
}

// NewAnalyzer creates an analyzer with the given thresholds.
func NewAnalyzer(cfg *config.TrendConfig) *Analyzer {
	return &Analyzer{
		cfg:       cfg,
		histories: make(map[string]*locationHistory),
	}
}

// ChangePercent computes the period-over-period change and its direction.
// A previous count of zero reports +100% "increasing" when activity appears
// (not "volatile" — a first-period burst is growth, not oscillation) and
// 0% "stable" when both periods are empty.
func ChangePercent(current, previous int64) (float64, models.TrendDirection) {
	if previous == 0 {
		if current > 0 {
			return 100.0, models.TrendIncreasing
		}
		return 0.0, models.TrendStable
	}

	change := float64(current-previous) / float64(previous) * 100.0

	switch {
	case math.Abs(change) > 25.0:
		return change, models.TrendVolatile
	case change > 10.0:
		return change, models.TrendIncreasing
	case change < -10.0:
		return change, models.TrendDecreasing
	default:
		return change, models.TrendStable
	}
}

// Diversity is the Shannon entropy of a category count distribution in
// bits, rounded to two decimal places. A single-category distribution has
// diversity 0; a uniform distribution over N categories has log2(N).
func Diversity(counts map[string]int64) float64 {
	var total int64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0.0
	}

	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}

	return math.Round(entropy*100) / 100
}

// ComputeTrends compares two consecutive aggregation results and returns a
// trend record for every (location, category) pair present in the current
// result. Locations absent from the previous result compare against zero.
// Records are ordered by location key, then category, so repeated calls on
// the same inputs produce identical output.
func (a *Analyzer) ComputeTrends(current, previous *models.AggregationResult) []models.TrendRecord {
	if current == nil {
		return nil
	}

	prevCounts := make(map[string]map[string]int64)
	if previous != nil {
		for _, b := range previous.Buckets {
			prevCounts[b.LocationKey] = b.CategoryCounts
		}
	}

	var records []models.TrendRecord
	for _, bucket := range current.Buckets {
		prev := prevCounts[bucket.LocationKey]
		for category, count := range bucket.CategoryCounts {
			var prevCount int64
			if prev != nil {
				prevCount = prev[category]
			}
			change, direction := ChangePercent(count, prevCount)
			records = append(records, models.TrendRecord{
				LocationKey:         bucket.LocationKey,
				Category:            category,
				PeriodStart:         current.WindowStart,
				Count:               count,
				PreviousPeriodCount: prevCount,
				ChangePercent:       change,
				TrendDirection:      direction,
			})
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].LocationKey != records[j].LocationKey {
			return records[i].LocationKey < records[j].LocationKey
		}
		return records[i].Category < records[j].Category
	})

	return records
}

// AnalyzeBucket checks one location's current period against its rolling
// history and returns any anomalies, then records the observation. Spike
// detection needs at least minHistorySamples prior periods; before that the
// call only accumulates history.
func (a *Analyzer) AnalyzeBucket(bucket *models.Bucket, periodStart time.Time) []models.Anomaly {
	diversity := Diversity(bucket.CategoryCounts)

	a.mu.Lock()
	defer a.mu.Unlock()

	hist := a.histories[bucket.LocationKey]
	if hist == nil {
		hist = &locationHistory{}
		a.histories[bucket.LocationKey] = hist
	}

	var anomalies []models.Anomaly
	if len(hist.counts) >= minHistorySamples {
		mean, stddev := meanStdDev(hist.counts)
		observed := float64(bucket.TotalCount)

		if observed > mean+a.cfg.SpikeSigma*stddev {
			severity := models.SeverityMedium
			if observed > mean+a.cfg.HighSigma*stddev {
				severity = models.SeverityHigh
			}
			anomalies = append(anomalies, models.Anomaly{
				Type:        models.AnomalySpike,
				Severity:    severity,
				LocationKey: bucket.LocationKey,
				PeriodStart: periodStart,
				Observed:    observed,
				Mean:        mean,
				StdDev:      stddev,
			})
			logging.Info().
				Str("location", bucket.LocationKey).
				Str("severity", severity).
				Float64("observed", observed).
				Float64("mean", mean).
				Msg("spike anomaly detected")
		}

		meanDiversity, _ := meanStdDev(hist.diversities)
		if math.Abs(diversity-meanDiversity) > a.cfg.DiversityDelta {
			anomalies = append(anomalies, models.Anomaly{
				Type:        models.AnomalyUnusualDistribution,
				Severity:    models.SeverityMedium,
				LocationKey: bucket.LocationKey,
				PeriodStart: periodStart,
				Observed:    diversity,
				Mean:        meanDiversity,
			})
			logging.Info().
				Str("location", bucket.LocationKey).
				Float64("diversity", diversity).
				Float64("mean_diversity", meanDiversity).
				Msg("unusual distribution detected")
		}
	}

	hist.push(float64(bucket.TotalCount), diversity, a.cfg.HistorySize)

	return anomalies
}

// AnalyzeResult runs anomaly detection over every bucket in a result.
func (a *Analyzer) AnalyzeResult(result *models.AggregationResult) []models.Anomaly {
	if result == nil {
		return nil
	}
	var all []models.Anomaly
	for i := range result.Buckets {
		all = append(all, a.AnalyzeBucket(&result.Buckets[i], result.WindowStart)...)
	}
	return all
}

// historySize returns the number of recorded periods for a location key.
func (a *Analyzer) historySize(locationKey string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if hist := a.histories[locationKey]; hist != nil {
		return len(hist.counts)
	}
	return 0
}

func (h *locationHistory) push(count, diversity float64, max int) {
	h.counts = append(h.counts, count)
	h.diversities = append(h.diversities, diversity)
	if max > 0 && len(h.counts) > max {
		h.counts = h.counts[len(h.counts)-max:]
		h.diversities = h.diversities[len(h.diversities)-max:]
	}
}

// meanStdDev returns the mean and population standard deviation.
func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	return mean, math.Sqrt(variance)
}
