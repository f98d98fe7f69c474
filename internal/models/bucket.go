// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package models

import "time"

// ResolutionLevel is the granularity of spatial grouping.
type ResolutionLevel string

const (
	ResolutionCity    ResolutionLevel = "city"
	ResolutionRegion  ResolutionLevel = "region"
	ResolutionCountry ResolutionLevel = "country"
)

// Valid reports whether the resolution level is recognized.
func (r ResolutionLevel) Valid() bool {
	switch r {
	case ResolutionCity, ResolutionRegion, ResolutionCountry:
		return true
	}
	return false
}

// Bucket is an aggregated group of public events sharing a spatial key and
// time window. A bucket is only ever emitted when its TotalCount satisfies
// the k-anonymity minimum; sub-threshold buckets are dropped outright.
type Bucket struct {
	ResolutionLevel ResolutionLevel `json:"resolution_level"`
	LocationKey     string          `json:"location_key"`
	WindowStart     time.Time       `json:"window_start"`
	WindowEnd       time.Time       `json:"window_end"`

	TotalCount     int64            `json:"total_count"`
	CategoryCounts map[string]int64 `json:"category_counts"`

	// DominantCategory is the argmax of CategoryCounts; ties break to the
	// lowest lexical category label so repeated aggregations are identical.
	DominantCategory string `json:"dominant_category"`

	// AverageMagnitude is the mean magnitude of the dominant category.
	AverageMagnitude float64 `json:"average_magnitude"`

	// RepresentativeCoords is a privacy-rounded centroid. Original event
	// coordinates are not reconstructable from it.
	RepresentativeCoords Coordinates `json:"representative_coordinates"`
}

// AggregationResult is the cacheable output of a single aggregation pass.
// It is always replaced wholesale in the cache, never partially mutated.
type AggregationResult struct {
	WindowToken      string          `json:"window_token"`
	ResolutionLevel  ResolutionLevel `json:"resolution_level"`
	WindowStart      time.Time       `json:"window_start"`
	WindowEnd        time.Time       `json:"window_end"`
	Buckets          []Bucket        `json:"buckets"`
	GeneratedAt      time.Time       `json:"generated_at"`
	SourceEventCount int64           `json:"source_event_count"`
}

// TrendDirection classifies period-over-period movement of a category.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
	TrendVolatile   TrendDirection = "volatile"
)

// TrendRecord compares one category's activity in a location across two
// consecutive periods. Records are derived values, recomputed per period
// boundary; they are not persisted by the engine.
type TrendRecord struct {
	LocationKey         string         `json:"location_key"`
	Category            string         `json:"category"`
	PeriodStart         time.Time      `json:"period_start"`
	Count               int64          `json:"count"`
	PreviousPeriodCount int64          `json:"previous_period_count"`
	ChangePercent       float64        `json:"change_percent"`
	TrendDirection      TrendDirection `json:"trend_direction"`
}

// Anomaly severity levels.
const (
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Anomaly types.
const (
	AnomalySpike               = "spike"
	AnomalyUnusualDistribution = "unusual_distribution"
)

// Anomaly flags a statistically unusual period for a location.
type Anomaly struct {
	Type        string    `json:"type"`     // spike, unusual_distribution
	Severity    string    `json:"severity"` // medium, high
	LocationKey string    `json:"location_key"`
	PeriodStart time.Time `json:"period_start"`
	Observed    float64   `json:"observed"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"std_dev"`
}

// LocationCount pairs a location key with an event count, used for
// top-locations rankings.
type LocationCount struct {
	LocationKey string `json:"location_key"`
	Count       int64  `json:"count"`

	// RecentWriteRate is the location's observed write rate
	// (events/minute) over the sliding write-tracking window.
	RecentWriteRate float64 `json:"recent_write_rate,omitempty"`
}

// StatsSummary is the engine's coarse summary for a time window.
type StatsSummary struct {
	WindowToken       string           `json:"window_token"`
	TotalEvents       int64            `json:"total_events"`
	CategoryBreakdown map[string]int64 `json:"category_breakdown"`
	TopLocations      []LocationCount  `json:"top_locations"`

	// RecentWriteRate is the observed event write rate (events/minute) over
	// the sliding write-tracking window, independent of the stats window.
	RecentWriteRate float64 `json:"recent_write_rate"`

	GeneratedAt time.Time `json:"generated_at"`
}
