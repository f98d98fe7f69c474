// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/moodscape/internal/geo"
	"github.com/tomtom215/moodscape/internal/models"
	"github.com/tomtom215/moodscape/internal/store"
	"github.com/tomtom215/moodscape/internal/timewindow"
	"github.com/tomtom215/moodscape/internal/trend"
)

const (
	// trendPeriod is the comparison granularity for trend records. Periods
	// are consecutive 24h slices ending at the current time.
	trendPeriod = 24 * time.Hour

	defaultPeriodCount = 7
	maxPeriodCount     = 30
)

// Trends computes per-category trend records for a location across
// consecutive periods. locationKey is a bucket key such as
// "city:New York,NY,US"; category optionally narrows the output to a
// single emotion label; periodToken optionally sets the period length as a
// window token (default 24h slices). Records are returned oldest period
// first.
func (e *Engine) Trends(ctx context.Context, locationKey, category string, periodCount int, periodToken string) ([]models.TrendRecord, error) {
	level, labels, err := geo.ParseKey(locationKey)
	if err != nil {
		return nil, err
	}
	if category != "" {
		if _, err := models.ParseCategory(category); err != nil {
			return nil, err
		}
	}
	periodDur := trendPeriod
	if periodToken != "" {
		w, err := timewindow.Resolve(periodToken, e.now())
		if err != nil {
			return nil, err
		}
		periodDur = w.Duration()
	}
	if periodCount <= 0 {
		periodCount = defaultPeriodCount
	}
	if periodCount > maxPeriodCount {
		periodCount = maxPeriodCount
	}

	cacheKey := TrendsKey(locationKey, category, periodCount, periodToken)
	if v, ok := e.cacheGet(cacheKey, "trends"); ok {
		if records, isRecords := v.([]models.TrendRecord); isRecords {
			return records, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	// periodCount comparisons need periodCount+1 breakdowns, oldest first.
	end := e.now().UTC()
	breakdowns := make([]map[string]int64, periodCount+1)
	for i := 0; i <= periodCount; i++ {
		offset := time.Duration(periodCount-i) * periodDur
		filter := locationFilter(level, labels)
		filter.Start = end.Add(-offset - periodDur)
		filter.End = end.Add(-offset)
		filter.Visibility = models.VisibilityPublic

		breakdown, err := e.source.CategoryBreakdown(ctx, filter)
		if err != nil {
			return nil, e.classifyStoreError(ctx, "trend period breakdown", err)
		}
		breakdowns[i] = breakdown
	}

	var records []models.TrendRecord
	for i := 1; i <= periodCount; i++ {
		periodStart := end.Add(-time.Duration(periodCount-i+1) * periodDur)
		records = append(records, periodRecords(locationKey, category, periodStart, breakdowns[i], breakdowns[i-1])...)
	}

	e.cacheSet(cacheKey, records)
	return records, nil
}

// periodRecords builds the trend records comparing one period against its
// predecessor. Categories absent from both periods produce no record.
func periodRecords(locationKey, categoryFilter string, periodStart time.Time, current, previous map[string]int64) []models.TrendRecord {
	var records []models.TrendRecord
	for _, label := range models.CategoryLabels() {
		if categoryFilter != "" && label != categoryFilter {
			continue
		}
		count, prevCount := current[label], previous[label]
		if count == 0 && prevCount == 0 {
			continue
		}
		change, direction := trend.ChangePercent(count, prevCount)
		records = append(records, models.TrendRecord{
			LocationKey:         locationKey,
			Category:            label,
			PeriodStart:         periodStart,
			Count:               count,
			PreviousPeriodCount: prevCount,
			ChangePercent:       change,
			TrendDirection:      direction,
		})
	}
	return records
}

// locationFilter translates a parsed bucket key into store constraints.
func locationFilter(level models.ResolutionLevel, labels []string) store.EventFilter {
	switch level {
	case models.ResolutionCity:
		return store.EventFilter{City: labels[0], Region: labels[1], Country: labels[2]}
	case models.ResolutionRegion:
		return store.EventFilter{Region: labels[0], Country: labels[1]}
	case models.ResolutionCountry:
		return store.EventFilter{Country: labels[0]}
	default:
		// ParseKey already rejected unknown levels.
		panic(fmt.Sprintf("unreachable resolution level %q", level))
	}
}
