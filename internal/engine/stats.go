// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package engine

import (
	"context"
	"fmt"

	"github.com/tomtom215/moodscape/internal/metrics"
	"github.com/tomtom215/moodscape/internal/models"
	"github.com/tomtom215/moodscape/internal/store"
	"github.com/tomtom215/moodscape/internal/timewindow"
)

// topLocationsLimit bounds the top-locations list in a stats summary.
const topLocationsLimit = 10

// Stats produces the coarse summary for a time window: total public event
// count, per-category breakdown, and the busiest locations above the
// k-anonymity minimum.
func (e *Engine) Stats(ctx context.Context, token string) (*models.StatsSummary, error) {
	window, err := timewindow.Resolve(token, e.now())
	if err != nil {
		return nil, err
	}

	cacheKey := StatsKey(token)
	if v, ok := e.cacheGet(cacheKey, "stats"); ok {
		if summary, isSummary := v.(*models.StatsSummary); isSummary {
			return summary, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	filter := store.EventFilter{
		Start:      window.Start,
		End:        window.End,
		Visibility: models.VisibilityPublic,
	}

	total, err := e.source.CountEvents(ctx, filter)
	if err != nil {
		return nil, e.classifyStoreError(ctx, "count events", err)
	}
	breakdown, err := e.source.CategoryBreakdown(ctx, filter)
	if err != nil {
		return nil, e.classifyStoreError(ctx, "category breakdown", err)
	}
	topLocations, err := e.source.TopLocations(ctx, filter, e.cfg.KMin, topLocationsLimit)
	if err != nil {
		return nil, e.classifyStoreError(ctx, "top locations", err)
	}

	summary := &models.StatsSummary{
		WindowToken:       token,
		TotalEvents:       total,
		CategoryBreakdown: breakdown,
		TopLocations:      topLocations,
		GeneratedAt:       e.now().UTC(),
	}
	if e.writeRate != nil {
		summary.RecentWriteRate = e.writeRate()
	}
	if e.locationRate != nil {
		for i := range summary.TopLocations {
			summary.TopLocations[i].RecentWriteRate = e.locationRate(summary.TopLocations[i].LocationKey)
		}
	}

	e.cacheSet(cacheKey, summary)
	return summary, nil
}

// classifyStoreError maps a store failure to the aggregation error
// taxonomy: context expiry is a timeout, anything else is unavailability.
func (e *Engine) classifyStoreError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		metrics.AggregationErrors.WithLabelValues("timeout").Inc()
		return fmt.Errorf("%w: %s: %v", ErrAggregationTimeout, op, ctx.Err())
	}
	metrics.AggregationErrors.WithLabelValues("unavailable").Inc()
	return fmt.Errorf("%w: %s: %v", ErrAggregationUnavailable, op, err)
}
