// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package engine computes privacy-gated spatial aggregations of public
// emotion events. Every aggregation pass builds its own local bucket map
// and discards it after producing the result, so concurrent calls share no
// mutable state and the hot path needs no locking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/moodscape/internal/config"
	"github.com/tomtom215/moodscape/internal/geo"
	"github.com/tomtom215/moodscape/internal/logging"
	"github.com/tomtom215/moodscape/internal/metrics"
	"github.com/tomtom215/moodscape/internal/models"
	"github.com/tomtom215/moodscape/internal/store"
	"github.com/tomtom215/moodscape/internal/timewindow"
)

// EventSource is the engine's read-only view of the event store.
type EventSource interface {
	QueryEvents(ctx context.Context, filter store.EventFilter) ([]models.EmotionEvent, error)
	CountEvents(ctx context.Context, filter store.EventFilter) (int64, error)
	CategoryBreakdown(ctx context.Context, filter store.EventFilter) (map[string]int64, error)
	TopLocations(ctx context.Context, filter store.EventFilter, kMin int64, limit int) ([]models.LocationCount, error)
}

// Filters narrows an aggregation to a category and/or magnitude range.
// Nil fields mean unfiltered.
type Filters struct {
	Category     *models.Category
	MinMagnitude *float64
	MaxMagnitude *float64
}

// Engine runs aggregation queries against the event store with a
// cache-first read path. Cache failures never surface: the engine logs
// them and computes directly.
type Engine struct {
	cfg      *config.EngineConfig
	source   EventSource
	cache    ResultCache
	cacheTTL time.Duration
	bucketer *geo.Bucketer

	// writeRate, when set, supplies the recent write rate for stats
	// summaries (events per minute). locationRate does the same per
	// city-level location key.
	writeRate    func() float64
	locationRate func(key string) float64

	now func() time.Time
}

// New creates an aggregation engine. cache may be nil, which disables
// caching entirely (every read computes directly).
func New(cfg *config.EngineConfig, source EventSource, cache ResultCache, cacheTTL time.Duration) *Engine {
	return &Engine{
		cfg:      cfg,
		source:   source,
		cache:    cache,
		cacheTTL: cacheTTL,
		bucketer: geo.NewBucketer(cfg.CoordinatePrecision),
		now:      time.Now,
	}
}

// SetWriteRateSource wires the sliding-window write rate into stats output.
func (e *Engine) SetWriteRateSource(fn func() float64) {
	e.writeRate = fn
}

// SetLocationRateSource wires the per-location sliding-window write rate
// into the top-locations section of stats output.
func (e *Engine) SetLocationRateSource(fn func(key string) float64) {
	e.locationRate = fn
}

// lexicalCategoryOrder lists all categories sorted by wire label. Scanning
// in this order with a strict greater-than makes the dominant-category
// tie-break deterministic: equal counts resolve to the lowest lexical label.
var lexicalCategoryOrder = func() []models.Category {
	order := make([]models.Category, models.NumCategories)
	for i := range order {
		order[i] = models.Category(i)
	}
	sort.Slice(order, func(i, j int) bool {
		return order[i].String() < order[j].String()
	})
	return order
}()

// accumulator collects one bucket's running totals. Category counts use
// fixed-size arrays indexed by the category enumeration so accumulation is
// allocation-free and independent of event order.
type accumulator struct {
	counts [models.NumCategories]int64
	sums   [models.NumCategories]float64
	total  int64

	lonSum float64
	latSum float64
}

// Aggregate computes the bucket list for a time window token, resolution
// level, and optional filters. Unknown window tokens return
// timewindow.ErrInvalidWindowToken; applying the 24h default is the
// caller's explicit decision, never silently inferred here.
//
// An empty bucket list is a valid success. Event store failures are
// retried once with a short backoff before surfacing
// ErrAggregationUnavailable; deadline expiry surfaces ErrAggregationTimeout
// without returning or caching a partial result.
func (e *Engine) Aggregate(ctx context.Context, token string, level models.ResolutionLevel, filters Filters) (*models.AggregationResult, error) {
	return e.aggregate(ctx, token, level, filters, true)
}

// Recompute runs the same aggregation but skips the cache read, always
// querying the event store and re-storing the fresh result. The prewarm
// scheduler uses it so a pass refreshes the TTL of entries that are still
// warm; a plain Aggregate would return the cached value untouched and let
// it expire between passes.
func (e *Engine) Recompute(ctx context.Context, token string, level models.ResolutionLevel, filters Filters) (*models.AggregationResult, error) {
	return e.aggregate(ctx, token, level, filters, false)
}

func (e *Engine) aggregate(ctx context.Context, token string, level models.ResolutionLevel, filters Filters, readCache bool) (*models.AggregationResult, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, level)
	}
	window, err := timewindow.Resolve(token, e.now())
	if err != nil {
		return nil, err
	}

	cacheKey := AggregationKey(token, level, filters)
	if readCache {
		if v, ok := e.cacheGet(cacheKey, "aggregation"); ok {
			if result, isResult := v.(*models.AggregationResult); isResult {
				return result, nil
			}
		}
	}

	done := metrics.TimeAggregation(token, string(level))
	defer done()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	events, err := e.queryWithRetry(ctx, store.EventFilter{
		Start:      window.Start,
		End:        window.End,
		Visibility: models.VisibilityPublic,
		Category:   filters.Category,
		MinMag:     filters.MinMagnitude,
		MaxMag:     filters.MaxMagnitude,
	})
	if err != nil {
		return nil, err
	}

	result := e.buildResult(token, level, window, events)
	if ctx.Err() != nil {
		// The deadline fired during accumulation; do not cache or return
		// what might be a partial view.
		metrics.AggregationErrors.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("%w: %s/%s", ErrAggregationTimeout, token, level)
	}

	e.cacheSet(cacheKey, result)
	metrics.AggregationBucketsReturned.WithLabelValues(string(level)).Observe(float64(len(result.Buckets)))

	return result, nil
}

// queryWithRetry runs the event store query, retrying once after a short
// backoff. Context expiry is reported as a timeout, not unavailability.
func (e *Engine) queryWithRetry(ctx context.Context, filter store.EventFilter) ([]models.EmotionEvent, error) {
	events, err := e.source.QueryEvents(ctx, filter)
	if err == nil {
		return events, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		metrics.AggregationErrors.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("%w: %v", ErrAggregationTimeout, ctxErr)
	}

	logging.Warn().Err(err).Msg("event store query failed, retrying once")
	select {
	case <-time.After(e.cfg.RetryBackoff):
	case <-ctx.Done():
		metrics.AggregationErrors.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("%w: %v", ErrAggregationTimeout, ctx.Err())
	}

	events, err = e.source.QueryEvents(ctx, filter)
	if err == nil {
		return events, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		metrics.AggregationErrors.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("%w: %v", ErrAggregationTimeout, ctxErr)
	}

	metrics.AggregationErrors.WithLabelValues("unavailable").Inc()
	return nil, fmt.Errorf("%w: %v", ErrAggregationUnavailable, err)
}

// buildResult accumulates events into buckets, applies the k-anonymity
// gate, and produces the sorted, truncated result. Accumulation is
// commutative, so event order never affects the output.
func (e *Engine) buildResult(token string, level models.ResolutionLevel, window timewindow.Window, events []models.EmotionEvent) *models.AggregationResult {
	acc := make(map[string]*accumulator)
	var sourceCount int64

	for i := range events {
		event := &events[i]
		if !event.IsPublic() {
			continue
		}
		key, ok := e.bucketer.Key(event.Labels, level)
		if !ok {
			// Missing a label required by this resolution: excluded, not
			// coerced into an "unknown" bucket.
			continue
		}
		sourceCount++

		a := acc[key]
		if a == nil {
			a = &accumulator{}
			acc[key] = a
		}
		a.counts[event.Category]++
		a.sums[event.Category] += event.Magnitude
		a.total++
		a.lonSum += event.Coords.Longitude
		a.latSum += event.Coords.Latitude
	}

	buckets := make([]models.Bucket, 0, len(acc))
	for key, a := range acc {
		if a.total < e.cfg.KMin {
			metrics.AggregationBucketsSuppressed.Inc()
			continue
		}
		buckets = append(buckets, e.finishBucket(key, level, window, a))
	}

	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].TotalCount != buckets[j].TotalCount {
			return buckets[i].TotalCount > buckets[j].TotalCount
		}
		return buckets[i].LocationKey < buckets[j].LocationKey
	})
	if len(buckets) > e.cfg.MaxBuckets {
		buckets = buckets[:e.cfg.MaxBuckets]
	}

	return &models.AggregationResult{
		WindowToken:      token,
		ResolutionLevel:  level,
		WindowStart:      window.Start,
		WindowEnd:        window.End,
		Buckets:          buckets,
		GeneratedAt:      e.now().UTC(),
		SourceEventCount: sourceCount,
	}
}

// finishBucket derives the dominant category, its mean magnitude, and the
// privacy-rounded representative coordinates for one accumulated bucket.
func (e *Engine) finishBucket(key string, level models.ResolutionLevel, window timewindow.Window, a *accumulator) models.Bucket {
	dominant := lexicalCategoryOrder[0]
	var dominantCount int64 = -1
	counts := make(map[string]int64)

	for _, c := range lexicalCategoryOrder {
		n := a.counts[c]
		if n > 0 {
			counts[c.String()] = n
		}
		if n > dominantCount {
			dominant = c
			dominantCount = n
		}
	}

	avgMagnitude := 0.0
	if dominantCount > 0 {
		avgMagnitude = a.sums[dominant] / float64(dominantCount)
	}

	centroid := models.Coordinates{
		Longitude: a.lonSum / float64(a.total),
		Latitude:  a.latSum / float64(a.total),
	}

	return models.Bucket{
		ResolutionLevel:      level,
		LocationKey:          key,
		WindowStart:          window.Start,
		WindowEnd:            window.End,
		TotalCount:           a.total,
		CategoryCounts:       counts,
		DominantCategory:     dominant.String(),
		AverageMagnitude:     avgMagnitude,
		RepresentativeCoords: e.bucketer.PrivacyRound(centroid),
	}
}

// IsRetryable reports whether an aggregation error is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAggregationUnavailable) || errors.Is(err, ErrAggregationTimeout)
}
