// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/moodscape/internal/cache"
	"github.com/tomtom215/moodscape/internal/config"
	"github.com/tomtom215/moodscape/internal/models"
	"github.com/tomtom215/moodscape/internal/store"
	"github.com/tomtom215/moodscape/internal/timewindow"
)

// fakeSource is an in-memory EventSource with scriptable failures.
type fakeSource struct {
	mu     sync.Mutex
	events []models.EmotionEvent

	// queryErrs are returned by successive QueryEvents calls before the
	// source starts succeeding.
	queryErrs []error
	queryFn   func(ctx context.Context, filter store.EventFilter) ([]models.EmotionEvent, error)
	calls     int
}

func (f *fakeSource) QueryEvents(ctx context.Context, filter store.EventFilter) ([]models.EmotionEvent, error) {
	f.mu.Lock()
	f.calls++
	var scripted error
	if len(f.queryErrs) > 0 {
		scripted = f.queryErrs[0]
		f.queryErrs = f.queryErrs[1:]
	}
	f.mu.Unlock()

	if scripted != nil {
		return nil, scripted
	}
	if f.queryFn != nil {
		return f.queryFn(ctx, filter)
	}

	var out []models.EmotionEvent
	for _, e := range f.events {
		if filter.Visibility != "" && e.Visibility != filter.Visibility {
			continue
		}
		if !e.OccurredAt.Before(filter.End) || e.OccurredAt.Before(filter.Start) {
			continue
		}
		if filter.Category != nil && e.Category != *filter.Category {
			continue
		}
		if filter.MinMag != nil && e.Magnitude < *filter.MinMag {
			continue
		}
		if filter.MaxMag != nil && e.Magnitude > *filter.MaxMag {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeSource) CountEvents(ctx context.Context, filter store.EventFilter) (int64, error) {
	events, err := f.QueryEvents(ctx, filter)
	return int64(len(events)), err
}

func (f *fakeSource) CategoryBreakdown(ctx context.Context, filter store.EventFilter) (map[string]int64, error) {
	events, err := f.QueryEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	breakdown := make(map[string]int64)
	for _, e := range events {
		if filter.City != "" && e.Labels.City != filter.City {
			continue
		}
		if filter.Country != "" && e.Labels.Country != filter.Country {
			continue
		}
		breakdown[e.Category.String()]++
	}
	return breakdown, nil
}

func (f *fakeSource) TopLocations(ctx context.Context, filter store.EventFilter, kMin int64, limit int) ([]models.LocationCount, error) {
	events, err := f.QueryEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, e := range events {
		if e.Labels.City == "" {
			continue
		}
		key := fmt.Sprintf("city:%s,%s,%s", e.Labels.City, e.Labels.Region, e.Labels.Country)
		counts[key]++
	}
	var out []models.LocationCount
	for key, count := range counts {
		if count >= kMin {
			out = append(out, models.LocationCount{LocationKey: key, Count: count})
		}
	}
	return out, nil
}

// failingCache simulates an unreachable cache backend.
type failingCache struct{}

func (failingCache) Get(string) (interface{}, bool, error) {
	return nil, false, errors.New("cache backend unreachable")
}
func (failingCache) Set(string, interface{}, time.Duration) error {
	return errors.New("cache backend unreachable")
}
func (failingCache) InvalidatePattern(string) (int, error) {
	return 0, errors.New("cache backend unreachable")
}

func testEngineConfig() *config.EngineConfig {
	return &config.EngineConfig{
		KMin:                2,
		CoordinatePrecision: 0.01,
		MaxBuckets:          1000,
		DefaultWindow:       "24h",
		QueryTimeout:        5 * time.Second,
		RetryBackoff:        time.Millisecond,
	}
}

func publicEvent(category models.Category, magnitude float64, lon, lat float64, city, region, country string, occurredAt time.Time) models.EmotionEvent {
	e := models.NewEmotionEvent(category, magnitude)
	e.Coords = models.Coordinates{Longitude: lon, Latitude: lat}
	e.Labels = models.LocationLabels{City: city, Region: region, Country: country}
	e.OccurredAt = occurredAt
	return *e
}

func newTestEngine(t *testing.T, source EventSource) (*Engine, cache.Cacher) {
	t.Helper()
	c := cache.New(5 * time.Minute)
	t.Cleanup(func() { c.Close() })
	e := New(testEngineConfig(), source, NewMemoryResultCache(c), 5*time.Minute)
	return e, c
}

func TestAggregateBasic(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{events: []models.EmotionEvent{
		publicEvent(models.CategoryJoy, 0.8, -74.0060, 40.7128, "New York", "NY", "US", now.Add(-time.Hour)),
		publicEvent(models.CategoryJoy, 0.6, -74.0061, 40.7129, "New York", "NY", "US", now.Add(-2*time.Hour)),
		publicEvent(models.CategorySadness, 0.9, -74.0059, 40.7127, "New York", "NY", "US", now.Add(-3*time.Hour)),
		// Below kMin: must not appear.
		publicEvent(models.CategoryAnger, 0.5, -71.0589, 42.3601, "Boston", "MA", "US", now.Add(-time.Hour)),
	}}
	e, _ := newTestEngine(t, source)

	result, err := e.Aggregate(context.Background(), "24h", models.ResolutionCity, Filters{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(result.Buckets) != 1 {
		t.Fatalf("expected 1 bucket above k-anonymity minimum, got %d", len(result.Buckets))
	}

	b := result.Buckets[0]
	if b.LocationKey != "city:New York,NY,US" {
		t.Errorf("location key = %q", b.LocationKey)
	}
	if b.TotalCount != 3 {
		t.Errorf("total count = %d, want 3", b.TotalCount)
	}
	if b.DominantCategory != "joy" {
		t.Errorf("dominant = %q, want joy", b.DominantCategory)
	}
	// Average magnitude of the dominant category only: (0.8+0.6)/2.
	if math.Abs(b.AverageMagnitude-0.7) > 1e-9 {
		t.Errorf("average magnitude = %.4f, want 0.7", b.AverageMagnitude)
	}
	if b.CategoryCounts["joy"] != 2 || b.CategoryCounts["sadness"] != 1 {
		t.Errorf("category counts: %v", b.CategoryCounts)
	}
	// Representative coordinates are privacy-rounded: 0.01 degree steps.
	if math.Abs(b.RepresentativeCoords.Longitude-(-74.01)) > 1e-9 ||
		math.Abs(b.RepresentativeCoords.Latitude-40.71) > 1e-9 {
		t.Errorf("representative coords = %+v", b.RepresentativeCoords)
	}
	if result.SourceEventCount != 4 {
		t.Errorf("source event count = %d, want 4", result.SourceEventCount)
	}
}

func TestAggregateDominantTieBreak(t *testing.T) {
	now := time.Now().UTC()
	// Two sadness, two anger: tie resolves to the lowest lexical label.
	source := &fakeSource{events: []models.EmotionEvent{
		publicEvent(models.CategorySadness, 0.5, 0, 0, "Lagos", "LA", "NG", now.Add(-time.Hour)),
		publicEvent(models.CategorySadness, 0.5, 0, 0, "Lagos", "LA", "NG", now.Add(-time.Hour)),
		publicEvent(models.CategoryAnger, 0.5, 0, 0, "Lagos", "LA", "NG", now.Add(-time.Hour)),
		publicEvent(models.CategoryAnger, 0.5, 0, 0, "Lagos", "LA", "NG", now.Add(-time.Hour)),
	}}
	e, _ := newTestEngine(t, source)

	result, err := e.Aggregate(context.Background(), "24h", models.ResolutionCity, Filters{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(result.Buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(result.Buckets))
	}
	if result.Buckets[0].DominantCategory != "anger" {
		t.Errorf("dominant = %q, want anger (lowest lexical on tie)", result.Buckets[0].DominantCategory)
	}
}

func TestAggregateIdempotent(t *testing.T) {
	now := time.Now().UTC()
	events := []models.EmotionEvent{
		publicEvent(models.CategoryJoy, 0.8, -74.0, 40.7, "New York", "NY", "US", now.Add(-time.Hour)),
		publicEvent(models.CategorySadness, 0.4, -74.0, 40.7, "New York", "NY", "US", now.Add(-time.Hour)),
		publicEvent(models.CategoryCalm, 0.2, -71.0, 42.3, "Boston", "MA", "US", now.Add(-time.Hour)),
		publicEvent(models.CategoryCalm, 0.3, -71.0, 42.3, "Boston", "MA", "US", now.Add(-time.Hour)),
	}

	// Same events in reverse order must produce the identical result.
	reversed := make([]models.EmotionEvent, len(events))
	for i, e := range events {
		reversed[len(events)-1-i] = e
	}

	e1 := New(testEngineConfig(), &fakeSource{events: events}, nil, 0)
	e2 := New(testEngineConfig(), &fakeSource{events: reversed}, nil, 0)

	r1, err := e1.Aggregate(context.Background(), "24h", models.ResolutionCity, Filters{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	r2, err := e2.Aggregate(context.Background(), "24h", models.ResolutionCity, Filters{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if len(r1.Buckets) != len(r2.Buckets) {
		t.Fatalf("bucket counts differ: %d vs %d", len(r1.Buckets), len(r2.Buckets))
	}
	for i := range r1.Buckets {
		a, b := r1.Buckets[i], r2.Buckets[i]
		if a.LocationKey != b.LocationKey || a.TotalCount != b.TotalCount ||
			a.DominantCategory != b.DominantCategory ||
			math.Abs(a.AverageMagnitude-b.AverageMagnitude) > 1e-9 {
			t.Errorf("bucket %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestAggregateEmptyIsSuccess(t *testing.T) {
	e, _ := newTestEngine(t, &fakeSource{})

	result, err := e.Aggregate(context.Background(), "1h", models.ResolutionCountry, Filters{})
	if err != nil {
		t.Fatalf("empty aggregation must succeed, got %v", err)
	}
	if len(result.Buckets) != 0 {
		t.Fatalf("expected empty bucket list, got %d", len(result.Buckets))
	}
}

func TestAggregateInvalidWindowToken(t *testing.T) {
	e, _ := newTestEngine(t, &fakeSource{})

	_, err := e.Aggregate(context.Background(), "48h", models.ResolutionCity, Filters{})
	if !errors.Is(err, timewindow.ErrInvalidWindowToken) {
		t.Fatalf("expected ErrInvalidWindowToken, got %v", err)
	}
}

func TestAggregateInvalidResolution(t *testing.T) {
	e, _ := newTestEngine(t, &fakeSource{})

	_, err := e.Aggregate(context.Background(), "24h", models.ResolutionLevel("planet"), Filters{})
	if !errors.Is(err, ErrInvalidResolution) {
		t.Fatalf("expected ErrInvalidResolution, got %v", err)
	}
}

func TestAggregateMissingLabelsExcluded(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{events: []models.EmotionEvent{
		publicEvent(models.CategoryJoy, 0.5, 0, 0, "", "NY", "US", now.Add(-time.Hour)),
		publicEvent(models.CategoryJoy, 0.5, 0, 0, "", "NY", "US", now.Add(-time.Hour)),
		publicEvent(models.CategoryJoy, 0.5, 0, 0, "", "NY", "US", now.Add(-time.Hour)),
	}}
	e, _ := newTestEngine(t, source)

	// City resolution requires a city label: all three are excluded.
	result, err := e.Aggregate(context.Background(), "24h", models.ResolutionCity, Filters{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(result.Buckets) != 0 {
		t.Fatalf("expected unlabeled events to be excluded, got %d buckets", len(result.Buckets))
	}

	// Region resolution only needs region+country: they aggregate fine.
	result, err = e.Aggregate(context.Background(), "24h", models.ResolutionRegion, Filters{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(result.Buckets) != 1 || result.Buckets[0].LocationKey != "region:NY,US" {
		t.Fatalf("expected region bucket, got %+v", result.Buckets)
	}
}

func TestAggregateSortAndTruncate(t *testing.T) {
	now := time.Now().UTC()
	var events []models.EmotionEvent
	// Five countries with 2..6 events each.
	countries := []string{"US", "FR", "JP", "BR", "DE"}
	for i, country := range countries {
		for j := 0; j < i+2; j++ {
			events = append(events, publicEvent(models.CategoryCalm, 0.5, 0, 0, "", "", country, now.Add(-time.Hour)))
		}
	}

	cfg := testEngineConfig()
	cfg.MaxBuckets = 3
	e := New(cfg, &fakeSource{events: events}, nil, 0)

	result, err := e.Aggregate(context.Background(), "24h", models.ResolutionCountry, Filters{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(result.Buckets) != 3 {
		t.Fatalf("expected truncation to 3 buckets, got %d", len(result.Buckets))
	}
	for i := 1; i < len(result.Buckets); i++ {
		if result.Buckets[i].TotalCount > result.Buckets[i-1].TotalCount {
			t.Fatalf("buckets not sorted descending: %+v", result.Buckets)
		}
	}
	if result.Buckets[0].LocationKey != "country:DE" || result.Buckets[0].TotalCount != 6 {
		t.Errorf("top bucket = %+v, want country:DE with 6", result.Buckets[0])
	}
}

func TestAggregateCategoryFilter(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{events: []models.EmotionEvent{
		publicEvent(models.CategoryJoy, 0.8, 0, 0, "", "", "US", now.Add(-time.Hour)),
		publicEvent(models.CategoryJoy, 0.6, 0, 0, "", "", "US", now.Add(-time.Hour)),
		publicEvent(models.CategorySadness, 0.9, 0, 0, "", "", "US", now.Add(-time.Hour)),
		publicEvent(models.CategorySadness, 0.9, 0, 0, "", "", "US", now.Add(-time.Hour)),
	}}
	e, _ := newTestEngine(t, source)

	joy := models.CategoryJoy
	result, err := e.Aggregate(context.Background(), "24h", models.ResolutionCountry, Filters{Category: &joy})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(result.Buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(result.Buckets))
	}
	if result.Buckets[0].TotalCount != 2 || result.Buckets[0].DominantCategory != "joy" {
		t.Errorf("unexpected filtered bucket: %+v", result.Buckets[0])
	}
}

func TestAggregateRetriesOnce(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{
		events:    []models.EmotionEvent{publicEvent(models.CategoryJoy, 0.5, 0, 0, "", "", "US", now.Add(-time.Hour))},
		queryErrs: []error{errors.New("transient store failure")},
	}
	e := New(testEngineConfig(), source, nil, 0)

	result, err := e.Aggregate(context.Background(), "24h", models.ResolutionCountry, Filters{})
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if source.calls != 2 {
		t.Errorf("expected 2 query calls, got %d", source.calls)
	}
	if result.SourceEventCount != 1 {
		t.Errorf("source event count = %d, want 1", result.SourceEventCount)
	}
}

func TestAggregateUnavailableAfterRetry(t *testing.T) {
	source := &fakeSource{
		queryErrs: []error{errors.New("down"), errors.New("still down")},
	}
	e := New(testEngineConfig(), source, nil, 0)

	_, err := e.Aggregate(context.Background(), "24h", models.ResolutionCountry, Filters{})
	if !errors.Is(err, ErrAggregationUnavailable) {
		t.Fatalf("expected ErrAggregationUnavailable, got %v", err)
	}
	if source.calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", source.calls)
	}
	if !IsRetryable(err) {
		t.Errorf("unavailable errors must be retryable")
	}
}

func TestAggregateTimeout(t *testing.T) {
	source := &fakeSource{
		queryFn: func(ctx context.Context, filter store.EventFilter) ([]models.EmotionEvent, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	cfg := testEngineConfig()
	cfg.QueryTimeout = 20 * time.Millisecond
	e := New(cfg, source, nil, 0)

	_, err := e.Aggregate(context.Background(), "24h", models.ResolutionCity, Filters{})
	if !errors.Is(err, ErrAggregationTimeout) {
		t.Fatalf("expected ErrAggregationTimeout, got %v", err)
	}
	if !IsRetryable(err) {
		t.Errorf("timeouts must be retryable")
	}
}

func TestAggregateCacheHit(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{events: []models.EmotionEvent{
		publicEvent(models.CategoryJoy, 0.5, 0, 0, "", "", "US", now.Add(-time.Hour)),
		publicEvent(models.CategoryJoy, 0.5, 0, 0, "", "", "US", now.Add(-time.Hour)),
	}}
	e, _ := newTestEngine(t, source)

	first, err := e.Aggregate(context.Background(), "24h", models.ResolutionCountry, Filters{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	second, err := e.Aggregate(context.Background(), "24h", models.ResolutionCountry, Filters{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if source.calls != 1 {
		t.Errorf("expected cached second read, source called %d times", source.calls)
	}
	if first != second {
		t.Errorf("expected the identical cached result pointer")
	}
}

// recordingCache wraps a ResultCache and counts writes so cache refreshes
// are observable.
type recordingCache struct {
	inner ResultCache
	sets  int
}

func (r *recordingCache) Get(key string) (interface{}, bool, error) { return r.inner.Get(key) }
func (r *recordingCache) Set(key string, value interface{}, ttl time.Duration) error {
	r.sets++
	return r.inner.Set(key, value, ttl)
}
func (r *recordingCache) InvalidatePattern(pattern string) (int, error) {
	return r.inner.InvalidatePattern(pattern)
}

func TestRecomputeRefreshesWarmEntry(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{events: []models.EmotionEvent{
		publicEvent(models.CategoryJoy, 0.5, 0, 0, "", "", "US", now.Add(-time.Hour)),
		publicEvent(models.CategoryJoy, 0.5, 0, 0, "", "", "US", now.Add(-time.Hour)),
	}}
	c := cache.New(5 * time.Minute)
	defer c.Close()
	rec := &recordingCache{inner: NewMemoryResultCache(c)}
	e := New(testEngineConfig(), source, rec, 5*time.Minute)

	if _, err := e.Aggregate(context.Background(), "24h", models.ResolutionCountry, Filters{}); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if source.calls != 1 || rec.sets != 1 {
		t.Fatalf("after first read: source calls = %d, cache writes = %d", source.calls, rec.sets)
	}

	// The entry is still warm, so a plain read would return it without
	// touching the store. Recompute must query anyway and re-store,
	// extending the entry's TTL.
	if _, err := e.Recompute(context.Background(), "24h", models.ResolutionCountry, Filters{}); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if source.calls != 2 {
		t.Errorf("recompute used the cached entry, source calls = %d", source.calls)
	}
	if rec.sets != 2 {
		t.Errorf("recompute did not re-store, cache writes = %d", rec.sets)
	}

	// Interactive reads keep hitting the refreshed entry.
	if _, err := e.Aggregate(context.Background(), "24h", models.ResolutionCountry, Filters{}); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if source.calls != 2 {
		t.Errorf("read after recompute missed the cache, source calls = %d", source.calls)
	}
}

func TestRecomputeInvalidWindowToken(t *testing.T) {
	e, _ := newTestEngine(t, &fakeSource{})
	if _, err := e.Recompute(context.Background(), "fortnight", models.ResolutionCity, Filters{}); !errors.Is(err, timewindow.ErrInvalidWindowToken) {
		t.Fatalf("expected ErrInvalidWindowToken, got %v", err)
	}
}

func TestAggregateDegradesWhenCacheFails(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{events: []models.EmotionEvent{
		publicEvent(models.CategoryJoy, 0.5, 0, 0, "", "", "US", now.Add(-time.Hour)),
		publicEvent(models.CategoryJoy, 0.5, 0, 0, "", "", "US", now.Add(-time.Hour)),
	}}
	e := New(testEngineConfig(), source, failingCache{}, 5*time.Minute)

	// Reads must succeed despite every cache operation failing.
	for i := 0; i < 3; i++ {
		result, err := e.Aggregate(context.Background(), "24h", models.ResolutionCountry, Filters{})
		if err != nil {
			t.Fatalf("read %d failed because cache is down: %v", i, err)
		}
		if len(result.Buckets) != 1 {
			t.Fatalf("read %d: expected 1 bucket, got %d", i, len(result.Buckets))
		}
	}
	if source.calls != 3 {
		t.Errorf("expected 3 direct computations, got %d", source.calls)
	}
}

func TestStats(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{events: []models.EmotionEvent{
		publicEvent(models.CategoryJoy, 0.8, -74.0, 40.7, "New York", "NY", "US", now.Add(-time.Hour)),
		publicEvent(models.CategoryJoy, 0.6, -74.0, 40.7, "New York", "NY", "US", now.Add(-time.Hour)),
		publicEvent(models.CategorySadness, 0.4, -74.0, 40.7, "New York", "NY", "US", now.Add(-time.Hour)),
	}}
	e, _ := newTestEngine(t, source)
	e.SetWriteRateSource(func() float64 { return 12.5 })
	e.SetLocationRateSource(func(key string) float64 {
		if key == "city:New York,NY,US" {
			return 3.5
		}
		return 0
	})

	summary, err := e.Stats(context.Background(), "24h")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if summary.TotalEvents != 3 {
		t.Errorf("total = %d, want 3", summary.TotalEvents)
	}
	if summary.CategoryBreakdown["joy"] != 2 || summary.CategoryBreakdown["sadness"] != 1 {
		t.Errorf("breakdown = %v", summary.CategoryBreakdown)
	}
	if len(summary.TopLocations) != 1 || summary.TopLocations[0].LocationKey != "city:New York,NY,US" {
		t.Errorf("top locations = %+v", summary.TopLocations)
	}
	if summary.RecentWriteRate != 12.5 {
		t.Errorf("write rate = %.1f, want 12.5", summary.RecentWriteRate)
	}
	if summary.TopLocations[0].RecentWriteRate != 3.5 {
		t.Errorf("location write rate = %.1f, want 3.5", summary.TopLocations[0].RecentWriteRate)
	}
}

func TestStatsInvalidToken(t *testing.T) {
	e, _ := newTestEngine(t, &fakeSource{})
	if _, err := e.Stats(context.Background(), "century"); !errors.Is(err, timewindow.ErrInvalidWindowToken) {
		t.Fatalf("expected ErrInvalidWindowToken, got %v", err)
	}
}

func TestTrends(t *testing.T) {
	now := time.Now().UTC()
	var events []models.EmotionEvent
	// Yesterday: 50 joy; today: 75 joy. 50% growth reads as volatile.
	for i := 0; i < 50; i++ {
		events = append(events, publicEvent(models.CategoryJoy, 0.5, -74.0, 40.7, "New York", "NY", "US", now.Add(-36*time.Hour)))
	}
	for i := 0; i < 75; i++ {
		events = append(events, publicEvent(models.CategoryJoy, 0.5, -74.0, 40.7, "New York", "NY", "US", now.Add(-12*time.Hour)))
	}
	e, _ := newTestEngine(t, &fakeSource{events: events})

	records, err := e.Trends(context.Background(), "city:New York,NY,US", "joy", 2, "")
	if err != nil {
		t.Fatalf("trends: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("expected trend records")
	}

	last := records[len(records)-1]
	if last.Count != 75 || last.PreviousPeriodCount != 50 {
		t.Fatalf("latest record counts = %d/%d, want 75/50", last.Count, last.PreviousPeriodCount)
	}
	if last.ChangePercent != 50.0 || last.TrendDirection != models.TrendVolatile {
		t.Errorf("latest record: change=%.1f dir=%s", last.ChangePercent, last.TrendDirection)
	}
}

func TestTrendsMalformedLocationKey(t *testing.T) {
	e, _ := newTestEngine(t, &fakeSource{})
	if _, err := e.Trends(context.Background(), "nowhere", "", 3, ""); err == nil {
		t.Fatal("expected error for malformed location key")
	}
	if _, err := e.Trends(context.Background(), "city:OnlyCity", "", 3, ""); err == nil {
		t.Fatal("expected error for wrong label count")
	}
}

func TestTrendsUnknownCategory(t *testing.T) {
	e, _ := newTestEngine(t, &fakeSource{})
	if _, err := e.Trends(context.Background(), "country:US", "melancholy", 3, ""); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestTrendsCustomPeriodWindow(t *testing.T) {
	now := time.Now().UTC()
	var events []models.EmotionEvent
	// Previous hour: 10 calm; current hour: 30 calm. Hourly periods see the
	// jump; daily periods would blend both into one slice.
	for i := 0; i < 10; i++ {
		events = append(events, publicEvent(models.CategoryCalm, 0.5, -74.0, 40.7, "New York", "NY", "US", now.Add(-90*time.Minute)))
	}
	for i := 0; i < 30; i++ {
		events = append(events, publicEvent(models.CategoryCalm, 0.5, -74.0, 40.7, "New York", "NY", "US", now.Add(-30*time.Minute)))
	}
	e, _ := newTestEngine(t, &fakeSource{events: events})

	records, err := e.Trends(context.Background(), "city:New York,NY,US", "calm", 1, "1h")
	if err != nil {
		t.Fatalf("trends: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Count != 30 || records[0].PreviousPeriodCount != 10 {
		t.Errorf("counts = %d/%d, want 30/10", records[0].Count, records[0].PreviousPeriodCount)
	}
}

func TestTrendsInvalidPeriodWindow(t *testing.T) {
	e, _ := newTestEngine(t, &fakeSource{})
	if _, err := e.Trends(context.Background(), "country:US", "", 3, "90m"); !errors.Is(err, timewindow.ErrInvalidWindowToken) {
		t.Fatalf("expected ErrInvalidWindowToken, got %v", err)
	}
}

func TestInvalidationPatterns(t *testing.T) {
	patterns := InvalidationPatterns("city:New York,NY,US", "region:NY,US", "country:US")
	want := []string{
		"agg:*",
		"stats:*",
		"trends:city:New York,NY,US:*",
		"trends:region:NY,US:*",
		"trends:country:US:*",
	}
	if len(patterns) != len(want) {
		t.Fatalf("got %d patterns, want %d: %v", len(patterns), len(want), patterns)
	}
	for i := range want {
		if patterns[i] != want[i] {
			t.Errorf("pattern %d = %q, want %q", i, patterns[i], want[i])
		}
	}
}

func TestAggregationKeyDistinguishesFilters(t *testing.T) {
	joy := models.CategoryJoy
	minMag := 0.5
	keys := map[string]bool{}
	for _, f := range []Filters{
		{},
		{Category: &joy},
		{MinMagnitude: &minMag},
		{Category: &joy, MinMagnitude: &minMag},
	} {
		keys[AggregationKey("24h", models.ResolutionCity, f)] = true
	}
	if len(keys) != 4 {
		t.Fatalf("expected 4 distinct cache keys, got %d", len(keys))
	}
}
