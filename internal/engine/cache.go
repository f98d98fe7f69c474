// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package engine

import (
	"time"

	"github.com/tomtom215/moodscape/internal/cache"
	"github.com/tomtom215/moodscape/internal/logging"
	"github.com/tomtom215/moodscape/internal/metrics"
)

// ResultCache is the engine's view of the cache layer. Methods return
// errors so that a remote or failing backend can signal degradation; the
// engine absorbs every cache error and falls through to direct computation.
// The external read contract is "a result or an explicit aggregation
// error", never a failure caused by the cache being down.
type ResultCache interface {
	Get(key string) (interface{}, bool, error)
	Set(key string, value interface{}, ttl time.Duration) error
	InvalidatePattern(pattern string) (int, error)
}

// memoryCache adapts the in-process cache to the ResultCache interface.
// The in-process implementation cannot fail, so the error returns are
// always nil here; they exist for alternative backends and for fault
// injection in tests.
type memoryCache struct {
	c cache.Cacher
}

// NewMemoryResultCache wraps an in-process cache as a ResultCache.
func NewMemoryResultCache(c cache.Cacher) ResultCache {
	return &memoryCache{c: c}
}

func (m *memoryCache) Get(key string) (interface{}, bool, error) {
	v, ok := m.c.Get(key)
	return v, ok, nil
}

func (m *memoryCache) Set(key string, value interface{}, ttl time.Duration) error {
	m.c.SetWithTTL(key, value, ttl)
	return nil
}

func (m *memoryCache) InvalidatePattern(pattern string) (int, error) {
	return m.c.InvalidatePattern(pattern)
}

// cacheGet looks up a key, absorbing cache failures. A failed lookup
// counts as a miss and increments the degradation counter.
func (e *Engine) cacheGet(key, query string) (interface{}, bool) {
	if e.cache == nil {
		return nil, false
	}
	v, ok, err := e.cache.Get(key)
	if err != nil {
		metrics.CacheDegraded.Inc()
		logging.Warn().Err(err).Str("key", key).Msg("cache lookup failed, computing directly")
		return nil, false
	}
	if ok {
		metrics.CacheHits.WithLabelValues(query).Inc()
	} else {
		metrics.CacheMisses.WithLabelValues(query).Inc()
	}
	return v, ok
}

// cacheSet stores a computed result, absorbing cache failures.
func (e *Engine) cacheSet(key string, value interface{}) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(key, value, e.cacheTTL); err != nil {
		metrics.CacheDegraded.Inc()
		logging.Warn().Err(err).Str("key", key).Msg("cache store failed, result served uncached")
	}
}
