// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package ingest owns the event write path: validation, persistence, and
// the post-write fan-out that keeps the cache and subscribers consistent
// with new data.
package ingest

import (
	"context"
	"time"

	"github.com/tomtom215/moodscape/internal/broadcast"
	"github.com/tomtom215/moodscape/internal/engine"
	"github.com/tomtom215/moodscape/internal/geo"
	"github.com/tomtom215/moodscape/internal/logging"
	"github.com/tomtom215/moodscape/internal/metrics"
	"github.com/tomtom215/moodscape/internal/models"
)

// publishTimeout bounds the broadcast publish so a slow broker cannot
// stall the post-write fan-out.
const publishTimeout = 2 * time.Second

// ChangeBroadcaster is the local fan-out surface, satisfied by the
// websocket hub.
type ChangeBroadcaster interface {
	BroadcastBucketChanged(category string, locationKeys []string, roundedCoords models.Coordinates)
}

// WriteCounter observes accepted writes keyed by city-level location, so
// stats can report both the global and per-location write rate. Satisfied
// by the sliding-window store.
type WriteCounter interface {
	Increment(key string)
}

// unlabeledWriteKey buckets writes whose labels cannot form a city key.
// They still count toward the global write rate.
const unlabeledWriteKey = "unlabeled"

// Notifier reacts to successful event persists. It invalidates affected
// cache entries, tracks the write rate, and fans the change out to local
// WebSocket clients and the NATS gateway. Every step is advisory: a
// failure is logged, never propagated back into the write.
type Notifier struct {
	cache    engine.ResultCache
	bucketer *geo.Bucketer
	hub      ChangeBroadcaster
	gateway  broadcast.Gateway
	counter  WriteCounter
}

// NewNotifier builds a notifier. Any collaborator may be nil, in which
// case its step is skipped.
func NewNotifier(cache engine.ResultCache, bucketer *geo.Bucketer, hub ChangeBroadcaster, gateway broadcast.Gateway, counter WriteCounter) *Notifier {
	if bucketer == nil {
		bucketer = geo.NewBucketer(geo.DefaultPrecision)
	}
	return &Notifier{
		cache:    cache,
		bucketer: bucketer,
		hub:      hub,
		gateway:  gateway,
		counter:  counter,
	}
}

// HandleWrite is registered as a store write listener.
func (n *Notifier) HandleWrite(event *models.EmotionEvent) {
	keys := n.locationKeys(event)

	n.invalidate(keys)

	if n.counter != nil {
		n.counter.Increment(n.writeRateKey(event))
	}

	// Private events update the cache view but are never fanned out.
	if !event.IsPublic() {
		return
	}

	rounded := n.bucketer.PrivacyRound(event.Coords)

	if n.hub != nil {
		n.hub.BroadcastBucketChanged(event.Category.String(), keys, rounded)
	}

	if n.gateway != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		err := n.gateway.PublishBucketChange(ctx, &broadcast.BucketChange{
			EventID:      event.ID,
			Category:     event.Category.String(),
			LocationKeys: keys,
			Coordinates:  rounded,
			OccurredAt:   event.OccurredAt,
		})
		if err != nil {
			logging.Warn().Err(err).Str("event_id", event.ID).Msg("bucket change publish failed")
		}
	}
}

// locationKeys returns the bucket keys the event belongs to, one per
// resolution the event's labels can satisfy.
func (n *Notifier) locationKeys(event *models.EmotionEvent) []string {
	levels := []models.ResolutionLevel{
		models.ResolutionCity,
		models.ResolutionRegion,
		models.ResolutionCountry,
	}
	var keys []string
	for _, level := range levels {
		if key, ok := n.bucketer.Key(event.Labels, level); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// writeRateKey is the key the write-rate tracker files the event under:
// the city-level bucket key, matching the keys stats top-locations report.
func (n *Notifier) writeRateKey(event *models.EmotionEvent) string {
	if key, ok := n.bucketer.Key(event.Labels, models.ResolutionCity); ok {
		return key
	}
	return unlabeledWriteKey
}

// invalidate clears the cache entries a write makes stale. Cache failures
// are absorbed: a stale entry expires by TTL anyway.
func (n *Notifier) invalidate(locationKeys []string) {
	if n.cache == nil {
		return
	}
	for _, pattern := range engine.InvalidationPatterns(locationKeys...) {
		removed, err := n.cache.InvalidatePattern(pattern)
		if err != nil {
			metrics.CacheDegraded.Inc()
			logging.Warn().Err(err).Str("pattern", pattern).Msg("cache invalidation failed")
			continue
		}
		if removed > 0 {
			metrics.CacheInvalidations.Add(float64(removed))
		}
	}
}
