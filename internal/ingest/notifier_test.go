// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/moodscape/internal/broadcast"
	"github.com/tomtom215/moodscape/internal/cache"
	"github.com/tomtom215/moodscape/internal/engine"
	"github.com/tomtom215/moodscape/internal/geo"
	"github.com/tomtom215/moodscape/internal/models"
)

type recordingHub struct {
	category string
	keys     []string
	coords   models.Coordinates
	calls    int
}

func (r *recordingHub) BroadcastBucketChanged(category string, keys []string, coords models.Coordinates) {
	r.category = category
	r.keys = keys
	r.coords = coords
	r.calls++
}

type recordingGateway struct {
	changes []*broadcast.BucketChange
	err     error
}

func (r *recordingGateway) PublishBucketChange(ctx context.Context, change *broadcast.BucketChange) error {
	if r.err != nil {
		return r.err
	}
	r.changes = append(r.changes, change)
	return nil
}

func (r *recordingGateway) Close() error { return nil }

type countingCounter struct {
	n    int
	keys []string
}

func (c *countingCounter) Increment(key string) {
	c.n++
	c.keys = append(c.keys, key)
}

func newEvent(t *testing.T, visibility string) *models.EmotionEvent {
	t.Helper()
	event := models.NewEmotionEvent(models.CategoryJoy, 0.8)
	event.Coords = models.Coordinates{Longitude: -74.0060, Latitude: 40.7128}
	event.Labels = models.LocationLabels{City: "New York", Region: "NY", Country: "US"}
	event.OccurredAt = time.Now().UTC().Add(-time.Minute)
	event.Visibility = visibility
	return event
}

func TestHandleWriteInvalidatesAndBroadcasts(t *testing.T) {
	c := cache.New(5 * time.Minute)
	defer c.Close()
	resultCache := engine.NewMemoryResultCache(c)

	// Seed entries that must be invalidated and one that must survive.
	c.Set("agg:city:24h:-:-:-", "stale")
	c.Set("stats:24h", "stale")
	c.Set("trends:city:New York,NY,US:-:7", "stale")
	c.Set("trends:city:Boston,MA,US:-:7", "other city")

	hub := &recordingHub{}
	gw := &recordingGateway{}
	counter := &countingCounter{}
	n := NewNotifier(resultCache, geo.NewBucketer(0.01), hub, gw, counter)

	n.HandleWrite(newEvent(t, models.VisibilityPublic))

	for _, key := range []string{"agg:city:24h:-:-:-", "stats:24h", "trends:city:New York,NY,US:-:7"} {
		if _, ok := c.Get(key); ok {
			t.Errorf("key %q should have been invalidated", key)
		}
	}
	if _, ok := c.Get("trends:city:Boston,MA,US:-:7"); !ok {
		t.Error("unrelated trends entry was invalidated")
	}

	if hub.calls != 1 {
		t.Fatalf("hub calls = %d, want 1", hub.calls)
	}
	if hub.category != "joy" {
		t.Errorf("category = %q", hub.category)
	}
	wantKeys := []string{"city:New York,NY,US", "region:NY,US", "country:US"}
	if len(hub.keys) != len(wantKeys) {
		t.Fatalf("keys = %v", hub.keys)
	}
	for i := range wantKeys {
		if hub.keys[i] != wantKeys[i] {
			t.Errorf("key %d = %q, want %q", i, hub.keys[i], wantKeys[i])
		}
	}
	// Broadcast coordinates must be privacy-rounded.
	if hub.coords.Longitude != -74.01 || hub.coords.Latitude != 40.71 {
		t.Errorf("coords = %+v, want rounded", hub.coords)
	}

	if len(gw.changes) != 1 {
		t.Fatalf("gateway changes = %d, want 1", len(gw.changes))
	}
	if gw.changes[0].Coordinates != hub.coords {
		t.Errorf("gateway coords differ from hub coords")
	}
	if counter.n != 1 {
		t.Errorf("write counter = %d, want 1", counter.n)
	}
	if len(counter.keys) != 1 || counter.keys[0] != "city:New York,NY,US" {
		t.Errorf("write counted under %v, want the city key", counter.keys)
	}
}

func TestHandleWritePrivateEventNotFannedOut(t *testing.T) {
	c := cache.New(5 * time.Minute)
	defer c.Close()
	c.Set("agg:city:24h:-:-:-", "stale")

	hub := &recordingHub{}
	gw := &recordingGateway{}
	counter := &countingCounter{}
	n := NewNotifier(engine.NewMemoryResultCache(c), geo.NewBucketer(0.01), hub, gw, counter)

	n.HandleWrite(newEvent(t, models.VisibilityPrivate))

	// Private writes still invalidate and count, but never broadcast.
	if _, ok := c.Get("agg:city:24h:-:-:-"); ok {
		t.Error("aggregation entry should have been invalidated")
	}
	if hub.calls != 0 || len(gw.changes) != 0 {
		t.Errorf("private event was fanned out: hub=%d gateway=%d", hub.calls, len(gw.changes))
	}
	if counter.n != 1 {
		t.Errorf("write counter = %d, want 1", counter.n)
	}
}

func TestHandleWriteUnlabeledStillCounted(t *testing.T) {
	counter := &countingCounter{}
	n := NewNotifier(nil, geo.NewBucketer(0.01), nil, nil, counter)

	event := newEvent(t, models.VisibilityPublic)
	event.Labels = models.LocationLabels{}
	n.HandleWrite(event)

	// No city key can be formed, but the write still feeds the global rate.
	if len(counter.keys) != 1 || counter.keys[0] != unlabeledWriteKey {
		t.Errorf("write counted under %v, want %q", counter.keys, unlabeledWriteKey)
	}
}

func TestHandleWriteGatewayFailureAbsorbed(t *testing.T) {
	hub := &recordingHub{}
	gw := &recordingGateway{err: errors.New("broker down")}
	n := NewNotifier(nil, geo.NewBucketer(0.01), hub, gw, nil)

	// Must not panic or block; failures are logged only.
	n.HandleWrite(newEvent(t, models.VisibilityPublic))
	if hub.calls != 1 {
		t.Errorf("local broadcast should still happen, calls = %d", hub.calls)
	}
}

func TestHandleWritePartialLabels(t *testing.T) {
	hub := &recordingHub{}
	n := NewNotifier(nil, geo.NewBucketer(0.01), hub, nil, nil)

	event := newEvent(t, models.VisibilityPublic)
	event.Labels = models.LocationLabels{Country: "US"}
	n.HandleWrite(event)

	if len(hub.keys) != 1 || hub.keys[0] != "country:US" {
		t.Errorf("keys = %v, want only country:US", hub.keys)
	}
}
