// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package cache

import (
	"testing"
	"time"
)

func TestSlidingWindowCounterBasic(t *testing.T) {
	sw := NewSlidingWindowCounter(1*time.Minute, 6)

	sw.Increment(1)
	sw.Increment(1)
	sw.Increment(3)

	if got := sw.Count(); got != 5 {
		t.Errorf("Count = %d, want 5", got)
	}
}

func TestSlidingWindowCounterExpiry(t *testing.T) {
	sw := NewSlidingWindowCounter(100*time.Millisecond, 4)

	sw.Increment(10)
	if got := sw.Count(); got != 10 {
		t.Errorf("Count = %d, want 10", got)
	}

	// After the full window elapses, all counts roll off.
	time.Sleep(150 * time.Millisecond)
	if got := sw.Count(); got != 0 {
		t.Errorf("Count after expiry = %d, want 0", got)
	}
}

func TestSlidingWindowCounterReset(t *testing.T) {
	sw := NewSlidingWindowCounter(1*time.Minute, 6)
	sw.Increment(7)
	sw.Reset()
	if got := sw.Count(); got != 0 {
		t.Errorf("Count after reset = %d, want 0", got)
	}
}

func TestSlidingWindowRatePerMinute(t *testing.T) {
	sw := NewSlidingWindowCounter(2*time.Minute, 12)
	sw.Increment(10)

	// 10 events in a 2-minute window is 5 events/minute.
	if got := sw.RatePerMinute(); got < 4.99 || got > 5.01 {
		t.Errorf("RatePerMinute = %.2f, want 5.00", got)
	}
}

func TestSlidingWindowStorePerKey(t *testing.T) {
	store := NewSlidingWindowStore(1*time.Minute, 6, 0)

	store.Increment("city:New York,NY,US")
	store.Increment("city:New York,NY,US")
	store.Increment("city:Boston,MA,US")

	if got := store.Count("city:New York,NY,US"); got != 2 {
		t.Errorf("Count(New York) = %d, want 2", got)
	}
	if got := store.Count("city:Boston,MA,US"); got != 1 {
		t.Errorf("Count(Boston) = %d, want 1", got)
	}
	if got := store.Count("city:Unknown"); got != 0 {
		t.Errorf("Count(Unknown) = %d, want 0", got)
	}
}

func TestSlidingWindowStorePerKeyRate(t *testing.T) {
	store := NewSlidingWindowStore(2*time.Minute, 12, 0)

	store.IncrementBy("city:New York,NY,US", 10)
	store.IncrementBy("city:Boston,MA,US", 4)

	if got := store.RatePerMinute("city:New York,NY,US"); got < 4.99 || got > 5.01 {
		t.Errorf("RatePerMinute(New York) = %.2f, want 5.00", got)
	}
	if got := store.RatePerMinute("city:Unknown"); got != 0 {
		t.Errorf("RatePerMinute(Unknown) = %.2f, want 0", got)
	}
	if got := store.TotalRatePerMinute(); got < 6.99 || got > 7.01 {
		t.Errorf("TotalRatePerMinute = %.2f, want 7.00", got)
	}
}

func TestSlidingWindowStoreMaxKeys(t *testing.T) {
	store := NewSlidingWindowStore(1*time.Minute, 6, 2)

	store.Increment("a")
	store.Increment("b")
	store.Increment("c") // evicts one existing key

	present := 0
	for _, key := range []string{"a", "b", "c"} {
		if store.Count(key) > 0 {
			present++
		}
	}
	if present != 2 {
		t.Errorf("expected exactly 2 keys tracked, got %d", present)
	}
}

func TestSlidingWindowStoreRemove(t *testing.T) {
	store := NewSlidingWindowStore(1*time.Minute, 6, 0)
	store.Increment("a")
	store.Remove("a")
	if got := store.Count("a"); got != 0 {
		t.Errorf("Count after remove = %d, want 0", got)
	}
}
