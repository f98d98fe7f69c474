// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package broadcast is the gateway between the engine and external
// subscribers. It publishes bucket-change events over NATS so that other
// instances (and any out-of-process consumer) observe the write stream.
// The gateway is advisory: publish failures are logged and counted, never
// propagated into the write path.
package broadcast

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/moodscape/internal/models"
)

// BucketChange is the payload published for every accepted event write.
// It carries only privacy-safe fields: bucket keys and rounded coordinates.
type BucketChange struct {
	EventID      string             `json:"event_id"`
	Category     string             `json:"category"`
	LocationKeys []string           `json:"location_keys"`
	Coordinates  models.Coordinates `json:"coordinates"`
	OccurredAt   time.Time          `json:"occurred_at"`
}

// Gateway fans out bucket-change events to external subscribers.
type Gateway interface {
	// PublishBucketChange publishes one change event. Implementations must
	// be safe for concurrent use.
	PublishBucketChange(ctx context.Context, change *BucketChange) error
	// Close releases resources.
	Close() error
}

// Marshal encodes a change payload for the wire.
func Marshal(change *BucketChange) ([]byte, error) {
	return json.Marshal(change)
}

// Unmarshal decodes a wire payload.
func Unmarshal(data []byte) (*BucketChange, error) {
	var change BucketChange
	if err := json.Unmarshal(data, &change); err != nil {
		return nil, err
	}
	return &change, nil
}

// NoopGateway discards every event. Used when NATS is disabled.
type NoopGateway struct{}

func (NoopGateway) PublishBucketChange(context.Context, *BucketChange) error { return nil }
func (NoopGateway) Close() error                                             { return nil }
