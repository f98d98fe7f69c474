// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/moodscape/internal/metrics"
	"github.com/tomtom215/moodscape/internal/models"
)

// maxEventAge rejects events claiming to have occurred implausibly far in
// the past; they would land in windows nobody queries and skew trends.
const maxEventAge = 90 * 24 * time.Hour

// EventWriter persists events, satisfied by the store.
type EventWriter interface {
	InsertEvent(ctx context.Context, event *models.EmotionEvent) error
}

// Request is an incoming event submission.
type Request struct {
	Category   string                `json:"category"`
	Magnitude  float64               `json:"magnitude"`
	Coords     models.Coordinates    `json:"coordinates"`
	Labels     models.LocationLabels `json:"location_labels"`
	OccurredAt *time.Time            `json:"occurred_at,omitempty"`
	Visibility string                `json:"visibility,omitempty"`
}

// Ingestor validates and persists incoming events.
type Ingestor struct {
	writer EventWriter
	now    func() time.Time
}

// NewIngestor creates an ingestor writing to the given store.
func NewIngestor(writer EventWriter) *Ingestor {
	return &Ingestor{writer: writer, now: time.Now}
}

// Ingest validates a submission and persists it. The returned event has
// its server-assigned ID and normalized timestamps.
func (i *Ingestor) Ingest(ctx context.Context, req *Request) (*models.EmotionEvent, error) {
	category, err := models.ParseCategory(req.Category)
	if err != nil {
		metrics.EventsRejected.WithLabelValues("category").Inc()
		return nil, err
	}

	event := models.NewEmotionEvent(category, req.Magnitude)
	event.Coords = req.Coords
	event.Labels = req.Labels
	if req.OccurredAt != nil {
		event.OccurredAt = req.OccurredAt.UTC()
	}
	if req.Visibility != "" {
		event.Visibility = req.Visibility
	}

	now := i.now().UTC()
	if event.OccurredAt.After(now.Add(time.Minute)) {
		metrics.EventsRejected.WithLabelValues("future_timestamp").Inc()
		return nil, fmt.Errorf("occurred_at %s is in the future", event.OccurredAt.Format(time.RFC3339))
	}
	if event.OccurredAt.Before(now.Add(-maxEventAge)) {
		metrics.EventsRejected.WithLabelValues("stale_timestamp").Inc()
		return nil, fmt.Errorf("occurred_at %s is older than the retention horizon", event.OccurredAt.Format(time.RFC3339))
	}

	if err := event.Validate(); err != nil {
		metrics.EventsRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	if err := i.writer.InsertEvent(ctx, event); err != nil {
		metrics.EventsRejected.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("persist event: %w", err)
	}

	metrics.EventsIngested.WithLabelValues(event.Category.String(), event.Visibility).Inc()
	return event, nil
}
