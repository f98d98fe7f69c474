// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package models defines the shared data types for the aggregation engine:
// emotion events, buckets, trend records, and API response envelopes.
package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Category identifies one of the fixed emotion categories.
//
// Categories are a closed enumeration rather than free-form strings so that
// aggregation can accumulate counts into fixed-size arrays. This keeps the
// hot path allocation-free and the output deterministic.
type Category int

// The fixed emotion category set. Order is stable; never reorder existing
// entries, only append.
const (
	CategoryJoy Category = iota
	CategorySadness
	CategoryAnger
	CategoryFear
	CategorySurprise
	CategoryDisgust
	CategoryCalm
	CategoryLove

	// NumCategories is the size of the category enumeration.
	NumCategories
)

// categoryNames maps Category values to their wire labels.
var categoryNames = [NumCategories]string{
	"joy",
	"sadness",
	"anger",
	"fear",
	"surprise",
	"disgust",
	"calm",
	"love",
}

// String returns the wire label for the category.
func (c Category) String() string {
	if c < 0 || c >= NumCategories {
		return "unknown"
	}
	return categoryNames[c]
}

// Valid reports whether the category is a member of the enumeration.
func (c Category) Valid() bool {
	return c >= 0 && c < NumCategories
}

// ParseCategory converts a wire label to a Category.
func ParseCategory(s string) (Category, error) {
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown emotion category: %q", s)
}

// CategoryLabels returns the wire labels of all categories in enumeration order.
func CategoryLabels() []string {
	labels := make([]string, NumCategories)
	copy(labels, categoryNames[:])
	return labels
}

// MarshalJSON encodes the category as its wire label.
func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a category from its wire label.
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Visibility values for emotion events. Only public events are ever eligible
// for aggregation.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Coordinates is a longitude/latitude pair in decimal degrees.
type Coordinates struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// LocationLabels carries the resolved place names for an event's coordinates.
// Labels may be partially missing; the bucketer excludes events that lack a
// label required by the requested resolution.
type LocationLabels struct {
	City      string `json:"city,omitempty"`
	Region    string `json:"region,omitempty"`
	Country   string `json:"country,omitempty"`
	Continent string `json:"continent,omitempty"`
}

// EmotionEvent is a single timestamped, geolocated mood record. The engine
// treats events as read-only input; it never mutates or re-persists them.
type EmotionEvent struct {
	ID         string         `json:"id"`
	Category   Category       `json:"category"`
	Magnitude  float64        `json:"magnitude"` // 0.0 - 1.0
	Coords     Coordinates    `json:"coordinates"`
	Labels     LocationLabels `json:"location_labels"`
	OccurredAt time.Time      `json:"occurred_at"`
	Visibility string         `json:"visibility"`
}

// NewEmotionEvent creates an event with a unique ID and current timestamp.
func NewEmotionEvent(category Category, magnitude float64) *EmotionEvent {
	return &EmotionEvent{
		ID:         uuid.New().String(),
		Category:   category,
		Magnitude:  magnitude,
		OccurredAt: time.Now().UTC(),
		Visibility: VisibilityPublic,
	}
}

// Validate checks field bounds and returns an error if the event cannot be
// accepted for ingestion.
func (e *EmotionEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if !e.Category.Valid() {
		return fmt.Errorf("invalid category: %d", e.Category)
	}
	if e.Magnitude < 0.0 || e.Magnitude > 1.0 {
		return fmt.Errorf("magnitude %.4f out of range [0,1]", e.Magnitude)
	}
	if e.Coords.Latitude < -90 || e.Coords.Latitude > 90 {
		return fmt.Errorf("latitude %.4f out of range [-90,90]", e.Coords.Latitude)
	}
	if e.Coords.Longitude < -180 || e.Coords.Longitude > 180 {
		return fmt.Errorf("longitude %.4f out of range [-180,180]", e.Coords.Longitude)
	}
	if e.Visibility != VisibilityPublic && e.Visibility != VisibilityPrivate {
		return fmt.Errorf("invalid visibility: %q", e.Visibility)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// IsPublic reports whether the event is eligible for aggregation.
func (e *EmotionEvent) IsPublic() bool {
	return e.Visibility == VisibilityPublic
}
