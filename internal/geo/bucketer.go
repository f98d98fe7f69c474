// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package geo reduces raw event coordinates to spatial bucket keys and
// applies the coordinate-precision privacy transform.
package geo

import (
	"fmt"
	"math"
	"strings"

	"github.com/tomtom215/moodscape/internal/models"
)

// DefaultPrecision is the default coordinate rounding step in degrees.
// 0.01 degrees is roughly 1.1 km at the equator, coarse enough that a
// rounded coordinate cannot be traced back to an address.
const DefaultPrecision = 0.01

// Bucketer computes spatial bucket keys at city, region, and country
// resolution and rounds coordinates to a configured precision step.
//
// Rounding is a lossy, one-way transform: original coordinates are never
// recoverable from a bucket key or a representative coordinate.
type Bucketer struct {
	precision float64
}

// NewBucketer creates a bucketer with the given coordinate precision step in
// degrees. Non-positive values fall back to DefaultPrecision.
func NewBucketer(precision float64) *Bucketer {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	return &Bucketer{precision: precision}
}

// Precision returns the configured rounding step in degrees.
func (b *Bucketer) Precision() float64 {
	return b.precision
}

// Key computes the bucket key for an event at the requested resolution.
//
// Events missing a label required by the resolution are excluded from that
// resolution's aggregation: ok is false and the event must be skipped, not
// coerced into an "unknown" bucket. An unknown-bucket would grow without
// bound and leak the existence of unlabeled records.
func (b *Bucketer) Key(labels models.LocationLabels, level models.ResolutionLevel) (key string, ok bool) {
	switch level {
	case models.ResolutionCity:
		if labels.City == "" || labels.Region == "" || labels.Country == "" {
			return "", false
		}
		return joinKey(level, labels.City, labels.Region, labels.Country), true
	case models.ResolutionRegion:
		if labels.Region == "" || labels.Country == "" {
			return "", false
		}
		return joinKey(level, labels.Region, labels.Country), true
	case models.ResolutionCountry:
		if labels.Country == "" {
			return "", false
		}
		return joinKey(level, labels.Country), true
	default:
		return "", false
	}
}

// joinKey builds "<level>:<part>,<part>,...".
func joinKey(level models.ResolutionLevel, parts ...string) string {
	return string(level) + ":" + strings.Join(parts, ",")
}

// ParseKey splits a bucket key back into its resolution level and labels.
// Used by the trends path, where callers address a location by its key.
func ParseKey(key string) (models.ResolutionLevel, []string, error) {
	idx := strings.IndexByte(key, ':')
	if idx <= 0 || idx == len(key)-1 {
		return "", nil, fmt.Errorf("malformed location key: %q", key)
	}
	level := models.ResolutionLevel(key[:idx])
	if !level.Valid() {
		return "", nil, fmt.Errorf("unknown resolution level in key: %q", key)
	}
	labels := strings.Split(key[idx+1:], ",")

	var want int
	switch level {
	case models.ResolutionCity:
		want = 3
	case models.ResolutionRegion:
		want = 2
	case models.ResolutionCountry:
		want = 1
	}
	if len(labels) != want {
		return "", nil, fmt.Errorf("location key %q: expected %d labels, got %d", key, want, len(labels))
	}
	return level, labels, nil
}

// PrivacyRound snaps both coordinates to the nearest multiple of the
// precision step.
func (b *Bucketer) PrivacyRound(c models.Coordinates) models.Coordinates {
	return models.Coordinates{
		Longitude: b.RoundCoord(c.Longitude),
		Latitude:  b.RoundCoord(c.Latitude),
	}
}

// RoundCoord snaps a single coordinate to the nearest multiple of the
// precision step.
func (b *Bucketer) RoundCoord(v float64) float64 {
	rounded := math.Round(v/b.precision) * b.precision
	// Normalize -0.0 so rounded coordinates compare and serialize cleanly.
	if rounded == 0 {
		return 0
	}
	return rounded
}
