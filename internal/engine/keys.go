// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package engine

import (
	"fmt"
	"strconv"

	"github.com/tomtom215/moodscape/internal/models"
)

// Cache key prefixes. Invalidation patterns glob against these, so the
// prefix scheme is part of the cache contract: aggregation and stats keys
// cover all locations and are invalidated wholesale on any write, while
// trends keys embed a location key and are invalidated per location.
const (
	keyPrefixAggregation = "agg"
	keyPrefixTrends      = "trends"
	keyPrefixStats       = "stats"
)

// AggregationKey builds the cache key for an aggregation query.
func AggregationKey(token string, level models.ResolutionLevel, filters Filters) string {
	cat := "-"
	if filters.Category != nil {
		cat = filters.Category.String()
	}
	minMag, maxMag := "-", "-"
	if filters.MinMagnitude != nil {
		minMag = strconv.FormatFloat(*filters.MinMagnitude, 'f', 4, 64)
	}
	if filters.MaxMagnitude != nil {
		maxMag = strconv.FormatFloat(*filters.MaxMagnitude, 'f', 4, 64)
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s", keyPrefixAggregation, level, token, cat, minMag, maxMag)
}

// TrendsKey builds the cache key for a trends query.
func TrendsKey(locationKey, category string, periodCount int, periodToken string) string {
	if category == "" {
		category = "-"
	}
	if periodToken == "" {
		periodToken = "-"
	}
	return fmt.Sprintf("%s:%s:%s:%d:%s", keyPrefixTrends, locationKey, category, periodCount, periodToken)
}

// StatsKey builds the cache key for a stats query.
func StatsKey(token string) string {
	return keyPrefixStats + ":" + token
}

// InvalidationPatterns returns the glob patterns to invalidate after an
// event write. Aggregation and stats entries always cover the written
// location, so they are cleared outright; trends entries are cleared only
// for the location keys the event belongs to.
func InvalidationPatterns(locationKeys ...string) []string {
	patterns := []string{
		keyPrefixAggregation + ":*",
		keyPrefixStats + ":*",
	}
	for _, key := range locationKeys {
		patterns = append(patterns, keyPrefixTrends+":"+key+":*")
	}
	return patterns
}
