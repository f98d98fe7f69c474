// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package engine

import "errors"

var (
	// ErrAggregationUnavailable indicates the event store failed even after
	// the internal retry. Callers may retry the whole request.
	ErrAggregationUnavailable = errors.New("aggregation unavailable: event store query failed")

	// ErrAggregationTimeout indicates the aggregation deadline elapsed before
	// a complete result was produced. Partial results are never returned or
	// cached; callers may retry with backoff.
	ErrAggregationTimeout = errors.New("aggregation timed out")

	// ErrInvalidResolution indicates an unrecognized resolution level.
	ErrInvalidResolution = errors.New("invalid resolution level")
)
