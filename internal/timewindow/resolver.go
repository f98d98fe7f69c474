// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package timewindow maps symbolic time-range tokens to concrete half-open
// intervals.
package timewindow

import (
	"fmt"
	"time"
)

// ErrInvalidWindowToken is returned for unrecognized window tokens. Callers
// that want lenient behavior must opt into the default explicitly via
// ResolveOrDefault; nothing is silently inferred here.
var ErrInvalidWindowToken = fmt.Errorf("invalid window token")

// DefaultToken is the fallback window used by ResolveOrDefault.
const DefaultToken = "24h"

// windowDurations maps recognized tokens to their durations.
var windowDurations = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether t falls inside the half-open interval.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Resolve maps a token to the half-open interval [now-duration, now).
// Unknown tokens fail with ErrInvalidWindowToken.
func Resolve(token string, now time.Time) (Window, error) {
	d, ok := windowDurations[token]
	if !ok {
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidWindowToken, token)
	}
	return Window{Start: now.Add(-d), End: now}, nil
}

// ResolveOrDefault resolves the token, falling back to DefaultToken when the
// token is empty or unrecognized. The second return value is the token that
// was actually applied so callers can surface the substitution.
func ResolveOrDefault(token string, now time.Time) (Window, string) {
	if token == "" {
		token = DefaultToken
	}
	w, err := Resolve(token, now)
	if err != nil {
		w, _ = Resolve(DefaultToken, now)
		return w, DefaultToken
	}
	return w, token
}

// Tokens returns the recognized window tokens sorted by duration.
func Tokens() []string {
	return []string{"1h", "6h", "24h", "7d", "30d"}
}

// Valid reports whether the token is recognized.
func Valid(token string) bool {
	_, ok := windowDurations[token]
	return ok
}
