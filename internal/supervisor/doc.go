// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package supervisor builds the suture/v4 supervision tree for the
// Moodscape server. Long-running components are grouped into data,
// messaging and api layers so a crash loop in one layer is isolated from
// the others, with restart backoff and sutureslog event logging at the
// root.
package supervisor
