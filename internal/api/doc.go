// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package api exposes the aggregation engine over HTTP using the Chi
// router with go-chi/cors and go-chi/httprate middleware.
//
// All responses use the models.APIResponse envelope. Window tokens are
// resolved with an explicit fallback: an omitted or unrecognized window
// parameter resolves to the default token rather than failing the read,
// and the effective token is reported back in the payload.
package api
