// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package services adapts Moodscape's long-running components to suture's
// Serve(ctx) contract.
//
// Three adaptation patterns cover every component:
//
//   - Start/block/Shutdown (HTTPServerService): the component blocks in
//     its own run loop; the wrapper starts it in a goroutine and shuts it
//     down on context cancellation.
//   - Start/Stop (BridgeService): the component runs in the background
//     after Start; the wrapper blocks on the context and calls Stop.
//   - Serve passthrough (WebSocketHubService, RunnerService): the
//     component already follows the suture pattern; the wrapper only adds
//     a stable name for supervisor logging.
package services
