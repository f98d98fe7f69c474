// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

/*
Package websocket provides real-time fan-out of aggregation activity to
connected frontend clients.

This package implements WebSocket support for broadcasting bucket-change
notifications, prewarm completions, refreshed summary statistics, and
anomaly alerts. It uses the gorilla/websocket library with a hub-client
architecture for efficient message broadcasting.

Key Components:

  - Hub: Central message broker that manages client connections and broadcasts
  - Client: Represents a single WebSocket connection with read/write goroutines
  - NATSBridge: Forwards change events published by other instances into the hub

Each client has two goroutines:
  - readPump: Reads from WebSocket, handles pings
  - writePump: Writes to WebSocket, sends pongs

Message Types:

  - bucket_changed: New activity landed in one or more spatial buckets
  - prewarm_completed: A proactive cache refresh pass finished
  - stats_update: Global summary numbers changed
  - anomaly_detected: The trend analyzer flagged unusual activity
  - ping/pong: Liveness checks

Privacy: bucket_changed payloads carry only privacy-rounded coordinates and
bucket keys, never an event's raw location.

Usage:

	hub := websocket.NewHub()
	go func() { _ = hub.RunWithContext(ctx) }()

	// After a write is accepted:
	hub.BroadcastBucketChanged("joy", keys, roundedCoords)

The hub's RunWithContext is supervision-friendly: it returns ctx.Err() after
closing every client, so a suture supervisor can restart it cleanly.
*/
package websocket
