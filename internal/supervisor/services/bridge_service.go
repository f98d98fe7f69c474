// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package services

import (
	"context"
	"fmt"
)

// BridgeRunner matches *websocket.NATSBridge's Start/Stop lifecycle.
type BridgeRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// BridgeService adapts the NATS-to-WebSocket bridge's Start/Stop pattern
// to suture's Serve pattern: Start begins forwarding in the background,
// Serve blocks until context cancellation, then Stop drains the loop.
type BridgeService struct {
	bridge BridgeRunner
	name   string
}

// NewBridgeService creates a new bridge service wrapper.
func NewBridgeService(bridge BridgeRunner) *BridgeService {
	return &BridgeService{
		bridge: bridge,
		name:   "nats-bridge",
	}
}

// Serve implements suture.Service.
func (s *BridgeService) Serve(ctx context.Context) error {
	if err := s.bridge.Start(ctx); err != nil {
		return fmt.Errorf("bridge start failed: %w", err)
	}

	<-ctx.Done()
	s.bridge.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *BridgeService) String() string {
	return s.name
}
