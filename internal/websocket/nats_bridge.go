// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package websocket

import (
	"context"
	"sync"

	"github.com/tomtom215/moodscape/internal/logging"
)

// MessageSource is the subscription side of the broadcast gateway. It lets
// the bridge work against NATS in production and a channel fake in tests.
type MessageSource interface {
	// Subscribe subscribes to a topic and returns a channel of raw payloads.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	// Close releases resources.
	Close() error
}

// NATSBridge forwards bucket-change events published by other instances
// into the local WebSocket hub, so every node's clients see the full
// write stream regardless of which node accepted the write.
type NATSBridge struct {
	hub    *Hub
	source MessageSource
	topic  string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewNATSBridge creates a bridge from a message source to the hub.
func NewNATSBridge(hub *Hub, source MessageSource, topic string) *NATSBridge {
	return &NATSBridge{
		hub:    hub,
		source: source,
		topic:  topic,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins forwarding events from the source to the hub.
func (b *NATSBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.mu.Unlock()

	messages, err := b.source.Subscribe(ctx, b.topic)
	if err != nil {
		return err
	}

	go b.processMessages(ctx, messages)

	logging.Info().Str("topic", b.topic).Msg("NATS to WebSocket bridge started")
	return nil
}

// Stop stops the bridge and waits for the forwarding loop to exit.
func (b *NATSBridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopCh)
	<-b.doneCh
	logging.Info().Msg("NATS to WebSocket bridge stopped")
}

func (b *NATSBridge) processMessages(ctx context.Context, messages <-chan []byte) {
	defer close(b.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case data, ok := <-messages:
			if !ok {
				return
			}
			b.hub.BroadcastRaw(data)
		}
	}
}
