// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package broadcast

import (
	"context"
	"fmt"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/moodscape/internal/config"
)

// NATSSubscriber consumes bucket-change events published by other
// instances. It satisfies the websocket package's MessageSource so the
// bridge can replay remote writes to local clients.
type NATSSubscriber struct {
	subscriber message.Subscriber
}

// NewNATSSubscriber connects to NATS and returns a subscriber.
func NewNATSSubscriber(cfg *config.NATSConfig) (*NATSSubscriber, error) {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Unmarshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true,
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, newWatermillLogger())
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	return &NATSSubscriber{subscriber: sub}, nil
}

// Subscribe returns a channel of raw payloads for the topic. The channel
// closes when the context is canceled or the subscriber is closed.
func (s *NATSSubscriber) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	messages, err := s.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			select {
			case out <- msg.Payload:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()

	return out, nil
}

// Close releases the underlying subscriber.
func (s *NATSSubscriber) Close() error {
	return s.subscriber.Close()
}
