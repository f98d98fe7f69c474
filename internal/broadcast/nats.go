// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/moodscape/internal/config"
	"github.com/tomtom215/moodscape/internal/logging"
	"github.com/tomtom215/moodscape/internal/metrics"
)

// NATSGateway publishes bucket-change events over NATS via Watermill, with
// circuit breaker protection so a broker outage cannot slow the write path.
type NATSGateway struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[interface{}]
	topic     string

	mu     sync.RWMutex
	closed bool
}

// NewNATSGateway connects to NATS and returns a publishing gateway.
func NewNATSGateway(cfg *config.NATSConfig) (*NATSGateway, error) {
	logger := newWatermillLogger()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Error().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true, // plain core NATS; change events are fire-and-forget
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return &NATSGateway{
		publisher: pub,
		breaker:   NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		topic:     cfg.Topic,
	}, nil
}

// PublishBucketChange publishes one change event through the breaker.
func (g *NATSGateway) PublishBucketChange(ctx context.Context, change *BucketChange) error {
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return fmt.Errorf("broadcast gateway is closed")
	}
	g.mu.RUnlock()

	data, err := Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal bucket change: %w", err)
	}

	msg := message.NewMessage(change.EventID, data)
	msg.Metadata.Set("category", change.Category)

	_, err = g.breaker.Execute(func() (interface{}, error) {
		return nil, g.publisher.Publish(g.topic, msg)
	})
	if err != nil {
		metrics.BroadcastPublished.WithLabelValues("error").Inc()
		return err
	}

	metrics.BroadcastPublished.WithLabelValues("ok").Inc()
	return nil
}

// Close shuts down the publisher.
func (g *NATSGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	return g.publisher.Close()
}

// BreakerState reports the circuit breaker state for health output.
func (g *NATSGateway) BreakerState() string {
	return g.breaker.State().String()
}

// watermillLogger adapts watermill logging onto zerolog.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	ev := logging.Error().Err(err)
	for k, v := range l.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	ev := logging.Info()
	for k, v := range l.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	ev := logging.Debug()
	for k, v := range l.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	ev := logging.Trace()
	for k, v := range l.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}
