// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/moodscape/internal/models"
)

// startHub runs the hub under a cancelable context and returns a stop func.
func startHub(t *testing.T) (*Hub, func()) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	return hub, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("hub did not stop")
		}
	}
}

func registerClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	client := NewClient(hub, nil)
	hub.Register <- client

	// Registration is processed asynchronously by the hub loop.
	deadline := time.After(2 * time.Second)
	for hub.GetClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client was not registered")
		case <-time.After(time.Millisecond):
		}
	}
	return client
}

func waitForMessage(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case msg := <-client.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub, stop := startHub(t)
	defer stop()

	client := registerClient(t, hub)
	if hub.GetClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", hub.GetClientCount())
	}

	hub.Unregister <- client
	deadline := time.After(2 * time.Second)
	for hub.GetClientCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("client was not unregistered")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestBroadcastBucketChanged(t *testing.T) {
	hub, stop := startHub(t)
	defer stop()

	client := registerClient(t, hub)

	keys := []string{"city:New York,NY,US", "region:NY,US", "country:US"}
	hub.BroadcastBucketChanged("joy", keys, models.Coordinates{Longitude: -74.01, Latitude: 40.71})

	msg := waitForMessage(t, client)
	if msg.Type != MessageTypeBucketChanged {
		t.Fatalf("message type = %q, want %q", msg.Type, MessageTypeBucketChanged)
	}
	data, ok := msg.Data.(BucketChangedData)
	if !ok {
		t.Fatalf("unexpected data type %T", msg.Data)
	}
	if data.Category != "joy" || len(data.LocationKeys) != 3 {
		t.Errorf("unexpected payload: %+v", data)
	}
	if data.Coordinates.Longitude != -74.01 || data.Coordinates.Latitude != 40.71 {
		t.Errorf("coordinates not the rounded values: %+v", data.Coordinates)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub, stop := startHub(t)
	defer stop()

	c1 := NewClient(hub, nil)
	c2 := NewClient(hub, nil)
	c3 := NewClient(hub, nil)
	for _, c := range []*Client{c1, c2, c3} {
		hub.Register <- c
	}
	deadline := time.After(2 * time.Second)
	for hub.GetClientCount() != 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 clients, got %d", hub.GetClientCount())
		case <-time.After(time.Millisecond):
		}
	}

	hub.BroadcastPrewarmCompleted(4, 1, 125)

	for i, c := range []*Client{c1, c2, c3} {
		msg := waitForMessage(t, c)
		if msg.Type != MessageTypePrewarmCompleted {
			t.Errorf("client %d: type = %q", i, msg.Type)
		}
	}
}

func TestBroadcastStatsUpdate(t *testing.T) {
	hub, stop := startHub(t)
	defer stop()

	client := registerClient(t, hub)
	hub.BroadcastStatsUpdate(1234, 56.7)

	msg := waitForMessage(t, client)
	data, ok := msg.Data.(StatsUpdateData)
	if !ok {
		t.Fatalf("unexpected data type %T", msg.Data)
	}
	if data.TotalEvents != 1234 || data.WriteRate != 56.7 {
		t.Errorf("unexpected payload: %+v", data)
	}
}

func TestBroadcastAnomalies(t *testing.T) {
	hub, stop := startHub(t)
	defer stop()

	client := registerClient(t, hub)

	// Empty slices are not broadcast at all.
	hub.BroadcastAnomalies(nil)

	anomalies := []models.Anomaly{{
		Type:        models.AnomalySpike,
		Severity:    models.SeverityHigh,
		LocationKey: "city:New York,NY,US",
		Observed:    135,
		Mean:        100,
		StdDev:      10,
	}}
	hub.BroadcastAnomalies(anomalies)

	msg := waitForMessage(t, client)
	if msg.Type != MessageTypeAnomaly {
		t.Fatalf("message type = %q, want %q", msg.Type, MessageTypeAnomaly)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()

	client := registerClient(t, hub)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// The client's send channel must be closed by shutdown.
	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("expected closed send channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel was not closed")
	}
	if hub.GetClientCount() != 0 {
		t.Fatalf("clients remain after shutdown: %d", hub.GetClientCount())
	}
}

func TestMarshalMessage(t *testing.T) {
	data, err := MarshalMessage(Message{Type: MessageTypePong})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty payload")
	}
}

// fakeSource delivers scripted payloads to the bridge.
type fakeSource struct {
	messages chan []byte
	closed   bool
}

func (f *fakeSource) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	return f.messages, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func TestNATSBridgeForwardsToHub(t *testing.T) {
	hub, stop := startHub(t)
	defer stop()

	client := registerClient(t, hub)

	source := &fakeSource{messages: make(chan []byte, 1)}
	bridge := NewNATSBridge(hub, source, "moodscape.buckets")
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("bridge start: %v", err)
	}
	defer bridge.Stop()

	source.messages <- []byte(`{"category":"joy","location_keys":["country:US"]}`)

	msg := waitForMessage(t, client)
	if msg.Type != MessageTypeBucketChanged {
		t.Fatalf("message type = %q, want %q", msg.Type, MessageTypeBucketChanged)
	}
}

func TestNATSBridgeIgnoresMalformedPayload(t *testing.T) {
	hub, stop := startHub(t)
	defer stop()

	client := registerClient(t, hub)

	source := &fakeSource{messages: make(chan []byte, 2)}
	bridge := NewNATSBridge(hub, source, "moodscape.buckets")
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("bridge start: %v", err)
	}
	defer bridge.Stop()

	source.messages <- []byte(`{not json`)
	source.messages <- []byte(`{"category":"calm"}`)

	// Only the valid payload arrives.
	msg := waitForMessage(t, client)
	if msg.Type != MessageTypeBucketChanged {
		t.Fatalf("message type = %q", msg.Type)
	}
	select {
	case extra := <-client.send:
		t.Fatalf("unexpected extra message: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}
