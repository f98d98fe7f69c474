// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/moodscape/internal/logging"
	"github.com/tomtom215/moodscape/internal/metrics"
	"github.com/tomtom215/moodscape/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled indicates the parent context was canceled.
	// This is the normal graceful shutdown path (e.g., SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for WebSocket communication
const (
	MessageTypeBucketChanged    = "bucket_changed"
	MessageTypePrewarmCompleted = "prewarm_completed"
	MessageTypeStatsUpdate      = "stats_update"
	MessageTypeAnomaly          = "anomaly_detected"
	MessageTypePing             = "ping"
	MessageTypePong             = "pong"
)

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext starts the hub with context support for graceful shutdown.
// This method is designed for use with suture supervision.
//
// When the context is canceled:
//  1. All connected clients are gracefully closed
//  2. The method returns ctx.Err()
//
// DETERMINISM: Uses priority-based selection to ensure predictable behavior:
// - Priority 1: Context cancellation (shutdown)
// - Priority 2: Client lifecycle events (Register/Unregister)
// - Priority 3: Broadcast messages
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: Check for shutdown (highest priority, non-blocking)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: Handle client lifecycle events (non-blocking check)
		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
			// No lifecycle events pending
		}

		// Priority 3: Handle broadcast messages or wait for any event (blocking)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)

		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// logGracefulShutdown closes all clients and logs structured shutdown
// information. ctx.Err() is not logged as an error because cancellation is
// expected during graceful shutdown.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.Canceled:
		return ShutdownReasonContextCanceled
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// broadcastToClients sends a message to all connected clients.
// DETERMINISM: Clients are sorted by their monotonically increasing IDs so
// delivery order is consistent; map iteration order would be random.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	// Track clients to remove (can't modify map during iteration)
	var toRemove []*Client

	for _, client := range clients {
		select {
		case client.send <- message:
			metrics.WebSocketMessagesSent.WithLabelValues(message.Type).Inc()
		default:
			// Channel full or closed, mark for removal
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebSocketConnections.Set(float64(len(h.clients)))
}

// closeAllClients gracefully closes all connected WebSocket clients in ID
// order. Called during shutdown to ensure clean termination.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebSocketConnections.Set(0)
	logging.Info().Msg("closed all websocket clients during shutdown")
}

// BucketChangedData is sent with bucket_changed messages. It carries only
// privacy-safe fields: the rounded coordinates and the bucket keys the
// written event belongs to, never the raw event location.
type BucketChangedData struct {
	Timestamp    string             `json:"timestamp"`
	Category     string             `json:"category"`
	LocationKeys []string           `json:"location_keys"`
	Coordinates  models.Coordinates `json:"coordinates"`
}

// BroadcastBucketChanged notifies all clients that new activity landed in
// the given buckets.
func (h *Hub) BroadcastBucketChanged(category string, locationKeys []string, roundedCoords models.Coordinates) {
	data := BucketChangedData{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Category:     category,
		LocationKeys: locationKeys,
		Coordinates:  roundedCoords,
	}

	select {
	case h.broadcast <- Message{Type: MessageTypeBucketChanged, Data: data}:
	default:
		logging.Warn().Msg("broadcast channel full, dropping bucket_changed message")
	}
}

// PrewarmCompletedData is sent with prewarm_completed messages.
type PrewarmCompletedData struct {
	Timestamp  string `json:"timestamp"`
	Combos     int    `json:"combos"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
}

// BroadcastPrewarmCompleted notifies all clients that a prewarm pass finished.
func (h *Hub) BroadcastPrewarmCompleted(combos, failed int, durationMs int64) {
	data := PrewarmCompletedData{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Combos:     combos,
		Failed:     failed,
		DurationMs: durationMs,
	}

	select {
	case h.broadcast <- Message{Type: MessageTypePrewarmCompleted, Data: data}:
		logging.Debug().Int("clients", h.GetClientCount()).Int("combos", combos).Msg("broadcast prewarm_completed")
	default:
		logging.Warn().Msg("broadcast channel full, dropping prewarm_completed message")
	}
}

// StatsUpdateData is sent with stats_update messages.
type StatsUpdateData struct {
	Timestamp   string  `json:"timestamp"`
	TotalEvents int64   `json:"total_events"`
	WriteRate   float64 `json:"write_rate"`
}

// BroadcastStatsUpdate notifies all clients of refreshed summary numbers.
func (h *Hub) BroadcastStatsUpdate(totalEvents int64, writeRate float64) {
	data := StatsUpdateData{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		TotalEvents: totalEvents,
		WriteRate:   writeRate,
	}

	select {
	case h.broadcast <- Message{Type: MessageTypeStatsUpdate, Data: data}:
	default:
		logging.Warn().Msg("broadcast channel full, dropping stats_update message")
	}
}

// BroadcastAnomalies notifies all clients of detected anomalies.
func (h *Hub) BroadcastAnomalies(anomalies []models.Anomaly) {
	if len(anomalies) == 0 {
		return
	}
	select {
	case h.broadcast <- Message{Type: MessageTypeAnomaly, Data: anomalies}:
		logging.Info().Int("anomalies", len(anomalies)).Msg("broadcast anomaly_detected")
	default:
		logging.Warn().Msg("broadcast channel full, dropping anomaly_detected message")
	}
}

// BroadcastJSON sends an arbitrary typed message to all connected clients.
func (h *Hub) BroadcastJSON(messageType string, data interface{}) {
	select {
	case h.broadcast <- Message{Type: messageType, Data: data}:
	default:
		logging.Warn().Str("message_type", messageType).Msg("broadcast channel full, dropping JSON message")
	}
}

// BroadcastRaw parses raw JSON bytes as a bucket_changed payload and
// broadcasts it. Used by the NATS bridge, which receives change events
// published by other instances.
func (h *Hub) BroadcastRaw(data []byte) {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		logging.Warn().Err(err).Msg("failed to unmarshal raw event for broadcast")
		return
	}

	select {
	case h.broadcast <- Message{Type: MessageTypeBucketChanged, Data: payload}:
	default:
		logging.Warn().Msg("broadcast channel full, dropping raw message")
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MarshalMessage converts a message to JSON
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
