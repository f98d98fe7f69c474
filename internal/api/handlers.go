// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/goccy/go-json"

	"github.com/tomtom215/moodscape/internal/cache"
	"github.com/tomtom215/moodscape/internal/config"
	"github.com/tomtom215/moodscape/internal/engine"
	"github.com/tomtom215/moodscape/internal/ingest"
	"github.com/tomtom215/moodscape/internal/logging"
	"github.com/tomtom215/moodscape/internal/models"
	"github.com/tomtom215/moodscape/internal/timewindow"
	ws "github.com/tomtom215/moodscape/internal/websocket"
)

// retryAfterSeconds is the hint returned with 503 responses after the
// engine has already exhausted its internal retry.
const retryAfterSeconds = 5

// AggregationService is the handler's view of the aggregation engine.
type AggregationService interface {
	Aggregate(ctx context.Context, token string, level models.ResolutionLevel, filters engine.Filters) (*models.AggregationResult, error)
	Stats(ctx context.Context, token string) (*models.StatsSummary, error)
	Trends(ctx context.Context, locationKey, category string, periodCount int, periodToken string) ([]models.TrendRecord, error)
}

// EventIngestor accepts new emotion events from the write path.
type EventIngestor interface {
	Ingest(ctx context.Context, req *ingest.Request) (*models.EmotionEvent, error)
}

// Pinger reports event store liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheInspector exposes cache statistics for the cache stats and health
// endpoints.
type CacheInspector interface {
	GetStats() cache.Stats
	HitRate() float64
}

// Handler holds the HTTP handlers and their collaborators. Optional
// collaborators (hub, ingestor, breakerState) may be nil; the affected
// endpoints then respond 503.
type Handler struct {
	config   *config.Config
	service  AggregationService
	ingestor EventIngestor
	pinger   Pinger
	cacheSrc CacheInspector
	wsHub    *ws.Hub

	// breakerState reports the broadcast circuit breaker state for
	// health output; nil when no gateway is configured.
	breakerState func() string

	startedAt time.Time
}

// NewHandler creates the API handler set.
func NewHandler(cfg *config.Config, service AggregationService, ingestor EventIngestor, pinger Pinger, cacheSrc CacheInspector, hub *ws.Hub) *Handler {
	return &Handler{
		config:    cfg,
		service:   service,
		ingestor:  ingestor,
		pinger:    pinger,
		cacheSrc:  cacheSrc,
		wsHub:     hub,
		startedAt: time.Now(),
	}
}

// SetBreakerStateSource wires the broadcast circuit breaker state into
// the health endpoint.
func (h *Handler) SetBreakerStateSource(fn func() string) {
	h.breakerState = fn
}

// defaultWindow returns the configured fallback token, guarding against
// a misconfigured value with the built-in default.
func (h *Handler) defaultWindow() string {
	if h.config != nil && timewindow.Valid(h.config.Engine.DefaultWindow) {
		return h.config.Engine.DefaultWindow
	}
	return timewindow.DefaultToken
}

// resolveWindowParam applies the explicit window-token fallback policy:
// an omitted or unrecognized "window" parameter resolves to the default
// token instead of failing the read. The effective token is returned so
// handlers can report it back to the caller.
func (h *Handler) resolveWindowParam(r *http.Request) string {
	requested := r.URL.Query().Get("window")
	if requested == "" {
		return h.defaultWindow()
	}
	if !timewindow.Valid(requested) {
		effective := h.defaultWindow()
		logging.Warn().
			Str("requested", sanitizeLogValue(requested)).
			Str("effective", effective).
			Msg("Unrecognized window token, falling back to default")
		return effective
	}
	return requested
}

// aggregationResponse wraps an aggregation result with the window token
// actually used, which may differ from the requested one under the
// fallback policy.
type aggregationResponse struct {
	EffectiveWindow string                    `json:"effective_window"`
	Result          *models.AggregationResult `json:"result"`
}

// Aggregation handles GET /api/v1/aggregation.
//
// Query parameters: window (token, default 24h), resolution
// (city|region|country, default city), category, min_magnitude,
// max_magnitude.
func (h *Handler) Aggregation(w http.ResponseWriter, r *http.Request) {
	token := h.resolveWindowParam(r)

	level := models.ResolutionLevel(r.URL.Query().Get("resolution"))
	if level == "" {
		level = models.ResolutionCity
	}

	filters, apiErr := parseFilters(r)
	if apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	start := time.Now()
	result, err := h.service.Aggregate(r.Context(), token, level, filters)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondSuccess(w, &aggregationResponse{
		EffectiveWindow: token,
		Result:          result,
	}, time.Since(start))
}

// parseFilters extracts optional category and magnitude-range filters.
func parseFilters(r *http.Request) (engine.Filters, *models.APIError) {
	var filters engine.Filters

	if label := r.URL.Query().Get("category"); label != "" {
		cat, err := models.ParseCategory(label)
		if err != nil {
			return filters, &models.APIError{
				Code:    "VALIDATION_ERROR",
				Message: "Unknown category: " + sanitizeLogValue(label),
			}
		}
		filters.Category = &cat
	}

	minMag, err := getFloatParam(r, "min_magnitude")
	if err != nil {
		return filters, &models.APIError{Code: "VALIDATION_ERROR", Message: err.Error()}
	}
	maxMag, err := getFloatParam(r, "max_magnitude")
	if err != nil {
		return filters, &models.APIError{Code: "VALIDATION_ERROR", Message: err.Error()}
	}
	if minMag != nil && maxMag != nil && *minMag > *maxMag {
		return filters, &models.APIError{
			Code:    "VALIDATION_ERROR",
			Message: "min_magnitude exceeds max_magnitude",
		}
	}
	filters.MinMagnitude = minMag
	filters.MaxMagnitude = maxMag

	return filters, nil
}

// Trends handles GET /api/v1/trends.
//
// Query parameters: location (bucket key, required), category (optional),
// periods (consecutive periods to compare, default 7), period_window
// (window token setting the period length, default 24h).
func (h *Handler) Trends(w http.ResponseWriter, r *http.Request) {
	locationKey := r.URL.Query().Get("location")
	if locationKey == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing required parameter: location", nil)
		return
	}

	category := r.URL.Query().Get("category")
	periods := getIntParam(r, "periods", 0)
	periodWindow := r.URL.Query().Get("period_window")

	start := time.Now()
	records, err := h.service.Trends(r.Context(), locationKey, category, periods, periodWindow)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondSuccess(w, records, time.Since(start))
}

// Stats handles GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	token := h.resolveWindowParam(r)

	start := time.Now()
	summary, err := h.service.Stats(r.Context(), token)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondSuccess(w, summary, time.Since(start))
}

// respondServiceError maps engine errors to HTTP status codes. Transient
// store failures carry a retry hint; everything else is treated as a
// validation problem with the request.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrAggregationUnavailable):
		respondErrorRetry(w, http.StatusServiceUnavailable, "SERVICE_ERROR",
			"Event store unavailable, retry later", err, retryAfterSeconds)
	case errors.Is(err, engine.ErrAggregationTimeout):
		respondError(w, http.StatusGatewayTimeout, "SERVICE_ERROR",
			"Aggregation deadline exceeded", err)
	case errors.Is(err, engine.ErrInvalidResolution):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"Resolution must be one of: city, region, country", err)
	case errors.Is(err, timewindow.ErrInvalidWindowToken):
		// Unreachable through resolveWindowParam, kept for direct callers.
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"Unrecognized window token", err)
	default:
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
	}
}

// Events handles POST /api/v1/events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.ingestor == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Event ingestion unavailable", nil)
		return
	}

	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err)
		return
	}

	event, err := h.ingestor.Ingest(r.Context(), &req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
		return
	}

	respondJSON(w, http.StatusCreated, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"id":          event.ID,
			"occurred_at": event.OccurredAt,
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// healthStatus is the health endpoint payload.
type healthStatus struct {
	Status           string  `json:"status"`
	Database         string  `json:"database"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	WebSocketClients int     `json:"websocket_clients"`
	BroadcastBreaker string  `json:"broadcast_breaker,omitempty"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:        "ok",
		Database:      "ok",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}

	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			logging.Error().Err(err).Msg("Health check: database ping failed")
			status.Status = "degraded"
			status.Database = "unreachable"
		}
	}
	if h.cacheSrc != nil {
		status.CacheHitRate = h.cacheSrc.HitRate()
	}
	if h.wsHub != nil {
		status.WebSocketClients = h.wsHub.GetClientCount()
	}
	if h.breakerState != nil {
		status.BroadcastBreaker = h.breakerState()
	}

	httpStatus := http.StatusOK
	if status.Status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}
	respondJSON(w, httpStatus, &models.APIResponse{
		Status:   "success",
		Data:     status,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// cacheStatsResponse is the cache stats endpoint payload.
type cacheStatsResponse struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	Evictions     int64   `json:"evictions"`
	Invalidations int64   `json:"invalidations"`
	TotalKeys     int64   `json:"total_keys"`
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cacheSrc == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Cache layer not configured", nil)
		return
	}

	stats := h.cacheSrc.GetStats()
	respondSuccess(w, &cacheStatsResponse{
		Hits:          stats.Hits,
		Misses:        stats.Misses,
		HitRate:       h.cacheSrc.HitRate(),
		Evictions:     stats.Evictions,
		Invalidations: stats.Invalidations,
		TotalKeys:     stats.TotalKeys,
	}, 0)
}

// WebSocket handles GET /ws, upgrading to a realtime notification stream.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		logging.Warn().Msg("WebSocket connection rejected: hub not initialized")
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "WebSocket service unavailable", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	h.wsHub.Register <- client
	client.Start()
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout against slow-client attacks.
func (h *Handler) getUpgrader() gorillaws.Upgrader {
	return gorillaws.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates WebSocket connection origins against the
// configured CORS origins. Browser WebSockets always carry an Origin
// header; a missing one is rejected so CORS cannot be bypassed.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}

	// Fail open for tests and development builds without config.
	if h.config == nil {
		return true
	}

	for _, allowed := range h.config.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}
