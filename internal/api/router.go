// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/moodscape/internal/config"
	"github.com/tomtom215/moodscape/internal/logging"
	"github.com/tomtom215/moodscape/internal/metrics"
)

// healthRateLimit is the permissive per-IP limit for health endpoints,
// allowing frequent monitoring probes without opening an abuse vector.
const healthRateLimit = 1000

// Router assembles the Chi route tree for the API.
type Router struct {
	config  *config.Config
	handler *Handler
}

// NewRouter creates a Router around the given handler set.
func NewRouter(cfg *config.Config, handler *Handler) *Router {
	return &Router{config: cfg, handler: handler}
}

// Setup configures all HTTP routes using the Chi router.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.corsMiddleware())
	r.Use(requestMetrics)

	// Health gets a permissive limit so monitors can probe freely.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.Limit(healthRateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Get("/", router.handler.Health)
	})

	// Core read and write endpoints share the configured rate limit.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.rateLimit())

		r.Get("/aggregation", router.handler.Aggregation)
		r.Get("/trends", router.handler.Trends)
		r.Get("/stats", router.handler.Stats)
		r.Post("/events", router.handler.Events)
		r.Get("/cache/stats", router.handler.CacheStats)
		r.Get("/ws", router.handler.WebSocket)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	})

	return r
}

// corsMiddleware builds the CORS handler from the configured origins.
// Origins default to empty, requiring explicit configuration rather than
// shipping a wildcard.
func (router *Router) corsMiddleware() func(http.Handler) http.Handler {
	var origins []string
	if router.config != nil {
		origins = router.config.Security.CORSOrigins
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	})
}

// rateLimit builds the per-IP rate limiter for data endpoints from config.
func (router *Router) rateLimit() func(http.Handler) http.Handler {
	if router.config == nil || router.config.Security.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		router.config.Security.RateLimitReqs,
		router.config.Security.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondErrorRetry(w, http.StatusTooManyRequests, "RATE_LIMITED",
				"Too many requests", nil, int(router.config.Security.RateLimitWindow.Seconds()))
		}),
	)
}

// statusRecorder captures the response status for metrics and logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// requestMetrics records per-request prometheus metrics and an access log
// line. WebSocket upgrades are skipped: hijacked connections have no
// meaningful status or latency here.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/ws" || r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		metrics.RecordAPIRequest(r.Method, r.URL.Path, rec.status, elapsed)
		logging.Debug().
			Str("method", r.Method).
			Str("path", sanitizeLogValue(r.URL.Path)).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("HTTP request")
	})
}
