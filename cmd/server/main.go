// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package main is the entry point for the Moodscape server.
//
// Moodscape aggregates geotagged emotion events into privacy-preserving
// spatial buckets and serves them over a cached HTTP API with realtime
// WebSocket notifications.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered loading via Koanf v2 (defaults, config file,
//     environment variables)
//  2. Event store: DuckDB, in-memory or file-backed
//  3. Result cache: in-memory TTL cache with glob invalidation
//  4. Aggregation engine: cache-first reads with k-anonymity enforcement
//  5. WebSocket hub: realtime bucket-change and anomaly notifications
//  6. NATS gateway (optional): cross-instance broadcast fan-out
//  7. Prewarm scheduler: keeps popular window/resolution combos warm
//  8. HTTP server: Chi router with CORS and rate limiting
//
// All long-running components run under a suture/v4 supervision tree with
// per-layer failure isolation.
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP server
// drains in-flight requests, WebSocket clients are closed, and the store
// and gateway connections are released.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/moodscape/internal/api"
	"github.com/tomtom215/moodscape/internal/broadcast"
	"github.com/tomtom215/moodscape/internal/cache"
	"github.com/tomtom215/moodscape/internal/config"
	"github.com/tomtom215/moodscape/internal/engine"
	"github.com/tomtom215/moodscape/internal/geo"
	"github.com/tomtom215/moodscape/internal/ingest"
	"github.com/tomtom215/moodscape/internal/logging"
	"github.com/tomtom215/moodscape/internal/monitor"
	"github.com/tomtom215/moodscape/internal/prewarm"
	"github.com/tomtom215/moodscape/internal/store"
	"github.com/tomtom215/moodscape/internal/supervisor"
	"github.com/tomtom215/moodscape/internal/supervisor/services"
	"github.com/tomtom215/moodscape/internal/trend"
	"github.com/tomtom215/moodscape/internal/websocket"
)

// writeRateWindow sizes the sliding window used for the recent write rates
// reported by the stats endpoint; maxWriteRateKeys caps the number of
// per-location counters so a flood of distinct labels cannot grow memory
// without bound.
const (
	writeRateWindow  = 5 * time.Minute
	maxWriteRateKeys = 10000
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("Starting Moodscape server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === DATA LAYER ===

	eventStore, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer func() {
		if err := eventStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Event store close failed")
		}
	}()
	logging.Info().Str("path", cfg.Database.Path).Msg("Event store ready")

	resultCache := cache.New(cfg.Cache.TTL)
	defer resultCache.Close()

	agg := engine.New(&cfg.Engine, eventStore, engine.NewMemoryResultCache(resultCache), cfg.Cache.TTL)

	writeRates := cache.NewSlidingWindowStore(writeRateWindow, 60, maxWriteRateKeys)
	agg.SetWriteRateSource(writeRates.TotalRatePerMinute)
	agg.SetLocationRateSource(writeRates.RatePerMinute)

	// === MESSAGING LAYER ===

	hub := websocket.NewHub()

	gateway, bridge, err := initBroadcast(cfg, hub)
	if err != nil {
		return fmt.Errorf("init broadcast: %w", err)
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			logging.Error().Err(err).Msg("Broadcast gateway close failed")
		}
	}()

	// Event writes invalidate cached aggregations and fan out to clients.
	notifier := ingest.NewNotifier(
		engine.NewMemoryResultCache(resultCache),
		geo.NewBucketer(cfg.Engine.CoordinatePrecision),
		hub,
		gateway,
		writeRates,
	)
	eventStore.OnWrite(notifier.HandleWrite)

	ingestor := ingest.NewIngestor(eventStore)

	// === API LAYER ===

	handler := api.NewHandler(cfg, agg, ingestor, eventStore, resultCache, hub)
	if natsGateway, ok := gateway.(*broadcast.NATSGateway); ok {
		handler.SetBreakerStateSource(natsGateway.BreakerState)
	}
	router := api.NewRouter(cfg, handler)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}

	// === SUPERVISION TREE ===

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("build supervisor tree: %w", err)
	}

	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	if bridge != nil {
		tree.AddMessagingService(services.NewBridgeService(bridge))
	}

	if cfg.Prewarm.Enabled {
		scheduler := prewarm.New(&cfg.Prewarm, agg, hub)
		tree.AddDataService(services.NewRunnerService(scheduler, "prewarm-scheduler"))
		logging.Info().
			Dur("interval", cfg.Prewarm.Interval).
			Strs("combos", cfg.Prewarm.Combos).
			Msg("Prewarm scheduler enabled")
	}

	analyzer := trend.NewAnalyzer(&cfg.Trend)
	detector := monitor.New(agg, analyzer, hub, cfg.Prewarm.Interval)
	tree.AddDataService(services.NewRunnerService(detector, "anomaly-monitor"))

	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === RUN ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Server stopped gracefully")
	return nil
}

// initBroadcast builds the cross-instance broadcast path. When NATS is
// disabled the gateway is a no-op and no bridge is created; single-instance
// deployments still get realtime updates through the in-process hub.
func initBroadcast(cfg *config.Config, hub *websocket.Hub) (broadcast.Gateway, *websocket.NATSBridge, error) {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("NATS broadcast disabled, using in-process fan-out only")
		return broadcast.NoopGateway{}, nil, nil
	}

	gateway, err := broadcast.NewNATSGateway(&cfg.NATS)
	if err != nil {
		return nil, nil, fmt.Errorf("connect NATS gateway: %w", err)
	}

	subscriber, err := broadcast.NewNATSSubscriber(&cfg.NATS)
	if err != nil {
		if closeErr := gateway.Close(); closeErr != nil {
			logging.Error().Err(closeErr).Msg("Gateway close failed during subscriber setup")
		}
		return nil, nil, fmt.Errorf("connect NATS subscriber: %w", err)
	}

	bridge := websocket.NewNATSBridge(hub, subscriber, cfg.NATS.Topic)
	logging.Info().Str("url", cfg.NATS.URL).Str("topic", cfg.NATS.Topic).Msg("NATS broadcast enabled")
	return gateway, bridge, nil
}
