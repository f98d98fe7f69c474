// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package prewarm keeps the result cache warm for popular queries. A
// background pass recomputes each configured (window, resolution)
// combination on a fixed interval so interactive reads rarely miss.
package prewarm

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/moodscape/internal/config"
	"github.com/tomtom215/moodscape/internal/engine"
	"github.com/tomtom215/moodscape/internal/logging"
	"github.com/tomtom215/moodscape/internal/metrics"
	"github.com/tomtom215/moodscape/internal/models"
)

// Aggregator is the slice of the engine the scheduler needs. Recompute
// must bypass the cache read and re-store the fresh result: a cache-first
// read would leave a still-warm entry's TTL untouched and let it expire
// between passes.
type Aggregator interface {
	Recompute(ctx context.Context, token string, level models.ResolutionLevel, filters engine.Filters) (*models.AggregationResult, error)
}

// CompletionBroadcaster is notified after every pass, satisfied by the
// websocket hub.
type CompletionBroadcaster interface {
	BroadcastPrewarmCompleted(combos, failed int, durationMs int64)
}

// Combo is one parsed "window:resolution" pair from the popularity list.
type Combo struct {
	Token string
	Level models.ResolutionLevel
}

// String returns the configuration form of the combo.
func (c Combo) String() string {
	return c.Token + ":" + string(c.Level)
}

// ParseCombo parses a "window:resolution" pair, e.g. "24h:city".
func ParseCombo(s string) (Combo, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Combo{}, errors.New("combo must be window:resolution, e.g. 24h:city")
	}
	level := models.ResolutionLevel(parts[1])
	if !level.Valid() {
		return Combo{}, errors.New("unknown resolution level: " + parts[1])
	}
	return Combo{Token: parts[0], Level: level}, nil
}

// Scheduler recomputes the popular combinations on a fixed interval.
// Aggregate already writes results into the cache, so a pass is just a
// sequence of paced engine calls with per-combination error isolation: one
// failing combination never aborts the rest.
type Scheduler struct {
	cfg     *config.PrewarmConfig
	agg     Aggregator
	combos  []Combo
	limiter *rate.Limiter
	hub     CompletionBroadcaster

	now func() time.Time
}

// New creates a scheduler. Malformed combos are dropped with a warning
// rather than failing startup; config validation should have caught them.
func New(cfg *config.PrewarmConfig, agg Aggregator, hub CompletionBroadcaster) *Scheduler {
	combos := make([]Combo, 0, len(cfg.Combos))
	for _, raw := range cfg.Combos {
		combo, err := ParseCombo(raw)
		if err != nil {
			logging.Warn().Err(err).Str("combo", raw).Msg("skipping malformed prewarm combo")
			continue
		}
		combos = append(combos, combo)
	}

	return &Scheduler{
		cfg:     cfg,
		agg:     agg,
		combos:  combos,
		limiter: rate.NewLimiter(rate.Limit(cfg.PacePerSecond), 1),
		hub:     hub,
		now:     time.Now,
	}
}

// Combos returns the parsed popularity list.
func (s *Scheduler) Combos() []Combo {
	out := make([]Combo, len(s.combos))
	copy(out, s.combos)
	return out
}

// Serve runs the scheduler until the context is canceled. Designed for
// suture supervision: it returns ctx.Err() on shutdown. The first pass
// runs immediately so the cache is warm right after startup.
func (s *Scheduler) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", s.cfg.Interval).
		Int("combos", len(s.combos)).
		Msg("prewarm scheduler started")

	s.RunPass(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("prewarm scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunPass(ctx)
		}
	}
}

// RunPass recomputes every combination once. Failures are isolated per
// combination: logged, counted, and skipped.
func (s *Scheduler) RunPass(ctx context.Context) {
	start := s.now()
	failed := 0

	for _, combo := range s.combos {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		if err := s.warmCombo(ctx, combo); err != nil {
			failed++
		}
	}

	elapsed := s.now().Sub(start)
	metrics.PrewarmRuns.Inc()
	metrics.PrewarmDuration.Observe(elapsed.Seconds())

	logging.Info().
		Int("combos", len(s.combos)).
		Int("failed", failed).
		Dur("elapsed", elapsed).
		Msg("prewarm pass completed")

	if s.hub != nil {
		s.hub.BroadcastPrewarmCompleted(len(s.combos), failed, elapsed.Milliseconds())
	}
}

// warmCombo recomputes a single combination under the shorter prewarm
// deadline. A timed-out combination is simply skipped until the next pass.
func (s *Scheduler) warmCombo(ctx context.Context, combo Combo) error {
	comboCtx, cancel := context.WithTimeout(ctx, s.cfg.ComboTimeout)
	defer cancel()

	_, err := s.agg.Recompute(comboCtx, combo.Token, combo.Level, engine.Filters{})
	switch {
	case err == nil:
		metrics.PrewarmCombos.WithLabelValues(combo.String(), "ok").Inc()
		return nil
	case errors.Is(err, engine.ErrAggregationTimeout):
		metrics.PrewarmCombos.WithLabelValues(combo.String(), "timeout").Inc()
		logging.Warn().Str("combo", combo.String()).Msg("prewarm combination timed out, skipping")
		return err
	default:
		metrics.PrewarmCombos.WithLabelValues(combo.String(), "error").Inc()
		logging.Warn().Err(err).Str("combo", combo.String()).Msg("prewarm combination failed, continuing")
		return err
	}
}
