// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package config loads and validates Moodscape configuration from defaults,
// an optional YAML file, and environment variables (highest precedence).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Moodscape server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Engine   EngineConfig   `koanf:"engine"`
	Cache    CacheConfig    `koanf:"cache"`
	Trend    TrendConfig    `koanf:"trend"`
	Prewarm  PrewarmConfig  `koanf:"prewarm"`
	NATS     NATSConfig     `koanf:"nats"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// DatabaseConfig holds DuckDB event store settings.
type DatabaseConfig struct {
	// Path is the DuckDB database file. Empty means in-memory (tests).
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = use runtime.NumCPU()
}

// EngineConfig holds aggregation engine tunables.
type EngineConfig struct {
	// KMin is the k-anonymity minimum: buckets with fewer events are
	// dropped from every response.
	KMin int64 `koanf:"kmin" validate:"min=1"`

	// CoordinatePrecision is the privacy rounding step in degrees.
	CoordinatePrecision float64 `koanf:"coordinate_precision" validate:"gt=0"`

	// MaxBuckets bounds the number of buckets in a single response.
	MaxBuckets int `koanf:"max_buckets" validate:"min=1"`

	// DefaultWindow is the window token applied when a request omits or
	// mangles its window parameter.
	DefaultWindow string `koanf:"default_window"`

	// QueryTimeout is the deadline for interactive aggregation calls.
	QueryTimeout time.Duration `koanf:"query_timeout" validate:"min=100ms"`

	// RetryBackoff is the pause before the single internal retry after an
	// event store failure.
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	TTL time.Duration `koanf:"ttl" validate:"min=1s"`
}

// TrendConfig holds trend and anomaly detection tunables. These are
// configuration rather than constants so detection can be tuned and tested
// independently.
type TrendConfig struct {
	// SpikeSigma flags a spike when the current count exceeds
	// mean + SpikeSigma*stddev.
	SpikeSigma float64 `koanf:"spike_sigma" validate:"gt=0"`

	// HighSigma upgrades a spike to high severity past mean + HighSigma*stddev.
	HighSigma float64 `koanf:"high_sigma" validate:"gt=0"`

	// DiversityDelta flags unusual_distribution when diversity departs from
	// the historical mean by more than this.
	DiversityDelta float64 `koanf:"diversity_delta" validate:"gt=0"`

	// HistorySize is how many prior period totals the anomaly detector keeps.
	HistorySize int `koanf:"history_size" validate:"min=2"`
}

// PrewarmConfig holds proactive recomputation settings.
type PrewarmConfig struct {
	Enabled bool `koanf:"enabled"`

	// Interval between prewarm passes.
	Interval time.Duration `koanf:"interval" validate:"min=10s"`

	// Combos lists "window:resolution" pairs to keep warm, e.g. "24h:city".
	Combos []string `koanf:"combos"`

	// ComboTimeout is the per-combination deadline; shorter than the
	// interactive query timeout so prewarm never starves live reads.
	ComboTimeout time.Duration `koanf:"combo_timeout" validate:"min=100ms"`

	// PacePerSecond bounds prewarm load on the event store
	// (combinations started per second).
	PacePerSecond float64 `koanf:"pace_per_second" validate:"gt=0"`
}

// NATSConfig holds the broadcast gateway connection settings.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	Topic         string        `koanf:"topic"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// SecurityConfig holds the thin HTTP-surface protections.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"min=1s"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if c.Trend.HighSigma < c.Trend.SpikeSigma {
		return fmt.Errorf("config validation: trend.high_sigma (%.1f) must be >= trend.spike_sigma (%.1f)",
			c.Trend.HighSigma, c.Trend.SpikeSigma)
	}

	if c.Prewarm.ComboTimeout >= c.Engine.QueryTimeout {
		return fmt.Errorf("config validation: prewarm.combo_timeout (%s) must be shorter than engine.query_timeout (%s)",
			c.Prewarm.ComboTimeout, c.Engine.QueryTimeout)
	}

	for _, combo := range c.Prewarm.Combos {
		if err := validateCombo(combo); err != nil {
			return fmt.Errorf("config validation: %w", err)
		}
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("config validation: nats.url is required when nats.enabled is true")
	}

	return nil
}

// validateCombo checks a "window:resolution" prewarm pair.
func validateCombo(combo string) error {
	parts := strings.SplitN(combo, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("prewarm combo %q: expected \"window:resolution\"", combo)
	}
	switch parts[1] {
	case "city", "region", "country":
	default:
		return fmt.Errorf("prewarm combo %q: unknown resolution %q", combo, parts[1])
	}
	return nil
}
