// Moodscape - Geospatial Emotion Analytics and Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/moodscape

// Package store provides the DuckDB-backed emotion event store. The
// aggregation engine only reads from it; writes arrive through the ingestion
// path, which also notifies registered write listeners.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/moodscape/internal/config"
	"github.com/tomtom215/moodscape/internal/logging"
	"github.com/tomtom215/moodscape/internal/models"
)

// WriteListener is invoked after every successful event persist. Listeners
// drive cache invalidation and broadcast notification; they must not block
// for long and must not write back into the store.
type WriteListener func(event *models.EmotionEvent)

// Store wraps the DuckDB connection and provides event access methods.
type Store struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	mu        sync.RWMutex
	listeners []WriteListener
}

// New creates a new database connection and initializes the schema.
// An empty cfg.Path opens an in-memory database, used by tests.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	dsn := ""
	if cfg.Path != "" {
		// Ensure parent directory exists for the database file.
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
		dsn = cfg.Path
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	s := &Store{conn: conn, cfg: cfg}

	if cfg.MaxMemory != "" {
		if _, err := conn.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.MaxMemory)); err != nil {
			logging.Warn().Err(err).Str("max_memory", cfg.MaxMemory).Msg("failed to set duckdb memory limit")
		}
	}
	if _, err := conn.Exec(fmt.Sprintf("SET threads=%d", numThreads)); err != nil {
		logging.Warn().Err(err).Int("threads", numThreads).Msg("failed to set duckdb thread count")
	}

	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Msg("event store opened")
	return s, nil
}

// initSchema creates the emotion_events table and indexes if missing.
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS emotion_events (
			id          VARCHAR PRIMARY KEY,
			category    VARCHAR NOT NULL,
			magnitude   DOUBLE NOT NULL,
			longitude   DOUBLE NOT NULL,
			latitude    DOUBLE NOT NULL,
			city        VARCHAR DEFAULT '',
			region      VARCHAR DEFAULT '',
			country     VARCHAR DEFAULT '',
			continent   VARCHAR DEFAULT '',
			occurred_at TIMESTAMP NOT NULL,
			visibility  VARCHAR NOT NULL DEFAULT 'public',
			created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("create emotion_events: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_occurred ON emotion_events (occurred_at)",
		"CREATE INDEX IF NOT EXISTS idx_events_visibility ON emotion_events (visibility, occurred_at)",
	}
	for _, idx := range indexes {
		if _, err := s.conn.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping verifies the database connection, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// OnWrite registers a listener invoked after every successful insert.
func (s *Store) OnWrite(listener WriteListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// InsertEvent persists an emotion event and notifies write listeners.
func (s *Store) InsertEvent(ctx context.Context, event *models.EmotionEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO emotion_events
			(id, category, magnitude, longitude, latitude, city, region, country, continent, occurred_at, visibility)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Category.String(),
		event.Magnitude,
		event.Coords.Longitude,
		event.Coords.Latitude,
		event.Labels.City,
		event.Labels.Region,
		event.Labels.Country,
		event.Labels.Continent,
		event.OccurredAt.UTC(),
		event.Visibility,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	s.mu.RLock()
	listeners := make([]WriteListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(event)
	}

	return nil
}

// EventFilter narrows event queries. Zero values mean "no constraint"
// except Visibility, which callers should always set explicitly.
type EventFilter struct {
	Start      time.Time
	End        time.Time
	Visibility string
	Category   *models.Category
	MinMag     *float64
	MaxMag     *float64

	// Label constraints; empty strings are ignored.
	City    string
	Region  string
	Country string
}

// buildWhere translates the filter into a WHERE clause and args.
func (f EventFilter) buildWhere() (string, []interface{}) {
	clause := "WHERE occurred_at >= ? AND occurred_at < ?"
	args := []interface{}{f.Start.UTC(), f.End.UTC()}

	if f.Visibility != "" {
		clause += " AND visibility = ?"
		args = append(args, f.Visibility)
	}
	if f.Category != nil {
		clause += " AND category = ?"
		args = append(args, f.Category.String())
	}
	if f.MinMag != nil {
		clause += " AND magnitude >= ?"
		args = append(args, *f.MinMag)
	}
	if f.MaxMag != nil {
		clause += " AND magnitude <= ?"
		args = append(args, *f.MaxMag)
	}
	if f.City != "" {
		clause += " AND city = ?"
		args = append(args, f.City)
	}
	if f.Region != "" {
		clause += " AND region = ?"
		args = append(args, f.Region)
	}
	if f.Country != "" {
		clause += " AND country = ?"
		args = append(args, f.Country)
	}

	return clause, args
}

// QueryEvents returns events matching the filter. Order is unspecified;
// aggregation is commutative so callers must not depend on it.
func (s *Store) QueryEvents(ctx context.Context, filter EventFilter) ([]models.EmotionEvent, error) {
	where, args := filter.buildWhere()
	query := `
		SELECT id, category, magnitude, longitude, latitude,
		       city, region, country, continent, occurred_at, visibility
		FROM emotion_events ` + where

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.EmotionEvent
	for rows.Next() {
		var (
			e        models.EmotionEvent
			category string
		)
		if err := rows.Scan(
			&e.ID, &category, &e.Magnitude,
			&e.Coords.Longitude, &e.Coords.Latitude,
			&e.Labels.City, &e.Labels.Region, &e.Labels.Country, &e.Labels.Continent,
			&e.OccurredAt, &e.Visibility,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		cat, err := models.ParseCategory(category)
		if err != nil {
			// Skip rows with categories from a newer enumeration rather
			// than failing the whole aggregation.
			logging.Warn().Str("category", category).Str("event_id", e.ID).Msg("skipping event with unknown category")
			continue
		}
		e.Category = cat
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// CountEvents returns the number of events matching the filter.
func (s *Store) CountEvents(ctx context.Context, filter EventFilter) (int64, error) {
	where, args := filter.buildWhere()
	var count int64
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM emotion_events "+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// CategoryBreakdown returns per-category event counts for the filter.
func (s *Store) CategoryBreakdown(ctx context.Context, filter EventFilter) (map[string]int64, error) {
	where, args := filter.buildWhere()
	query := "SELECT category, COUNT(*) FROM emotion_events " + where + " GROUP BY category"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("category breakdown: %w", err)
	}
	defer rows.Close()

	breakdown := make(map[string]int64)
	for rows.Next() {
		var (
			category string
			count    int64
		)
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan breakdown: %w", err)
		}
		breakdown[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate breakdown: %w", err)
	}

	return breakdown, nil
}

// TopLocations returns the busiest city-level locations for the filter,
// suppressing locations below the k-anonymity minimum. Results are ordered
// by count descending, then by label for determinism.
func (s *Store) TopLocations(ctx context.Context, filter EventFilter, kMin int64, limit int) ([]models.LocationCount, error) {
	where, args := filter.buildWhere()
	query := `
		SELECT city, region, country, COUNT(*) AS cnt
		FROM emotion_events ` + where + `
		AND city != '' AND region != '' AND country != ''
		GROUP BY city, region, country
		HAVING COUNT(*) >= ?
		ORDER BY cnt DESC, city ASC, region ASC, country ASC
		LIMIT ?`
	args = append(args, kMin, limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("top locations: %w", err)
	}
	defer rows.Close()

	var locations []models.LocationCount
	for rows.Next() {
		var (
			city, region, country string
			count                 int64
		)
		if err := rows.Scan(&city, &region, &country, &count); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		locations = append(locations, models.LocationCount{
			LocationKey: fmt.Sprintf("city:%s,%s,%s", city, region, country),
			Count:       count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}

	return locations, nil
}
