// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	_ "modernc.org/sqlite"
)

// =============================================================================
// Schema
// =============================================================================

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
	id            TEXT PRIMARY KEY,
	ts            INTEGER NOT NULL,
	query         TEXT NOT NULL,
	response_ref  TEXT NOT NULL DEFAULT '',
	origin        TEXT NOT NULL,
	context_hits  TEXT NOT NULL DEFAULT '[]',
	features      TEXT NOT NULL DEFAULT '{}',
	value_score   REAL NOT NULL DEFAULT 0,
	outcome       TEXT NOT NULL DEFAULT 'unknown'
);
CREATE INDEX IF NOT EXISTS idx_events_ts_score ON events(ts, value_score);

CREATE TABLE IF NOT EXISTS patterns (
	dedup_key        TEXT PRIMARY KEY,
	id               TEXT NOT NULL,
	category         TEXT NOT NULL,
	canonical_text   TEXT NOT NULL,
	source_event_ids TEXT NOT NULL DEFAULT '[]',
	value_score      REAL NOT NULL,
	first_seen       INTEGER NOT NULL,
	last_seen        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_patterns_last_seen ON patterns(last_seen);

CREATE TABLE IF NOT EXISTS health_events (
	id       TEXT PRIMARY KEY,
	ts       INTEGER NOT NULL,
	service  TEXT NOT NULL,
	kind     TEXT NOT NULL,
	from_st  TEXT NOT NULL DEFAULT '',
	to_st    TEXT NOT NULL DEFAULT '',
	action   TEXT NOT NULL DEFAULT '',
	detail   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_health_events_service_ts ON health_events(service, ts);

CREATE TABLE IF NOT EXISTS watermarks (
	name TEXT PRIMARY KEY,
	ts   INTEGER NOT NULL
);
`

// =============================================================================
// SQLite Store
// =============================================================================

// SQLiteStore implements Store on an embedded SQLite database via the
// pure-Go modernc.org/sqlite driver. Timestamps are stored as Unix
// milliseconds; list-valued columns are JSON-encoded.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the telemetry database at
// path. The parent directory is created if missing. WAL mode is
// enabled so router writes do not block extraction reads.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("telemetry database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create telemetry directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}

	// modernc.org/sqlite serializes writes internally; a single
	// connection avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure telemetry database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply telemetry schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// InsertEvent appends one interaction event.
func (s *SQLiteStore) InsertEvent(ctx context.Context, event datatypes.InteractionEvent) error {
	hits, err := json.Marshal(event.ContextHits)
	if err != nil {
		return fmt.Errorf("encode context hits: %w", err)
	}
	features, err := json.Marshal(event.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}

	outcome := event.Outcome
	if outcome == "" {
		outcome = datatypes.OutcomeUnknown
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, ts, query, response_ref, origin, context_hits, features, value_score, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.UnixMilli(), event.Query, event.ResponseRef,
		string(event.Origin), string(hits), string(features), event.ValueScore, string(outcome))
	if err != nil {
		return fmt.Errorf("insert event %s: %w", event.ID, err)
	}
	return nil
}

// UpdateOutcome sets the outcome of an existing event.
func (s *SQLiteStore) UpdateOutcome(ctx context.Context, eventID string, outcome datatypes.Outcome) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET outcome = ? WHERE id = ?`, string(outcome), eventID)
	if err != nil {
		return fmt.Errorf("update outcome for %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update outcome for %s: %w", eventID, err)
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return nil
}

// GetEvent fetches one event by id.
func (s *SQLiteStore) GetEvent(ctx context.Context, eventID string) (datatypes.InteractionEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ts, query, response_ref, origin, context_hits, features, value_score, outcome
		 FROM events WHERE id = ?`, eventID)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.InteractionEvent{}, ErrEventNotFound
	}
	if err != nil {
		return datatypes.InteractionEvent{}, fmt.Errorf("get event %s: %w", eventID, err)
	}
	return event, nil
}

// EventsSince returns events newer than the watermark with value score
// at or above minScore, oldest first.
func (s *SQLiteStore) EventsSince(ctx context.Context, since time.Time, minScore float64) ([]datatypes.InteractionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, query, response_ref, origin, context_hits, features, value_score, outcome
		 FROM events WHERE ts > ? AND value_score >= ? ORDER BY ts ASC`,
		since.UnixMilli(), minScore)
	if err != nil {
		return nil, fmt.Errorf("query events since %s: %w", since, err)
	}
	defer rows.Close()

	var events []datatypes.InteractionEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// UpsertPattern inserts or merges a pattern under its dedup key.
func (s *SQLiteStore) UpsertPattern(ctx context.Context, dedupKey string, pattern datatypes.Pattern) (bool, error) {
	existing, err := s.FindPatternByKey(ctx, dedupKey)
	if err != nil && !errors.Is(err, ErrPatternNotFound) {
		return false, err
	}

	if errors.Is(err, ErrPatternNotFound) {
		ids, merr := json.Marshal(pattern.SourceEventIDs)
		if merr != nil {
			return false, fmt.Errorf("encode source event ids: %w", merr)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO patterns (dedup_key, id, category, canonical_text, source_event_ids, value_score, first_seen, last_seen)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			dedupKey, pattern.ID, string(pattern.Category), pattern.CanonicalText,
			string(ids), pattern.ValueScore, pattern.FirstSeen.UnixMilli(), pattern.LastSeen.UnixMilli())
		if err != nil {
			return false, fmt.Errorf("insert pattern %s: %w", pattern.ID, err)
		}
		return true, nil
	}

	merged := mergeSourceIDs(existing.SourceEventIDs, pattern.SourceEventIDs)
	ids, merr := json.Marshal(merged)
	if merr != nil {
		return false, fmt.Errorf("encode source event ids: %w", merr)
	}
	score := existing.ValueScore
	if pattern.ValueScore > score {
		score = pattern.ValueScore
	}
	lastSeen := existing.LastSeen
	if pattern.LastSeen.After(lastSeen) {
		lastSeen = pattern.LastSeen
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE patterns SET source_event_ids = ?, value_score = ?, last_seen = ? WHERE dedup_key = ?`,
		string(ids), score, lastSeen.UnixMilli(), dedupKey)
	if err != nil {
		return false, fmt.Errorf("update pattern %s: %w", existing.ID, err)
	}
	return false, nil
}

// FindPatternByKey fetches a pattern by its dedup key.
func (s *SQLiteStore) FindPatternByKey(ctx context.Context, dedupKey string) (datatypes.Pattern, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, category, canonical_text, source_event_ids, value_score, first_seen, last_seen
		 FROM patterns WHERE dedup_key = ?`, dedupKey)

	pattern, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.Pattern{}, ErrPatternNotFound
	}
	if err != nil {
		return datatypes.Pattern{}, fmt.Errorf("find pattern %s: %w", dedupKey, err)
	}
	return pattern, nil
}

// ListPatterns returns patterns ordered by last-seen descending.
func (s *SQLiteStore) ListPatterns(ctx context.Context, limit int) ([]datatypes.Pattern, error) {
	query := `SELECT id, category, canonical_text, source_event_ids, value_score, first_seen, last_seen
	          FROM patterns ORDER BY last_seen DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var patterns []datatypes.Pattern
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		patterns = append(patterns, pattern)
	}
	return patterns, rows.Err()
}

// AppendHealthEvent records one supervisor transition or recovery attempt.
func (s *SQLiteStore) AppendHealthEvent(ctx context.Context, event datatypes.HealthEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO health_events (id, ts, service, kind, from_st, to_st, action, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.UnixMilli(), event.Service, event.Kind,
		string(event.From), string(event.To), event.Action, event.Detail)
	if err != nil {
		return fmt.Errorf("append health event for %s: %w", event.Service, err)
	}
	return nil
}

// Watermark returns the stored watermark for name, or the zero time.
func (s *SQLiteStore) Watermark(ctx context.Context, name string) (time.Time, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT ts FROM watermarks WHERE name = ?`, name).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark %s: %w", name, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// SetWatermark stores the watermark for name.
func (s *SQLiteStore) SetWatermark(ctx context.Context, name string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watermarks (name, ts) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET ts = excluded.ts`,
		name, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("set watermark %s: %w", name, err)
	}
	return nil
}

// Ready pings the database.
func (s *SQLiteStore) Ready(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Row Scanning
// =============================================================================

// scannable covers *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanEvent(row scannable) (datatypes.InteractionEvent, error) {
	var (
		event    datatypes.InteractionEvent
		ms       int64
		origin   string
		hits     string
		features string
		outcome  string
	)
	if err := row.Scan(&event.ID, &ms, &event.Query, &event.ResponseRef,
		&origin, &hits, &features, &event.ValueScore, &outcome); err != nil {
		return datatypes.InteractionEvent{}, err
	}

	event.Timestamp = time.UnixMilli(ms).UTC()
	event.Origin = datatypes.Origin(origin)
	event.Outcome = datatypes.Outcome(outcome)
	if err := json.Unmarshal([]byte(hits), &event.ContextHits); err != nil {
		return datatypes.InteractionEvent{}, fmt.Errorf("decode context hits: %w", err)
	}
	if err := json.Unmarshal([]byte(features), &event.Features); err != nil {
		return datatypes.InteractionEvent{}, fmt.Errorf("decode features: %w", err)
	}
	return event, nil
}

func scanPattern(row scannable) (datatypes.Pattern, error) {
	var (
		pattern  datatypes.Pattern
		category string
		ids      string
		firstMS  int64
		lastMS   int64
	)
	if err := row.Scan(&pattern.ID, &category, &pattern.CanonicalText,
		&ids, &pattern.ValueScore, &firstMS, &lastMS); err != nil {
		return datatypes.Pattern{}, err
	}

	pattern.Category = datatypes.PatternCategory(category)
	pattern.FirstSeen = time.UnixMilli(firstMS).UTC()
	pattern.LastSeen = time.UnixMilli(lastMS).UTC()
	if err := json.Unmarshal([]byte(ids), &pattern.SourceEventIDs); err != nil {
		return datatypes.Pattern{}, fmt.Errorf("decode source event ids: %w", err)
	}
	return pattern, nil
}

// mergeSourceIDs appends the new ids that are not already present,
// preserving order.
func mergeSourceIDs(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	merged := existing
	for _, id := range incoming {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, id)
	}
	return merged
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Store = (*SQLiteStore)(nil)
