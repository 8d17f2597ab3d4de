// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry persists interaction events, extracted patterns,
// and the supervisor's audit trail.
//
// The Store interface is injected into every component that needs
// telemetry; nothing in the coordinator reaches for ambient globals.
// The production implementation is SQLite (see sqlite.go); tests use
// in-memory fakes behind the same interface.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
)

// Sentinel errors for callers using errors.Is.
var (
	// ErrEventNotFound is returned when an event id does not exist.
	ErrEventNotFound = errors.New("interaction event not found")

	// ErrPatternNotFound is returned when a pattern lookup misses.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrUnavailable is returned when the backing store cannot be
	// reached. Callers on the request path degrade instead of failing.
	ErrUnavailable = errors.New("telemetry store unavailable")
)

// Store is the relational telemetry capability consumed by the router,
// the extraction worker, and the supervisor.
//
// Implementations must be safe for concurrent use. Events are
// append-only except for the outcome field; patterns are upserted only
// by the extraction worker.
type Store interface {
	// InsertEvent appends one interaction event.
	InsertEvent(ctx context.Context, event datatypes.InteractionEvent) error

	// UpdateOutcome sets the outcome of an existing event. Returns
	// ErrEventNotFound if the id is unknown.
	UpdateOutcome(ctx context.Context, eventID string, outcome datatypes.Outcome) error

	// GetEvent fetches one event by id. Returns ErrEventNotFound if
	// the id is unknown.
	GetEvent(ctx context.Context, eventID string) (datatypes.InteractionEvent, error)

	// EventsSince returns events with timestamp strictly after the
	// watermark and value score at or above minScore, ordered by
	// timestamp ascending.
	EventsSince(ctx context.Context, since time.Time, minScore float64) ([]datatypes.InteractionEvent, error)

	// UpsertPattern inserts a new pattern or, when a pattern with the
	// same dedup key exists, bumps last-seen, merges source event ids,
	// and keeps the higher value score. Returns true when a new
	// pattern row was created.
	UpsertPattern(ctx context.Context, dedupKey string, pattern datatypes.Pattern) (created bool, err error)

	// FindPatternByKey fetches a pattern by its dedup key. Returns
	// ErrPatternNotFound on a miss.
	FindPatternByKey(ctx context.Context, dedupKey string) (datatypes.Pattern, error)

	// ListPatterns returns all patterns ordered by last-seen
	// descending, bounded by limit (<=0 means no bound).
	ListPatterns(ctx context.Context, limit int) ([]datatypes.Pattern, error)

	// AppendHealthEvent records one supervisor transition or recovery
	// attempt.
	AppendHealthEvent(ctx context.Context, event datatypes.HealthEvent) error

	// Watermark returns the stored watermark for the named worker, or
	// the zero time if none has been recorded.
	Watermark(ctx context.Context, name string) (time.Time, error)

	// SetWatermark stores the watermark for the named worker.
	SetWatermark(ctx context.Context, name string, ts time.Time) error

	// Ready reports whether the backing store is reachable.
	Ready(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
