// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extraction runs the continuous-learning batch: it scans
// recent high-value interaction events, deduplicates them by
// normalized canonical text and category, upserts them as patterns,
// and appends logically new patterns to the fine-tuning export.
//
// The worker owns the extraction watermark. The watermark advances
// only after a fully successful run; a partial failure leaves it in
// place so the next run reprocesses the same window, which the dedup
// key makes idempotent.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/observability"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/scoring"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var extractionTracer = otel.Tracer("kodiak.coordinator.extraction")

// ErrExtractionPartial marks a run that wrote some but not all
// patterns. The watermark is not advanced; the next run retries the
// same window.
var ErrExtractionPartial = errors.New("extraction batch partially failed")

// watermarkName keys the worker's watermark in the telemetry store.
const watermarkName = "extraction"

// PatternPublisher pushes promoted patterns back into the context
// store. Implemented by contextstore.Client; may be nil when the
// vector store is not configured.
type PatternPublisher interface {
	PublishPattern(ctx context.Context, pattern datatypes.Pattern) error
}

// Config holds worker tunables.
type Config struct {
	// Interval between extraction runs. Default: 1 hour.
	Interval time.Duration

	// Threshold is the minimum value score for promotion.
	// Default: scoring.HighValueThreshold.
	Threshold float64
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = scoring.HighValueThreshold
	}
	return cfg
}

// Stats summarizes one extraction run.
type Stats struct {
	Created int
	Updated int
	Skipped int
}

// Worker is the pattern extraction batch job. Runs are single-flight:
// a tick that fires while the previous run is still active is
// skipped, not queued.
type Worker struct {
	store     telemetry.Store
	publisher PatternPublisher
	exporter  *JSONLExporter
	metrics   *observability.Metrics
	config    Config

	// running enforces single-flight via TryLock.
	running sync.Mutex
}

// New creates a Worker. publisher, exporter, and metrics may be nil.
func New(store telemetry.Store, publisher PatternPublisher, exporter *JSONLExporter,
	metrics *observability.Metrics, cfg Config) *Worker {
	return &Worker{
		store:     store,
		publisher: publisher,
		exporter:  exporter,
		metrics:   metrics,
		config:    applyConfigDefaults(cfg),
	}
}

// Run executes extraction on the configured interval until ctx is
// cancelled. A failed run is logged and the schedule continues.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	slog.Info("Pattern extraction worker started", "interval", w.config.Interval.String())

	for {
		select {
		case <-ctx.Done():
			slog.Info("Pattern extraction worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick runs one extraction pass, skipping if a previous pass is still
// in flight.
func (w *Worker) tick(ctx context.Context) {
	if !w.running.TryLock() {
		slog.Warn("Skipping extraction tick, previous run still active")
		if w.metrics != nil {
			w.metrics.ExtractionRuns.WithLabelValues("skipped_overlap").Inc()
		}
		return
	}
	defer w.running.Unlock()

	stats, err := w.ExtractPatterns(ctx)
	if err != nil {
		slog.Error("Pattern extraction run failed", "error", err,
			"created", stats.Created, "updated", stats.Updated, "skipped", stats.Skipped)
		if w.metrics != nil {
			w.metrics.ExtractionRuns.WithLabelValues("partial_failure").Inc()
		}
		return
	}
	if w.metrics != nil {
		w.metrics.ExtractionRuns.WithLabelValues("success").Inc()
	}
	slog.Info("Pattern extraction run complete",
		"created", stats.Created, "updated", stats.Updated, "skipped", stats.Skipped)
}

// ExtractPatterns processes all events past the watermark with value
// score at or above the threshold.
//
// On full success the watermark advances to the newest processed
// event's timestamp. On partial failure it returns
// ErrExtractionPartial and leaves the watermark unchanged.
func (w *Worker) ExtractPatterns(ctx context.Context) (Stats, error) {
	ctx, span := extractionTracer.Start(ctx, "Worker.ExtractPatterns")
	defer span.End()

	var stats Stats

	watermark, err := w.store.Watermark(ctx, watermarkName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, fmt.Errorf("read watermark: %w", err)
	}

	events, err := w.store.EventsSince(ctx, watermark, w.config.Threshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, fmt.Errorf("fetch events: %w", err)
	}
	span.SetAttributes(attribute.Int("events", len(events)))
	if len(events) == 0 {
		return stats, nil
	}

	var (
		maxTS    time.Time
		partial  bool
		seenKeys = make(map[string]bool)
		exported = make(map[string]bool)
	)

	for _, event := range events {
		if event.Timestamp.After(maxTS) {
			maxTS = event.Timestamp
		}

		category := InferCategory(event)
		key := DedupKey(category, event.Query)
		if seenKeys[key] {
			// Same pattern already handled this run; just fold the
			// event in as an additional source.
			stats.Skipped++
			if _, err := w.store.UpsertPattern(ctx, key, patternFromEvent(event, category)); err != nil {
				partial = true
				slog.Error("Failed to merge event into pattern", "event_id", event.ID, "error", err)
			}
			continue
		}
		seenKeys[key] = true

		created, err := w.store.UpsertPattern(ctx, key, patternFromEvent(event, category))
		if err != nil {
			partial = true
			slog.Error("Failed to upsert pattern", "event_id", event.ID, "error", err)
			continue
		}
		if created {
			stats.Created++
		} else {
			stats.Updated++
		}
		if w.metrics != nil {
			result := "updated"
			if created {
				result = "created"
			}
			w.metrics.PatternsExtracted.WithLabelValues(result).Inc()
		}

		pattern, err := w.store.FindPatternByKey(ctx, key)
		if err != nil {
			partial = true
			slog.Error("Failed to reload pattern after upsert", "key", key, "error", err)
			continue
		}

		// Export once per dedup key per run: the same key never
		// produces a duplicate append within a run.
		if w.exporter != nil && created && !exported[key] {
			exported[key] = true
			if err := w.exporter.Append(ExportRecord{
				PatternID:      pattern.ID,
				Category:       pattern.Category,
				CanonicalText:  pattern.CanonicalText,
				ValueScore:     pattern.ValueScore,
				SourceEventIDs: pattern.SourceEventIDs,
				ExportedAt:     time.Now().UTC(),
			}); err != nil {
				partial = true
				slog.Error("Failed to append export record", "pattern_id", pattern.ID, "error", err)
			}
		}

		// Publication back into the context store is best-effort; a
		// vector-store outage does not fail the batch.
		if w.publisher != nil && created {
			if err := w.publisher.PublishPattern(ctx, pattern); err != nil {
				slog.Warn("Failed to publish pattern to context store",
					"pattern_id", pattern.ID, "error", err)
			}
		}
	}

	if partial {
		span.SetStatus(codes.Error, ErrExtractionPartial.Error())
		return stats, ErrExtractionPartial
	}

	if err := w.store.SetWatermark(ctx, watermarkName, maxTS); err != nil {
		span.RecordError(err)
		return stats, fmt.Errorf("advance watermark: %w", err)
	}
	return stats, nil
}

func patternFromEvent(event datatypes.InteractionEvent, category datatypes.PatternCategory) datatypes.Pattern {
	return datatypes.Pattern{
		ID:             uuid.New().String(),
		Category:       category,
		CanonicalText:  event.Query,
		SourceEventIDs: []string{event.ID},
		ValueScore:     event.ValueScore,
		FirstSeen:      event.Timestamp,
		LastSeen:       event.Timestamp,
	}
}
