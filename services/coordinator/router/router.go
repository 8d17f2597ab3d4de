// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package router is the request-handling core of the coordinator: it
// retrieves context for a query, assembles the augmented prompt,
// decides local-vs-remote, and records the interaction.
//
// The router is stateless per call and supports unbounded concurrent
// invocations. Both of its collaborators degrade rather than fail the
// request: an unreachable context store turns into the no-context
// path, and telemetry writes are fire-and-forget with a timeout.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
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

var routerTracer = otel.Tracer("kodiak.coordinator.router")

// ErrInvalidInput marks caller errors: empty or oversized queries,
// unknown enum values. Mapped to HTTP 400, never retried.
var ErrInvalidInput = errors.New("invalid input")

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// ContextSearcher is the vector-search capability the router consumes.
// Implemented by contextstore.Client; faked in tests.
type ContextSearcher interface {
	Search(ctx context.Context, query string, collections []string, topK int) ([]datatypes.Snippet, error)
}

// Readiness reports whether the local inference engine is currently
// able to take traffic. Implemented by the health supervisor.
type Readiness interface {
	LocalEngineReady() bool
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds router tunables. Zero values get defaults from New.
type Config struct {
	// MaxQueryBytes caps the accepted query size. Default: 8192.
	MaxQueryBytes int

	// ContextBudgetBytes caps the rendered context block. Default: 6144.
	ContextBudgetBytes int

	// TopK is the default number of hits requested per search.
	// Default: 4.
	TopK int

	// Collections are the default collections searched. Empty means
	// the context store's own defaults.
	Collections []string

	// TelemetryTimeout bounds the fire-and-forget event write.
	// Default: 2s.
	TelemetryTimeout time.Duration

	// Policy is the routing policy. Zero value gets DefaultPolicy.
	Policy Policy
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.MaxQueryBytes <= 0 {
		cfg.MaxQueryBytes = 8192
	}
	if cfg.ContextBudgetBytes <= 0 {
		cfg.ContextBudgetBytes = 6144
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.TelemetryTimeout <= 0 {
		cfg.TelemetryTimeout = 2 * time.Second
	}
	if cfg.Policy.ConfidenceThreshold <= 0 {
		cfg.Policy = DefaultPolicy()
	}
	return cfg
}

// =============================================================================
// Router
// =============================================================================

// Router augments queries and records the resulting interactions.
// Safe for concurrent use.
type Router struct {
	search    ContextSearcher
	store     telemetry.Store
	scorer    *scoring.Scorer
	metrics   *observability.Metrics
	readiness Readiness
	config    Config
}

// New creates a Router.
//
// search and readiness may be nil: a nil searcher always takes the
// no-context path (lightweight mode), and a nil readiness treats the
// local engine as never ready.
func New(search ContextSearcher, store telemetry.Store, scorer *scoring.Scorer,
	metrics *observability.Metrics, readiness Readiness, cfg Config) *Router {
	return &Router{
		search:    search,
		store:     store,
		scorer:    scorer,
		metrics:   metrics,
		readiness: readiness,
		config:    applyConfigDefaults(cfg),
	}
}

// Augment retrieves context for the query, assembles the augmented
// prompt, decides local-vs-remote, and records an interaction event.
//
// The only error returned is ErrInvalidInput; every internal
// degradation resolves to a best-effort successful response with
// explanatory flags in the payload.
func (r *Router) Augment(ctx context.Context, req datatypes.AugmentRequest) (datatypes.AugmentResponse, error) {
	ctx, span := routerTracer.Start(ctx, "Router.Augment")
	defer span.End()
	start := time.Now()

	if err := r.validate(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if r.metrics != nil {
			r.metrics.AugmentRequests.WithLabelValues("none", "invalid_input").Inc()
		}
		return datatypes.AugmentResponse{}, err
	}
	span.SetAttributes(
		attribute.Int("query.bytes", len(req.Query)),
		attribute.String("agent_type", req.AgentType),
	)

	hits := r.retrieveContext(ctx, req)

	prompt := req.Query
	noContext := len(hits) == 0
	var usedHits []datatypes.Snippet
	if !noContext {
		prompt, usedHits = AssemblePrompt(req.Query, hits, r.config.ContextBudgetBytes)
		noContext = len(usedHits) == 0
	}

	localReady := r.readiness != nil && r.readiness.LocalEngineReady()
	decision, routedTo := Decide(datatypes.Origin(req.AgentType), usedHits, localReady, r.config.Policy)
	span.SetAttributes(
		attribute.Int("context.hits", len(usedHits)),
		attribute.String("decision", string(decision)),
		attribute.String("routed_to", routedTo),
	)

	eventID := uuid.New().String()
	event := datatypes.InteractionEvent{
		ID:          eventID,
		Timestamp:   time.Now().UTC(),
		Query:       req.Query,
		Origin:      decision,
		ContextHits: toContextHits(usedHits),
		Features:    computeFeatures(req.Query, usedHits),
		Outcome:     datatypes.OutcomeUnknown,
	}
	event.ValueScore = r.scorer.Score(event.Features)
	r.recordEventAsync(event)

	if r.metrics != nil {
		r.metrics.AugmentRequests.WithLabelValues(string(decision), "success").Inc()
		r.metrics.ContextHitsPerQuery.Observe(float64(len(usedHits)))
		r.metrics.AugmentDuration.Observe(time.Since(start).Seconds())
	}

	if usedHits == nil {
		usedHits = []datatypes.Snippet{}
	}
	return datatypes.AugmentResponse{
		AugmentedPrompt: prompt,
		ContextHits:     usedHits,
		Decision:        decision,
		EventID:         eventID,
		NoContextFound:  noContext,
		RoutedTo:        routedTo,
	}, nil
}

// RecordInteraction persists an event for callers that served the
// query themselves. Unlike the augment path this write is synchronous;
// the caller explicitly asked for persistence.
func (r *Router) RecordInteraction(ctx context.Context, req datatypes.RecordInteractionRequest) (datatypes.InteractionEvent, error) {
	ctx, span := routerTracer.Start(ctx, "Router.RecordInteraction")
	defer span.End()

	if strings.TrimSpace(req.Query) == "" {
		return datatypes.InteractionEvent{}, fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	if !req.Origin.Valid() {
		return datatypes.InteractionEvent{}, fmt.Errorf("%w: unknown origin %q", ErrInvalidInput, req.Origin)
	}

	event := datatypes.InteractionEvent{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		Query:       req.Query,
		ResponseRef: req.ResponseRef,
		Origin:      req.Origin,
		ContextHits: req.ContextHits,
		Features:    req.Features,
		Outcome:     datatypes.OutcomeUnknown,
	}
	event.ValueScore = r.scorer.Score(event.Features)

	if err := r.store.InsertEvent(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return datatypes.InteractionEvent{}, err
	}
	if r.metrics != nil {
		r.metrics.EventsRecorded.WithLabelValues(string(event.Origin)).Inc()
	}
	return event, nil
}

// UpdateOutcome sets the outcome of a previously recorded event.
func (r *Router) UpdateOutcome(ctx context.Context, eventID string, outcome datatypes.Outcome) error {
	if !outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidInput, outcome)
	}
	return r.store.UpdateOutcome(ctx, eventID, outcome)
}

// =============================================================================
// Internals
// =============================================================================

func (r *Router) validate(req datatypes.AugmentRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	if len(req.Query) > r.config.MaxQueryBytes {
		return fmt.Errorf("%w: query exceeds %d bytes", ErrInvalidInput, r.config.MaxQueryBytes)
	}
	if req.AgentType != "" && !datatypes.Origin(req.AgentType).Valid() {
		return fmt.Errorf("%w: unknown agent_type %q", ErrInvalidInput, req.AgentType)
	}
	return nil
}

// retrieveContext searches the context store, degrading to no context
// on any failure. A context-store outage must never fail the request.
func (r *Router) retrieveContext(ctx context.Context, req datatypes.AugmentRequest) []datatypes.Snippet {
	if r.search == nil {
		return nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = r.config.TopK
	}
	collections := req.Collections
	if len(collections) == 0 {
		collections = r.config.Collections
	}

	hits, err := r.search.Search(ctx, req.Query, collections, topK)
	if err != nil {
		slog.Warn("Context search failed, continuing without context", "error", err)
		return nil
	}
	return hits
}

// recordEventAsync writes the event without blocking the response.
// A write that exceeds its timeout is abandoned and logged, never
// retried inline.
func (r *Router) recordEventAsync(event datatypes.InteractionEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.config.TelemetryTimeout)
		defer cancel()

		if err := r.store.InsertEvent(ctx, event); err != nil {
			slog.Error("Failed to record interaction event", "event_id", event.ID, "error", err)
			if r.metrics != nil {
				r.metrics.TelemetryWritesDropped.Inc()
			}
			return
		}
		if r.metrics != nil {
			r.metrics.EventsRecorded.WithLabelValues(string(event.Origin)).Inc()
		}
	}()
}

func toContextHits(snippets []datatypes.Snippet) []datatypes.ContextHit {
	if len(snippets) == 0 {
		return nil
	}
	hits := make([]datatypes.ContextHit, len(snippets))
	for i, s := range snippets {
		hits[i] = datatypes.ContextHit{SnippetID: s.ID, Score: s.Score}
	}
	return hits
}

// computeFeatures derives scorer inputs from what the router can see
// at request time. The outcome-driven features (confirmed, impact from
// observed effect) arrive later through the outcome update.
func computeFeatures(query string, hits []datatypes.Snippet) datatypes.ValueFeatures {
	words := len(strings.Fields(query))

	// Longer, multi-clause queries tend to encode harder problems.
	complexity := float64(words) / 50
	if complexity > 1 {
		complexity = 1
	}

	var maxScore float64
	for _, hit := range hits {
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}

	return datatypes.ValueFeatures{
		Complexity: complexity,
		// Strong context matches suggest the answer generalizes.
		Reusability: meanScore(hits),
		// No close match in the store means the interaction covers
		// ground the corpus does not.
		Novelty: 1 - maxScore,
		Impact:  0.5,
	}
}
