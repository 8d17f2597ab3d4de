// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared domain types of the coordinator:
// interaction events, extracted patterns, service health records, and
// the request/response bodies of the HTTP surface.
//
// Ownership is strict: the router creates InteractionEvents, the
// extraction worker owns Patterns, and the supervisor owns
// ServiceHealthRecords. No two components mutate the same entity type.
package datatypes

import (
	"time"
)

// =============================================================================
// Enumerations
// =============================================================================

// Origin indicates which side served an interaction.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	return o == OriginLocal || o == OriginRemote
}

// Outcome is the caller-reported result of an interaction. It starts
// as unknown and may be updated once the caller learns how the
// response worked out.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomeUnknown
}

// PatternCategory classifies an extracted pattern.
type PatternCategory string

const (
	CategorySkill         PatternCategory = "skill"
	CategoryErrorSolution PatternCategory = "error-solution"
	CategoryBestPractice  PatternCategory = "best-practice"
)

// Valid reports whether c is a known category.
func (c PatternCategory) Valid() bool {
	switch c {
	case CategorySkill, CategoryErrorSolution, CategoryBestPractice:
		return true
	}
	return false
}

// ServiceStatus is the supervisor's classification of a managed service.
type ServiceStatus string

const (
	StatusUnknown   ServiceStatus = "unknown"
	StatusHealthy   ServiceStatus = "healthy"
	StatusDegraded  ServiceStatus = "degraded"
	StatusUnhealthy ServiceStatus = "unhealthy"
)

// ProbeOutcome is the result of a single health probe.
type ProbeOutcome string

const (
	// ProbeOK means the service responded within the latency threshold.
	ProbeOK ProbeOutcome = "ok"

	// ProbeSlow means the service responded, but above the latency
	// threshold.
	ProbeSlow ProbeOutcome = "slow"

	// ProbeFail means the probe errored or got no response.
	ProbeFail ProbeOutcome = "fail"

	// ProbeMissing means the underlying process is not running at all.
	ProbeMissing ProbeOutcome = "missing"
)

// =============================================================================
// Core Entities
// =============================================================================

// ContextHit records one snippet used to augment a query, by id and
// similarity score.
type ContextHit struct {
	SnippetID string  `json:"snippet_id"`
	Score     float64 `json:"score"`
}

// ValueFeatures are the inputs to the value scorer. All continuous
// features are expected in [0,1].
type ValueFeatures struct {
	Complexity  float64 `json:"complexity"`
	Reusability float64 `json:"reusability"`
	Novelty     float64 `json:"novelty"`
	Impact      float64 `json:"impact"`

	// Confirmed is set when a caller explicitly confirmed the response
	// was useful. It applies a bonus, never a penalty.
	Confirmed bool `json:"confirmed"`
}

// InteractionEvent is one record per served query. Created by the
// router at request completion; outcome is the only mutable field,
// updated via an explicit call. Events are never deleted by the
// coordinator; retention is an external policy.
type InteractionEvent struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Query       string        `json:"query"`
	ResponseRef string        `json:"response_ref,omitempty"`
	Origin      Origin        `json:"origin"`
	ContextHits []ContextHit  `json:"context_hits,omitempty"`
	Features    ValueFeatures `json:"features"`
	ValueScore  float64       `json:"value_score"`
	Outcome     Outcome       `json:"outcome"`
}

// Pattern is a deduplicated, high-value distillation of one or more
// interaction events. Its value score is always at or above the
// promotion threshold; the extraction worker enforces this at
// creation and update time.
type Pattern struct {
	ID             string          `json:"id"`
	Category       PatternCategory `json:"category"`
	CanonicalText  string          `json:"canonical_text"`
	SourceEventIDs []string        `json:"source_event_ids"`
	ValueScore     float64         `json:"value_score"`
	FirstSeen      time.Time       `json:"first_seen"`
	LastSeen       time.Time       `json:"last_seen"`
}

// ServiceHealthRecord is the supervisor's view of one managed service.
type ServiceHealthRecord struct {
	Name                string        `json:"name"`
	LastCheck           time.Time     `json:"last_check"`
	Status              ServiceStatus `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastRecoveryAction  time.Time     `json:"last_recovery_action,omitempty"`
	LastAction          string        `json:"last_action,omitempty"`

	// AlertState is set once the escalation cap is exhausted; the
	// supervisor stops acting on the service until an operator
	// intervenes.
	AlertState bool `json:"alert_state,omitempty"`
}

// HealthEvent is the audit-trail record appended to the telemetry
// store for every state transition and recovery attempt.
type HealthEvent struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Service   string        `json:"service"`
	Kind      string        `json:"kind"` // "transition" or "recovery"
	From      ServiceStatus `json:"from,omitempty"`
	To        ServiceStatus `json:"to,omitempty"`
	Action    string        `json:"action,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

// Snippet is a ranked piece of retrieved text used to augment a
// query. Owned by the context store; read-only to the coordinator
// except for pattern publication.
type Snippet struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	Collection string         `json:"collection"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// =============================================================================
// HTTP Bodies
// =============================================================================

// AugmentRequest is the body of POST /v1/augment.
type AugmentRequest struct {
	Query       string   `json:"query" binding:"required"`
	AgentType   string   `json:"agent_type,omitempty"`
	Collections []string `json:"collections,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
}

// AugmentResponse is the body returned by POST /v1/augment.
type AugmentResponse struct {
	AugmentedPrompt string    `json:"augmented_prompt"`
	ContextHits     []Snippet `json:"context_hits"`
	Decision        Origin    `json:"decision"`
	EventID         string    `json:"event_id"`
	NoContextFound  bool      `json:"no_context_found"`
	RoutedTo        string    `json:"routed_to"`
}

// RecordInteractionRequest is the body of POST /v1/interactions, for
// callers that serve a query themselves and only want it scored and
// persisted.
type RecordInteractionRequest struct {
	Query       string        `json:"query" binding:"required"`
	ResponseRef string        `json:"response_ref,omitempty"`
	Origin      Origin        `json:"origin" binding:"required"`
	ContextHits []ContextHit  `json:"context_hits,omitempty"`
	Features    ValueFeatures `json:"features"`
}

// OutcomeUpdateRequest is the body of POST /v1/interactions/:id/outcome.
type OutcomeUpdateRequest struct {
	Outcome Outcome `json:"outcome" binding:"required"`
}
