// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/router"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/scoring"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Fakes
// =============================================================================

// memStore is an in-memory telemetry.Store for handler tests.
type memStore struct {
	mu       sync.Mutex
	events   map[string]datatypes.InteractionEvent
	patterns []datatypes.Pattern
	readyErr error
}

func newMemStore() *memStore {
	return &memStore{events: make(map[string]datatypes.InteractionEvent)}
}

func (s *memStore) InsertEvent(_ context.Context, event datatypes.InteractionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
	return nil
}

func (s *memStore) UpdateOutcome(_ context.Context, eventID string, outcome datatypes.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return telemetry.ErrEventNotFound
	}
	event.Outcome = outcome
	s.events[eventID] = event
	return nil
}

func (s *memStore) GetEvent(_ context.Context, eventID string) (datatypes.InteractionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return datatypes.InteractionEvent{}, telemetry.ErrEventNotFound
	}
	return event, nil
}

func (s *memStore) EventsSince(context.Context, time.Time, float64) ([]datatypes.InteractionEvent, error) {
	return nil, nil
}

func (s *memStore) UpsertPattern(context.Context, string, datatypes.Pattern) (bool, error) {
	return false, nil
}

func (s *memStore) FindPatternByKey(context.Context, string) (datatypes.Pattern, error) {
	return datatypes.Pattern{}, telemetry.ErrPatternNotFound
}

func (s *memStore) ListPatterns(_ context.Context, limit int) ([]datatypes.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	patterns := append([]datatypes.Pattern(nil), s.patterns...)
	if limit > 0 && len(patterns) > limit {
		patterns = patterns[:limit]
	}
	return patterns, nil
}

func (s *memStore) AppendHealthEvent(context.Context, datatypes.HealthEvent) error { return nil }

func (s *memStore) Watermark(context.Context, string) (time.Time, error) {
	return time.Time{}, nil
}

func (s *memStore) SetWatermark(context.Context, string, time.Time) error { return nil }

func (s *memStore) Ready(context.Context) error { return s.readyErr }
func (s *memStore) Close() error                { return nil }

var _ telemetry.Store = (*memStore)(nil)

type fakeSearcher struct {
	snippets []datatypes.Snippet
}

func (f *fakeSearcher) Search(context.Context, string, []string, int) ([]datatypes.Snippet, error) {
	return f.snippets, nil
}

type fakeReadinessProbe struct {
	err error
}

func (f *fakeReadinessProbe) Ready(context.Context) error { return f.err }

type fakeSnapshotter struct {
	records []datatypes.ServiceHealthRecord
}

func (f *fakeSnapshotter) Snapshot() []datatypes.ServiceHealthRecord { return f.records }

// =============================================================================
// Harness
// =============================================================================

func newTestEngine(store *memStore, searcher router.ContextSearcher) *gin.Engine {
	rt := router.New(searcher, store, scoring.NewScorer(scoring.DefaultWeights()), nil, nil, router.Config{})

	engine := gin.New()
	v1 := engine.Group("/v1")
	v1.POST("/augment", HandleAugment(rt))
	v1.POST("/interactions", HandleRecordInteraction(rt))
	v1.POST("/interactions/:id/outcome", HandleOutcomeUpdate(rt))
	v1.GET("/patterns", HandleListPatterns(store))
	v1.GET("/events/:id", HandleGetEvent(store))
	return engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)
	return recorder
}

// =============================================================================
// Augment
// =============================================================================

func TestHandleAugmentReturnsAugmentedPrompt(t *testing.T) {
	store := newMemStore()
	searcher := &fakeSearcher{snippets: []datatypes.Snippet{
		{ID: "snip-1", Text: "Restorecon resets SELinux labels.", Score: 0.88, Collection: "ContextSnippet"},
	}}
	engine := newTestEngine(store, searcher)

	recorder := doJSON(t, engine, http.MethodPost, "/v1/augment",
		datatypes.AugmentRequest{Query: "How do I fix SELinux denials for my service?"})
	require.Equal(t, http.StatusOK, recorder.Code)

	var response datatypes.AugmentResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Contains(t, response.AugmentedPrompt, "Restorecon resets SELinux labels.")
	assert.NotEmpty(t, response.EventID)
	assert.False(t, response.NoContextFound)
	require.Len(t, response.ContextHits, 1)
	assert.Equal(t, "snip-1", response.ContextHits[0].ID)
}

func TestHandleAugmentRejectsMalformedBody(t *testing.T) {
	engine := newTestEngine(newMemStore(), &fakeSearcher{})

	req := httptest.NewRequest(http.MethodPost, "/v1/augment", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHandleAugmentRejectsBlankQuery(t *testing.T) {
	engine := newTestEngine(newMemStore(), &fakeSearcher{})

	recorder := doJSON(t, engine, http.MethodPost, "/v1/augment",
		map[string]string{"query": "   "})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

// =============================================================================
// Interactions
// =============================================================================

func TestHandleRecordInteractionPersistsEvent(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, &fakeSearcher{})

	recorder := doJSON(t, engine, http.MethodPost, "/v1/interactions",
		datatypes.RecordInteractionRequest{
			Query:  "Explain podman rootless networking",
			Origin: datatypes.OriginLocal,
			Features: datatypes.ValueFeatures{
				Complexity: 0.6, Reusability: 0.7, Novelty: 0.5, Impact: 0.8,
			},
		})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var event datatypes.InteractionEvent
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &event))
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, datatypes.OriginLocal, event.Origin)
	assert.Equal(t, datatypes.OutcomeUnknown, event.Outcome)

	stored, err := store.GetEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, "Explain podman rootless networking", stored.Query)
}

func TestHandleRecordInteractionRejectsUnknownOrigin(t *testing.T) {
	engine := newTestEngine(newMemStore(), &fakeSearcher{})

	recorder := doJSON(t, engine, http.MethodPost, "/v1/interactions",
		map[string]any{"query": "q", "origin": "cloud"})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHandleOutcomeUpdate(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.InsertEvent(context.Background(), datatypes.InteractionEvent{
		ID:      "evt-1",
		Query:   "q",
		Origin:  datatypes.OriginLocal,
		Outcome: datatypes.OutcomeUnknown,
	}))
	engine := newTestEngine(store, &fakeSearcher{})

	recorder := doJSON(t, engine, http.MethodPost, "/v1/interactions/evt-1/outcome",
		datatypes.OutcomeUpdateRequest{Outcome: datatypes.OutcomeSuccess})
	require.Equal(t, http.StatusOK, recorder.Code)

	stored, err := store.GetEvent(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.OutcomeSuccess, stored.Outcome)
}

func TestHandleOutcomeUpdateUnknownEvent(t *testing.T) {
	engine := newTestEngine(newMemStore(), &fakeSearcher{})

	recorder := doJSON(t, engine, http.MethodPost, "/v1/interactions/ghost/outcome",
		datatypes.OutcomeUpdateRequest{Outcome: datatypes.OutcomeSuccess})
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestHandleOutcomeUpdateRejectsBadOutcome(t *testing.T) {
	engine := newTestEngine(newMemStore(), &fakeSearcher{})

	recorder := doJSON(t, engine, http.MethodPost, "/v1/interactions/evt-1/outcome",
		map[string]string{"outcome": "maybe"})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

// =============================================================================
// Events & Patterns
// =============================================================================

func TestHandleGetEvent(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.InsertEvent(context.Background(), datatypes.InteractionEvent{
		ID: "evt-9", Query: "q", Origin: datatypes.OriginRemote, ValueScore: 0.42,
	}))
	engine := newTestEngine(store, &fakeSearcher{})

	recorder := doJSON(t, engine, http.MethodGet, "/v1/events/evt-9", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var event datatypes.InteractionEvent
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &event))
	assert.Equal(t, "evt-9", event.ID)
	assert.InDelta(t, 0.42, event.ValueScore, 1e-9)

	recorder = doJSON(t, engine, http.MethodGet, "/v1/events/missing", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestHandleListPatterns(t *testing.T) {
	store := newMemStore()
	store.patterns = []datatypes.Pattern{
		{ID: "pat-1", Category: datatypes.CategorySkill, CanonicalText: "a", ValueScore: 0.9},
		{ID: "pat-2", Category: datatypes.CategoryErrorSolution, CanonicalText: "b", ValueScore: 0.8},
	}
	engine := newTestEngine(store, &fakeSearcher{})

	recorder := doJSON(t, engine, http.MethodGet, "/v1/patterns?limit=1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Patterns []datatypes.Pattern `json:"patterns"`
		Count    int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Patterns, 1)
	assert.Equal(t, "pat-1", body.Patterns[0].ID)
}

func TestHandleListPatternsEmpty(t *testing.T) {
	engine := newTestEngine(newMemStore(), &fakeSearcher{})

	recorder := doJSON(t, engine, http.MethodGet, "/v1/patterns", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"patterns":[]`)
}

// =============================================================================
// Health
// =============================================================================

func TestHandleLiveness(t *testing.T) {
	engine := gin.New()
	engine.GET("/health/live", HandleLiveness())

	recorder := doJSON(t, engine, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "alive")
}

func TestHandleReadiness(t *testing.T) {
	store := newMemStore()
	engine := gin.New()
	engine.GET("/health/ready", HandleReadiness(store, nil))

	recorder := doJSON(t, engine, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"context_store":"disabled"`)

	store.readyErr = errors.New("database is locked")
	recorder = doJSON(t, engine, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "not_ready")
}

func TestHandleReadinessContextStoreDown(t *testing.T) {
	store := newMemStore()
	probe := &fakeReadinessProbe{err: errors.New("connection refused")}
	engine := gin.New()
	engine.GET("/health/ready", HandleReadiness(store, probe))

	recorder := doJSON(t, engine, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code,
		"configured but unreachable context store flips readiness")
	assert.Contains(t, recorder.Body.String(), "not_ready")
	assert.Contains(t, recorder.Body.String(), "connection refused")

	probe.err = nil
	recorder = doJSON(t, engine, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"context_store":"ok"`)
}

func TestHandleDetailedHealth(t *testing.T) {
	snapshotter := &fakeSnapshotter{records: []datatypes.ServiceHealthRecord{
		{Name: "ollama", Status: datatypes.StatusHealthy},
		{Name: "weaviate", Status: datatypes.StatusHealthy},
	}}
	engine := gin.New()
	engine.GET("/health/detailed", HandleDetailedHealth(snapshotter))

	recorder := doJSON(t, engine, http.MethodGet, "/health/detailed", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"status":"healthy"`)

	snapshotter.records[1].Status = datatypes.StatusUnhealthy
	recorder = doJSON(t, engine, http.MethodGet, "/health/detailed", nil)
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"status":"unhealthy"`)
}

func TestHandleDetailedHealthUnsupervised(t *testing.T) {
	engine := gin.New()
	engine.GET("/health/detailed", HandleDetailedHealth(nil))

	recorder := doJSON(t, engine, http.MethodGet, "/health/detailed", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "unsupervised")
}
