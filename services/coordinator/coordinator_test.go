// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/config"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
)

// lightweightConfig builds a config with every external dependency
// disabled: SQLite in a temp dir, no Weaviate, no supervisor, no OTLP.
func lightweightConfig(t *testing.T) config.KodiakConfig {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Telemetry.SQLitePath = filepath.Join(t.TempDir(), "telemetry.db")
	cfg.Telemetry.ExportPath = filepath.Join(t.TempDir(), "patterns.jsonl")
	cfg.ContextStore.Enabled = false
	cfg.Supervisor.Enabled = false
	cfg.Observability.Enabled = false
	return cfg
}

func TestNewLightweightMode(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc, err := New(lightweightConfig(t))
	require.NoError(t, err)
	require.NotNil(t, svc.Router())
}

func TestLightweightAugmentPassesQueryThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc, err := New(lightweightConfig(t))
	require.NoError(t, err)

	body, err := json.Marshal(datatypes.AugmentRequest{Query: "How do I tune WAL checkpointing?"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/augment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	svc.Router().ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response datatypes.AugmentResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "How do I tune WAL checkpointing?", response.AugmentedPrompt)
	assert.True(t, response.NoContextFound)
	assert.Equal(t, datatypes.OriginRemote, response.Decision)
	assert.NotEmpty(t, response.EventID)
}

func TestLightweightHealthEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc, err := New(lightweightConfig(t))
	require.NoError(t, err)

	for _, path := range []string{"/health/live", "/health/ready", "/health/detailed"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		recorder := httptest.NewRecorder()
		svc.Router().ServeHTTP(recorder, req)
		assert.Equal(t, http.StatusOK, recorder.Code, path)
	}
}
