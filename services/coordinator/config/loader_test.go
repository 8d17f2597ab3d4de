// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".kodiak", "kodiak.yaml")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "first run writes the config file")

	assert.Equal(t, ":8090", cfg.Server.ListenAddr)
	assert.InDelta(t, 0.6, cfg.Routing.ConfidenceThreshold, 1e-9)
	assert.InDelta(t, 0.7, cfg.Extraction.Threshold, 1e-9)
	assert.Equal(t, 3, cfg.Supervisor.FailureThreshold)
	assert.Equal(t, "ollama", cfg.Supervisor.LocalEngine)
}

func TestLoadFromMergesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kodiak.yaml")
	partial := `
server:
  listen_addr: ":9999"
routing:
  confidence_threshold: 0.8
`
	require.NoError(t, os.WriteFile(path, []byte(partial), 0644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.InDelta(t, 0.8, cfg.Routing.ConfidenceThreshold, 1e-9)
	// Unspecified sections keep their defaults.
	assert.Equal(t, time.Hour, cfg.Extraction.Interval)
	assert.Equal(t, 4, cfg.ContextStore.TopK)
}

func TestLoadFromRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"threshold above one", "routing:\n  confidence_threshold: 1.5\n"},
		{"bad log level", "logging:\n  level: verbose\n"},
		{"bad weaviate url", "context_store:\n  weaviate_url: not-a-url\n"},
		{"service missing probe url", "supervisor:\n  services:\n    - name: ollama\n      probe_url: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "kodiak.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))

			_, err := LoadFrom(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kodiak.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not: a map"), 0644))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KODIAK_LISTEN_ADDR", ":7070")
	t.Setenv("WEAVIATE_URL", "http://weaviate:8080")
	t.Setenv("KODIAK_LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "kodiak.yaml")
	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
	assert.Equal(t, "http://weaviate:8080", cfg.ContextStore.WeaviateURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
