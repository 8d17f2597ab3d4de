// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"Warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Service: "test-svc", Output: &buf})

	logger.Info("hello", "count", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "test-svc", record["service"])
	assert.Equal(t, float64(3), record["count"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	logger.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})

	child := logger.With("request_id", "abc-123")
	child.Info("handled")

	assert.Contains(t, buf.String(), "abc-123")
}

func TestLoggerFileMirroring(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "coordinator.log")

	var buf bytes.Buffer
	logger := New(Config{FilePath: path, Output: &buf})
	logger.Info("mirrored line")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mirrored line")
	assert.Contains(t, buf.String(), "mirrored line")
}

func TestBufferedExporterReceivesEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	var buf bytes.Buffer
	logger := New(Config{Service: "test-svc", Exporter: exporter, Output: &buf})

	logger.Info("first", "k", "v")
	logger.Error("second")
	logger.Debug("filtered out")

	entries := exporter.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, "v", entries[0].Attrs["k"])
	assert.Equal(t, LevelError, entries[1].Level)
}

func TestArgsToMapSkipsMalformedPairs(t *testing.T) {
	m := argsToMap([]any{"a", 1, 42, "orphan-key-value", "b"})
	assert.Equal(t, map[string]any{"a": 1}, m)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got := expandPath("~/x/y.log")
	assert.True(t, strings.HasPrefix(got, home))
	assert.Equal(t, "/abs/path.log", expandPath("/abs/path.log"))
}
