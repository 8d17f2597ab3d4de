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
	"time"
)

// KodiakConfig is the operator-facing configuration of the
// coordinator, read from ~/.kodiak/kodiak.yaml.
type KodiakConfig struct {
	// Server: HTTP listen settings.
	Server ServerConfig `yaml:"server"`

	// ContextStore: vector retrieval settings.
	ContextStore ContextStoreConfig `yaml:"context_store"`

	// Telemetry: relational persistence settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Routing: query routing policy.
	Routing RoutingConfig `yaml:"routing"`

	// Scoring: value-score weights.
	Scoring ScoringConfig `yaml:"scoring"`

	// Extraction: pattern extraction worker.
	Extraction ExtractionConfig `yaml:"extraction"`

	// Supervisor: self-healing loop.
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// Observability: tracing export.
	Observability ObservabilityConfig `yaml:"observability"`

	// Logging: structured log settings.
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" validate:"required"`
}

type ContextStoreConfig struct {
	// Enabled toggles vector retrieval. When false the coordinator
	// runs in lightweight mode: augmentation passes queries through.
	Enabled bool `yaml:"enabled"`

	WeaviateURL string   `yaml:"weaviate_url" validate:"omitempty,url"`
	TopK        int      `yaml:"top_k" validate:"gte=0,lte=50"`
	MinScore    float64  `yaml:"min_score" validate:"gte=0,lte=1"`
	Collections []string `yaml:"collections"`

	// CachePath holds the embedding cache; empty means in-memory.
	CachePath string        `yaml:"cache_path"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type TelemetryConfig struct {
	SQLitePath string `yaml:"sqlite_path" validate:"required"`

	// ExportPath is the JSONL pattern export file.
	ExportPath string `yaml:"export_path"`
}

type RoutingConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	MaxQueryBytes       int     `yaml:"max_query_bytes" validate:"gte=0"`
	ContextBudgetBytes  int     `yaml:"context_budget_bytes" validate:"gte=0"`
}

type ScoringConfig struct {
	Complexity  float64 `yaml:"complexity" validate:"gte=0"`
	Reusability float64 `yaml:"reusability" validate:"gte=0"`
	Novelty     float64 `yaml:"novelty" validate:"gte=0"`
	Impact      float64 `yaml:"impact" validate:"gte=0"`
}

type ExtractionConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Threshold float64       `yaml:"threshold" validate:"gte=0,lte=1"`
}

type SupervisorConfig struct {
	Enabled          bool                `yaml:"enabled"`
	Services         []SupervisedService `yaml:"services" validate:"dive"`
	Interval         time.Duration       `yaml:"interval"`
	FailureThreshold int                 `yaml:"failure_threshold" validate:"gte=0"`
	Cooldown         time.Duration       `yaml:"cooldown"`
	MaxAttempts      int                 `yaml:"max_attempts" validate:"gte=0"`
	StackDir         string              `yaml:"stack_dir"`
	LocalEngine      string              `yaml:"local_engine"`
}

type SupervisedService struct {
	Name     string `yaml:"name" validate:"required"`
	ProbeURL string `yaml:"probe_url" validate:"required,url"`
}

type ObservabilityConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the config written on first run: local-only,
// lightweight retrieval off until Weaviate is provisioned, supervisor
// watching the standard stack.
func DefaultConfig() KodiakConfig {
	dataDir := ".kodiak"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".kodiak")
	}

	return KodiakConfig{
		Server: ServerConfig{
			ListenAddr: ":8090",
		},
		ContextStore: ContextStoreConfig{
			Enabled:     true,
			WeaviateURL: "http://localhost:8080",
			TopK:        4,
			MinScore:    0.5,
			CachePath:   filepath.Join(dataDir, "embedcache"),
			CacheTTL:    5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			SQLitePath: filepath.Join(dataDir, "telemetry.db"),
			ExportPath: filepath.Join(dataDir, "patterns.jsonl"),
		},
		Routing: RoutingConfig{
			ConfidenceThreshold: 0.6,
			MaxQueryBytes:       8192,
			ContextBudgetBytes:  6144,
		},
		Scoring: ScoringConfig{
			Complexity:  0.25,
			Reusability: 0.25,
			Novelty:     0.25,
			Impact:      0.25,
		},
		Extraction: ExtractionConfig{
			Interval:  time.Hour,
			Threshold: 0.7,
		},
		Supervisor: SupervisorConfig{
			Enabled: true,
			Services: []SupervisedService{
				{Name: "ollama", ProbeURL: "http://localhost:11434/api/version"},
				{Name: "weaviate", ProbeURL: "http://localhost:8080/v1/.well-known/ready"},
			},
			Interval:         30 * time.Second,
			FailureThreshold: 3,
			Cooldown:         60 * time.Second,
			MaxAttempts:      3,
			LocalEngine:      "ollama",
		},
		Observability: ObservabilityConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
