// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the coordinator's YAML configuration with env
// overrides for containerized deployments. First run writes the
// defaults to disk so operators have a file to edit.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load reads the config at the default path, creating it with defaults
// on first run. The KODIAK_CONFIG env var overrides the path.
func Load() (KodiakConfig, error) {
	path := os.Getenv("KODIAK_CONFIG")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return KodiakConfig{}, fmt.Errorf("could not find the user's home directory: %w", err)
		}
		path = filepath.Join(home, ".kodiak", "kodiak.yaml")
	}
	return LoadFrom(path)
}

// LoadFrom reads, env-overrides, and validates the config at path. A
// missing file is created with defaults first.
func LoadFrom(path string) (KodiakConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return KodiakConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return KodiakConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return KodiakConfig{}, fmt.Errorf("failed to parse the config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := validate.Struct(cfg); err != nil {
		return KodiakConfig{}, fmt.Errorf("invalid config at %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides maps the small set of env vars used by container
// deployments onto the loaded config.
func applyEnvOverrides(cfg *KodiakConfig) {
	if v := os.Getenv("KODIAK_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("WEAVIATE_URL"); v != "" {
		cfg.ContextStore.WeaviateURL = v
	}
	if v := os.Getenv("KODIAK_SQLITE_PATH"); v != "" {
		cfg.Telemetry.SQLitePath = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.OTLPEndpoint = v
		cfg.Observability.Enabled = true
	}
	if v := os.Getenv("KODIAK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
