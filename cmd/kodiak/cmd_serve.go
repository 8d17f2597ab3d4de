// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/KodiakAI/KodiakLocal/pkg/logging"
	"github.com/KodiakAI/KodiakLocal/services/coordinator"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/config"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator service",
	Long: `Starts the coordinator: the augmentation and routing API on the
configured listen address, the background pattern extraction worker,
and the health supervisor. Blocks until SIGINT/SIGTERM.`,
	RunE: runServeCommand,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "",
		"path to kodiak.yaml (default ~/.kodiak/kodiak.yaml)")
	rootCmd.AddCommand(serveCmd)
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	var cfg config.KodiakConfig
	var err error
	if serveConfigPath != "" {
		cfg, err = config.LoadFrom(serveConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(logging.Config{
		Service:  "coordinator",
		Level:    logging.ParseLevel(cfg.Logging.Level),
		FilePath: cfg.Logging.File,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	svc, err := coordinator.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize coordinator: %w", err)
	}
	return svc.Run()
}
