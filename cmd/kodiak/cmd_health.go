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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
)

var (
	healthCoordinatorURL string
	healthJSONOutput     bool
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the supervisor's view of the managed stack",
	Long: `Queries the running coordinator's detailed health endpoint and
prints the per-service state, consecutive failure counts, and the last
recovery action taken.`,
	RunE: runHealthCommand,
}

func init() {
	healthCmd.Flags().StringVar(&healthCoordinatorURL, "url", "http://localhost:8090",
		"base URL of the running coordinator")
	healthCmd.Flags().BoolVar(&healthJSONOutput, "json", false, "output as JSON for scripting")
	rootCmd.AddCommand(healthCmd)
}

type detailedHealth struct {
	Status   string                          `json:"status"`
	Services []datatypes.ServiceHealthRecord `json:"services"`
}

func runHealthCommand(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(healthCoordinatorURL + "/health/detailed")
	if err != nil {
		return fmt.Errorf("could not reach the coordinator at %s: %w", healthCoordinatorURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}

	if healthJSONOutput {
		fmt.Println(string(body))
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		return nil
	}

	var health detailedHealth
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("failed to parse health response: %w", err)
	}

	fmt.Printf("Overall: %s\n\n", health.Status)
	for _, svc := range health.Services {
		fmt.Printf("  %-16s %-10s", svc.Name, svc.Status)
		if svc.ConsecutiveFailures > 0 {
			fmt.Printf("  failures=%d", svc.ConsecutiveFailures)
		}
		if svc.LastAction != "" {
			fmt.Printf("  last_action=%s", svc.LastAction)
		}
		if svc.AlertState {
			fmt.Printf("  ALERT")
		}
		fmt.Println()
	}

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
	return nil
}
