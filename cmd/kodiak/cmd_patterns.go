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
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
)

var (
	patternsCoordinatorURL string
	patternsLimit          int
	patternsJSONOutput     bool
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List learned patterns, newest first",
	RunE:  runPatternsCommand,
}

func init() {
	patternsCmd.Flags().StringVar(&patternsCoordinatorURL, "url", "http://localhost:8090",
		"base URL of the running coordinator")
	patternsCmd.Flags().IntVar(&patternsLimit, "limit", 20, "maximum patterns to list")
	patternsCmd.Flags().BoolVar(&patternsJSONOutput, "json", false, "output as JSON for scripting")
	rootCmd.AddCommand(patternsCmd)
}

func runPatternsCommand(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	url := fmt.Sprintf("%s/v1/patterns?limit=%d", patternsCoordinatorURL, patternsLimit)
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("could not reach the coordinator at %s: %w", patternsCoordinatorURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coordinator returned status %d", resp.StatusCode)
	}

	var body struct {
		Patterns []datatypes.Pattern `json:"patterns"`
		Count    int                 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to parse patterns response: %w", err)
	}

	if patternsJSONOutput {
		out, err := json.MarshalIndent(body.Patterns, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if body.Count == 0 {
		fmt.Println("No patterns learned yet.")
		return nil
	}
	for _, pat := range body.Patterns {
		fmt.Printf("[%s] score=%.2f seen=%d  %s\n",
			pat.Category, pat.ValueScore, len(pat.SourceEventIDs), truncate(pat.CanonicalText, 96))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
