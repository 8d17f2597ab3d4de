// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"testing"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	"github.com/stretchr/testify/assert"
)

func TestNextStateTransitions(t *testing.T) {
	const threshold = 3

	tests := []struct {
		name     string
		current  datatypes.ServiceStatus
		failures int
		outcome  datatypes.ProbeOutcome
		want     datatypes.ServiceStatus
	}{
		{"unknown recovers on first ok", datatypes.StatusUnknown, 0, datatypes.ProbeOK, datatypes.StatusHealthy},
		{"healthy stays healthy on ok", datatypes.StatusHealthy, 0, datatypes.ProbeOK, datatypes.StatusHealthy},
		{"healthy degrades on one fail", datatypes.StatusHealthy, 1, datatypes.ProbeFail, datatypes.StatusDegraded},
		{"healthy degrades on slow", datatypes.StatusHealthy, 1, datatypes.ProbeSlow, datatypes.StatusDegraded},
		{"unknown degrades on fail", datatypes.StatusUnknown, 1, datatypes.ProbeFail, datatypes.StatusDegraded},
		{"degraded holds below threshold", datatypes.StatusDegraded, 2, datatypes.ProbeFail, datatypes.StatusDegraded},
		{"degraded trips at threshold", datatypes.StatusDegraded, 3, datatypes.ProbeFail, datatypes.StatusUnhealthy},
		{"unknown trips at threshold", datatypes.StatusUnknown, 3, datatypes.ProbeMissing, datatypes.StatusUnhealthy},
		{"unhealthy holds on fail", datatypes.StatusUnhealthy, 4, datatypes.ProbeFail, datatypes.StatusUnhealthy},
		{"unhealthy holds on slow", datatypes.StatusUnhealthy, 5, datatypes.ProbeSlow, datatypes.StatusUnhealthy},
		{"unhealthy recovers on single ok", datatypes.StatusUnhealthy, 0, datatypes.ProbeOK, datatypes.StatusHealthy},
		{"degraded recovers on single ok", datatypes.StatusDegraded, 0, datatypes.ProbeOK, datatypes.StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextState(tt.current, tt.failures, tt.outcome, threshold)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Replays the canonical incident shape: one good probe, then three
// consecutive failures.
func TestNextStateFailureSequence(t *testing.T) {
	const threshold = 3

	state := datatypes.StatusUnknown
	failures := 0

	sequence := []datatypes.ProbeOutcome{
		datatypes.ProbeOK,
		datatypes.ProbeFail,
		datatypes.ProbeFail,
		datatypes.ProbeFail,
	}
	want := []datatypes.ServiceStatus{
		datatypes.StatusHealthy,
		datatypes.StatusDegraded,
		datatypes.StatusDegraded,
		datatypes.StatusUnhealthy,
	}

	for i, outcome := range sequence {
		if outcome == datatypes.ProbeOK {
			failures = 0
		} else {
			failures++
		}
		state = NextState(state, failures, outcome, threshold)
		assert.Equal(t, want[i], state, "step %d", i)
	}
}

// A service whose process never started goes UNKNOWN -> DEGRADED ->
// DEGRADED -> UNHEALTHY on three missing probes.
func TestNextStateMissingFromUnknown(t *testing.T) {
	const threshold = 3

	state := datatypes.StatusUnknown
	for failures := 1; failures <= 3; failures++ {
		state = NextState(state, failures, datatypes.ProbeMissing, threshold)
	}
	assert.Equal(t, datatypes.StatusUnhealthy, state)
}
