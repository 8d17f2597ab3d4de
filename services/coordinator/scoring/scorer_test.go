// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scoring

import (
	"testing"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	"github.com/stretchr/testify/assert"
)

func TestScoreEqualWeights(t *testing.T) {
	scorer := NewScorer(DefaultWeights())

	tests := []struct {
		name     string
		features datatypes.ValueFeatures
		want     float64
	}{
		{
			name:     "all zero",
			features: datatypes.ValueFeatures{},
			want:     0,
		},
		{
			name: "all max unconfirmed",
			features: datatypes.ValueFeatures{
				Complexity: 1, Reusability: 1, Novelty: 1, Impact: 1,
			},
			want: 1,
		},
		{
			name: "mid-range",
			features: datatypes.ValueFeatures{
				Complexity: 0.4, Reusability: 0.8, Novelty: 0.2, Impact: 0.6,
			},
			want: 0.5,
		},
		{
			name: "confirmed bonus applies",
			features: datatypes.ValueFeatures{
				Complexity: 0.8, Reusability: 0.8, Novelty: 0.8, Impact: 0.8,
				Confirmed: true,
			},
			want: 0.92, // 0.8 * 1.15
		},
		{
			name: "confirmed bonus capped at 1",
			features: datatypes.ValueFeatures{
				Complexity: 1, Reusability: 1, Novelty: 1, Impact: 1,
				Confirmed: true,
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, scorer.Score(tt.features), 1e-9)
		})
	}
}

// TestScoreMonotonicity sweeps a grid of feature vectors and checks
// that increasing any single feature never decreases the score.
func TestScoreMonotonicity(t *testing.T) {
	scorer := NewScorer(Weights{Complexity: 0.4, Reusability: 0.3, Novelty: 0.2, Impact: 0.1})

	steps := []float64{0, 0.25, 0.5, 0.75, 1}
	bump := 0.2

	for _, c := range steps {
		for _, r := range steps {
			for _, n := range steps {
				for _, i := range steps {
					base := datatypes.ValueFeatures{Complexity: c, Reusability: r, Novelty: n, Impact: i}
					baseScore := scorer.Score(base)

					variants := []datatypes.ValueFeatures{
						{Complexity: c + bump, Reusability: r, Novelty: n, Impact: i},
						{Complexity: c, Reusability: r + bump, Novelty: n, Impact: i},
						{Complexity: c, Reusability: r, Novelty: n + bump, Impact: i},
						{Complexity: c, Reusability: r, Novelty: n, Impact: i + bump},
					}
					for _, v := range variants {
						assert.GreaterOrEqual(t, scorer.Score(v), baseScore,
							"bumping a feature decreased the score: base=%+v variant=%+v", base, v)
					}

					confirmed := base
					confirmed.Confirmed = true
					assert.GreaterOrEqual(t, scorer.Score(confirmed), baseScore,
						"confirmed flag decreased the score for %+v", base)
				}
			}
		}
	}
}

func TestScoreClampsOutOfRangeInputs(t *testing.T) {
	scorer := NewScorer(DefaultWeights())

	score := scorer.Score(datatypes.ValueFeatures{
		Complexity: 5, Reusability: -3, Novelty: 1, Impact: 1,
	})
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestNegativeWeightsClampedAtConstruction(t *testing.T) {
	scorer := NewScorer(Weights{Complexity: -1, Reusability: 0.5, Novelty: 0.5, Impact: 0})

	low := scorer.Score(datatypes.ValueFeatures{Complexity: 0, Reusability: 0.5, Novelty: 0.5})
	high := scorer.Score(datatypes.ValueFeatures{Complexity: 1, Reusability: 0.5, Novelty: 0.5})
	assert.GreaterOrEqual(t, high, low)
}

func TestIsHighValue(t *testing.T) {
	assert.False(t, IsHighValue(0.699))
	assert.True(t, IsHighValue(0.7))
	assert.True(t, IsHighValue(1))
}
