// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scoring computes the learning value of an interaction.
//
// The scorer is a pure function over the event's feature vector. The
// weights are configuration, not contract; the hard invariant is
// monotonicity: increasing any single feature never decreases the
// score, and a confirmed interaction never scores below the same
// interaction unconfirmed.
package scoring

import (
	"math"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
)

// HighValueThreshold is the promotion gate: events scoring at or above
// it are eligible for pattern extraction.
const HighValueThreshold = 0.7

// confirmedBonus is the multiplier applied when the caller confirmed
// the response was useful. The result is capped at 1.
const confirmedBonus = 1.15

// Weights are the relative contributions of each continuous feature.
// They do not need to sum to 1, but keeping them normalized preserves
// the full [0,1] output range.
type Weights struct {
	Complexity  float64 `yaml:"complexity"`
	Reusability float64 `yaml:"reusability"`
	Novelty     float64 `yaml:"novelty"`
	Impact      float64 `yaml:"impact"`
}

// DefaultWeights returns equal weighting across all four features.
func DefaultWeights() Weights {
	return Weights{
		Complexity:  0.25,
		Reusability: 0.25,
		Novelty:     0.25,
		Impact:      0.25,
	}
}

// Scorer maps feature vectors to value scores. Safe for concurrent use;
// it holds no mutable state.
type Scorer struct {
	weights Weights
}

// NewScorer creates a Scorer with the given weights. Negative weights
// would break monotonicity, so they are clamped to zero.
func NewScorer(w Weights) *Scorer {
	w.Complexity = math.Max(0, w.Complexity)
	w.Reusability = math.Max(0, w.Reusability)
	w.Novelty = math.Max(0, w.Novelty)
	w.Impact = math.Max(0, w.Impact)
	return &Scorer{weights: w}
}

// Score computes the value score for a feature vector.
//
// Out-of-range inputs are clamped to [0,1] before weighting. The
// weighted sum is clamped to [0,1], then the confirmed bonus is
// applied with a cap at 1.
func (s *Scorer) Score(f datatypes.ValueFeatures) float64 {
	sum := s.weights.Complexity*clamp01(f.Complexity) +
		s.weights.Reusability*clamp01(f.Reusability) +
		s.weights.Novelty*clamp01(f.Novelty) +
		s.weights.Impact*clamp01(f.Impact)

	score := clamp01(sum)
	if f.Confirmed {
		score = math.Min(1, score*confirmedBonus)
	}
	return score
}

// IsHighValue reports whether a score clears the promotion threshold.
func IsHighValue(score float64) bool {
	return score >= HighValueThreshold
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
