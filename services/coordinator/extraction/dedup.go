// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extraction

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
)

// NormalizeCanonical reduces text to its dedup form: lowercase,
// punctuation stripped, whitespace collapsed to single spaces. Two
// texts that normalize identically are treated as the same pattern.
func NormalizeCanonical(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			// Punctuation and symbols are dropped entirely.
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// DedupKey derives the stable grouping key for a pattern: category
// plus a hash of the normalized canonical text. The key is what makes
// reprocessing idempotent under at-least-once extraction.
func DedupKey(category datatypes.PatternCategory, text string) string {
	sum := sha256.Sum256([]byte(NormalizeCanonical(text)))
	return string(category) + ":" + hex.EncodeToString(sum[:])
}

// errorKeywords mark a query as describing a failure to solve.
var errorKeywords = []string{
	"error", "denied", "failed", "failure", "exception", "panic",
	"crash", "refused", "timeout", "cannot", "unable",
}

// InferCategory classifies an event for pattern extraction.
//
// Queries describing failures become error-solution patterns; highly
// reusable interactions become best-practice; everything else is a
// skill.
func InferCategory(event datatypes.InteractionEvent) datatypes.PatternCategory {
	lower := strings.ToLower(event.Query)
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return datatypes.CategoryErrorSolution
		}
	}
	if event.Features.Reusability >= 0.7 {
		return datatypes.CategoryBestPractice
	}
	return datatypes.CategorySkill
}
