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
	"testing"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeCanonical(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Hello, World!", "hello world"},
		{"  multiple   spaces\tand\ntabs  ", "multiple spaces and tabs"},
		{"SELinux: permission denied!", "selinux permission denied"},
		{"", ""},
		{"...", ""},
		{"already normal", "already normal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCanonical(tt.input), "input %q", tt.input)
	}
}

func TestDedupKeyCollapsesNearIdenticalTexts(t *testing.T) {
	k1 := DedupKey(datatypes.CategorySkill, "Use :z suffix for SELinux volumes.")
	k2 := DedupKey(datatypes.CategorySkill, "use :z suffix   for selinux volumes")
	assert.Equal(t, k1, k2)

	// Same text, different category: distinct patterns.
	k3 := DedupKey(datatypes.CategoryBestPractice, "Use :z suffix for SELinux volumes.")
	assert.NotEqual(t, k1, k3)

	k4 := DedupKey(datatypes.CategorySkill, "a different text")
	assert.NotEqual(t, k1, k4)
}

func TestInferCategory(t *testing.T) {
	tests := []struct {
		name  string
		event datatypes.InteractionEvent
		want  datatypes.PatternCategory
	}{
		{
			name:  "error keyword wins",
			event: datatypes.InteractionEvent{Query: "SELinux permission denied on Podman volume"},
			want:  datatypes.CategoryErrorSolution,
		},
		{
			name: "high reusability becomes best practice",
			event: datatypes.InteractionEvent{
				Query:    "how to structure a compose project",
				Features: datatypes.ValueFeatures{Reusability: 0.8},
			},
			want: datatypes.CategoryBestPractice,
		},
		{
			name:  "default is skill",
			event: datatypes.InteractionEvent{Query: "summarize this design doc"},
			want:  datatypes.CategorySkill,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferCategory(tt.event))
		})
	}
}
