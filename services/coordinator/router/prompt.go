// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
)

const (
	promptPreamble = "Use the retrieved context below to answer when it is relevant. " +
		"If the context does not apply, answer from your own knowledge.\n\n--- Context ---\n"
	promptPostamble = "--- End Context ---\n\nQuestion: "
)

// AssemblePrompt builds the augmented prompt from the query and its
// ranked hits, enforcing the byte budget on the context block.
//
// Hits are dropped lowest-scoring first until the block fits; a single
// over-budget hit is truncated rather than dropped entirely. The
// returned slice holds the hits that actually made it into the prompt,
// in descending score order. With no usable hits the query is returned
// unchanged.
func AssemblePrompt(query string, hits []datatypes.Snippet, budgetBytes int) (string, []datatypes.Snippet) {
	if len(hits) == 0 {
		return query, nil
	}

	used := make([]datatypes.Snippet, len(hits))
	copy(used, hits)
	sort.Slice(used, func(i, j int) bool {
		return used[i].Score > used[j].Score
	})

	for len(used) > 0 {
		block := renderContextBlock(used)
		if len(block) <= budgetBytes {
			return promptPreamble + block + promptPostamble + query, used
		}
		if len(used) == 1 {
			// One hit that alone blows the budget: truncate its text.
			remaining := budgetBytes - len(renderContextBlock([]datatypes.Snippet{{Score: used[0].Score}}))
			if remaining <= 0 {
				return query, nil
			}
			truncated := used[0]
			cut := min(len(truncated.Text), remaining)
			// Back off to a rune boundary so the cut never emits
			// invalid UTF-8.
			for cut > 0 && cut < len(truncated.Text) && !utf8.RuneStart(truncated.Text[cut]) {
				cut--
			}
			truncated.Text = truncated.Text[:cut]
			used[0] = truncated
			block = renderContextBlock(used)
			return promptPreamble + block + promptPostamble + query, used
		}
		used = used[:len(used)-1]
	}

	return query, nil
}

func renderContextBlock(hits []datatypes.Snippet) string {
	var b strings.Builder
	for i, hit := range hits {
		fmt.Fprintf(&b, "[%d] (score %.2f) %s\n", i+1, hit.Score, hit.Text)
	}
	return b.String()
}
