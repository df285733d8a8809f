// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package promptbuild assembles grounded generation prompts and their
// citation tables from ranked search results.
//
// Both functions are pure and consume the same ordered result list, so the
// ordinal [N] a model emits in its answer always resolves to the same
// passage the citation table maps it to. Never build the prompt and the
// citations from differently ordered slices.
package promptbuild

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
)

// SnippetLength is the maximum snippet size carried in a citation. Full
// passage content stays in the prompt; the citation only needs enough for
// a human to recognize the passage.
const SnippetLength = 240

const promptInstructions = "Answer the question using ONLY the numbered context passages above. " +
	"Cite the passages you used with bracketed ordinals, for example [1] or [2]. " +
	"If the passages do not contain the answer, say so instead of guessing."

// BuildPrompt renders the grounded generation prompt.
//
// # Description
//
// Each result becomes a numbered context block:
//
//	[N] <document title>
//	<passage content>
//
// with N being the 1-indexed position in the input slice. The blocks are
// followed by the user's question and the citation instructions. An empty
// result slice yields a prompt with no context blocks; the orchestrator is
// expected to short-circuit that case before generation.
//
// # Inputs
//
//   - query: The user's question, verbatim.
//   - results: Ranked search results, best first.
//
// # Outputs
//
//   - string: The complete prompt.
func BuildPrompt(query string, results []datatypes.SearchResult) string {
	var b strings.Builder

	b.WriteString("Context passages:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, r.DocTitle, r.Content)
	}

	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	b.WriteString(promptInstructions)
	return b.String()
}

// BuildCitations builds the ordinal-to-citation table for the same result
// slice passed to BuildPrompt.
//
// # Outputs
//
//   - map[int]datatypes.Citation: Keys are the 1-indexed ordinals used in
//     the prompt's context blocks. Empty (non-nil) for no results.
func BuildCitations(results []datatypes.SearchResult) map[int]datatypes.Citation {
	citations := make(map[int]datatypes.Citation, len(results))
	for i, r := range results {
		citations[i+1] = datatypes.Citation{
			ChunkID:  r.ChunkID,
			DocTitle: r.DocTitle,
			Source:   r.Source,
			Snippet:  snippet(r.Content),
		}
	}
	return citations
}

// snippet truncates content on a rune boundary.
func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= SnippetLength {
		return content
	}
	return string(runes[:SnippetLength]) + "…"
}
