// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package promptbuild

import (
	"fmt"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
)

func sampleResults() []datatypes.SearchResult {
	return []datatypes.SearchResult{
		{
			ChunkID:  "chunk-auth-3",
			Content:  "Tokens are issued by the auth service and expire after one hour.",
			DocID:    "doc-auth",
			DocTitle: "Authentication Guide",
			Source:   "https://docs/auth",
		},
		{
			ChunkID:  "chunk-api-1",
			Content:  "All API requests require a bearer token in the Authorization header.",
			DocID:    "doc-api",
			DocTitle: "API Reference",
			Source:   "https://docs/api",
		},
	}
}

func TestBuildPrompt(t *testing.T) {
	results := sampleResults()
	prompt := BuildPrompt("how long do tokens last?", results)

	t.Run("contains numbered blocks in order", func(t *testing.T) {
		first := strings.Index(prompt, "[1] Authentication Guide")
		second := strings.Index(prompt, "[2] API Reference")
		if first == -1 || second == -1 {
			t.Fatalf("prompt is missing numbered context blocks:\n%s", prompt)
		}
		if first > second {
			t.Error("context blocks are out of order")
		}
	})

	t.Run("contains passage content", func(t *testing.T) {
		for _, r := range results {
			if !strings.Contains(prompt, r.Content) {
				t.Errorf("prompt is missing passage content %q", r.Content)
			}
		}
	})

	t.Run("contains query and instructions", func(t *testing.T) {
		if !strings.Contains(prompt, "Question: how long do tokens last?") {
			t.Error("prompt is missing the question")
		}
		if !strings.Contains(prompt, "bracketed ordinals") {
			t.Error("prompt is missing the citation instructions")
		}
	})

	t.Run("empty results still yields question", func(t *testing.T) {
		p := BuildPrompt("anything?", nil)
		if !strings.Contains(p, "Question: anything?") {
			t.Error("prompt with no results is missing the question")
		}
		if strings.Contains(p, "[1]") {
			t.Error("prompt with no results must not contain context blocks")
		}
	})
}

func TestBuildCitations(t *testing.T) {
	results := sampleResults()
	citations := BuildCitations(results)

	if len(citations) != len(results) {
		t.Fatalf("got %d citations, want %d", len(citations), len(results))
	}
	if citations[1].ChunkID != "chunk-auth-3" || citations[2].ChunkID != "chunk-api-1" {
		t.Errorf("ordinal mapping wrong: %+v", citations)
	}
	if citations[1].Source != "https://docs/auth" {
		t.Errorf("citation source = %q", citations[1].Source)
	}
	if _, ok := citations[0]; ok {
		t.Error("citations must be 1-indexed, found ordinal 0")
	}

	t.Run("empty results yields empty non-nil map", func(t *testing.T) {
		c := BuildCitations(nil)
		if c == nil {
			t.Fatal("BuildCitations(nil) returned nil map")
		}
		if len(c) != 0 {
			t.Errorf("expected empty map, got %v", c)
		}
	})
}

// TestOrdinalAgreement verifies the invariant the whole package exists for:
// the ordinal [N] in the prompt and the key N in the citation table always
// name the same passage.
func TestOrdinalAgreement(t *testing.T) {
	results := sampleResults()
	results = append(results, datatypes.SearchResult{
		ChunkID: "chunk-extra", Content: "Extra passage.", DocTitle: "Extras", Source: "https://docs/extra",
	})

	prompt := BuildPrompt("q", results)
	citations := BuildCitations(results)

	for n, citation := range citations {
		block := fmt.Sprintf("[%d] %s", n, citation.DocTitle)
		if !strings.Contains(prompt, block) {
			t.Errorf("ordinal %d: prompt has no block %q", n, block)
		}
		idx := strings.Index(prompt, block)
		rest := prompt[idx+len(block):]
		if !strings.HasPrefix(strings.TrimPrefix(rest, "\n"), results[n-1].Content) {
			t.Errorf("ordinal %d: block content does not match results[%d]", n, n-1)
		}
	}
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantLen int
		trunc   bool
	}{
		{"short content untouched", "short", 5, false},
		{"exact length untouched", strings.Repeat("a", SnippetLength), SnippetLength, false},
		{"long content truncated", strings.Repeat("a", SnippetLength+100), SnippetLength + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := snippet(tt.content)
			if got := len([]rune(got)); got != tt.wantLen {
				t.Errorf("snippet rune length = %d, want %d", got, tt.wantLen)
			}
			if tt.trunc && !strings.HasSuffix(got, "…") {
				t.Error("truncated snippet should end with ellipsis")
			}
		})
	}
}
