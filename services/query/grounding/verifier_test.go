// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grounding

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
)

// stubEmbedder returns a fixed vector per input text.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

// vectorAtSimilarity returns a unit 2D vector whose cosine similarity with
// (1, 0) is exactly sim.
func vectorAtSimilarity(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float64
	}{
		{"identical vectors", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal vectors", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite vectors", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"mismatched lengths", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
		{"empty vectors", []float32{}, []float32{}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerify_SimilarityThreshold(t *testing.T) {
	// The answer embeds to the unit vector e1; each case picks a passage
	// vector with a known exact cosine against it. (3,1,1,1,2) has norm 4
	// and dot 3 against e1, so its cosine is exactly 0.75.
	answerVec := []float32{1, 0, 0, 0, 0}
	tests := []struct {
		name         string
		passageVec   []float32
		wantGrounded bool
	}{
		{"similarity exactly at threshold passes", []float32{3, 1, 1, 1, 2}, true},
		{"similarity just below threshold fails", []float32{0.7499, 0.66156, 0, 0, 0}, false},
		{"high similarity passes", []float32{10, 1, 0, 0, 0}, true},
		{"low similarity fails", []float32{0.1, 1, 0, 0, 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := &stubEmbedder{vectors: map[string][]float32{
				"the answer": answerVec,
			}}
			v := NewVerifier(embedder, DefaultConfig())

			results := []datatypes.SearchResult{
				{ChunkID: "c1", Content: "passage", Vector: tt.passageVec},
			}
			verdict := v.Verify(context.Background(), "the answer", results)
			if verdict.Grounded != tt.wantGrounded {
				t.Errorf("Grounded = %v (maxSim=%v), want %v",
					verdict.Grounded, verdict.MaxSimilarity, tt.wantGrounded)
			}
		})
	}
}

func TestVerify_TakesMaxOverPassages(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"the answer": {1, 0},
	}}
	v := NewVerifier(embedder, DefaultConfig())

	results := []datatypes.SearchResult{
		{ChunkID: "far", Content: "a", Vector: vectorAtSimilarity(0.1)},
		{ChunkID: "near", Content: "b", Vector: vectorAtSimilarity(0.9)},
		{ChunkID: "mid", Content: "c", Vector: vectorAtSimilarity(0.5)},
	}
	verdict := v.Verify(context.Background(), "the answer", results)
	if !verdict.Grounded {
		t.Error("one close passage should be enough to ground the answer")
	}
	if math.Abs(verdict.MaxSimilarity-0.9) > 1e-6 {
		t.Errorf("MaxSimilarity = %v, want ~0.9", verdict.MaxSimilarity)
	}
}

func TestVerify_CitationResolution(t *testing.T) {
	tests := []struct {
		name         string
		answer       string
		passageCount int
		wantMissing  []int
		wantGrounded bool
	}{
		{
			name:         "all markers resolve",
			answer:       "Tokens expire hourly [1] and need a header [2].",
			passageCount: 2,
			wantMissing:  nil,
			wantGrounded: true,
		},
		{
			name:         "marker beyond passage count",
			answer:       "See [1] and [3].",
			passageCount: 2,
			wantMissing:  []int{3},
			wantGrounded: false,
		},
		{
			name:         "zero ordinal never resolves",
			answer:       "See [0].",
			passageCount: 2,
			wantMissing:  []int{0},
			wantGrounded: false,
		},
		{
			name:         "duplicate bad markers reported once",
			answer:       "See [7], again [7], and [9].",
			passageCount: 2,
			wantMissing:  []int{7, 9},
			wantGrounded: false,
		},
		{
			name:         "no markers at all is fine by default",
			answer:       "Tokens expire after one hour.",
			passageCount: 2,
			wantMissing:  nil,
			wantGrounded: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// All passages sit at perfect similarity so only the citation
			// check can change the verdict.
			embedder := &stubEmbedder{}
			v := NewVerifier(embedder, DefaultConfig())

			results := make([]datatypes.SearchResult, tt.passageCount)
			for i := range results {
				results[i] = datatypes.SearchResult{ChunkID: "c", Content: "p", Vector: []float32{1, 0}}
			}

			verdict := v.Verify(context.Background(), tt.answer, results)
			if !reflect.DeepEqual(verdict.MissingCitations, tt.wantMissing) {
				t.Errorf("MissingCitations = %v, want %v", verdict.MissingCitations, tt.wantMissing)
			}
			if verdict.Grounded != tt.wantGrounded {
				t.Errorf("Grounded = %v, want %v", verdict.Grounded, tt.wantGrounded)
			}
		})
	}
}

func TestVerify_RequireFullCoverage(t *testing.T) {
	embedder := &stubEmbedder{}
	config := DefaultConfig()
	config.RequireFullCoverage = true
	v := NewVerifier(embedder, config)

	results := []datatypes.SearchResult{
		{ChunkID: "c1", Content: "p1", Vector: []float32{1, 0}},
		{ChunkID: "c2", Content: "p2", Vector: []float32{1, 0}},
		{ChunkID: "c3", Content: "p3", Vector: []float32{1, 0}},
	}

	t.Run("uncited passages fail coverage", func(t *testing.T) {
		verdict := v.Verify(context.Background(), "Only [2] matters.", results)
		if verdict.Grounded {
			t.Error("Grounded = true with uncited passages under full coverage")
		}
		if !reflect.DeepEqual(verdict.UncitedOrdinals, []int{1, 3}) {
			t.Errorf("UncitedOrdinals = %v, want [1 3]", verdict.UncitedOrdinals)
		}
	})

	t.Run("full coverage passes", func(t *testing.T) {
		verdict := v.Verify(context.Background(), "All of [1], [2], [3].", results)
		if !verdict.Grounded {
			t.Errorf("Grounded = false with full coverage: %+v", verdict)
		}
		if len(verdict.UncitedOrdinals) != 0 {
			t.Errorf("UncitedOrdinals = %v, want empty", verdict.UncitedOrdinals)
		}
	})
}

func TestVerify_Degradation(t *testing.T) {
	t.Run("embedder failure degrades without error", func(t *testing.T) {
		embedder := &stubEmbedder{err: errors.New("embedding service down")}
		v := NewVerifier(embedder, DefaultConfig())

		results := []datatypes.SearchResult{{ChunkID: "c1", Content: "p", Vector: []float32{1, 0}}}
		verdict := v.Verify(context.Background(), "the answer [1]", results)
		if verdict.Grounded {
			t.Error("degraded verification must not report grounded")
		}
		if !strings.Contains(verdict.Note, "semantic check unavailable") {
			t.Errorf("Note = %q, want degradation note", verdict.Note)
		}
	})

	t.Run("empty answer", func(t *testing.T) {
		v := NewVerifier(&stubEmbedder{}, DefaultConfig())
		verdict := v.Verify(context.Background(), "", []datatypes.SearchResult{{ChunkID: "c1"}})
		if verdict.Grounded || verdict.Note == "" {
			t.Errorf("empty answer verdict = %+v", verdict)
		}
	})

	t.Run("no passages", func(t *testing.T) {
		v := NewVerifier(&stubEmbedder{}, DefaultConfig())
		verdict := v.Verify(context.Background(), "an answer", nil)
		if verdict.Grounded || verdict.Note == "" {
			t.Errorf("no-passage verdict = %+v", verdict)
		}
	})

	t.Run("passage without stored vector is embedded on the fly", func(t *testing.T) {
		embedder := &stubEmbedder{vectors: map[string][]float32{
			"the answer":      {1, 0},
			"passage content": vectorAtSimilarity(0.9),
		}}
		v := NewVerifier(embedder, DefaultConfig())

		results := []datatypes.SearchResult{{ChunkID: "c1", Content: "passage content"}}
		verdict := v.Verify(context.Background(), "the answer", results)
		if !verdict.Grounded {
			t.Errorf("verdict = %+v, want grounded via fallback embedding", verdict)
		}
	})
}

func TestValidateConfig(t *testing.T) {
	got := validateConfig(Config{SimilarityThreshold: 0})
	if got.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("threshold = %v, want default", got.SimilarityThreshold)
	}
	got = validateConfig(Config{SimilarityThreshold: 1.5})
	if got.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("threshold = %v, want default", got.SimilarityThreshold)
	}
	got = validateConfig(Config{SimilarityThreshold: 0.6})
	if got.SimilarityThreshold != 0.6 {
		t.Errorf("threshold = %v, want 0.6 preserved", got.SimilarityThreshold)
	}
}
