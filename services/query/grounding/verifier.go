// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package grounding checks generated answers against the passages they
// were generated from.
//
// An answer is grounded when it is semantically close to at least one
// retrieved passage AND every [N] citation marker it emits resolves to a
// passage that was actually in the prompt. Verification is advisory: it
// annotates the response, it never blocks it, and it never returns an
// error to the caller.
package grounding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/AleutianAI/AleutianQuery/services/embed"
	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.query.grounding")

// citationMarkerRegex matches bracketed citation ordinals like [1] or [12].
var citationMarkerRegex = regexp.MustCompile(`\[(\d+)\]`)

// DefaultSimilarityThreshold is the cosine similarity at or above which an
// answer counts as semantically grounded in a passage.
const DefaultSimilarityThreshold = 0.75

// Config holds verifier tuning knobs.
type Config struct {
	// SimilarityThreshold is the minimum max-cosine-similarity between the
	// answer embedding and any passage embedding.
	SimilarityThreshold float64

	// RequireFullCoverage additionally fails verification when any
	// retrieved passage goes uncited by the answer. Off by default: a
	// terse answer citing one passage may still be well grounded.
	RequireFullCoverage bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: DefaultSimilarityThreshold,
		RequireFullCoverage: false,
	}
}

// validateConfig validates and corrects config values, logging a warning
// for every correction.
func validateConfig(config Config) Config {
	if config.SimilarityThreshold <= 0 || config.SimilarityThreshold > 1 {
		slog.Warn("Invalid SimilarityThreshold config, using default",
			"provided", config.SimilarityThreshold, "default", DefaultSimilarityThreshold)
		config.SimilarityThreshold = DefaultSimilarityThreshold
	}
	return config
}

// Verifier checks answers against the passages that produced them.
//
// # Thread Safety
//
// Safe for concurrent use after construction.
type Verifier struct {
	embedder embed.Provider
	config   Config
}

// NewVerifier creates a verifier using the given embedding provider.
func NewVerifier(embedder embed.Provider, config Config) *Verifier {
	return &Verifier{
		embedder: embedder,
		config:   validateConfig(config),
	}
}

// Verify checks that the answer is grounded in the given results.
//
// # Description
//
// Two checks run, both of which must pass:
//
//  1. Semantic: the answer is embedded and compared against each passage's
//     stored embedding; the maximum cosine similarity must reach the
//     configured threshold. Passages missing a stored vector are embedded
//     on the fly.
//  2. Citation: every [N] marker in the answer must satisfy
//     1 <= N <= len(results).
//
// Verification never fails the request. When the embedding service is
// down or a passage cannot be embedded, the semantic check is skipped and
// the verdict carries a Note explaining the degradation; the citation
// check still runs.
//
// # Inputs
//
//   - ctx: Carries cancellation; verification runs under its own timeout
//     set by the caller.
//   - answer: The generated answer text.
//   - results: The ranked passages the prompt was built from, in prompt
//     order, so ordinal N refers to results[N-1].
//
// # Outputs
//
//   - datatypes.GroundingResult: The verdict. Never accompanied by an
//     error; degraded checks set Grounded=false with an explanatory Note.
func (v *Verifier) Verify(ctx context.Context, answer string, results []datatypes.SearchResult) datatypes.GroundingResult {
	ctx, span := tracer.Start(ctx, "Verifier.Verify")
	defer span.End()
	span.SetAttributes(
		attribute.Int("answer_len", len(answer)),
		attribute.Int("passages", len(results)),
	)

	verdict := datatypes.GroundingResult{}

	if answer == "" {
		verdict.Note = "empty answer, nothing to verify"
		return verdict
	}
	if len(results) == 0 {
		verdict.Note = "no passages retrieved, answer cannot be grounded"
		return verdict
	}

	cited := citedOrdinals(answer)
	verdict.MissingCitations = missingCitations(cited, len(results))
	citationsOK := len(verdict.MissingCitations) == 0
	if v.config.RequireFullCoverage {
		verdict.UncitedOrdinals = uncitedOrdinals(cited, len(results))
		if len(verdict.UncitedOrdinals) > 0 {
			citationsOK = false
			verdict.Note = "answer does not cite every retrieved passage"
		}
	}

	maxSim, semErr := v.maxSimilarity(ctx, answer, results)
	if semErr != nil {
		slog.Warn("Semantic grounding check degraded", "error", semErr)
		span.AddEvent("semantic_check_degraded")
		verdict.Note = fmt.Sprintf("semantic check unavailable: %v", semErr)
		verdict.Grounded = false
		return verdict
	}
	verdict.MaxSimilarity = maxSim

	verdict.Grounded = citationsOK && maxSim >= v.config.SimilarityThreshold
	span.SetAttributes(
		attribute.Bool("grounded", verdict.Grounded),
		attribute.Float64("max_similarity", maxSim),
	)
	return verdict
}

// maxSimilarity embeds the answer and returns the maximum cosine
// similarity against the passage embeddings.
func (v *Verifier) maxSimilarity(ctx context.Context, answer string, results []datatypes.SearchResult) (float64, error) {
	answerVec, err := v.embedder.Embed(ctx, answer)
	if err != nil {
		return 0, fmt.Errorf("failed to embed answer: %w", err)
	}

	maxSim := math.Inf(-1)
	for i := range results {
		passageVec := results[i].Vector
		if len(passageVec) == 0 {
			// Stored vector did not ride along with the search hit;
			// embed the passage content directly.
			passageVec, err = v.embedder.Embed(ctx, results[i].Content)
			if err != nil {
				return 0, fmt.Errorf("failed to embed passage %s: %w", results[i].ChunkID, err)
			}
		}
		if sim := cosineSimilarity(answerVec, passageVec); sim > maxSim {
			maxSim = sim
		}
	}
	if math.IsInf(maxSim, -1) {
		return 0, nil
	}
	return maxSim, nil
}

// citedOrdinals extracts the set of [N] ordinals appearing in the answer.
func citedOrdinals(answer string) map[int]bool {
	cited := make(map[int]bool)
	for _, match := range citationMarkerRegex.FindAllStringSubmatch(answer, -1) {
		if n, err := strconv.Atoi(match[1]); err == nil {
			cited[n] = true
		}
	}
	return cited
}

// missingCitations returns the sorted cited ordinals that do not resolve
// to a passage (N < 1 or N > passageCount).
func missingCitations(cited map[int]bool, passageCount int) []int {
	var missing []int
	for n := range cited {
		if n < 1 || n > passageCount {
			missing = append(missing, n)
		}
	}
	sort.Ints(missing)
	return missing
}

// uncitedOrdinals returns the sorted passage ordinals the answer never
// cited.
func uncitedOrdinals(cited map[int]bool, passageCount int) []int {
	var uncited []int
	for n := 1; n <= passageCount; n++ {
		if !cited[n] {
			uncited = append(uncited, n)
		}
	}
	return uncited
}

// cosineSimilarity computes the cosine similarity between two vectors.
//
// Returns a value between -1 and 1, where 1 means identical direction.
// Mismatched or zero-length vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
