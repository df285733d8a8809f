// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search provides the hybrid search engine over the Weaviate
// passage corpus.
//
// Three retrieval modes are supported: semantic (nearVector over passage
// embeddings), text (BM25 over passage content), and hybrid (both legs run
// concurrently and fused by Reciprocal Rank Fusion). Every result is
// enriched with its parent document's title and canonical source before it
// leaves this package.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/AleutianAI/AleutianQuery/services/embed"
	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("aleutian.query.search")

// =============================================================================
// Interfaces
// =============================================================================

// Engine defines the contract for retrieving ranked passages.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; result slices are
// request-scoped and never shared between calls.
type Engine interface {
	// Search returns the top-k passages for the query under the given mode.
	//
	// # Outputs
	//
	//   - []datatypes.SearchResult: Ranked results, best first, fully
	//     enriched with parent-document metadata. May be empty.
	//   - error: *RetrievalError when the embedding service or the
	//     datastore is unreachable. In hybrid mode a single failing leg
	//     degrades to the surviving leg instead of failing the request.
	Search(ctx context.Context, query string, mode datatypes.SearchMode, k int) ([]datatypes.SearchResult, error)
}

// Compile-time interface implementation check.
var _ Engine = (*WeaviateSearchEngine)(nil)

// =============================================================================
// Configuration
// =============================================================================

// Config holds tuning knobs for the search engine.
type Config struct {
	// RetrievalDepth is how many candidates each hybrid leg retrieves
	// before fusion. Effective depth is max(k, RetrievalDepth) so fusion
	// always has enough candidates.
	RetrievalDepth int

	// RRFConstant is the smoothing constant K in 1/(K+rank).
	RRFConstant int

	// MaxEmbedLength is the maximum query length (bytes) sent to the
	// embedding provider; longer queries are truncated.
	MaxEmbedLength int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RetrievalDepth: 20,
		RRFConstant:    DefaultRRFConstant,
		MaxEmbedLength: 2048,
	}
}

// validateConfig validates and corrects config values, logging a warning
// for every correction, in the manner of the conversation searcher.
func validateConfig(config Config) Config {
	defaults := DefaultConfig()

	if config.RetrievalDepth < 1 {
		slog.Warn("Invalid RetrievalDepth config, using default",
			"provided", config.RetrievalDepth, "default", defaults.RetrievalDepth)
		config.RetrievalDepth = defaults.RetrievalDepth
	}
	if config.RRFConstant < 1 {
		slog.Warn("Invalid RRFConstant config, using default",
			"provided", config.RRFConstant, "default", defaults.RRFConstant)
		config.RRFConstant = defaults.RRFConstant
	}
	if config.MaxEmbedLength < 1 {
		slog.Warn("Invalid MaxEmbedLength config, using default",
			"provided", config.MaxEmbedLength, "default", defaults.MaxEmbedLength)
		config.MaxEmbedLength = defaults.MaxEmbedLength
	}
	return config
}

// =============================================================================
// WeaviateSearchEngine
// =============================================================================

// WeaviateSearchEngine implements Engine against the Passage and Document
// classes in Weaviate.
//
// # Description
//
// The semantic leg embeds the query via the configured provider and runs a
// nearVector search; the text leg runs BM25 over passage content. Hybrid
// mode runs both legs concurrently and fuses them with RRF. Passage vectors
// are requested alongside each hit so the grounding verifier never needs to
// re-embed retrieved passages.
//
// # Thread Safety
//
// WeaviateSearchEngine is safe for concurrent use. The underlying Weaviate
// client handles connection pooling.
//
// # Example
//
//	engine := search.NewWeaviateSearchEngine(client, embedder, search.DefaultConfig())
//	results, err := engine.Search(ctx, "what is the auth flow?", datatypes.ModeHybrid, 5)
type WeaviateSearchEngine struct {
	client   *weaviate.Client
	embedder embed.Provider
	config   Config
}

// NewWeaviateSearchEngine creates a search engine with the given Weaviate
// client, embedding provider, and configuration. Config values are
// validated and corrected if necessary.
func NewWeaviateSearchEngine(client *weaviate.Client, embedder embed.Provider, config Config) *WeaviateSearchEngine {
	return &WeaviateSearchEngine{
		client:   client,
		embedder: embedder,
		config:   validateConfig(config),
	}
}

// Search implements the Engine interface.
func (e *WeaviateSearchEngine) Search(ctx context.Context, query string, mode datatypes.SearchMode, k int) ([]datatypes.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearchEngine.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("mode", string(mode)),
		attribute.Int("k", k),
	)

	if k < 1 {
		return nil, fmt.Errorf("k must be >= 1, got %d", k)
	}
	if !mode.Valid() {
		return nil, &datatypes.InvalidModeError{Mode: string(mode)}
	}

	var results []datatypes.SearchResult
	var err error
	switch mode {
	case datatypes.ModeSemantic:
		results, err = e.semanticSearch(ctx, query, k)
	case datatypes.ModeText:
		results, err = e.textSearch(ctx, query, k)
	case datatypes.ModeHybrid:
		results, err = e.hybridSearch(ctx, query, k)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, err
	}

	// Enrichment is mandatory: a result without its parent document's
	// title and source is a defect, not a degraded state.
	if err := e.enrich(ctx, results); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enrichment failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}

// semanticSearch embeds the query and runs a nearVector search over Passage.
func (e *WeaviateSearchEngine) semanticSearch(ctx context.Context, query string, k int) ([]datatypes.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearchEngine.semanticSearch")
	defer span.End()

	truncated := query
	if len(query) > e.config.MaxEmbedLength {
		truncated = query[:e.config.MaxEmbedLength]
		slog.Debug("Truncated query for embedding", "originalLen", len(query), "truncatedLen", len(truncated))
	}

	vector, err := e.embedder.Embed(ctx, truncated)
	if err != nil {
		slog.Error("Failed to embed query", "error", err)
		return nil, &RetrievalError{Op: "semantic", Err: fmt.Errorf("failed to embed query: %w", err)}
	}

	nearVector := e.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	result, err := e.client.GraphQL().Get().
		WithClassName("Passage").
		WithFields(passageFields()...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		slog.Error("Weaviate nearVector search failed", "error", err)
		return nil, &RetrievalError{Op: "semantic", Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PassageQueryResponse](result)
	if err != nil {
		return nil, &RetrievalError{Op: "semantic", Err: err}
	}

	results, err := passageResults(parsed.Get.Passage, false)
	if err != nil {
		return nil, &RetrievalError{Op: "semantic", Err: err}
	}
	slog.Debug("Semantic search complete", "count", len(results))
	return results, nil
}

// textSearch runs a BM25 lexical search over Passage content.
func (e *WeaviateSearchEngine) textSearch(ctx context.Context, query string, k int) ([]datatypes.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearchEngine.textSearch")
	defer span.End()

	bm25 := e.client.GraphQL().Bm25ArgBuilder().
		WithQuery(query).
		WithProperties("content")

	result, err := e.client.GraphQL().Get().
		WithClassName("Passage").
		WithFields(passageFields()...).
		WithBM25(bm25).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		slog.Error("Weaviate BM25 search failed", "error", err)
		return nil, &RetrievalError{Op: "text", Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PassageQueryResponse](result)
	if err != nil {
		return nil, &RetrievalError{Op: "text", Err: err}
	}

	results, err := passageResults(parsed.Get.Passage, true)
	if err != nil {
		return nil, &RetrievalError{Op: "text", Err: err}
	}
	slog.Debug("Text search complete", "count", len(results))
	return results, nil
}

// hybridSearch runs both legs concurrently and fuses them with RRF.
//
// A single failing leg degrades to the surviving leg's results; only when
// both legs fail does the whole search fail.
func (e *WeaviateSearchEngine) hybridSearch(ctx context.Context, query string, k int) ([]datatypes.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearchEngine.hybridSearch")
	defer span.End()

	depth := e.config.RetrievalDepth
	if k > depth {
		depth = k
	}
	span.SetAttributes(attribute.Int("retrieval_depth", depth))

	var semanticList, textList []datatypes.SearchResult
	var semanticErr, textErr error

	// Both legs run on the caller's context so cancellation stops them
	// promptly. Errors are captured per leg rather than returned to the
	// group, so one leg's failure never aborts the other; degradation is
	// decided after both finish.
	var g errgroup.Group
	g.Go(func() error {
		semanticList, semanticErr = e.semanticSearch(ctx, query, depth)
		return nil
	})
	g.Go(func() error {
		textList, textErr = e.textSearch(ctx, query, depth)
		return nil
	})
	_ = g.Wait()

	if semanticErr != nil && textErr != nil {
		return nil, &RetrievalError{
			Op:  "hybrid",
			Err: fmt.Errorf("both legs failed: semantic=[%v], text=[%v]", semanticErr, textErr),
		}
	}
	if semanticErr != nil {
		slog.Warn("Semantic leg failed, degrading to text-only", "error", semanticErr)
		span.AddEvent("degraded_to_text")
	}
	if textErr != nil {
		slog.Warn("Text leg failed, degrading to semantic-only", "error", textErr)
		span.AddEvent("degraded_to_semantic")
	}

	fused := fuseRRF([][]datatypes.SearchResult{semanticList, textList}, e.config.RRFConstant, k)
	slog.Debug("Hybrid fusion complete",
		"semanticCount", len(semanticList),
		"textCount", len(textList),
		"fusedCount", len(fused))
	return fused, nil
}

// enrich joins each result with its parent document's title and source.
//
// Results are mutated in place; ordering is untouched. A passage whose
// parent document cannot be found fails the whole request.
func (e *WeaviateSearchEngine) enrich(ctx context.Context, results []datatypes.SearchResult) error {
	if len(results) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "WeaviateSearchEngine.enrich")
	defer span.End()

	seen := make(map[string]bool)
	docIDs := make([]string, 0, len(results))
	for _, r := range results {
		if !seen[r.DocID] {
			seen[r.DocID] = true
			docIDs = append(docIDs, r.DocID)
		}
	}

	docFilter := filters.Where().
		WithPath([]string{"doc_id"}).
		WithOperator(filters.ContainsAny).
		WithValueText(docIDs...)

	fields := []graphql.Field{
		{Name: "doc_id"},
		{Name: "title"},
		{Name: "source"},
		{Name: "ingested_at"},
	}

	result, err := e.client.GraphQL().Get().
		WithClassName("Document").
		WithFields(fields...).
		WithWhere(docFilter).
		WithLimit(len(docIDs)).
		Do(ctx)
	if err != nil {
		slog.Error("Failed to look up parent documents", "error", err)
		return &RetrievalError{Op: "enrich", Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.DocumentQueryResponse](result)
	if err != nil {
		return &RetrievalError{Op: "enrich", Err: err}
	}

	docs := make(map[string]datatypes.DocumentResult, len(parsed.Get.Document))
	for _, d := range parsed.Get.Document {
		docs[d.DocID] = d
	}

	return enrichFromDocuments(results, docs)
}

// =============================================================================
// Helper Functions
// =============================================================================

// passageFields returns the GraphQL fields requested for every passage hit.
// The stored vector rides along so verification can reuse it.
func passageFields() []graphql.Field {
	return []graphql.Field{
		{Name: "content"},
		{Name: "chunk_id"},
		{Name: "doc_id"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
			{Name: "score"},
			{Name: "vector"},
		}},
	}
}

// passageResults converts parsed passage hits into SearchResults, preserving
// order. For BM25 hits the score arrives as a string in _additional.
func passageResults(hits []datatypes.PassageResult, bm25 bool) ([]datatypes.SearchResult, error) {
	results := make([]datatypes.SearchResult, 0, len(hits))
	for _, hit := range hits {
		var score float64
		if bm25 {
			if hit.Additional.Score != nil {
				parsed, err := strconv.ParseFloat(*hit.Additional.Score, 64)
				if err != nil {
					return nil, fmt.Errorf("unparseable bm25 score %q for chunk %s: %w",
						*hit.Additional.Score, hit.ChunkID, err)
				}
				score = parsed
			}
		} else if hit.Additional.Certainty != nil {
			score = *hit.Additional.Certainty
		}

		chunkID := hit.ChunkID
		if chunkID == "" {
			chunkID = hit.Additional.ID
		}

		results = append(results, datatypes.SearchResult{
			ChunkID: chunkID,
			Content: hit.Content,
			Score:   score,
			DocID:   hit.DocID,
			Vector:  hit.Additional.Vector,
		})
	}
	return results, nil
}

// enrichFromDocuments fills title/source metadata from the looked-up parent
// documents, failing on the first passage whose parent is missing.
func enrichFromDocuments(results []datatypes.SearchResult, docs map[string]datatypes.DocumentResult) error {
	for i := range results {
		doc, ok := docs[results[i].DocID]
		if !ok {
			return &RetrievalError{
				Op:  "enrich",
				Err: fmt.Errorf("passage %s references missing document %s", results[i].ChunkID, results[i].DocID),
			}
		}
		results[i].DocTitle = doc.Title
		results[i].Source = doc.Source
		if results[i].Metadata == nil {
			results[i].Metadata = map[string]string{}
		}
		results[i].Metadata["ingested_at"] = strconv.FormatInt(doc.IngestedAt, 10)
	}
	return nil
}
