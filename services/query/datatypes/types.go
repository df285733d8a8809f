// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the query engine.
//
// This file contains the core retrieval, citation, grounding, and trace
// types shared by every package in services/query. Weaviate schema and
// response-parsing helpers live in weaviate_schemas.go and
// weaviate_query.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Search Mode
// =============================================================================

// SearchMode selects the retrieval strategy for a query.
//
// Modeled as a closed enum rather than a free string so that invalid modes
// are caught at the API boundary instead of deep inside the engine.
type SearchMode string

const (
	// ModeSemantic retrieves by embedding similarity only.
	ModeSemantic SearchMode = "semantic"

	// ModeText retrieves by BM25 lexical match only.
	ModeText SearchMode = "text"

	// ModeHybrid runs both retrieval legs and fuses them with RRF.
	ModeHybrid SearchMode = "hybrid"
)

// Valid reports whether the mode is one of the closed set of modes.
func (m SearchMode) Valid() bool {
	switch m {
	case ModeSemantic, ModeText, ModeHybrid:
		return true
	default:
		return false
	}
}

// =============================================================================
// Retrieval Types
// =============================================================================

// SearchResult is one retrieved passage, produced fresh per query by the
// search engine. Ordering within a result list is significant and must be
// preserved by every downstream consumer; results are never mutated after
// the engine returns them.
type SearchResult struct {
	// ChunkID is the opaque identifier of the passage chunk.
	ChunkID string `json:"chunk_id"`

	// Content is the passage text.
	Content string `json:"content"`

	// Score is the retrieval score. Method-specific until fusion: certainty
	// for semantic, BM25 score for text, fused RRF score for hybrid.
	Score float64 `json:"score"`

	// DocID identifies the parent document.
	DocID string `json:"doc_id"`

	// DocTitle is the parent document title, filled in by enrichment.
	DocTitle string `json:"doc_title"`

	// Source is the canonical source location (URL or path) of the parent
	// document, filled in by enrichment.
	Source string `json:"source"`

	// Metadata carries arbitrary source metadata (timestamps, tags).
	Metadata map[string]string `json:"metadata,omitempty"`

	// Vector is the stored passage embedding, carried along so the
	// grounding verifier does not need to re-embed passages.
	Vector []float32 `json:"-"`
}

// Citation maps a 1-indexed prompt ordinal to the identifying metadata of
// one SearchResult. The ordinal MUST equal the result's 1-indexed position
// in the list used to build the prompt.
type Citation struct {
	ChunkID  string `json:"chunk_id"`
	DocTitle string `json:"doc_title"`
	Source   string `json:"source"`
	Snippet  string `json:"snippet"`
}

// =============================================================================
// Grounding Types
// =============================================================================

// GroundingResult is the verifier's verdict for one generated answer.
// Computed once per answer, stateless.
type GroundingResult struct {
	// Grounded is true when MaxSimilarity meets the threshold and every
	// citation marker in the answer resolves to a real result.
	Grounded bool `json:"grounded"`

	// MaxSimilarity is the highest cosine similarity between the answer
	// embedding and any retrieved passage embedding.
	MaxSimilarity float64 `json:"max_similarity"`

	// MissingCitations lists citation ordinals referenced by the answer
	// that do not resolve against the citation map.
	MissingCitations []int `json:"missing_citations,omitempty"`

	// UncitedOrdinals lists retrieved ordinals the answer never cited.
	// Only populated when full-coverage checking is enabled.
	UncitedOrdinals []int `json:"uncited_ordinals,omitempty"`

	// Note explains a degraded verdict, e.g. a verifier embedding failure.
	Note string `json:"note,omitempty"`
}

// =============================================================================
// Trace & Feedback Types
// =============================================================================

// TraceStatus records the terminal state of a query cycle.
type TraceStatus string

const (
	// TraceCompleted marks a fully answered and verified cycle.
	TraceCompleted TraceStatus = "completed"

	// TraceDegraded marks a cycle answered without usable context.
	TraceDegraded TraceStatus = "degraded"

	// TraceFailed marks a cycle where generation failed after retry.
	TraceFailed TraceStatus = "failed"

	// TraceCancelled marks a cycle interrupted by caller cancellation.
	TraceCancelled TraceStatus = "cancelled"
)

// QueryTrace is the immutable record of one query/answer cycle. It is
// created once by the orchestrator after generation and verification
// complete, and never mutated afterwards; feedback is attached as separate
// FeedbackRecord rows keyed by TraceID.
type QueryTrace struct {
	TraceID       string             `json:"trace_id"`
	SessionID     string             `json:"session_id,omitempty"`
	ParentTraceID string             `json:"parent_trace_id,omitempty"`
	Query         string             `json:"query"`
	Answer        string             `json:"answer"`
	Mode          SearchMode         `json:"mode"`
	Status        TraceStatus        `json:"status"`
	Citations     map[int]Citation   `json:"citations,omitempty"`
	ResultScores  map[string]float64 `json:"result_scores,omitempty"`
	Grounding     GroundingResult    `json:"grounding"`
	LatencyMs     int64              `json:"latency_ms"`
	PromptTokens  int                `json:"prompt_tokens"`
	AnswerTokens  int                `json:"answer_tokens"`
	CreatedAt     int64              `json:"created_at"`
}

// FeedbackRecord is an append-only rating attached to a trace. A trace may
// accumulate more than one record over its lifetime (e.g. one implicit,
// later one explicit).
type FeedbackRecord struct {
	FeedbackID string `json:"feedback_id"`
	TraceID    string `json:"trace_id"`
	// Rating is the numeric rating. Implicit corrections record -1.
	Rating int `json:"rating"`
	// Comment is optional free text accompanying the rating.
	Comment string `json:"comment,omitempty"`
	// Implicit is true when the rating was inferred from a follow-up query
	// rather than an explicit UI action.
	Implicit  bool  `json:"implicit"`
	CreatedAt int64 `json:"created_at"`
}

// =============================================================================
// Request / Response Types
// =============================================================================

const (
	// MaxQueryBytes bounds the user query size.
	MaxQueryBytes = 16 * 1024 // 16KB

	// MaxTopK bounds how many passages one request may retrieve.
	MaxTopK = 50

	// DefaultTopK is used when a request does not specify k.
	DefaultTopK = 5
)

// queryValidate is the validator instance for query datatypes.
var queryValidate = validator.New()

// AnswerRequest is the input to the orchestrator's AnswerQuery operation,
// and the body of POST /v1/query.
type AnswerRequest struct {
	// Query is the natural-language question.
	Query string `json:"query" validate:"required,max=16384" binding:"required"`

	// Mode selects the retrieval strategy. Defaults to hybrid.
	Mode SearchMode `json:"mode,omitempty"`

	// TopK is how many passages to retrieve. Defaults to DefaultTopK.
	TopK int `json:"top_k,omitempty" validate:"min=0,max=50"`

	// SessionID groups turns of one conversation. Generated when absent.
	SessionID string `json:"session_id,omitempty"`

	// ParentTraceID links this query to the prior turn's trace, enabling
	// implicit correction detection.
	ParentTraceID string `json:"parent_trace_id,omitempty"`

	// RequestID identifies the request for tracing. Generated when absent.
	RequestID string `json:"request_id,omitempty"`

	// Timestamp is the client-side submission time in Unix millis.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// EnsureDefaults populates RequestID, Timestamp, Mode, and TopK when the
// client omitted them. SessionID is handled by EnsureSessionID so callers
// can observe whether this is a new session.
func (r *AnswerRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
	if r.Mode == "" {
		r.Mode = ModeHybrid
	}
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
}

// EnsureSessionID returns the session ID, generating one when absent.
func (r *AnswerRequest) EnsureSessionID() string {
	if r.SessionID == "" {
		r.SessionID = uuid.New().String()
	}
	return r.SessionID
}

// Validate checks structural constraints and the closed mode set.
func (r *AnswerRequest) Validate() error {
	if err := queryValidate.Struct(r); err != nil {
		return err
	}
	if r.Mode != "" && !r.Mode.Valid() {
		return &InvalidModeError{Mode: string(r.Mode)}
	}
	return nil
}

// AnswerResponse is the orchestrator's result for one query, and the body
// of a successful POST /v1/query.
type AnswerResponse struct {
	Answer    string           `json:"answer"`
	Citations map[int]Citation `json:"citations,omitempty"`
	Grounded  bool             `json:"grounded"`
	// Warning carries the user-visible note when the answer is unverified
	// or produced without context. Empty for grounded answers.
	Warning   string `json:"warning,omitempty"`
	TraceID   string `json:"trace_id"`
	SessionID string `json:"session_id"`
}

// FeedbackRequest is the body of POST /v1/feedback.
type FeedbackRequest struct {
	TraceID string `json:"trace_id" validate:"required" binding:"required"`
	Rating  int    `json:"rating" validate:"min=-1,max=5"`
	Comment string `json:"comment,omitempty" validate:"max=4096"`
}

// Validate checks structural constraints.
func (r *FeedbackRequest) Validate() error {
	return queryValidate.Struct(r)
}
