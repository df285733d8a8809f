// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator drives the query answering cycle: implicit
// correction capture, retrieval, prompt assembly, generation, grounding
// verification, and trace persistence.
//
// The cycle degrades instead of failing wherever it can. Empty or failed
// retrieval produces an honest "insufficient context" answer; a failed
// verification annotates the response instead of blocking it; a failed
// trace write is logged and swallowed. Only validation errors and
// generation failure after retry surface to the caller.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/query/grounding"
	"github.com/AleutianAI/AleutianQuery/services/query/observability"
	"github.com/AleutianAI/AleutianQuery/services/query/promptbuild"
	"github.com/AleutianAI/AleutianQuery/services/query/search"
	"github.com/AleutianAI/AleutianQuery/services/query/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.query.orchestrator")

// degradedAnswer is returned when no usable context could be retrieved.
const degradedAnswer = "I don't have enough grounded context to answer that. " +
	"Try rephrasing the question or ingesting the relevant documents first."

// unverifiedWarning annotates answers that failed grounding verification.
const unverifiedWarning = "This answer could not be verified against the retrieved sources."

// AnswerVerifier checks a generated answer against its source passages.
// Satisfied by *grounding.Verifier; narrowed to an interface so tests can
// substitute verdicts.
type AnswerVerifier interface {
	Verify(ctx context.Context, answer string, results []datatypes.SearchResult) datatypes.GroundingResult
}

var _ AnswerVerifier = (*grounding.Verifier)(nil)

// Config holds the orchestrator's timing knobs.
type Config struct {
	// GenerationTimeout bounds one LLM generation attempt.
	GenerationTimeout time.Duration

	// VerificationTimeout bounds the grounding check. Verification runs
	// detached from the request context so a caller hang-up after
	// generation does not lose the verdict.
	VerificationTimeout time.Duration

	// PersistTimeout bounds each trace or feedback write.
	PersistTimeout time.Duration

	// RetryBackoff is the pause before the single generation retry.
	RetryBackoff time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		GenerationTimeout:   120 * time.Second,
		VerificationTimeout: 15 * time.Second,
		PersistTimeout:      10 * time.Second,
		RetryBackoff:        2 * time.Second,
	}
}

// validateConfig validates and corrects config values, logging a warning
// for every correction.
func validateConfig(config Config) Config {
	defaults := DefaultConfig()
	if config.GenerationTimeout <= 0 {
		slog.Warn("Invalid GenerationTimeout config, using default",
			"provided", config.GenerationTimeout, "default", defaults.GenerationTimeout)
		config.GenerationTimeout = defaults.GenerationTimeout
	}
	if config.VerificationTimeout <= 0 {
		slog.Warn("Invalid VerificationTimeout config, using default",
			"provided", config.VerificationTimeout, "default", defaults.VerificationTimeout)
		config.VerificationTimeout = defaults.VerificationTimeout
	}
	if config.PersistTimeout <= 0 {
		slog.Warn("Invalid PersistTimeout config, using default",
			"provided", config.PersistTimeout, "default", defaults.PersistTimeout)
		config.PersistTimeout = defaults.PersistTimeout
	}
	if config.RetryBackoff < 0 {
		slog.Warn("Invalid RetryBackoff config, using default",
			"provided", config.RetryBackoff, "default", defaults.RetryBackoff)
		config.RetryBackoff = defaults.RetryBackoff
	}
	return config
}

// Dependencies bundles the collaborators the orchestrator drives.
type Dependencies struct {
	Search   search.Engine
	LLM      llm.LLMClient
	Verifier AnswerVerifier
	Store    store.TraceStore
	Detector store.CorrectionDetector
	Metrics  *observability.QueryMetrics
}

// Close releases held resources. Safe to call with partially initialized
// dependencies.
func (d *Dependencies) Close() error {
	if d.Store != nil {
		return d.Store.Close()
	}
	return nil
}

// Orchestrator runs the full query answering cycle.
//
// # Thread Safety
//
// Safe for concurrent use; all per-query state is request-scoped.
type Orchestrator struct {
	deps   Dependencies
	config Config
}

// NewOrchestrator creates an orchestrator over the given dependencies.
func NewOrchestrator(deps Dependencies, config Config) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		config: validateConfig(config),
	}
}

// AnswerQuery runs one query through the full cycle.
//
// # Description
//
// Stages, in order:
//
//  1. Validate the request and fill defaults.
//  2. If the query reads as a correction of the previous answer in the
//     session, append implicit negative feedback to that answer's trace
//     before anything else. Best effort.
//  3. Retrieve passages. Failure or an empty result set degrades to an
//     "insufficient context" answer instead of an error.
//  4. Build the prompt and citation table from the same ordered results.
//  5. Generate, retrying once after a short backoff.
//  6. Verify grounding under its own timeout; the verdict annotates the
//     response and never blocks it.
//  7. Persist the trace. Write failures are logged and swallowed.
//
// # Outputs
//
//   - *datatypes.AnswerResponse: The answer with citations, grounding
//     verdict, and trace id. Present whenever error is nil.
//   - error: Validation failure, caller cancellation, or generation
//     failure after retry. Cancellation still writes a best-effort
//     "cancelled" trace.
func (o *Orchestrator) AnswerQuery(ctx context.Context, req *datatypes.AnswerRequest) (*datatypes.AnswerResponse, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.AnswerQuery")
	defer span.End()

	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		o.deps.Metrics.RecordError("validate", observability.ErrorCodeValidation)
		return nil, err
	}
	sessionID := req.EnsureSessionID()
	traceID := uuid.New().String()
	start := time.Now()

	span.SetAttributes(
		attribute.String("trace_id", traceID),
		attribute.String("session_id", sessionID),
		attribute.String("mode", string(req.Mode)),
		attribute.Int("top_k", req.TopK),
	)

	// Stage 1: implicit correction. Must happen before answering so the
	// signal lands on the answer being corrected, not this one.
	o.recordImplicitCorrection(ctx, req)

	// Stage 2: retrieval.
	retrieveStart := time.Now()
	results, retrieveErr := o.deps.Search.Search(ctx, req.Query, req.Mode, req.TopK)
	o.deps.Metrics.RecordStage("retrieve", time.Since(retrieveStart).Seconds())

	if err := ctx.Err(); err != nil {
		o.writeCancelledTrace(ctx, traceID, req, sessionID, start)
		return nil, err
	}

	if retrieveErr != nil || len(results) == 0 {
		if retrieveErr != nil {
			slog.Warn("Retrieval failed, degrading", "trace_id", traceID, "error", retrieveErr)
			span.AddEvent("retrieval_failed")
			o.deps.Metrics.RecordError("retrieve", observability.ErrorCodeRetrieval)
		} else {
			slog.Info("No passages retrieved, degrading", "trace_id", traceID)
			span.AddEvent("no_results")
		}
		return o.finishDegraded(ctx, traceID, req, sessionID, start)
	}

	// Stage 3: prompt and citations from the same ordered slice.
	prompt := promptbuild.BuildPrompt(req.Query, results)
	citations := promptbuild.BuildCitations(results)

	// Stage 4: generation with one retry.
	generateStart := time.Now()
	answer, genErr := o.generateWithRetry(ctx, prompt)
	o.deps.Metrics.RecordStage("generate", time.Since(generateStart).Seconds())
	if genErr != nil {
		if ctx.Err() != nil {
			o.writeCancelledTrace(ctx, traceID, req, sessionID, start)
			return nil, ctx.Err()
		}
		o.deps.Metrics.RecordError("generate", observability.ErrorCodeLLMError)
		o.writeTrace(ctx, &datatypes.QueryTrace{
			TraceID:       traceID,
			SessionID:     sessionID,
			ParentTraceID: req.ParentTraceID,
			Query:         req.Query,
			Mode:          req.Mode,
			Status:        datatypes.TraceFailed,
			LatencyMs:     time.Since(start).Milliseconds(),
			CreatedAt:     time.Now().UnixMilli(),
		})
		o.deps.Metrics.RecordQuery(string(req.Mode), string(datatypes.TraceFailed), len(results))
		span.RecordError(genErr)
		span.SetStatus(codes.Error, "generation failed")
		return nil, fmt.Errorf("generation failed after retry: %w", genErr)
	}

	// Stage 5: verification, detached from the caller's cancellation.
	verifyStart := time.Now()
	verifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.VerificationTimeout)
	verdict := o.deps.Verifier.Verify(verifyCtx, answer, results)
	cancel()
	o.deps.Metrics.RecordStage("verify", time.Since(verifyStart).Seconds())
	o.deps.Metrics.RecordGrounding(verdict.Grounded, verdict.MaxSimilarity)

	// Stage 6: trace.
	trace := &datatypes.QueryTrace{
		TraceID:       traceID,
		SessionID:     sessionID,
		ParentTraceID: req.ParentTraceID,
		Query:         req.Query,
		Answer:        answer,
		Mode:          req.Mode,
		Status:        datatypes.TraceCompleted,
		Citations:     citations,
		ResultScores:  resultScores(results),
		Grounding:     verdict,
		LatencyMs:     time.Since(start).Milliseconds(),
		PromptTokens:  estimateTokens(prompt),
		AnswerTokens:  estimateTokens(answer),
		CreatedAt:     time.Now().UnixMilli(),
	}
	o.writeTrace(ctx, trace)
	o.deps.Metrics.RecordQuery(string(req.Mode), string(datatypes.TraceCompleted), len(results))

	response := &datatypes.AnswerResponse{
		Answer:    answer,
		Citations: citations,
		Grounded:  verdict.Grounded,
		TraceID:   traceID,
		SessionID: sessionID,
	}
	if !verdict.Grounded {
		response.Warning = unverifiedWarning
		if verdict.Note != "" {
			response.Warning += " " + verdict.Note
		}
	}
	span.SetAttributes(attribute.Bool("grounded", verdict.Grounded))
	return response, nil
}

// RecordFeedback validates and appends one explicit feedback record.
func (o *Orchestrator) RecordFeedback(ctx context.Context, req *datatypes.FeedbackRequest) (*datatypes.FeedbackRecord, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.RecordFeedback")
	defer span.End()

	if err := req.Validate(); err != nil {
		o.deps.Metrics.RecordError("feedback", observability.ErrorCodeValidation)
		return nil, err
	}

	record := &datatypes.FeedbackRecord{
		FeedbackID: uuid.New().String(),
		TraceID:    req.TraceID,
		Rating:     req.Rating,
		Comment:    req.Comment,
		Implicit:   false,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := o.deps.Store.AppendFeedback(ctx, record); err != nil {
		if !errors.Is(err, store.ErrTraceNotFound) {
			o.deps.Metrics.RecordError("feedback", observability.ErrorCodeStorage)
		}
		span.RecordError(err)
		return nil, err
	}
	o.deps.Metrics.RecordFeedback(false)
	return record, nil
}

// GetTrace returns a stored trace and its feedback history.
func (o *Orchestrator) GetTrace(ctx context.Context, traceID string) (*datatypes.QueryTrace, []datatypes.FeedbackRecord, error) {
	trace, err := o.deps.Store.GetTrace(ctx, traceID)
	if err != nil {
		return nil, nil, err
	}
	feedback, err := o.deps.Store.ListFeedback(ctx, traceID)
	if err != nil {
		return nil, nil, err
	}
	return trace, feedback, nil
}

// recordImplicitCorrection appends negative feedback to the previous
// answer's trace when the incoming query reads as a correction. Best
// effort: every failure is logged and swallowed.
func (o *Orchestrator) recordImplicitCorrection(ctx context.Context, req *datatypes.AnswerRequest) {
	if o.deps.Detector == nil || !o.deps.Detector.IsCorrection(req.Query) {
		return
	}

	var target *datatypes.QueryTrace
	var err error
	if req.ParentTraceID != "" {
		target, err = o.deps.Store.GetTrace(ctx, req.ParentTraceID)
	} else {
		target, err = o.deps.Store.LatestTraceForSession(ctx, req.SessionID)
	}
	if err != nil {
		if !errors.Is(err, store.ErrTraceNotFound) {
			slog.Warn("Failed to resolve correction target", "error", err)
		}
		return
	}

	record := &datatypes.FeedbackRecord{
		FeedbackID: uuid.New().String(),
		TraceID:    target.TraceID,
		Rating:     -1,
		Comment:    req.Query,
		Implicit:   true,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := o.deps.Store.AppendFeedback(ctx, record); err != nil {
		slog.Warn("Failed to append implicit correction", "trace_id", target.TraceID, "error", err)
		return
	}
	slog.Info("Recorded implicit correction", "corrected_trace_id", target.TraceID)
	o.deps.Metrics.RecordFeedback(true)
}

// generateWithRetry runs one generation attempt, then exactly one retry
// after a backoff. Caller cancellation aborts the retry.
func (o *Orchestrator) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		genCtx, cancel := context.WithTimeout(ctx, o.config.GenerationTimeout)
		answer, err := o.deps.LLM.Generate(genCtx, prompt, llm.GenerationParams{})
		cancel()
		if err == nil {
			return answer, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == 1 {
			slog.Warn("Generation attempt failed, retrying", "attempt", attempt, "error", err)
			select {
			case <-time.After(o.config.RetryBackoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

// finishDegraded writes the degraded trace and builds the degraded
// response.
func (o *Orchestrator) finishDegraded(ctx context.Context, traceID string, req *datatypes.AnswerRequest, sessionID string, start time.Time) (*datatypes.AnswerResponse, error) {
	trace := &datatypes.QueryTrace{
		TraceID:       traceID,
		SessionID:     sessionID,
		ParentTraceID: req.ParentTraceID,
		Query:         req.Query,
		Answer:        degradedAnswer,
		Mode:          req.Mode,
		Status:        datatypes.TraceDegraded,
		Grounding:     datatypes.GroundingResult{Note: "no context retrieved"},
		LatencyMs:     time.Since(start).Milliseconds(),
		AnswerTokens:  estimateTokens(degradedAnswer),
		CreatedAt:     time.Now().UnixMilli(),
	}
	o.writeTrace(ctx, trace)
	o.deps.Metrics.RecordQuery(string(req.Mode), string(datatypes.TraceDegraded), 0)

	return &datatypes.AnswerResponse{
		Answer:    degradedAnswer,
		Grounded:  false,
		Warning:   "No relevant context was found for this question.",
		TraceID:   traceID,
		SessionID: sessionID,
	}, nil
}

// writeTrace persists a trace detached from the caller's cancellation.
// Failures are logged and swallowed; losing a trace must never lose the
// answer.
func (o *Orchestrator) writeTrace(ctx context.Context, trace *datatypes.QueryTrace) {
	persistStart := time.Now()
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.PersistTimeout)
	defer cancel()
	if err := o.deps.Store.SaveTrace(persistCtx, trace); err != nil {
		slog.Error("Failed to persist trace", "trace_id", trace.TraceID, "error", err)
		o.deps.Metrics.RecordError("persist", observability.ErrorCodeStorage)
		return
	}
	o.deps.Metrics.RecordStage("persist", time.Since(persistStart).Seconds())
}

// writeCancelledTrace records that the caller hung up mid-cycle.
func (o *Orchestrator) writeCancelledTrace(ctx context.Context, traceID string, req *datatypes.AnswerRequest, sessionID string, start time.Time) {
	o.writeTrace(ctx, &datatypes.QueryTrace{
		TraceID:       traceID,
		SessionID:     sessionID,
		ParentTraceID: req.ParentTraceID,
		Query:         req.Query,
		Mode:          req.Mode,
		Status:        datatypes.TraceCancelled,
		LatencyMs:     time.Since(start).Milliseconds(),
		CreatedAt:     time.Now().UnixMilli(),
	})
	o.deps.Metrics.RecordQuery(string(req.Mode), string(datatypes.TraceCancelled), 0)
}

// resultScores captures each retrieved passage's final (fused or raw)
// score for the trace.
func resultScores(results []datatypes.SearchResult) map[string]float64 {
	scores := make(map[string]float64, len(results))
	for _, r := range results {
		scores[r.ChunkID] = r.Score
	}
	return scores
}

// estimateTokens approximates token counts at four bytes per token. Close
// enough for dashboards without shipping a tokenizer.
func estimateTokens(text string) int {
	return len(text) / 4
}
