// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/query/search"
	"github.com/AleutianAI/AleutianQuery/services/query/store"
)

// =============================================================================
// Mocks
// =============================================================================

type mockSearch struct {
	results []datatypes.SearchResult
	err     error
	calls   int
}

func (m *mockSearch) Search(_ context.Context, _ string, _ datatypes.SearchMode, _ int) ([]datatypes.SearchResult, error) {
	m.calls++
	return m.results, m.err
}

type mockLLM struct {
	answer   string
	failures int // number of leading calls that fail
	calls    int
}

func (m *mockLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	m.calls++
	if m.calls <= m.failures {
		return "", errors.New("backend unavailable")
	}
	return m.answer, nil
}

type mockVerifier struct {
	verdict datatypes.GroundingResult
}

func (m *mockVerifier) Verify(_ context.Context, _ string, _ []datatypes.SearchResult) datatypes.GroundingResult {
	return m.verdict
}

func passages(n int) []datatypes.SearchResult {
	results := make([]datatypes.SearchResult, n)
	for i := range results {
		results[i] = datatypes.SearchResult{
			ChunkID:  "chunk-" + string(rune('a'+i)),
			Content:  "passage body",
			DocID:    "doc-1",
			DocTitle: "Docs",
			Source:   "https://docs",
			Score:    0.5,
		}
	}
	return results
}

func newTestOrchestrator(t *testing.T, deps *Dependencies) *Orchestrator {
	t.Helper()
	if deps.Store == nil {
		s, err := store.NewBadgerTraceStore(store.InMemoryBadgerConfig())
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		deps.Store = s
	}
	if deps.Detector == nil {
		deps.Detector = store.NewPrefixCorrectionDetector()
	}
	cfg := DefaultConfig()
	cfg.RetryBackoff = 0
	return NewOrchestrator(*deps, cfg)
}

// =============================================================================
// Tests
// =============================================================================

func TestAnswerQuery_HappyPath(t *testing.T) {
	deps := Dependencies{
		Search:   &mockSearch{results: passages(2)},
		LLM:      &mockLLM{answer: "Use a bearer token [1]."},
		Verifier: &mockVerifier{verdict: datatypes.GroundingResult{Grounded: true, MaxSimilarity: 0.9}},
	}
	o := newTestOrchestrator(t, &deps)

	resp, err := o.AnswerQuery(context.Background(), &datatypes.AnswerRequest{Query: "how do I authenticate?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != "Use a bearer token [1]." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if !resp.Grounded || resp.Warning != "" {
		t.Errorf("grounded answer carried warning: %+v", resp)
	}
	if len(resp.Citations) != 2 {
		t.Errorf("citations = %d, want 2", len(resp.Citations))
	}
	if resp.TraceID == "" || resp.SessionID == "" {
		t.Error("trace and session ids must be set")
	}

	trace, err := deps.Store.GetTrace(context.Background(), resp.TraceID)
	if err != nil {
		t.Fatalf("trace not persisted: %v", err)
	}
	if trace.Status != datatypes.TraceCompleted {
		t.Errorf("trace status = %s, want completed", trace.Status)
	}
	if trace.ResultScores["chunk-a"] != 0.5 {
		t.Errorf("result scores not captured: %+v", trace.ResultScores)
	}
	if trace.PromptTokens == 0 || trace.AnswerTokens == 0 {
		t.Error("token estimates missing")
	}
}

func TestAnswerQuery_UngroundedAnswerStillReturned(t *testing.T) {
	deps := Dependencies{
		Search: &mockSearch{results: passages(1)},
		LLM:    &mockLLM{answer: "The moon is made of cheese [9]."},
		Verifier: &mockVerifier{verdict: datatypes.GroundingResult{
			Grounded: false, MaxSimilarity: 0.2, MissingCitations: []int{9},
		}},
	}
	o := newTestOrchestrator(t, &deps)

	resp, err := o.AnswerQuery(context.Background(), &datatypes.AnswerRequest{Query: "what is the moon made of?"})
	if err != nil {
		t.Fatalf("verification must never block the response: %v", err)
	}
	if resp.Grounded {
		t.Error("Grounded = true for an unverified answer")
	}
	if !strings.Contains(resp.Warning, "could not be verified") {
		t.Errorf("Warning = %q", resp.Warning)
	}
}

func TestAnswerQuery_DegradedRetrieval(t *testing.T) {
	tests := []struct {
		name   string
		search *mockSearch
	}{
		{"retrieval backend down", &mockSearch{err: &search.RetrievalError{Op: "hybrid", Err: errors.New("down")}}},
		{"no results", &mockSearch{results: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mllm := &mockLLM{answer: "should not be called"}
			deps := Dependencies{
				Search:   tt.search,
				LLM:      mllm,
				Verifier: &mockVerifier{},
			}
			o := newTestOrchestrator(t, &deps)

			resp, err := o.AnswerQuery(context.Background(), &datatypes.AnswerRequest{Query: "anything?"})
			if err != nil {
				t.Fatalf("degraded retrieval must not error: %v", err)
			}
			if resp.Grounded {
				t.Error("degraded answer reported grounded")
			}
			if resp.Warning == "" {
				t.Error("degraded answer missing warning")
			}
			if !strings.Contains(resp.Answer, "enough grounded context") {
				t.Errorf("answer = %q, want insufficient-context message", resp.Answer)
			}
			if mllm.calls != 0 {
				t.Error("generation must be skipped without context")
			}

			trace, err := deps.Store.GetTrace(context.Background(), resp.TraceID)
			if err != nil {
				t.Fatalf("degraded trace not persisted: %v", err)
			}
			if trace.Status != datatypes.TraceDegraded {
				t.Errorf("trace status = %s, want degraded", trace.Status)
			}
		})
	}
}

func TestAnswerQuery_GenerationRetry(t *testing.T) {
	t.Run("one failure is retried", func(t *testing.T) {
		mllm := &mockLLM{answer: "second try worked [1]", failures: 1}
		deps := Dependencies{
			Search:   &mockSearch{results: passages(1)},
			LLM:      mllm,
			Verifier: &mockVerifier{verdict: datatypes.GroundingResult{Grounded: true, MaxSimilarity: 0.8}},
		}
		o := newTestOrchestrator(t, &deps)

		resp, err := o.AnswerQuery(context.Background(), &datatypes.AnswerRequest{Query: "q?"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mllm.calls != 2 {
			t.Errorf("llm calls = %d, want 2", mllm.calls)
		}
		if resp.Answer != "second try worked [1]" {
			t.Errorf("answer = %q", resp.Answer)
		}
	})

	t.Run("two failures surface the error and a failed trace", func(t *testing.T) {
		mllm := &mockLLM{failures: 10}
		traceStore, err := store.NewBadgerTraceStore(store.InMemoryBadgerConfig())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = traceStore.Close() })

		deps := Dependencies{
			Search:   &mockSearch{results: passages(1)},
			LLM:      mllm,
			Verifier: &mockVerifier{},
			Store:    traceStore,
		}
		o := newTestOrchestrator(t, &deps)

		req := &datatypes.AnswerRequest{Query: "q?", SessionID: "s-1"}
		_, err = o.AnswerQuery(context.Background(), req)
		if err == nil {
			t.Fatal("expected generation failure")
		}
		if mllm.calls != 2 {
			t.Errorf("llm calls = %d, want exactly 2", mllm.calls)
		}

		trace, err := traceStore.LatestTraceForSession(context.Background(), "s-1")
		if err != nil {
			t.Fatalf("failed trace not persisted: %v", err)
		}
		if trace.Status != datatypes.TraceFailed {
			t.Errorf("trace status = %s, want failed", trace.Status)
		}
	})
}

func TestAnswerQuery_ImplicitCorrection(t *testing.T) {
	deps := Dependencies{
		Search:   &mockSearch{results: passages(1)},
		LLM:      &mockLLM{answer: "corrected answer [1]"},
		Verifier: &mockVerifier{verdict: datatypes.GroundingResult{Grounded: true, MaxSimilarity: 0.85}},
	}
	o := newTestOrchestrator(t, &deps)
	ctx := context.Background()

	// First turn establishes the session.
	first, err := o.AnswerQuery(ctx, &datatypes.AnswerRequest{Query: "how long do tokens last?", SessionID: "s-1"})
	if err != nil {
		t.Fatal(err)
	}

	// Second turn opens with a correction phrase.
	second, err := o.AnswerQuery(ctx, &datatypes.AnswerRequest{Query: "no, I meant refresh tokens", SessionID: "s-1"})
	if err != nil {
		t.Fatal(err)
	}
	if second.TraceID == first.TraceID {
		t.Fatal("second turn reused the first trace id")
	}

	records, err := deps.Store.ListFeedback(ctx, first.TraceID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("feedback on first trace = %d records, want 1", len(records))
	}
	if !records[0].Implicit || records[0].Rating != -1 {
		t.Errorf("implicit correction record = %+v", records[0])
	}
	if records[0].Comment != "no, I meant refresh tokens" {
		t.Errorf("correction comment = %q", records[0].Comment)
	}

	// The corrected turn itself must carry no feedback.
	records, err = deps.Store.ListFeedback(ctx, second.TraceID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("second trace has %d feedback records, want 0", len(records))
	}
}

func TestAnswerQuery_CorrectionWithoutPriorTurn(t *testing.T) {
	deps := Dependencies{
		Search:   &mockSearch{results: passages(1)},
		LLM:      &mockLLM{answer: "fresh answer [1]"},
		Verifier: &mockVerifier{verdict: datatypes.GroundingResult{Grounded: true, MaxSimilarity: 0.8}},
	}
	o := newTestOrchestrator(t, &deps)

	// A correction-shaped query in a brand-new session must answer
	// normally with nothing to attach feedback to.
	resp, err := o.AnswerQuery(context.Background(), &datatypes.AnswerRequest{Query: "no, the other config"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer == "" {
		t.Error("expected a normal answer")
	}
}

func TestAnswerQuery_Validation(t *testing.T) {
	o := newTestOrchestrator(t, &Dependencies{
		Search:   &mockSearch{},
		LLM:      &mockLLM{},
		Verifier: &mockVerifier{},
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := o.AnswerQuery(context.Background(), &datatypes.AnswerRequest{})
		if err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("invalid mode", func(t *testing.T) {
		_, err := o.AnswerQuery(context.Background(), &datatypes.AnswerRequest{Query: "q", Mode: "psychic"})
		if !datatypes.IsInvalidMode(err) {
			t.Errorf("err = %v, want InvalidModeError", err)
		}
	})
}

func TestAnswerQuery_Cancellation(t *testing.T) {
	traceStore, err := store.NewBadgerTraceStore(store.InMemoryBadgerConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = traceStore.Close() })

	o := newTestOrchestrator(t, &Dependencies{
		Search:   &mockSearch{results: passages(1)},
		LLM:      &mockLLM{answer: "never seen"},
		Verifier: &mockVerifier{},
		Store:    traceStore,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = o.AnswerQuery(ctx, &datatypes.AnswerRequest{Query: "q?", SessionID: "s-c"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The cancelled trace is written best effort on a detached context.
	trace, err := traceStore.LatestTraceForSession(context.Background(), "s-c")
	if err != nil {
		t.Fatalf("cancelled trace not persisted: %v", err)
	}
	if trace.Status != datatypes.TraceCancelled {
		t.Errorf("trace status = %s, want cancelled", trace.Status)
	}
}

func TestRecordFeedback(t *testing.T) {
	deps := Dependencies{
		Search:   &mockSearch{results: passages(1)},
		LLM:      &mockLLM{answer: "an answer [1]"},
		Verifier: &mockVerifier{verdict: datatypes.GroundingResult{Grounded: true, MaxSimilarity: 0.8}},
	}
	o := newTestOrchestrator(t, &deps)
	ctx := context.Background()

	resp, err := o.AnswerQuery(ctx, &datatypes.AnswerRequest{Query: "q?"})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("valid feedback is appended", func(t *testing.T) {
		record, err := o.RecordFeedback(ctx, &datatypes.FeedbackRequest{TraceID: resp.TraceID, Rating: 4, Comment: "helpful"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if record.Implicit {
			t.Error("explicit feedback flagged implicit")
		}

		records, err := deps.Store.ListFeedback(ctx, resp.TraceID)
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 1 || records[0].Rating != 4 {
			t.Errorf("stored feedback = %+v", records)
		}
	})

	t.Run("unknown trace", func(t *testing.T) {
		_, err := o.RecordFeedback(ctx, &datatypes.FeedbackRequest{TraceID: "missing", Rating: 1})
		if !errors.Is(err, store.ErrTraceNotFound) {
			t.Errorf("err = %v, want ErrTraceNotFound", err)
		}
	})

	t.Run("rating out of range", func(t *testing.T) {
		_, err := o.RecordFeedback(ctx, &datatypes.FeedbackRequest{TraceID: resp.TraceID, Rating: 11})
		if err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestGetTrace(t *testing.T) {
	deps := Dependencies{
		Search:   &mockSearch{results: passages(1)},
		LLM:      &mockLLM{answer: "an answer [1]"},
		Verifier: &mockVerifier{verdict: datatypes.GroundingResult{Grounded: true, MaxSimilarity: 0.8}},
	}
	o := newTestOrchestrator(t, &deps)
	ctx := context.Background()

	resp, err := o.AnswerQuery(ctx, &datatypes.AnswerRequest{Query: "q?"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.RecordFeedback(ctx, &datatypes.FeedbackRequest{TraceID: resp.TraceID, Rating: 2}); err != nil {
		t.Fatal(err)
	}

	trace, feedback, err := o.GetTrace(ctx, resp.TraceID)
	if err != nil {
		t.Fatal(err)
	}
	if trace.TraceID != resp.TraceID {
		t.Errorf("trace id = %s", trace.TraceID)
	}
	if len(feedback) != 1 {
		t.Errorf("feedback = %d records, want 1", len(feedback))
	}

	_, _, err = o.GetTrace(ctx, "missing")
	if !errors.Is(err, store.ErrTraceNotFound) {
		t.Errorf("err = %v, want ErrTraceNotFound", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens("12345678"); got != 2 {
		t.Errorf("estimateTokens = %d, want 2", got)
	}
	if got := estimateTokens(""); got != 0 {
		t.Errorf("estimateTokens(\"\") = %d, want 0", got)
	}
}
