// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BadgerTraceStore {
	t.Helper()
	s, err := NewBadgerTraceStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTrace(traceID, sessionID string) *datatypes.QueryTrace {
	return &datatypes.QueryTrace{
		TraceID:   traceID,
		SessionID: sessionID,
		Query:     "how long do tokens last?",
		Answer:    "Tokens expire after one hour [1].",
		Mode:      datatypes.ModeHybrid,
		Status:    datatypes.TraceCompleted,
		Citations: map[int]datatypes.Citation{
			1: {ChunkID: "chunk-auth-3", DocTitle: "Authentication Guide", Source: "https://docs/auth"},
		},
		ResultScores: map[string]float64{"chunk-auth-3": 0.0321},
		Grounding:    datatypes.GroundingResult{Grounded: true, MaxSimilarity: 0.88},
		LatencyMs:    412,
		PromptTokens: 180,
		AnswerTokens: 12,
		CreatedAt:    time.Now().UnixMilli(),
	}
}

func TestBadgerTraceStore_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trace := sampleTrace("t-1", "s-1")
	require.NoError(t, s.SaveTrace(ctx, trace))

	got, err := s.GetTrace(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, trace.Query, got.Query)
	assert.Equal(t, trace.Answer, got.Answer)
	assert.Equal(t, datatypes.TraceCompleted, got.Status)
	assert.Equal(t, trace.Citations, got.Citations)
	assert.True(t, got.Grounding.Grounded)
}

func TestBadgerTraceStore_TracesAreImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTrace(ctx, sampleTrace("t-1", "")))

	err := s.SaveTrace(ctx, sampleTrace("t-1", ""))
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

func TestBadgerTraceStore_GetMissingTrace(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTrace(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTraceNotFound)
}

func TestBadgerTraceStore_LatestTraceForSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTrace(ctx, sampleTrace("t-1", "s-1")))
	require.NoError(t, s.SaveTrace(ctx, sampleTrace("t-2", "s-1")))
	require.NoError(t, s.SaveTrace(ctx, sampleTrace("t-other", "s-2")))

	got, err := s.LatestTraceForSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "t-2", got.TraceID)

	_, err = s.LatestTraceForSession(ctx, "never-seen")
	assert.ErrorIs(t, err, ErrTraceNotFound)
}

func TestBadgerTraceStore_Feedback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTrace(ctx, sampleTrace("t-1", "s-1")))

	t.Run("append requires an existing trace", func(t *testing.T) {
		err := s.AppendFeedback(ctx, &datatypes.FeedbackRecord{
			FeedbackID: "f-orphan", TraceID: "missing", Rating: 1,
		})
		assert.ErrorIs(t, err, ErrTraceNotFound)
	})

	t.Run("records come back in append order", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			require.NoError(t, s.AppendFeedback(ctx, &datatypes.FeedbackRecord{
				FeedbackID: fmt.Sprintf("f-%d", i),
				TraceID:    "t-1",
				Rating:     i,
				CreatedAt:  time.Now().UnixMilli(),
			}))
		}

		records, err := s.ListFeedback(ctx, "t-1")
		require.NoError(t, err)
		require.Len(t, records, 3)
		for i, r := range records {
			assert.Equal(t, fmt.Sprintf("f-%d", i), r.FeedbackID)
			assert.Equal(t, i, r.Rating)
		}
	})

	t.Run("implicit and explicit records coexist", func(t *testing.T) {
		require.NoError(t, s.AppendFeedback(ctx, &datatypes.FeedbackRecord{
			FeedbackID: "f-implicit", TraceID: "t-1", Rating: -1, Implicit: true,
		}))

		records, err := s.ListFeedback(ctx, "t-1")
		require.NoError(t, err)
		last := records[len(records)-1]
		assert.True(t, last.Implicit)
		assert.Equal(t, -1, last.Rating)
	})

	t.Run("no feedback yields empty list", func(t *testing.T) {
		require.NoError(t, s.SaveTrace(ctx, sampleTrace("t-empty", "")))
		records, err := s.ListFeedback(ctx, "t-empty")
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestBadgerTraceStore_RequiresPath(t *testing.T) {
	_, err := NewBadgerTraceStore(BadgerConfig{})
	assert.Error(t, err)
}

func TestTraceFromResult(t *testing.T) {
	payload := `{"citations":{"1":{"chunk_id":"c1","doc_title":"T","source":"s"}},` +
		`"result_scores":{"c1":0.5},"grounding":{"grounded":true,"max_similarity":0.9},` +
		`"prompt_tokens":100,"answer_tokens":20}`

	r := datatypes.TraceResult{
		TraceID:   "t-1",
		SessionID: "s-1",
		Query:     "q",
		Answer:    "a [1]",
		Mode:      "hybrid",
		Status:    "completed",
		Payload:   payload,
		LatencyMs: 99,
		CreatedAt: 1700000000000,
	}

	trace, err := traceFromResult(r)
	require.NoError(t, err)
	assert.Equal(t, datatypes.ModeHybrid, trace.Mode)
	assert.Equal(t, "c1", trace.Citations[1].ChunkID)
	assert.Equal(t, 0.5, trace.ResultScores["c1"])
	assert.Equal(t, 100, trace.PromptTokens)
	assert.True(t, trace.Grounding.Grounded)

	t.Run("empty payload tolerated", func(t *testing.T) {
		r := datatypes.TraceResult{TraceID: "t-2", Mode: "text", Status: "degraded"}
		trace, err := traceFromResult(r)
		require.NoError(t, err)
		assert.Nil(t, trace.Citations)
	})

	t.Run("corrupt payload is a storage error", func(t *testing.T) {
		r := datatypes.TraceResult{TraceID: "t-3", Payload: "{not json"}
		_, err := traceFromResult(r)
		require.Error(t, err)
		assert.True(t, IsStorageError(err))
	})
}
