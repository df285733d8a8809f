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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.query.store")

// tracePayload is the JSON blob stored in the QueryTrace payload property.
// Weaviate properties cannot hold nested maps, so the structured parts of
// a trace ride along as one text field.
type tracePayload struct {
	Citations    map[int]datatypes.Citation `json:"citations,omitempty"`
	ResultScores map[string]float64         `json:"result_scores,omitempty"`
	Grounding    datatypes.GroundingResult  `json:"grounding"`
	PromptTokens int                        `json:"prompt_tokens"`
	AnswerTokens int                        `json:"answer_tokens"`
}

// WeaviateTraceStore implements TraceStore on Weaviate, keeping traces
// queryable alongside the passage corpus.
//
// # Thread Safety
//
// Safe for concurrent use; the Weaviate client handles pooling.
type WeaviateTraceStore struct {
	client *weaviate.Client
}

// Compile-time interface implementation check.
var _ TraceStore = (*WeaviateTraceStore)(nil)

// NewWeaviateTraceStore creates a trace store on an existing client.
func NewWeaviateTraceStore(client *weaviate.Client) *WeaviateTraceStore {
	return &WeaviateTraceStore{client: client}
}

// EnsureSchema creates every class the query engine reads or writes,
// skipping classes that already exist. Call once at startup.
func (s *WeaviateTraceStore) EnsureSchema(ctx context.Context) error {
	classes := []*models.Class{
		datatypes.GetPassageSchema(),
		datatypes.GetDocumentSchema(),
		datatypes.GetQueryTraceSchema(),
		datatypes.GetFeedbackSchema(),
	}
	for _, class := range classes {
		exists, err := s.client.Schema().ClassExistenceChecker().
			WithClassName(class.Class).
			Do(ctx)
		if err != nil {
			return &StorageError{Op: "ensure_schema", Err: fmt.Errorf("check class %s: %w", class.Class, err)}
		}
		if exists {
			continue
		}
		err = s.client.Schema().ClassCreator().
			WithClass(class).
			Do(ctx)
		if err != nil {
			return &StorageError{Op: "ensure_schema", Err: fmt.Errorf("create class %s: %w", class.Class, err)}
		}
		slog.Info("Created Weaviate class", "class", class.Class)
	}
	return nil
}

// SaveTrace implements the TraceStore interface.
func (s *WeaviateTraceStore) SaveTrace(ctx context.Context, trace *datatypes.QueryTrace) error {
	ctx, span := tracer.Start(ctx, "WeaviateTraceStore.SaveTrace")
	defer span.End()
	span.SetAttributes(attribute.String("trace_id", trace.TraceID))

	payload, err := json.Marshal(tracePayload{
		Citations:    trace.Citations,
		ResultScores: trace.ResultScores,
		Grounding:    trace.Grounding,
		PromptTokens: trace.PromptTokens,
		AnswerTokens: trace.AnswerTokens,
	})
	if err != nil {
		return &StorageError{Op: "save_trace", Err: fmt.Errorf("marshal trace payload: %w", err)}
	}

	properties := map[string]any{
		"trace_id":        trace.TraceID,
		"session_id":      trace.SessionID,
		"parent_trace_id": trace.ParentTraceID,
		"query":           trace.Query,
		"answer":          trace.Answer,
		"mode":            string(trace.Mode),
		"status":          string(trace.Status),
		"payload":         string(payload),
		"latency_ms":      trace.LatencyMs,
		"created_at":      trace.CreatedAt,
	}

	_, err = s.client.Data().Creator().
		WithClassName("QueryTrace").
		WithProperties(properties).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "trace insert failed")
		return &StorageError{Op: "save_trace", Err: err}
	}
	return nil
}

// GetTrace implements the TraceStore interface.
func (s *WeaviateTraceStore) GetTrace(ctx context.Context, traceID string) (*datatypes.QueryTrace, error) {
	ctx, span := tracer.Start(ctx, "WeaviateTraceStore.GetTrace")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"trace_id"}).
		WithOperator(filters.Equal).
		WithValueText(traceID)

	result, err := s.client.GraphQL().Get().
		WithClassName("QueryTrace").
		WithFields(traceFields()...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, &StorageError{Op: "get_trace", Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.TraceQueryResponse](result)
	if err != nil {
		return nil, &StorageError{Op: "get_trace", Err: err}
	}
	if len(parsed.Get.QueryTrace) == 0 {
		return nil, ErrTraceNotFound
	}
	return traceFromResult(parsed.Get.QueryTrace[0])
}

// LatestTraceForSession implements the TraceStore interface.
func (s *WeaviateTraceStore) LatestTraceForSession(ctx context.Context, sessionID string) (*datatypes.QueryTrace, error) {
	ctx, span := tracer.Start(ctx, "WeaviateTraceStore.LatestTraceForSession")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueText(sessionID)

	byNewest := graphql.Sort{Path: []string{"created_at"}, Order: graphql.Desc}

	result, err := s.client.GraphQL().Get().
		WithClassName("QueryTrace").
		WithFields(traceFields()...).
		WithWhere(where).
		WithSort(byNewest).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, &StorageError{Op: "get_trace", Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.TraceQueryResponse](result)
	if err != nil {
		return nil, &StorageError{Op: "get_trace", Err: err}
	}
	if len(parsed.Get.QueryTrace) == 0 {
		return nil, ErrTraceNotFound
	}
	return traceFromResult(parsed.Get.QueryTrace[0])
}

// AppendFeedback implements the TraceStore interface.
func (s *WeaviateTraceStore) AppendFeedback(ctx context.Context, record *datatypes.FeedbackRecord) error {
	ctx, span := tracer.Start(ctx, "WeaviateTraceStore.AppendFeedback")
	defer span.End()
	span.SetAttributes(
		attribute.String("trace_id", record.TraceID),
		attribute.Bool("implicit", record.Implicit),
	)

	// The trace must exist before feedback can attach to it.
	if _, err := s.GetTrace(ctx, record.TraceID); err != nil {
		return err
	}

	properties := map[string]any{
		"feedback_id": record.FeedbackID,
		"trace_id":    record.TraceID,
		"rating":      record.Rating,
		"comment":     record.Comment,
		"implicit":    record.Implicit,
		"created_at":  record.CreatedAt,
	}

	_, err := s.client.Data().Creator().
		WithClassName("Feedback").
		WithProperties(properties).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "feedback insert failed")
		return &StorageError{Op: "append_feedback", Err: err}
	}
	return nil
}

// ListFeedback implements the TraceStore interface.
func (s *WeaviateTraceStore) ListFeedback(ctx context.Context, traceID string) ([]datatypes.FeedbackRecord, error) {
	ctx, span := tracer.Start(ctx, "WeaviateTraceStore.ListFeedback")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"trace_id"}).
		WithOperator(filters.Equal).
		WithValueText(traceID)

	byOldest := graphql.Sort{Path: []string{"created_at"}, Order: graphql.Asc}

	fields := []graphql.Field{
		{Name: "feedback_id"},
		{Name: "trace_id"},
		{Name: "rating"},
		{Name: "comment"},
		{Name: "implicit"},
		{Name: "created_at"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName("Feedback").
		WithFields(fields...).
		WithWhere(where).
		WithSort(byOldest).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, &StorageError{Op: "list_feedback", Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.FeedbackQueryResponse](result)
	if err != nil {
		return nil, &StorageError{Op: "list_feedback", Err: err}
	}

	records := make([]datatypes.FeedbackRecord, 0, len(parsed.Get.Feedback))
	for _, f := range parsed.Get.Feedback {
		records = append(records, datatypes.FeedbackRecord{
			FeedbackID: f.FeedbackID,
			TraceID:    f.TraceID,
			Rating:     f.Rating,
			Comment:    f.Comment,
			Implicit:   f.Implicit,
			CreatedAt:  f.CreatedAt,
		})
	}
	return records, nil
}

// Close implements the TraceStore interface. The Weaviate client holds no
// resources needing release.
func (s *WeaviateTraceStore) Close() error {
	return nil
}

// traceFields returns the GraphQL fields requested for every trace read.
func traceFields() []graphql.Field {
	return []graphql.Field{
		{Name: "trace_id"},
		{Name: "session_id"},
		{Name: "parent_trace_id"},
		{Name: "query"},
		{Name: "answer"},
		{Name: "mode"},
		{Name: "status"},
		{Name: "payload"},
		{Name: "latency_ms"},
		{Name: "created_at"},
	}
}

// traceFromResult reassembles a QueryTrace from its stored properties and
// payload blob.
func traceFromResult(r datatypes.TraceResult) (*datatypes.QueryTrace, error) {
	var payload tracePayload
	if r.Payload != "" {
		if err := json.Unmarshal([]byte(r.Payload), &payload); err != nil {
			return nil, &StorageError{Op: "get_trace", Err: fmt.Errorf("unmarshal trace payload: %w", err)}
		}
	}
	return &datatypes.QueryTrace{
		TraceID:       r.TraceID,
		SessionID:     r.SessionID,
		ParentTraceID: r.ParentTraceID,
		Query:         r.Query,
		Answer:        r.Answer,
		Mode:          datatypes.SearchMode(r.Mode),
		Status:        datatypes.TraceStatus(r.Status),
		Citations:     payload.Citations,
		ResultScores:  payload.ResultScores,
		Grounding:     payload.Grounding,
		LatencyMs:     r.LatencyMs,
		PromptTokens:  payload.PromptTokens,
		AnswerTokens:  payload.AnswerTokens,
		CreatedAt:     r.CreatedAt,
	}, nil
}
