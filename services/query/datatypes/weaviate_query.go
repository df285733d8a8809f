// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from the Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if the response is nil, carries GraphQL errors, or
//     fails to parse.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("Passage").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[PassageQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, p := range parsed.Get.Passage {
//	    fmt.Println(p.ChunkID)
//	}
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("GraphQL query returned error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Common Weaviate Response Types
// =============================================================================

// PassageQueryResponse represents the response from querying the Passage class.
type PassageQueryResponse struct {
	Get struct {
		Passage []PassageResult `json:"Passage"`
	} `json:"Get"`
}

// PassageResult represents a single passage chunk from a query.
//
// Certainty is populated by nearVector searches, Score by BM25 searches.
// Weaviate returns the BM25 score as a string inside _additional.
type PassageResult struct {
	ChunkID    string `json:"chunk_id"`
	Content    string `json:"content"`
	DocID      string `json:"doc_id"`
	Additional struct {
		ID        string    `json:"id"`
		Certainty *float64  `json:"certainty"`
		Score     *string   `json:"score"`
		Vector    []float32 `json:"vector"`
	} `json:"_additional"`
}

// DocumentQueryResponse represents the response from querying the Document class.
type DocumentQueryResponse struct {
	Get struct {
		Document []DocumentResult `json:"Document"`
	} `json:"Get"`
}

// DocumentResult represents a single parent document from a query.
type DocumentResult struct {
	DocID      string `json:"doc_id"`
	Title      string `json:"title"`
	Source     string `json:"source"`
	IngestedAt int64  `json:"ingested_at"`
}

// TraceQueryResponse represents the response from querying the QueryTrace class.
type TraceQueryResponse struct {
	Get struct {
		QueryTrace []TraceResult `json:"QueryTrace"`
	} `json:"Get"`
}

// TraceResult represents a single stored trace from a query.
//
// Citations, scores, and the grounding verdict are stored as a JSON blob in
// the payload property; Weaviate's property model has no nested maps.
type TraceResult struct {
	TraceID       string `json:"trace_id"`
	SessionID     string `json:"session_id"`
	ParentTraceID string `json:"parent_trace_id"`
	Query         string `json:"query"`
	Answer        string `json:"answer"`
	Mode          string `json:"mode"`
	Status        string `json:"status"`
	Payload       string `json:"payload"`
	LatencyMs     int64  `json:"latency_ms"`
	CreatedAt     int64  `json:"created_at"`
	Additional    struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// FeedbackQueryResponse represents the response from querying the Feedback class.
type FeedbackQueryResponse struct {
	Get struct {
		Feedback []FeedbackResult `json:"Feedback"`
	} `json:"Get"`
}

// FeedbackResult represents a single stored feedback record from a query.
type FeedbackResult struct {
	FeedbackID string `json:"feedback_id"`
	TraceID    string `json:"trace_id"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
	Implicit   bool   `json:"implicit"`
	CreatedAt  int64  `json:"created_at"`
}
