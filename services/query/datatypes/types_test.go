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
	"strings"
	"testing"
)

// =============================================================================
// SearchMode Tests
// =============================================================================

func TestSearchMode_Valid(t *testing.T) {
	tests := []struct {
		mode     SearchMode
		expected bool
	}{
		{ModeSemantic, true},
		{ModeText, true},
		{ModeHybrid, true},
		{SearchMode(""), false},
		{SearchMode("keyword"), false},
		{SearchMode("Hybrid"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			if got := tt.mode.Valid(); got != tt.expected {
				t.Errorf("SearchMode(%q).Valid() = %v, want %v", tt.mode, got, tt.expected)
			}
		})
	}
}

// =============================================================================
// AnswerRequest Tests
// =============================================================================

func TestAnswerRequest_EnsureDefaults(t *testing.T) {
	req := &AnswerRequest{Query: "what is the auth flow?"}
	req.EnsureDefaults()

	if req.RequestID == "" {
		t.Error("expected RequestID to be generated")
	}
	if req.Timestamp == 0 {
		t.Error("expected Timestamp to be populated")
	}
	if req.Mode != ModeHybrid {
		t.Errorf("expected default mode hybrid, got %q", req.Mode)
	}
	if req.TopK != DefaultTopK {
		t.Errorf("expected default TopK %d, got %d", DefaultTopK, req.TopK)
	}
}

func TestAnswerRequest_EnsureDefaults_PreservesExplicitValues(t *testing.T) {
	req := &AnswerRequest{
		Query:     "q",
		Mode:      ModeText,
		TopK:      12,
		RequestID: "req-1",
		Timestamp: 42,
	}
	req.EnsureDefaults()

	if req.Mode != ModeText || req.TopK != 12 || req.RequestID != "req-1" || req.Timestamp != 42 {
		t.Errorf("EnsureDefaults overwrote explicit values: %+v", req)
	}
}

func TestAnswerRequest_EnsureSessionID(t *testing.T) {
	req := &AnswerRequest{Query: "q"}

	first := req.EnsureSessionID()
	if first == "" {
		t.Fatal("expected a generated session ID")
	}
	if second := req.EnsureSessionID(); second != first {
		t.Errorf("EnsureSessionID not stable: %q then %q", first, second)
	}

	req2 := &AnswerRequest{Query: "q", SessionID: "sess_abc"}
	if got := req2.EnsureSessionID(); got != "sess_abc" {
		t.Errorf("expected existing session ID preserved, got %q", got)
	}
}

func TestAnswerRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     AnswerRequest
		wantErr bool
	}{
		{"valid hybrid", AnswerRequest{Query: "q", Mode: ModeHybrid, TopK: 5}, false},
		{"valid empty mode", AnswerRequest{Query: "q"}, false},
		{"missing query", AnswerRequest{Mode: ModeHybrid}, true},
		{"invalid mode", AnswerRequest{Query: "q", Mode: SearchMode("graph")}, true},
		{"k too large", AnswerRequest{Query: "q", TopK: 51}, true},
		{"negative k", AnswerRequest{Query: "q", TopK: -1}, true},
		{"oversized query", AnswerRequest{Query: strings.Repeat("a", MaxQueryBytes+1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAnswerRequest_Validate_InvalidModeError(t *testing.T) {
	req := AnswerRequest{Query: "q", Mode: SearchMode("graph")}
	err := req.Validate()
	if err == nil {
		t.Fatal("expected error for invalid mode")
	}
	if !IsInvalidMode(err) {
		t.Errorf("expected *InvalidModeError, got %T", err)
	}
}

// =============================================================================
// FeedbackRequest Tests
// =============================================================================

func TestFeedbackRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     FeedbackRequest
		wantErr bool
	}{
		{"explicit rating", FeedbackRequest{TraceID: "t1", Rating: 4}, false},
		{"implicit rating", FeedbackRequest{TraceID: "t1", Rating: -1}, false},
		{"missing trace", FeedbackRequest{Rating: 3}, true},
		{"rating too low", FeedbackRequest{TraceID: "t1", Rating: -2}, true},
		{"rating too high", FeedbackRequest{TraceID: "t1", Rating: 6}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
