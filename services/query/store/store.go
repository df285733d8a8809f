// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists query traces and their feedback records.
//
// Two backends implement TraceStore: a Weaviate-backed store that keeps
// traces queryable alongside the passage corpus, and an embedded
// BadgerDB store for single-node deployments and tests. Traces are
// written once and never mutated; feedback is append-only.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
)

// ErrTraceNotFound is returned when a trace id resolves to nothing.
var ErrTraceNotFound = errors.New("trace not found")

// TraceStore is the persistence contract for traces and feedback.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type TraceStore interface {
	// SaveTrace durably persists a completed trace. Traces are immutable;
	// saving the same trace id twice is an error.
	SaveTrace(ctx context.Context, trace *datatypes.QueryTrace) error

	// GetTrace returns the trace for the given id, or ErrTraceNotFound.
	GetTrace(ctx context.Context, traceID string) (*datatypes.QueryTrace, error)

	// LatestTraceForSession returns the most recent trace in a session,
	// or ErrTraceNotFound when the session has none. Used to attach
	// implicit corrections to the answer being corrected.
	LatestTraceForSession(ctx context.Context, sessionID string) (*datatypes.QueryTrace, error)

	// AppendFeedback appends a feedback record to its trace. The trace
	// must exist; existing records are never modified.
	AppendFeedback(ctx context.Context, record *datatypes.FeedbackRecord) error

	// ListFeedback returns all feedback for a trace in append order.
	ListFeedback(ctx context.Context, traceID string) ([]datatypes.FeedbackRecord, error)

	// Close releases backend resources.
	Close() error
}

// StorageError wraps backend failures so callers can distinguish an
// unreachable or corrupt store from domain errors like ErrTraceNotFound.
type StorageError struct {
	// Op names the failing operation ("save_trace", "get_trace",
	// "append_feedback", "list_feedback").
	Op  string
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	return fmt.Sprintf("trace storage failed (%s): %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError checks if an error is a *StorageError.
func IsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}
