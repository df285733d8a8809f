// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import "fmt"

// RetrievalError wraps failures of the embedding service or the datastore.
//
// # Description
//
// RetrievalError distinguishes infrastructure failures (backend
// unreachable, malformed responses) from an ordinary empty result set.
// The orchestrator maps it to a degraded "insufficient context" answer
// rather than surfacing an error to the caller.
//
// # Fields
//
//   - Op: The retrieval leg that failed ("semantic", "text", "enrich").
//   - Err: The underlying cause.
type RetrievalError struct {
	Op  string
	Err error
}

// Error implements the error interface for RetrievalError.
func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed (%s): %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// IsRetrievalError checks if an error is a *RetrievalError.
func IsRetrievalError(err error) bool {
	_, ok := err.(*RetrievalError)
	return ok
}
