// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embed provides embedding providers for the query engine.
//
// The search engine embeds queries before nearVector retrieval, and the
// grounding verifier embeds generated answers. Both consume the Provider
// interface; the concrete backend (Ollama, OpenAI) is selected at startup.
package embed

import "context"

// Provider defines the contract for computing text embeddings.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the embedding vector for the given text.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation, timeouts, and tracing.
	//   - text: The text to embed. Callers should truncate very long
	//     inputs; providers do not enforce model context limits.
	//
	// # Outputs
	//
	//   - []float32: The embedding vector.
	//   - error: Non-nil if the provider is unreachable or rejects the input.
	Embed(ctx context.Context, text string) ([]float32, error)
}
