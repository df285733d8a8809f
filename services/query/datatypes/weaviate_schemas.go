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
	"github.com/weaviate/weaviate/entities/models"
)

// GetPassageSchema returns the Weaviate class for retrievable passage chunks.
//
// Passages carry their own vector (Vectorizer "none"; embeddings are
// computed by the ingestion pipeline) and are BM25-searchable on content.
func GetPassageSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "Passage",
		Description: "A retrievable unit of indexed text with an embedding and source metadata.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The passage text.",
				Tokenization: "word",
			},
			{
				Name:            "chunk_id",
				DataType:        []string{"text"},
				Description:     "Opaque chunk identifier assigned at ingestion.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "doc_id",
				DataType:        []string{"text"},
				Description:     "Identifier of the parent document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// GetDocumentSchema returns the Weaviate class for parent documents.
//
// Documents hold the title and canonical source metadata that enrich every
// SearchResult before it leaves the search engine.
func GetDocumentSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "Document",
		Description: "A source document whose chunks are stored as Passage objects.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "doc_id",
				DataType:        []string{"text"},
				Description:     "Unique document identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "title",
				DataType:    []string{"text"},
				Description: "Human-readable document title.",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Canonical source location (URL or file path).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the document was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetQueryTraceSchema returns the Weaviate class for durable query traces.
func GetQueryTraceSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "QueryTrace",
		Description: "An immutable record of one query/answer/verification cycle.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "trace_id",
				DataType:        []string{"text"},
				Description:     "Unique trace identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "Conversation session this trace belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "parent_trace_id",
				DataType:        []string{"text"},
				Description:     "Trace of the prior turn in the same conversation, if any.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "query",
				DataType:    []string{"text"},
				Description: "The user's query text.",
			},
			{
				Name:        "answer",
				DataType:    []string{"text"},
				Description: "The generated answer text.",
			},
			{
				Name:            "mode",
				DataType:        []string{"text"},
				Description:     "Retrieval mode used (semantic, text, hybrid).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "status",
				DataType:        []string{"text"},
				Description:     "Terminal state of the cycle (completed, degraded, failed, cancelled).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "payload",
				DataType:    []string{"text"},
				Description: "JSON blob holding citations, per-result scores, grounding verdict, and token counts.",
			},
			{
				Name:            "latency_ms",
				DataType:        []string{"number"},
				Description:     "End-to-end latency of the cycle in milliseconds.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the trace was written.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetFeedbackSchema returns the Weaviate class for append-only feedback records.
func GetFeedbackSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "Feedback",
		Description: "A rating attached to a query trace, explicit or implicitly detected.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "feedback_id",
				DataType:        []string{"text"},
				Description:     "Unique feedback identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "trace_id",
				DataType:        []string{"text"},
				Description:     "The trace this feedback critiques.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "rating",
				DataType:        []string{"int"},
				Description:     "Numeric rating. Implicit corrections record -1.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "comment",
				DataType:    []string{"text"},
				Description: "Optional free-text comment.",
			},
			{
				Name:            "implicit",
				DataType:        []string{"boolean"},
				Description:     "True when the rating was inferred from a follow-up query.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the feedback was written.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}
