// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the query
// engine.
//
// # Description
//
// This package implements Prometheus metrics for monitoring grounded query
// operations. Metrics include:
//   - Query counters (by mode, status)
//   - Retrieval result counts and fused-rank depth
//   - Grounding verdicts and similarity distribution
//   - Stage latency histograms (retrieve, generate, verify, persist)
//   - Feedback counters (explicit vs implicit)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for query engine metrics
const querySubsystem = "query"

// QueryMetrics holds all Prometheus metrics for query operations.
//
// # Description
//
// Provides counters and histograms for monitoring the answer pipeline.
// Initialize once at startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type QueryMetrics struct {
	// QueriesTotal counts answered queries.
	// Labels: mode (semantic, text, hybrid), status (completed, degraded,
	// failed, cancelled)
	QueriesTotal *prometheus.CounterVec

	// RetrievedPassages measures how many passages each query retrieved.
	// Labels: mode
	RetrievedPassages *prometheus.HistogramVec

	// GroundingVerdictsTotal counts grounding verdicts.
	// Labels: grounded (true, false)
	GroundingVerdictsTotal *prometheus.CounterVec

	// GroundingSimilarity measures the max answer/passage similarity.
	GroundingSimilarity prometheus.Histogram

	// StageDurationSeconds measures per-stage latency.
	// Labels: stage (retrieve, generate, verify, persist)
	StageDurationSeconds *prometheus.HistogramVec

	// FeedbackTotal counts feedback records.
	// Labels: kind (explicit, implicit)
	FeedbackTotal *prometheus.CounterVec

	// ErrorsTotal counts pipeline errors by stage.
	// Labels: stage, error_code
	ErrorsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of QueryMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *QueryMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once at
// application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *QueryMetrics {
	DefaultMetrics = &QueryMetrics{
		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "queries_total",
				Help:      "Total answered queries by mode and terminal status",
			},
			[]string{"mode", "status"},
		),

		RetrievedPassages: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "retrieved_passages",
				Help:      "Number of passages retrieved per query",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
			},
			[]string{"mode"},
		),

		GroundingVerdictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "grounding_verdicts_total",
				Help:      "Total grounding verdicts by outcome",
			},
			[]string{"grounded"},
		),

		GroundingSimilarity: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "grounding_similarity",
				Help:      "Max cosine similarity between answer and passages",
				Buckets:   []float64{0.1, 0.25, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 0.95, 1.0},
			},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"stage"},
		),

		FeedbackTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "feedback_total",
				Help:      "Total feedback records by kind",
			},
			[]string{"kind"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "errors_total",
				Help:      "Total pipeline errors by stage and type",
			},
			[]string{"stage", "error_code"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeRetrieval indicates a retrieval backend failure.
	ErrorCodeRetrieval ErrorCode = "retrieval"

	// ErrorCodeLLMError indicates LLM API failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeTimeout indicates operation timeout.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeStorage indicates a trace store failure.
	ErrorCodeStorage ErrorCode = "storage"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"
)

// RecordQuery records a finished query cycle.
func (m *QueryMetrics) RecordQuery(mode, status string, retrieved int) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(mode, status).Inc()
	m.RetrievedPassages.WithLabelValues(mode).Observe(float64(retrieved))
}

// RecordGrounding records a grounding verdict.
func (m *QueryMetrics) RecordGrounding(grounded bool, maxSimilarity float64) {
	if m == nil {
		return
	}
	label := "false"
	if grounded {
		label = "true"
	}
	m.GroundingVerdictsTotal.WithLabelValues(label).Inc()
	m.GroundingSimilarity.Observe(maxSimilarity)
}

// RecordStage records one pipeline stage's duration in seconds.
func (m *QueryMetrics) RecordStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordFeedback records one feedback append.
func (m *QueryMetrics) RecordFeedback(implicit bool) {
	if m == nil {
		return
	}
	kind := "explicit"
	if implicit {
		kind = "implicit"
	}
	m.FeedbackTotal.WithLabelValues(kind).Inc()
}

// RecordError records a categorized pipeline error.
func (m *QueryMetrics) RecordError(stage string, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(stage, string(code)).Inc()
}
