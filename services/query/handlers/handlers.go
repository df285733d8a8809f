// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the Gin handlers for the query engine's HTTP
// surface.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/query/orchestrator"
	"github.com/AleutianAI/AleutianQuery/services/query/store"
	"github.com/gin-gonic/gin"
)

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleQuery answers a grounded query.
//
// # Description
//
// Binds the request body, delegates to the orchestrator, and maps errors:
// validation problems to 400, caller cancellation to 499 (client closed
// request), everything else to 502 since the failure sits behind us.
func HandleQuery(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AnswerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		resp, err := orch.AnswerQuery(c.Request.Context(), &req)
		if err != nil {
			switch {
			case datatypes.IsInvalidMode(err):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				// Client went away; nothing useful to send.
				c.Status(499)
			default:
				slog.Error("Query failed", "error", err)
				c.JSON(http.StatusBadGateway, gin.H{"error": "failed to answer query"})
			}
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleFeedback appends an explicit feedback record to a trace.
func HandleFeedback(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.FeedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		record, err := orch.RecordFeedback(c.Request.Context(), &req)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrTraceNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "trace not found"})
			case store.IsStorageError(err):
				slog.Error("Feedback write failed", "error", err)
				c.JSON(http.StatusBadGateway, gin.H{"error": "failed to store feedback"})
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusCreated, record)
	}
}

// HandleGetTrace returns a stored trace with its feedback history.
func HandleGetTrace(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.Param("traceId")
		if traceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "traceId is required"})
			return
		}

		trace, feedback, err := orch.GetTrace(c.Request.Context(), traceID)
		if err != nil {
			if errors.Is(err, store.ErrTraceNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "trace not found"})
				return
			}
			slog.Error("Trace lookup failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load trace"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trace": trace, "feedback": feedback})
	}
}
