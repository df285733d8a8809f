// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/AleutianQuery/services/query/handlers"
	"github.com/AleutianAI/AleutianQuery/services/query/orchestrator"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers the query engine's HTTP surface on the router.
func SetupRoutes(router *gin.Engine, orch *orchestrator.Orchestrator, enableMetrics bool) {
	router.GET("/health", handlers.HealthCheck)

	if enableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/query", handlers.HandleQuery(orch))
		v1.POST("/feedback", handlers.HandleFeedback(orch))
		v1.GET("/traces/:traceId", handlers.HandleGetTrace(orch))
	}
}
