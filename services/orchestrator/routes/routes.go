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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianCost/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/jobs"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/pipeline"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/stream"
)

// SetupRoutes registers the full HTTP surface of the orchestrator.
func SetupRoutes(router *gin.Engine, orchestrator *pipeline.Orchestrator,
	jobManager *jobs.Manager, registry *stream.Registry, enableMetrics bool) {

	router.GET("/health", handlers.HealthCheck)
	if enableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/workflows/:kind", handlers.StartWorkflow(orchestrator))
		v1.GET("/jobs", handlers.ListJobs(jobManager))
		v1.GET("/jobs/:jobId", handlers.GetJob(jobManager))
		v1.GET("/stream/ws", handlers.HandleStreamWebSocket(registry))
	}
}
