// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCost/services/orchestrator/jobs"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/pipeline"
)

// StartWorkflowRequest is the optional body for workflow triggers.
type StartWorkflowRequest struct {
	Params map[string]string `json:"params"`
}

// StartWorkflow triggers the named workflow and returns its job id.
//
// 202 on accept, 400 for an unknown kind, 429 when the active-job cap is
// reached (the client should retry later).
func StartWorkflow(o *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := jobs.Kind(c.Param("kind"))

		var req StartWorkflowRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
				return
			}
		}

		jobID, err := o.Run(c.Request.Context(), kind, req.Params)
		switch {
		case errors.Is(err, pipeline.ErrUnknownKind):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown workflow kind: " + string(kind)})
			return
		case errors.Is(err, jobs.ErrTooManyActiveJobs):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many active jobs, retry later"})
			return
		case err != nil:
			slog.Error("failed to start workflow", "kind", kind, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start workflow"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"jobId": jobID, "kind": kind})
	}
}

// GetJob returns the current snapshot of one job, active or historical.
func GetJob(m *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := m.Get(c.Param("jobId"))
		if errors.Is(err, jobs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// ListJobs returns active jobs plus up to ?history=N terminal jobs.
func ListJobs(m *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		historyLimit := 20
		if raw := c.Query("history"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				historyLimit = n
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"active":  m.ListActive(),
			"history": m.ListHistory(historyLimit),
		})
	}
}
