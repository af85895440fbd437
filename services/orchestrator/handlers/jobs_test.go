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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCost/services/analyzer"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/cache"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/events"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/jobs"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/pipeline"
	"github.com/AleutianAI/AleutianCost/services/store"
)

type okAnalyzer struct{}

func (okAnalyzer) Analyze(context.Context, analyzer.Request) (*analyzer.Analysis, error) {
	return &analyzer.Analysis{Result: json.RawMessage(`{}`), Confidence: 1}, nil
}

type testEnv struct {
	router  *gin.Engine
	manager *jobs.Manager
}

func newTestEnv(t *testing.T, cfg jobs.Config) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.NewBus()
	manager := jobs.NewManager(bus, cfg)
	c := cache.New(0)
	t.Cleanup(c.Close)
	orch := pipeline.New(manager, okAnalyzer{}, c, store.NewMemoryStore(),
		nil, bus, pipeline.Config{})

	router := gin.New()
	router.POST("/v1/workflows/:kind", StartWorkflow(orch))
	router.GET("/v1/jobs", ListJobs(manager))
	router.GET("/v1/jobs/:jobId", GetJob(manager))
	router.GET("/health", HealthCheck)

	return &testEnv{router: router, manager: manager}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, jobs.Config{})
	w := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestStartWorkflow(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		env := newTestEnv(t, jobs.Config{})
		w := env.do(http.MethodPost, "/v1/workflows/generate-insights", "")
		require.Equal(t, http.StatusAccepted, w.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["jobId"])
		assert.Equal(t, "generate-insights", resp["kind"])

		// The job is immediately queryable.
		w = env.do(http.MethodGet, "/v1/jobs/"+resp["jobId"], "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown kind", func(t *testing.T) {
		env := newTestEnv(t, jobs.Config{})
		w := env.do(http.MethodPost, "/v1/workflows/mine-bitcoin", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("params forwarded", func(t *testing.T) {
		env := newTestEnv(t, jobs.Config{})
		w := env.do(http.MethodPost, "/v1/workflows/sync",
			`{"params":{"since":"2026-01-01T00:00:00Z"}}`)
		require.Equal(t, http.StatusAccepted, w.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		j, err := env.manager.Get(resp["jobId"])
		require.NoError(t, err)
		assert.Equal(t, "2026-01-01T00:00:00Z", j.Metadata["since"])
	})

	t.Run("malformed body", func(t *testing.T) {
		env := newTestEnv(t, jobs.Config{})
		w := env.do(http.MethodPost, "/v1/workflows/sync", `{broken`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("backpressure maps to 429", func(t *testing.T) {
		env := newTestEnv(t, jobs.Config{MaxActive: 1})

		// Occupy the only slot with a job the stub cannot finish before
		// the next request lands.
		h, err := env.manager.Create(jobs.KindSync, nil)
		require.NoError(t, err)
		defer env.manager.Complete(h, "")

		w := env.do(http.MethodPost, "/v1/workflows/sync", "")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t, jobs.Config{})

	t.Run("not found", func(t *testing.T) {
		w := env.do(http.MethodGet, "/v1/jobs/nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("terminal job still queryable", func(t *testing.T) {
		h, err := env.manager.Create(jobs.KindSync, nil)
		require.NoError(t, err)
		require.NoError(t, env.manager.Complete(h, "done"))

		w := env.do(http.MethodGet, "/v1/jobs/"+h.ID(), "")
		require.Equal(t, http.StatusOK, w.Code)

		var j jobs.Job
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &j))
		assert.Equal(t, jobs.StateCompleted, j.State)
		assert.Equal(t, 100, j.Progress)
	})
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t, jobs.Config{})

	for i := 0; i < 3; i++ {
		h, err := env.manager.Create(jobs.KindSync, nil)
		require.NoError(t, err)
		require.NoError(t, env.manager.Complete(h, ""))
	}
	active, err := env.manager.Create(jobs.KindGenerateInsights, nil)
	require.NoError(t, err)
	defer env.manager.Complete(active, "")

	w := env.do(http.MethodGet, "/v1/jobs?history=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Active  []jobs.Job `json:"active"`
		History []jobs.Job `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Active, 1)
	assert.Len(t, resp.History, 2)
}
