// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline composes the job manager, the retrying upstream client,
// the result cache, the persistent store, and the event bus into the four
// cost-analysis workflows: sync, generate-insights, detect-anomalies, and
// refresh-recommendations.
//
// Each workflow is a fixed ordered sequence of progress-reporting steps.
// Any step error fails only the enclosing job; nothing partial is committed
// to the cache, but partial progress stays visible in job history.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianCost/services/analyzer"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/cache"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/events"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/jobs"
	"github.com/AleutianAI/AleutianCost/services/store"
)

// ErrUnknownKind is returned by Run for a workflow name outside the fixed
// vocabulary.
var ErrUnknownKind = errors.New("unknown workflow kind")

// Config holds orchestration tuning knobs.
type Config struct {
	// ResultTTL is how long workflow results stay cached. Default: 15m.
	ResultTTL time.Duration

	// RecordWindow bounds how far back workflows read cost records.
	// Default: 30 days.
	RecordWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.ResultTTL <= 0 {
		c.ResultTTL = 15 * time.Minute
	}
	if c.RecordWindow <= 0 {
		c.RecordWindow = 30 * 24 * time.Hour
	}
	return c
}

// Orchestrator runs workflows as trackable jobs.
//
// # Thread Safety
//
// Safe for concurrent use. Each Run spawns one goroutine that is the sole
// writer of its job; shared components (cache, bus, upstream client) are
// internally synchronized.
type Orchestrator struct {
	jobs     *jobs.Manager
	upstream analyzer.Analyzer
	cache    *cache.Cache
	store    store.Store
	feed     CostFeed
	bus      *events.Bus
	cfg      Config
}

// New wires an orchestrator. A nil feed falls back to EmptyFeed.
func New(jm *jobs.Manager, upstream analyzer.Analyzer, c *cache.Cache,
	st store.Store, feed CostFeed, bus *events.Bus, cfg Config) *Orchestrator {

	if feed == nil {
		feed = EmptyFeed{}
	}
	return &Orchestrator{
		jobs:     jm,
		upstream: upstream,
		cache:    c,
		store:    st,
		feed:     feed,
		bus:      bus,
		cfg:      cfg.withDefaults(),
	}
}

// Run starts the named workflow and returns its job id. The workflow itself
// runs on its own goroutine, detached from the caller's cancellation: an
// HTTP client going away must not kill a half-finished sync.
//
// Returns ErrUnknownKind for names outside the vocabulary and
// jobs.ErrTooManyActiveJobs when the active cap is reached.
func (o *Orchestrator) Run(ctx context.Context, kind jobs.Kind, params map[string]string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	handle, err := o.jobs.Create(kind, params)
	if err != nil {
		return "", err
	}

	go o.execute(context.WithoutCancel(ctx), handle, kind, params)
	return handle.ID(), nil
}

// execute drives one workflow to a terminal state. It is the only writer of
// the job behind handle.
func (o *Orchestrator) execute(ctx context.Context, handle *jobs.Handle, kind jobs.Kind, params map[string]string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("workflow panicked", "jobId", handle.ID(), "kind", kind, "panic", rec)
			_ = o.jobs.Fail(handle, jobs.ErrorDescriptor{
				Code:    "internal",
				Summary: "internal workflow error",
				Detail:  fmt.Sprint(rec),
			})
		}
	}()

	var (
		result    any
		cacheKey  string
		topic     events.Topic
		eventType string
		err       error
	)

	switch kind {
	case jobs.KindSync:
		result, cacheKey, topic, eventType, err = o.runSync(ctx, handle, params)
	case jobs.KindGenerateInsights:
		result, cacheKey, topic, eventType, err = o.runGenerateInsights(ctx, handle)
	case jobs.KindDetectAnomalies:
		result, cacheKey, topic, eventType, err = o.runDetectAnomalies(ctx, handle)
	case jobs.KindRefreshRecommendations:
		result, cacheKey, topic, eventType, err = o.runRefreshRecommendations(ctx, handle)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if err != nil {
		_ = o.jobs.Fail(handle, descriptorFor(err))
		return
	}

	// Commit order matters: the cache write and the completion event only
	// happen for a fully successful workflow.
	o.cache.Set(cacheKey, result, o.cfg.ResultTTL)
	if err := o.jobs.Complete(handle, "workflow finished"); err != nil {
		slog.Warn("completing finished workflow", "jobId", handle.ID(), "error", err)
		return
	}
	o.bus.Publish(topic, eventType, map[string]any{
		"jobId":  handle.ID(),
		"kind":   kind,
		"result": result,
	})
}

// descriptorFor maps a workflow error onto the structured descriptor stored
// on the failed job. Summaries are safe for remote clients; the raw error
// only reaches server-side logs.
func descriptorFor(err error) jobs.ErrorDescriptor {
	switch {
	case analyzer.IsFatal(err):
		return jobs.ErrorDescriptor{
			Code:    "upstream_rejected",
			Summary: "the analysis backend rejected the request",
			Detail:  err.Error(),
		}
	case analyzer.IsTransient(err):
		return jobs.ErrorDescriptor{
			Code:    "upstream_unavailable",
			Summary: "the analysis backend was unavailable after retries",
			Detail:  err.Error(),
		}
	case errors.Is(err, context.Canceled):
		return jobs.ErrorDescriptor{
			Code:    "cancelled",
			Summary: "the workflow was interrupted",
			Detail:  err.Error(),
		}
	default:
		return jobs.ErrorDescriptor{
			Code:    "store_error",
			Summary: "a storage operation failed",
			Detail:  err.Error(),
		}
	}
}

// windowRecords reads the recent cost-record window through the cache so
// back-to-back analysis workflows do not re-query the store.
func (o *Orchestrator) windowRecords(ctx context.Context) ([]store.CostRecord, error) {
	key := fmt.Sprintf("records:window:%s", o.cfg.RecordWindow)
	v, err := o.cache.GetOrSet(ctx, key, time.Minute, func(ctx context.Context) (any, error) {
		return o.store.QueryRecords(ctx, store.RecordFilter{
			Start: time.Now().Add(-o.cfg.RecordWindow),
			End:   time.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	records, _ := v.([]store.CostRecord)
	return records, nil
}
