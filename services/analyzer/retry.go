// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/AleutianAI/AleutianCost/services/orchestrator/observability"
)

// RetryConfig controls the retry/backoff behavior of RetryingClient.
type RetryConfig struct {
	// MaxAttempts bounds total call attempts, first call included.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the backoff before attempt n, growing as BaseDelay*2^n
	// with full jitter. Default: 500ms.
	BaseDelay time.Duration

	// PerCallTimeout bounds each individual attempt, separate from the
	// overall retry window. A deadline hit counts as a transient failure.
	// Default: 60s.
	PerCallTimeout time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.PerCallTimeout <= 0 {
		c.PerCallTimeout = 60 * time.Second
	}
	return c
}

// RetryingClient wraps an Analyzer with bounded retries and exponential
// backoff. Only transient failures are retried; fatal failures return
// immediately. The wrapper holds no per-call state, so one instance is
// safely shared across concurrent jobs.
type RetryingClient struct {
	inner Analyzer
	cfg   RetryConfig
}

// NewRetryingClient wraps inner with the given retry policy.
func NewRetryingClient(inner Analyzer, cfg RetryConfig) *RetryingClient {
	return &RetryingClient{inner: inner, cfg: cfg.withDefaults()}
}

// Analyze calls the wrapped analyzer up to MaxAttempts times. On exhaustion
// it returns the last transient error wrapped with the attempt count; the
// caller decides whether that fails the enclosing job.
func (r *RetryingClient) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	var lastErr error

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(r.cfg.BaseDelay, attempt)
			slog.Info("retrying upstream analysis", "task", req.Task,
				"attempt", attempt+1, "delay", delay.String())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.PerCallTimeout)
		result, err := r.inner.Analyze(attemptCtx, req)
		cancel()

		if err == nil {
			observability.RecordUpstreamAttempt("success")
			return result, nil
		}
		if ctx.Err() != nil {
			// Caller cancellation, not an upstream verdict.
			return nil, ctx.Err()
		}
		if IsFatal(err) || !IsTransient(err) {
			observability.RecordUpstreamAttempt("fatal")
			slog.Error("upstream analysis failed permanently", "task", req.Task, "error", err)
			return nil, err
		}

		observability.RecordUpstreamAttempt("transient")
		slog.Warn("upstream analysis attempt failed", "task", req.Task,
			"attempt", attempt+1, "error", err)
		lastErr = err
	}

	return nil, fmt.Errorf("upstream analysis failed after %d attempts: %w",
		r.cfg.MaxAttempts, lastErr)
}

// backoffDelay returns base*2^(attempt-1) with full jitter.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	max := base << (attempt - 1)
	return time.Duration(rand.Int64N(int64(max)) + 1)
}
