// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the cost
// orchestration core.
//
// # Description
//
// Metrics cover the job lifecycle, WebSocket fan-out, the upstream analyzer
// client, and the result cache:
//   - Job counters by kind and terminal status, plus an active-jobs gauge
//   - Workflow duration histograms
//   - Connected-client gauge, broadcast and dropped-frame counters
//   - Upstream attempt counters by outcome
//   - Cache request counters by result (hit/miss)
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

// Subsystem for orchestration metrics
const orchestrationSubsystem = "orchestration"

// CoreMetrics holds all Prometheus metrics for the orchestration core.
//
// Initialize once at startup via InitMetrics(). All operations are
// thread-safe.
type CoreMetrics struct {
	// JobsTotal counts jobs reaching a terminal state.
	// Labels: kind (sync, generate-insights, ...), status (completed, failed)
	JobsTotal *prometheus.CounterVec

	// ActiveJobs tracks the number of currently running jobs.
	ActiveJobs prometheus.Gauge

	// WorkflowDurationSeconds measures wall time from job start to terminal.
	// Labels: kind, status
	WorkflowDurationSeconds *prometheus.HistogramVec

	// ConnectedClients tracks currently registered stream connections.
	ConnectedClients prometheus.Gauge

	// BroadcastsTotal counts events broadcast to connections.
	// Labels: topic
	BroadcastsTotal *prometheus.CounterVec

	// DroppedFramesTotal counts outbound frames dropped because a
	// connection's send buffer was full.
	DroppedFramesTotal prometheus.Counter

	// UpstreamAttemptsTotal counts analyzer call attempts by outcome.
	// Labels: outcome (success, transient, fatal)
	UpstreamAttemptsTotal *prometheus.CounterVec

	// CacheRequestsTotal counts cache lookups by result.
	// Labels: result (hit, miss)
	CacheRequestsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of CoreMetrics.
// Initialized by InitMetrics(); nil until then, and the helper functions
// below treat nil as "metrics disabled" so packages can be tested without
// touching the Prometheus default registry.
var DefaultMetrics *CoreMetrics

// InitMetrics initializes the default metrics instance.
//
// Should be called once at application startup; panics if called twice
// (duplicate registration on the Prometheus default registry).
func InitMetrics() *CoreMetrics {
	DefaultMetrics = &CoreMetrics{
		JobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: orchestrationSubsystem,
				Name:      "jobs_total",
				Help:      "Total jobs reaching a terminal state by kind and status",
			},
			[]string{"kind", "status"},
		),

		ActiveJobs: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: orchestrationSubsystem,
				Name:      "active_jobs",
				Help:      "Number of currently running jobs",
			},
		),

		WorkflowDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: orchestrationSubsystem,
				Name:      "workflow_duration_seconds",
				Help:      "Wall time from job start to terminal state",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"kind", "status"},
		),

		ConnectedClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: orchestrationSubsystem,
				Name:      "connected_clients",
				Help:      "Number of currently registered stream connections",
			},
		),

		BroadcastsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: orchestrationSubsystem,
				Name:      "broadcasts_total",
				Help:      "Events broadcast to subscribed connections by topic",
			},
			[]string{"topic"},
		),

		DroppedFramesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: orchestrationSubsystem,
				Name:      "dropped_frames_total",
				Help:      "Outbound frames dropped due to a full connection send buffer",
			},
		),

		UpstreamAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: orchestrationSubsystem,
				Name:      "upstream_attempts_total",
				Help:      "Analyzer call attempts by outcome",
			},
			[]string{"outcome"},
		),

		CacheRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: orchestrationSubsystem,
				Name:      "cache_requests_total",
				Help:      "Result cache lookups by result",
			},
			[]string{"result"},
		),
	}
	return DefaultMetrics
}

// RecordJobTerminal records a job reaching a terminal state.
func RecordJobTerminal(kind, status string, seconds float64) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.JobsTotal.WithLabelValues(kind, status).Inc()
	DefaultMetrics.WorkflowDurationSeconds.WithLabelValues(kind, status).Observe(seconds)
}

// SetActiveJobs updates the active-jobs gauge.
func SetActiveJobs(n int) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.ActiveJobs.Set(float64(n))
}

// SetConnectedClients updates the connected-clients gauge.
func SetConnectedClients(n int) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.ConnectedClients.Set(float64(n))
}

// RecordBroadcast records one event delivered to subscribers of a topic.
func RecordBroadcast(topic string) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.BroadcastsTotal.WithLabelValues(topic).Inc()
}

// RecordDroppedFrame records an outbound frame dropped for a slow client.
func RecordDroppedFrame() {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.DroppedFramesTotal.Inc()
}

// RecordUpstreamAttempt records one analyzer call attempt.
func RecordUpstreamAttempt(outcome string) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.UpstreamAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheRequest records a cache lookup result ("hit" or "miss").
func RecordCacheRequest(result string) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.CacheRequestsTotal.WithLabelValues(result).Inc()
}
