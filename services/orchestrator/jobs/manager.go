// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCost/services/orchestrator/events"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/observability"
)

// Event types published on the job-progress topic.
const (
	EventJobStarted   = "job-started"
	EventJobProgress  = "job-progress"
	EventJobCompleted = "job-completed"
	EventJobFailed    = "job-failed"
)

// Handle is the capability to mutate one job. It is handed to exactly one
// workflow goroutine; the single-writer discipline means no job is mutated
// concurrently by two workflow steps.
type Handle struct {
	id string
}

// ID returns the job id this handle controls.
func (h *Handle) ID() string { return h.id }

// Config holds Manager limits.
type Config struct {
	// MaxActive caps concurrently active jobs. Default: 16.
	MaxActive int

	// HistorySize bounds the terminal-job history. Default: 100.
	HistorySize int
}

// Manager creates, tracks, and finalizes jobs. It owns the job state machine
// and the bounded history; the mutex guards only the index structures, never
// the long-running workflow logic.
type Manager struct {
	mu      sync.Mutex
	active  map[string]*Job
	history *history

	maxActive int
	bus       *events.Bus
}

// NewManager creates a Manager publishing lifecycle events on bus.
func NewManager(bus *events.Bus, cfg Config) *Manager {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 16
	}
	return &Manager{
		active:    make(map[string]*Job),
		history:   newHistory(cfg.HistorySize),
		maxActive: cfg.MaxActive,
		bus:       bus,
	}
}

// Create allocates a job in Pending and immediately transitions it to
// Running, returning the handle used exclusively by the invoking workflow.
// Returns ErrTooManyActiveJobs when the active cap is reached.
func (m *Manager) Create(kind Kind, metadata map[string]string) (*Handle, error) {
	m.mu.Lock()
	if len(m.active) >= m.maxActive {
		n := len(m.active)
		m.mu.Unlock()
		slog.Warn("rejecting job, active cap reached", "kind", kind, "active", n)
		return nil, ErrTooManyActiveJobs
	}

	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	j := &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		State:     StatePending,
		StartedAt: time.Now().UTC(),
		Metadata:  md,
	}
	m.active[j.ID] = j
	j.State = StateRunning
	snapshot := j.clone()
	n := len(m.active)
	m.mu.Unlock()

	observability.SetActiveJobs(n)
	slog.Info("job started", "jobId", j.ID, "kind", kind)
	m.bus.Publish(events.TopicJobProgress, EventJobStarted, snapshot)
	return &Handle{id: j.ID}, nil
}

// ReportProgress updates progress and the step-local status message, then
// emits a job-progress event. Percent is clamped to [0,100]; a decrease is a
// caller bug surfaced as a logged no-op. Outside Running this is a no-op.
func (m *Manager) ReportProgress(h *Handle, percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	m.mu.Lock()
	j, ok := m.active[h.id]
	if !ok || j.State != StateRunning {
		m.mu.Unlock()
		slog.Warn("progress report for non-running job ignored", "jobId", h.id)
		return
	}
	if percent < j.Progress {
		p := j.Progress
		m.mu.Unlock()
		slog.Warn("progress decrease rejected", "jobId", h.id, "have", p, "got", percent)
		return
	}
	j.Progress = percent
	if message != "" {
		j.Metadata["status"] = message
	}
	snapshot := j.clone()
	m.mu.Unlock()

	m.bus.Publish(events.TopicJobProgress, EventJobProgress, snapshot)
}

// Complete transitions the job to Completed, moves it to history, and emits
// a job-completed event. Progress is forced to 100. Calling Complete on an
// already-terminal handle returns ErrInvalidStateTransition and does nothing.
func (m *Manager) Complete(h *Handle, message string) error {
	return m.finalize(h, StateCompleted, message, nil)
}

// Fail transitions the job to Failed with the given descriptor, moves it to
// history, and emits a job-failed event. Calling Fail on an already-terminal
// handle returns ErrInvalidStateTransition and does nothing.
func (m *Manager) Fail(h *Handle, desc ErrorDescriptor) error {
	return m.finalize(h, StateFailed, "", &desc)
}

func (m *Manager) finalize(h *Handle, terminal State, message string, desc *ErrorDescriptor) error {
	m.mu.Lock()
	j, ok := m.active[h.id]
	if !ok {
		m.mu.Unlock()
		slog.Warn("terminal transition on finished job ignored",
			"jobId", h.id, "wanted", terminal)
		return ErrInvalidStateTransition
	}

	now := time.Now().UTC()
	j.CompletedAt = &now
	j.State = terminal
	if terminal == StateCompleted {
		j.Progress = 100
		if message != "" {
			j.Metadata["status"] = message
		}
	} else {
		j.Error = desc
	}

	snapshot := j.clone()
	m.history.push(snapshot)
	delete(m.active, h.id)
	n := len(m.active)
	m.mu.Unlock()

	observability.SetActiveJobs(n)
	observability.RecordJobTerminal(string(j.Kind), string(terminal),
		now.Sub(j.StartedAt).Seconds())

	eventType := EventJobCompleted
	if terminal == StateFailed {
		eventType = EventJobFailed
		slog.Error("job failed", "jobId", h.id, "kind", j.Kind,
			"code", desc.Code, "summary", desc.Summary, "detail", desc.Detail)
	} else {
		slog.Info("job completed", "jobId", h.id, "kind", j.Kind,
			"duration", now.Sub(j.StartedAt).String())
	}
	m.bus.Publish(events.TopicJobProgress, eventType, snapshot)
	return nil
}

// CancelPending cancels a job that has not started work. Cancellation of a
// Running job is unsupported: workflows start immediately on Create, so a
// running job must be left to finish or fail. This is a known gap rather
// than an omission; cooperative cancellation would require a token threaded
// through every workflow step.
func (m *Manager) CancelPending(h *Handle) error {
	m.mu.Lock()
	j, ok := m.active[h.id]
	if !ok || j.State != StatePending {
		m.mu.Unlock()
		return ErrInvalidStateTransition
	}
	now := time.Now().UTC()
	j.State = StateFailed
	j.CompletedAt = &now
	j.Error = &ErrorDescriptor{Code: "cancelled", Summary: "job cancelled before start"}
	snapshot := j.clone()
	m.history.push(snapshot)
	delete(m.active, h.id)
	n := len(m.active)
	m.mu.Unlock()

	observability.SetActiveJobs(n)
	m.bus.Publish(events.TopicJobProgress, EventJobFailed, snapshot)
	return nil
}

// Get returns the current snapshot for id from the active set or history.
func (m *Manager) Get(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.active[id]; ok {
		return j.clone(), nil
	}
	if j, ok := m.history.find(id); ok {
		return j, nil
	}
	return Job{}, ErrNotFound
}

// ListActive returns snapshots of all non-terminal jobs.
func (m *Manager) ListActive() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.active))
	for _, j := range m.active {
		out = append(out, j.clone())
	}
	return out
}

// ListHistory returns up to limit terminal snapshots, newest first. A
// non-positive limit returns the full (bounded) history.
func (m *Manager) ListHistory(limit int) []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > m.history.len() {
		limit = m.history.len()
	}
	return m.history.last(limit)
}

// ActiveCount returns the number of non-terminal jobs.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
