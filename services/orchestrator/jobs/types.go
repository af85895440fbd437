// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jobs tracks units of asynchronous analysis work through a strict
// state machine with progress reporting and a bounded history.
//
// # State Machine
//
//	Pending -(start)-> Running -(complete)-> Completed
//	                   Running -(fail)----> Failed
//
// Terminal states are final: no transition leaves Completed or Failed, and
// progress updates outside Running are no-ops. Each job is mutated only by
// the workflow goroutine holding its Handle; the Manager's mutex protects
// the shared index structures, not the workflow logic.
package jobs

import "time"

// State is a job lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Kind names a workflow. The vocabulary is closed; the orchestrator rejects
// unknown kinds before a job is ever created.
type Kind string

const (
	KindSync                   Kind = "sync"
	KindGenerateInsights       Kind = "generate-insights"
	KindDetectAnomalies        Kind = "detect-anomalies"
	KindRefreshRecommendations Kind = "refresh-recommendations"
)

// Kinds returns the fixed workflow vocabulary.
func Kinds() []Kind {
	return []Kind{KindSync, KindGenerateInsights, KindDetectAnomalies, KindRefreshRecommendations}
}

// Valid reports whether k names a known workflow.
func (k Kind) Valid() bool {
	switch k {
	case KindSync, KindGenerateInsights, KindDetectAnomalies, KindRefreshRecommendations:
		return true
	}
	return false
}

// ErrorDescriptor is the structured failure reason attached to a failed job.
// Summary is safe to return to remote clients; Detail is server-side only
// and never serialized.
type ErrorDescriptor struct {
	Code    string `json:"code"`
	Summary string `json:"summary"`
	Detail  string `json:"-"`
}

// Job is a snapshot of one tracked unit of work. Manager accessors return
// copies, so a Job in caller hands never mutates underneath the caller.
type Job struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	State       State             `json:"state"`
	Progress    int               `json:"progress"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Error       *ErrorDescriptor  `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// clone deep-copies the snapshot-relevant fields.
func (j *Job) clone() Job {
	c := *j
	if j.Metadata != nil {
		c.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return c
}
