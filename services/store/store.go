// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the persistent-store collaborator for cost records,
// alerts, and saved analysis results. The orchestration core treats these as
// opaque, possibly-slow I/O operations: they may fail, and failures surface
// through the job's Failed state rather than crashing the orchestrator.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// CostRecord is one observed cost row from a cloud provider.
type CostRecord struct {
	Provider  string            `json:"provider"`
	Service   string            `json:"service"`
	Account   string            `json:"account"`
	Amount    float64           `json:"amount"`
	Currency  string            `json:"currency"`
	Timestamp time.Time         `json:"timestamp"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// RecordFilter narrows a QueryRecords call.
type RecordFilter struct {
	Provider string
	Service  string
	Start    time.Time
	End      time.Time
	Limit    int
}

// Alert is a cost anomaly surfaced to operators.
type Alert struct {
	ID          string    `json:"id"`
	Severity    string    `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AnalysisResult is a completed upstream analysis attached to a job.
type AnalysisResult struct {
	JobID      string          `json:"jobId"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Confidence float64         `json:"confidence"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Store is the narrow persistence contract the workflows depend on.
type Store interface {
	InsertRecords(ctx context.Context, records []CostRecord) error
	QueryRecords(ctx context.Context, filter RecordFilter) ([]CostRecord, error)
	CreateAlert(ctx context.Context, alert Alert) error
	SaveAnalysisResult(ctx context.Context, result AnalysisResult) error
}
