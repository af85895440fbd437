// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used when no InfluxDB is configured
// (lightweight mode) and in tests. Not durable.
type MemoryStore struct {
	mu       sync.Mutex
	records  []CostRecord
	alerts   []Alert
	analyses []AnalysisResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertRecords(_ context.Context, records []CostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *MemoryStore) QueryRecords(_ context.Context, filter RecordFilter) ([]CostRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CostRecord
	for _, r := range s.records {
		if filter.Provider != "" && r.Provider != filter.Provider {
			continue
		}
		if filter.Service != "" && r.Service != filter.Service {
			continue
		}
		if !filter.Start.IsZero() && r.Timestamp.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && r.Timestamp.After(filter.End) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateAlert(_ context.Context, alert Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *MemoryStore) SaveAnalysisResult(_ context.Context, result AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses = append(s.analyses, result)
	return nil
}

// Alerts returns a copy of stored alerts.
func (s *MemoryStore) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Analyses returns a copy of stored analysis results.
func (s *MemoryStore) Analyses() []AnalysisResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AnalysisResult, len(s.analyses))
	copy(out, s.analyses)
	return out
}
