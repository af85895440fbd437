// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer wraps the opaque upstream analysis capability (an LLM
// backend) behind a narrow contract. Prompt construction and response
// parsing beyond the envelope below are deliberately not modeled here; the
// orchestration core depends only on this interface.
package analyzer

import (
	"context"
	"encoding/json"
)

// Request describes one logical analysis call.
type Request struct {
	// Task names the analysis, e.g. "generate-insights" or "detect-anomalies".
	Task string `json:"task"`

	// Input is the task-specific body, typically a window of cost records.
	Input json.RawMessage `json:"input"`
}

// TokenUsage reports upstream token consumption for one call.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Analysis is the upstream response envelope.
type Analysis struct {
	// Result is the analysis payload. Shape is task-specific.
	Result json.RawMessage `json:"result"`

	// Confidence is the upstream's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Usage reports token consumption for the call.
	Usage TokenUsage `json:"usage"`
}

// Analyzer is the standard interface for any upstream analysis backend.
// Implementations classify failures as TransientError or FatalError so
// callers can decide what is worth retrying.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Analysis, error)
}
