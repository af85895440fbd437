// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCost/services/analyzer"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/events"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/jobs"
	"github.com/AleutianAI/AleutianCost/services/store"
)

// Workflow-specific completion event types, published in addition to the
// generic job-completed event.
const (
	EventRecordsSynced          = "records-synced"
	EventInsightsGenerated      = "insights-generated"
	EventAnomaliesDetected      = "anomalies-detected"
	EventRecommendationsRefresh = "recommendations-refreshed"
)

// Cache keys for the latest result of each workflow.
const (
	CacheKeySyncSummary     = "sync:last"
	CacheKeyInsights        = "insights:latest"
	CacheKeyAnomalies       = "anomalies:latest"
	CacheKeyRecommendations = "recommendations:latest"
)

// SyncSummary is the result payload of a sync workflow.
type SyncSummary struct {
	Records  int       `json:"records"`
	SyncedAt time.Time `json:"syncedAt"`
}

// Anomaly is one entry in a detect-anomalies result.
type Anomaly struct {
	Severity    string  `json:"severity"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount,omitempty"`
}

// runSync pulls fresh cost rows from the feed and lands them in the store.
func (o *Orchestrator) runSync(ctx context.Context, h *jobs.Handle, params map[string]string) (any, string, events.Topic, string, error) {
	since := time.Now().Add(-o.cfg.RecordWindow)
	if raw, ok := params["since"]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			since = t
		}
	}

	o.jobs.ReportProgress(h, 10, "fetching cost records from provider feed")
	records, err := o.feed.FetchRecords(ctx, since)
	if err != nil {
		return nil, "", "", "", fmt.Errorf("feed fetch failed: %w", err)
	}

	o.jobs.ReportProgress(h, 55, fmt.Sprintf("writing %d cost records", len(records)))
	if err := o.store.InsertRecords(ctx, records); err != nil {
		return nil, "", "", "", err
	}

	o.jobs.ReportProgress(h, 85, "invalidating derived analyses")
	// Fresh rows make every cached analysis stale, including the shared
	// record-window read.
	o.cache.Invalidate("records:*")
	o.cache.Invalidate("insights:*")
	o.cache.Invalidate("anomalies:*")
	o.cache.Invalidate("recommendations:*")

	summary := SyncSummary{Records: len(records), SyncedAt: time.Now().UTC()}
	return summary, CacheKeySyncSummary, events.TopicCostUpdates, EventRecordsSynced, nil
}

// runGenerateInsights sends the record window upstream and saves the
// returned insight payload.
func (o *Orchestrator) runGenerateInsights(ctx context.Context, h *jobs.Handle) (any, string, events.Topic, string, error) {
	o.jobs.ReportProgress(h, 15, "loading cost record window")
	records, err := o.windowRecords(ctx)
	if err != nil {
		return nil, "", "", "", err
	}

	o.jobs.ReportProgress(h, 40, "analyzing spend with upstream model")
	analysis, err := o.analyze(ctx, "generate-insights", records)
	if err != nil {
		return nil, "", "", "", err
	}

	o.jobs.ReportProgress(h, 75, "saving analysis result")
	if err := o.saveAnalysis(ctx, h, jobs.KindGenerateInsights, analysis); err != nil {
		return nil, "", "", "", err
	}

	return analysis.Result, CacheKeyInsights, events.TopicInsights, EventInsightsGenerated, nil
}

// runDetectAnomalies scans the record window upstream and raises an alert
// per reported anomaly.
func (o *Orchestrator) runDetectAnomalies(ctx context.Context, h *jobs.Handle) (any, string, events.Topic, string, error) {
	o.jobs.ReportProgress(h, 15, "loading cost record window")
	records, err := o.windowRecords(ctx)
	if err != nil {
		return nil, "", "", "", err
	}

	o.jobs.ReportProgress(h, 40, "scanning for cost anomalies")
	analysis, err := o.analyze(ctx, "detect-anomalies", records)
	if err != nil {
		return nil, "", "", "", err
	}

	var anomalies []Anomaly
	if err := json.Unmarshal(analysis.Result, &anomalies); err != nil {
		return nil, "", "", "", analyzer.Transient("detect-anomalies",
			fmt.Errorf("malformed anomaly payload: %w", err))
	}

	o.jobs.ReportProgress(h, 70, fmt.Sprintf("raising %d alerts", len(anomalies)))
	for _, a := range anomalies {
		alert := store.Alert{
			ID:          uuid.New().String(),
			Severity:    a.Severity,
			Title:       a.Title,
			Description: a.Description,
			CreatedAt:   time.Now().UTC(),
		}
		if err := o.store.CreateAlert(ctx, alert); err != nil {
			return nil, "", "", "", err
		}
	}

	o.jobs.ReportProgress(h, 90, "saving analysis result")
	if err := o.saveAnalysis(ctx, h, jobs.KindDetectAnomalies, analysis); err != nil {
		return nil, "", "", "", err
	}

	return anomalies, CacheKeyAnomalies, events.TopicAnomalyAlerts, EventAnomaliesDetected, nil
}

// runRefreshRecommendations regenerates right-sizing recommendations.
func (o *Orchestrator) runRefreshRecommendations(ctx context.Context, h *jobs.Handle) (any, string, events.Topic, string, error) {
	o.jobs.ReportProgress(h, 15, "loading cost record window")
	records, err := o.windowRecords(ctx)
	if err != nil {
		return nil, "", "", "", err
	}

	o.jobs.ReportProgress(h, 45, "generating recommendations with upstream model")
	analysis, err := o.analyze(ctx, "refresh-recommendations", records)
	if err != nil {
		return nil, "", "", "", err
	}

	o.jobs.ReportProgress(h, 80, "saving analysis result")
	if err := o.saveAnalysis(ctx, h, jobs.KindRefreshRecommendations, analysis); err != nil {
		return nil, "", "", "", err
	}

	return analysis.Result, CacheKeyRecommendations, events.TopicRecommendations, EventRecommendationsRefresh, nil
}

// analyze marshals records into an upstream request and runs it through the
// retrying client.
func (o *Orchestrator) analyze(ctx context.Context, task string, records []store.CostRecord) (*analyzer.Analysis, error) {
	input, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis input: %w", err)
	}
	analysis, err := o.upstream.Analyze(ctx, analyzer.Request{Task: task, Input: input})
	if err != nil {
		return nil, err
	}
	slog.Debug("upstream analysis done", "task", task,
		"confidence", analysis.Confidence, "tokens", analysis.Usage.Total)
	return analysis, nil
}

func (o *Orchestrator) saveAnalysis(ctx context.Context, h *jobs.Handle, kind jobs.Kind, analysis *analyzer.Analysis) error {
	return o.store.SaveAnalysisResult(ctx, store.AnalysisResult{
		JobID:      h.ID(),
		Kind:       string(kind),
		Payload:    analysis.Result,
		Confidence: analysis.Confidence,
		CreatedAt:  time.Now().UTC(),
	})
}
