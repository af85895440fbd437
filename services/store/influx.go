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
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianCost/pkg/validation"
)

const (
	costMeasurement     = "cloud_cost"
	alertMeasurement    = "cost_alert"
	analysisMeasurement = "analysis_result"
)

// InfluxStore implements Store against an InfluxDB 2.x bucket.
type InfluxStore struct {
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
}

// NewInfluxStore connects to InfluxDB and waits for it to report healthy,
// retrying for a bounded number of attempts before giving up.
func NewInfluxStore(url, token, org, bucket string) (*InfluxStore, error) {
	client := influxdb2.NewClient(url, token)

	var ready bool
	slog.Info("Waiting for InfluxDB to be ready...", "url", url)
	for i := 0; i < 10; i++ {
		health, err := client.Health(context.Background())
		if err == nil && health.Status == "pass" {
			ready = true
			break
		}

		var errMsg string
		if err != nil {
			errMsg = err.Error()
		} else if health != nil && health.Message != nil {
			errMsg = *health.Message
		}
		slog.Warn("InfluxDB not ready, retrying...", "attempt", i+1, "error", errMsg)
		time.Sleep(3 * time.Second)
	}
	if !ready {
		return nil, fmt.Errorf("influxdb at %s not healthy after retries", url)
	}

	slog.Info("Successfully connected to InfluxDB", "org", org, "bucket", bucket)
	return &InfluxStore{
		writeAPI: client.WriteAPIBlocking(org, bucket),
		queryAPI: client.QueryAPI(org),
		bucket:   bucket,
	}, nil
}

// InsertRecords writes cost rows as points in one blocking batch.
func (s *InfluxStore) InsertRecords(ctx context.Context, records []CostRecord) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(records))
	for _, r := range records {
		tags := map[string]string{
			"provider": r.Provider,
			"service":  r.Service,
			"account":  r.Account,
			"currency": r.Currency,
		}
		for k, v := range r.Labels {
			tags[k] = v
		}
		points = append(points, influxdb2.NewPoint(
			costMeasurement,
			tags,
			map[string]interface{}{"amount": r.Amount},
			r.Timestamp,
		))
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write cost records: %w", err)
	}
	slog.Debug("wrote cost records", "count", len(records))
	return nil
}

// QueryRecords runs a flux window query and maps rows back to CostRecords.
func (s *InfluxStore) QueryRecords(ctx context.Context, filter RecordFilter) ([]CostRecord, error) {
	start := filter.Start
	if start.IsZero() {
		start = time.Now().Add(-30 * 24 * time.Hour)
	}
	end := filter.End
	if end.IsZero() {
		end = time.Now()
	}

	query := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r._field == "amount")`,
		s.bucket, start.Format(time.RFC3339), end.Format(time.RFC3339), costMeasurement)
	if filter.Provider != "" {
		// Tag values are interpolated into the Flux source; validate to
		// block injection through the filter API.
		if err := validation.ValidateTag(filter.Provider); err != nil {
			return nil, fmt.Errorf("invalid provider filter: %w", err)
		}
		query += fmt.Sprintf("\n  |> filter(fn: (r) => r.provider == %q)", filter.Provider)
	}
	if filter.Service != "" {
		if err := validation.ValidateTag(filter.Service); err != nil {
			return nil, fmt.Errorf("invalid service filter: %w", err)
		}
		query += fmt.Sprintf("\n  |> filter(fn: (r) => r.service == %q)", filter.Service)
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf("\n  |> limit(n: %d)", filter.Limit)
	}

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("cost record query failed: %w", err)
	}
	defer result.Close()

	var records []CostRecord
	for result.Next() {
		rec := result.Record()
		amount, _ := rec.Value().(float64)
		records = append(records, CostRecord{
			Provider:  stringValue(rec.ValueByKey("provider")),
			Service:   stringValue(rec.ValueByKey("service")),
			Account:   stringValue(rec.ValueByKey("account")),
			Currency:  stringValue(rec.ValueByKey("currency")),
			Amount:    amount,
			Timestamp: rec.Time(),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("cost record query failed mid-stream: %w", result.Err())
	}
	return records, nil
}

// CreateAlert persists one anomaly alert.
func (s *InfluxStore) CreateAlert(ctx context.Context, alert Alert) error {
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	p := influxdb2.NewPoint(
		alertMeasurement,
		map[string]string{"severity": alert.Severity, "alert_id": alert.ID},
		map[string]interface{}{
			"title":       alert.Title,
			"description": alert.Description,
		},
		createdAt,
	)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("failed to write alert: %w", err)
	}
	return nil
}

// SaveAnalysisResult persists a completed analysis payload keyed by job.
func (s *InfluxStore) SaveAnalysisResult(ctx context.Context, result AnalysisResult) error {
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	p := influxdb2.NewPoint(
		analysisMeasurement,
		map[string]string{"kind": result.Kind, "job_id": result.JobID},
		map[string]interface{}{
			"payload":    string(result.Payload),
			"confidence": result.Confidence,
		},
		createdAt,
	)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("failed to write analysis result: %w", err)
	}
	return nil
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}
