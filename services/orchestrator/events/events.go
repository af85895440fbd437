// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events provides the in-process publish/subscribe bus used to fan
// out cost-analysis domain events to interested components, most notably the
// WebSocket connection registry.
//
// Topics are a closed vocabulary: publishing or subscribing with an unknown
// topic is rejected rather than silently creating a new channel.
package events

import (
	"encoding/json"
	"time"
)

// Topic is a named category of broadcast events that clients opt into.
type Topic string

const (
	TopicCostUpdates     Topic = "cost-updates"
	TopicAnomalyAlerts   Topic = "anomaly-alerts"
	TopicInsights        Topic = "insights"
	TopicJobProgress     Topic = "job-progress"
	TopicRecommendations Topic = "recommendations"
)

// Topics returns the fixed topic vocabulary in a stable order.
func Topics() []Topic {
	return []Topic{
		TopicCostUpdates,
		TopicAnomalyAlerts,
		TopicInsights,
		TopicJobProgress,
		TopicRecommendations,
	}
}

// Valid reports whether t is part of the fixed topic vocabulary.
func (t Topic) Valid() bool {
	switch t {
	case TopicCostUpdates, TopicAnomalyAlerts, TopicInsights,
		TopicJobProgress, TopicRecommendations:
		return true
	}
	return false
}

// Event is an immutable broadcast message. Events are fire-and-forget: there
// is no acknowledgement and no persistence.
type Event struct {
	// Topic is the channel this event was published on.
	Topic Topic `json:"topic"`

	// Type identifies the event within its topic, e.g. "job-completed"
	// or "insights-generated".
	Type string `json:"type"`

	// Payload is the event-specific body.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`
}
