// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler receives events published to a topic. Handlers are invoked
// synchronously in publish order; long work must be deferred to a separate
// goroutine so a slow handler cannot stall publishers.
type Handler func(Event)

// Subscription identifies a registered handler so it can be removed later.
type Subscription struct {
	topic Topic
	id    uint64
}

// Topic returns the topic this subscription is attached to.
func (s *Subscription) Topic() Topic { return s.topic }

type subscriber struct {
	id uint64
	fn Handler
}

// topicState serializes dispatch for one topic. Holding mu across handler
// invocation is what gives per-topic FIFO ordering; different topics never
// contend with each other.
type topicState struct {
	mu       sync.Mutex
	handlers []subscriber
}

// Bus is an in-process, single-address-space publish/subscribe channel.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Events published to a given topic
// are dispatched to each handler in publish order; no ordering is guaranteed
// across topics.
//
// # Limitations
//
//   - No durability. Events published with no subscribers are dropped.
//   - Handlers must not call Publish on the same topic reentrantly.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	topics map[Topic]*topicState
}

// NewBus creates a bus with one dispatch channel per known topic.
func NewBus() *Bus {
	b := &Bus{topics: make(map[Topic]*topicState, len(Topics()))}
	for _, t := range Topics() {
		b.topics[t] = &topicState{}
	}
	return b
}

// Subscribe registers a handler for a topic and returns a handle for
// Unsubscribe. Unknown topics are rejected.
func (b *Bus) Subscribe(topic Topic, fn Handler) (*Subscription, error) {
	if !topic.Valid() {
		return nil, fmt.Errorf("subscribe: unknown topic %q", topic)
	}
	if fn == nil {
		return nil, fmt.Errorf("subscribe: nil handler for topic %q", topic)
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.mu.Unlock()

	ts := b.topics[topic]
	ts.mu.Lock()
	ts.handlers = append(ts.handlers, subscriber{id: id, fn: fn})
	ts.mu.Unlock()

	return &Subscription{topic: topic, id: id}, nil
}

// Unsubscribe removes a previously registered handler. Safe to call more
// than once; unknown handles are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil || !sub.topic.Valid() {
		return
	}
	ts := b.topics[sub.topic]
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for i, s := range ts.handlers {
		if s.id == sub.id {
			ts.handlers = append(ts.handlers[:i], ts.handlers[i+1:]...)
			return
		}
	}
}

// Publish marshals payload and dispatches the event synchronously to every
// handler registered for topic. Marshal failures drop the event with a log
// line; they never propagate to the publisher.
func (b *Bus) Publish(topic Topic, eventType string, payload any) {
	if !topic.Valid() {
		slog.Warn("dropping event for unknown topic", "topic", topic, "type", eventType)
		return
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			slog.Warn("failed to marshal event payload, dropping event",
				"topic", topic, "type", eventType, "error", err)
			return
		}
		raw = data
	}

	ev := Event{
		Topic:     topic,
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}

	ts := b.topics[topic]
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, s := range ts.handlers {
		s.fn(ev)
	}
}
