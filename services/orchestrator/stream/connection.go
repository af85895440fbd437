// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"sync"
	"time"

	"github.com/AleutianAI/AleutianCost/services/orchestrator/events"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/observability"
)

// connection is one live subscriber. Frames are handed to a buffered outbox
// drained by a dedicated writer goroutine, so a slow or stalled socket can
// never stall the goroutine publishing an event.
type connection struct {
	id        string
	transport Transport

	mu           sync.Mutex
	topics       map[events.Topic]struct{}
	lastActivity time.Time

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(id string, t Transport, sendBuffer int) *connection {
	return &connection{
		id:           id,
		transport:    t,
		topics:       make(map[events.Topic]struct{}),
		lastActivity: time.Now(),
		out:          make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
	}
}

// enqueue hands a frame to the writer goroutine without blocking. When the
// outbox is full the frame is dropped and counted; delivery to stream
// clients is best-effort.
func (c *connection) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.out <- data:
	default:
		observability.RecordDroppedFrame()
	}
}

// shutdown closes the transport and stops the writer. Safe to call from any
// goroutine, any number of times.
func (c *connection) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.transport.Close()
	})
}

func (c *connection) subscribe(topic events.Topic) {
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
}

func (c *connection) unsubscribe(topic events.Topic) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

func (c *connection) subscribed(topic events.Topic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

// touch refreshes the activity timestamp used by the idle sweep.
func (c *connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *connection) idleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActivity)
}
