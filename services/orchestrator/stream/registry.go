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
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCost/services/orchestrator/events"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/observability"
)

// SnapshotFunc returns the current state for a topic, sent to a connection
// immediately after it subscribes so late subscribers are not blind to
// already-in-flight work (e.g. active jobs for the job-progress topic).
// May return nil when a topic has no meaningful snapshot.
type SnapshotFunc func(topic events.Topic) any

// Config holds registry tuning knobs.
type Config struct {
	// IdleTimeout evicts connections with no inbound activity for this
	// long. Default: 5 minutes.
	IdleTimeout time.Duration

	// SweepInterval is how often the idle sweep runs. Default: 30s.
	SweepInterval time.Duration

	// SendBuffer is the per-connection outbox depth. Default: 64.
	SendBuffer int

	// Snapshot provides per-topic state for late subscribers. Optional.
	Snapshot SnapshotFunc
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

// Registry tracks live connections and fans bus events out to every
// connection subscribed to the matching topic.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The mutex guards only the
// connection map; per-connection state has its own lock, and actual socket
// writes happen on per-connection writer goroutines.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*connection

	cfg  Config
	bus  *events.Bus
	subs []*events.Subscription

	done      chan struct{}
	closeOnce sync.Once
}

// NewRegistry creates a registry wired to bus. Call Start to begin
// receiving events and sweeping idle connections.
func NewRegistry(bus *events.Bus, cfg Config) *Registry {
	return &Registry{
		conns: make(map[string]*connection),
		cfg:   cfg.withDefaults(),
		bus:   bus,
		done:  make(chan struct{}),
	}
}

// Start subscribes to every topic on the bus and launches the idle sweep.
func (r *Registry) Start() error {
	for _, topic := range events.Topics() {
		sub, err := r.bus.Subscribe(topic, func(ev events.Event) {
			r.Broadcast(ev.Topic, ev)
		})
		if err != nil {
			return fmt.Errorf("failed to attach registry to bus: %w", err)
		}
		r.subs = append(r.subs, sub)
	}
	go r.sweepLoop()
	slog.Info("connection registry started",
		"idleTimeout", r.cfg.IdleTimeout.String(),
		"sweepInterval", r.cfg.SweepInterval.String())
	return nil
}

// Stop detaches from the bus, stops the sweep, and drops all connections.
func (r *Registry) Stop() {
	r.closeOnce.Do(func() { close(r.done) })
	for _, sub := range r.subs {
		r.bus.Unsubscribe(sub)
	}

	r.mu.Lock()
	conns := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*connection)
	r.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
	observability.SetConnectedClients(0)
}

// Register adds a live transport and returns its connection id. The client
// immediately receives a connected frame enumerating the valid topics.
func (r *Registry) Register(t Transport) string {
	c := newConnection(uuid.New().String(), t, r.cfg.SendBuffer)

	r.mu.Lock()
	r.conns[c.id] = c
	n := len(r.conns)
	r.mu.Unlock()

	go r.writeLoop(c)
	observability.SetConnectedClients(n)
	slog.Info("stream client connected", "connectionId", c.id)

	r.sendFrame(c, FrameConnected, map[string]any{
		"connectionId": c.id,
		"topics":       events.Topics(),
	})
	return c.id
}

// Disconnect removes a connection and closes its transport. Idempotent:
// calling it twice for the same id leaves the registry in the same state as
// a single call.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	n := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return
	}
	c.shutdown()
	observability.SetConnectedClients(n)
	slog.Info("stream client disconnected", "connectionId", id)
}

// Subscribe adds topic to the connection's interest set and sends the
// current snapshot for that topic so the subscriber starts with state.
func (r *Registry) Subscribe(id string, topic events.Topic) error {
	if !topic.Valid() {
		return fmt.Errorf("unknown topic %q", topic)
	}
	c, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("unknown connection %q", id)
	}

	c.subscribe(topic)
	r.sendFrame(c, FrameSubscribed, map[string]any{"topic": topic})
	if r.cfg.Snapshot != nil {
		if state := r.cfg.Snapshot(topic); state != nil {
			r.sendFrame(c, FrameSnapshot, map[string]any{
				"topic": topic,
				"state": state,
			})
		}
	}
	return nil
}

// Unsubscribe removes topic from the connection's interest set.
func (r *Registry) Unsubscribe(id string, topic events.Topic) error {
	if !topic.Valid() {
		return fmt.Errorf("unknown topic %q", topic)
	}
	c, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("unknown connection %q", id)
	}
	c.unsubscribe(topic)
	r.sendFrame(c, FrameUnsubscribed, map[string]any{"topic": topic})
	return nil
}

// Broadcast delivers an event to every connection subscribed to topic.
// Delivery is per-connection isolated: a full outbox drops the frame for
// that connection only, and a dead transport is detected by its writer
// goroutine, which unregisters the connection.
func (r *Registry) Broadcast(topic events.Topic, ev events.Event) {
	data, err := json.Marshal(outboundFrame{
		Type:      ev.Type,
		Data:      ev,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("failed to marshal broadcast frame", "topic", topic, "error", err)
		return
	}

	r.mu.Lock()
	targets := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		if c.subscribed(topic) {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	for _, c := range targets {
		c.enqueue(data)
	}
	if len(targets) > 0 {
		observability.RecordBroadcast(string(topic))
	}
}

// HandleInbound processes one raw client message. A malformed message
// yields an error reply to that connection only; it never affects other
// connections or the registry's state.
func (r *Registry) HandleInbound(id string, raw []byte) {
	c, ok := r.lookup(id)
	if !ok {
		return
	}
	c.touch()

	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.sendError(c, "malformed message: expected JSON envelope")
		return
	}

	switch msg.Type {
	case MsgSubscribe, MsgUnsubscribe, MsgQuery:
		var req topicRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.Topic == "" {
			r.sendError(c, fmt.Sprintf("malformed %s message: missing topic", msg.Type))
			return
		}
		topic := events.Topic(req.Topic)
		if !topic.Valid() {
			r.sendError(c, fmt.Sprintf("unknown topic %q", req.Topic))
			return
		}
		switch msg.Type {
		case MsgSubscribe:
			_ = r.Subscribe(id, topic)
		case MsgUnsubscribe:
			_ = r.Unsubscribe(id, topic)
		case MsgQuery:
			var state any
			if r.cfg.Snapshot != nil {
				state = r.cfg.Snapshot(topic)
			}
			r.sendFrame(c, FrameSnapshot, map[string]any{
				"topic": topic,
				"state": state,
			})
		}

	case MsgPing:
		r.sendFrame(c, FramePong, nil)

	default:
		r.sendError(c, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Connected reports whether id is currently registered.
func (r *Registry) Connected(id string) bool {
	_, ok := r.lookup(id)
	return ok
}

func (r *Registry) lookup(id string) (*connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) sendFrame(c *connection, frameType string, data any) {
	payload, err := json.Marshal(outboundFrame{
		Type:      frameType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("failed to marshal frame", "type", frameType, "error", err)
		return
	}
	c.enqueue(payload)
}

func (r *Registry) sendError(c *connection, message string) {
	r.sendFrame(c, FrameError, map[string]any{"message": message})
}

// writeLoop drains one connection's outbox onto its transport. A send
// failure unregisters that connection; it can never affect delivery to
// others or the goroutine that published the event.
func (r *Registry) writeLoop(c *connection) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			if err := c.transport.Send(data); err != nil {
				slog.Warn("stream send failed, dropping connection",
					"connectionId", c.id, "error", err)
				r.Disconnect(c.id)
				return
			}
		}
	}
}

// sweepLoop periodically evicts connections idle past the timeout. Runs
// independently of message traffic.
func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			now := time.Now()
			r.mu.Lock()
			var stale []string
			for id, c := range r.conns {
				if c.idleSince(now) > r.cfg.IdleTimeout {
					stale = append(stale, id)
				}
			}
			r.mu.Unlock()

			for _, id := range stale {
				slog.Info("evicting idle stream client", "connectionId", id)
				r.Disconnect(id)
			}
		}
	}
}
