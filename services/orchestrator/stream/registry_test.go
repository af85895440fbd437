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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCost/services/orchestrator/events"
)

// fakeTransport records every frame it is asked to send. failAfter < 0
// means never fail.
type fakeTransport struct {
	mu        sync.Mutex
	frames    [][]byte
	closed    bool
	failAfter int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failAfter: -1}
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter == 0 {
		return errors.New("broken pipe")
	}
	if f.failAfter > 0 {
		f.failAfter--
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) frameTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, raw := range f.frames {
		var frame outboundFrame
		if err := json.Unmarshal(raw, &frame); err == nil {
			types = append(types, frame.Type)
		}
	}
	return types
}

func (f *fakeTransport) hasFrame(frameType string) bool {
	for _, ft := range f.frameTypes() {
		if ft == frameType {
			return true
		}
	}
	return false
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func startRegistry(t *testing.T, cfg Config) (*Registry, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	r := NewRegistry(bus, cfg)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)
	return r, bus
}

func TestRegistry_ConnectedFrameOnRegister(t *testing.T) {
	r, _ := startRegistry(t, Config{})
	tr := newFakeTransport()

	id := r.Register(tr)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, r.Count())

	require.Eventually(t, func() bool {
		return tr.hasFrame(FrameConnected)
	}, time.Second, 5*time.Millisecond)

	// The connected frame enumerates the topic vocabulary.
	var frame outboundFrame
	tr.mu.Lock()
	raw := tr.frames[0]
	tr.mu.Unlock()
	require.NoError(t, json.Unmarshal(raw, &frame))
	data := frame.Data.(map[string]any)
	assert.Equal(t, id, data["connectionId"])
	assert.Len(t, data["topics"], len(events.Topics()))
}

func TestRegistry_BroadcastFiltersByTopic(t *testing.T) {
	r, bus := startRegistry(t, Config{})

	subscribed := newFakeTransport()
	other := newFakeTransport()
	subID := r.Register(subscribed)
	otherID := r.Register(other)

	require.NoError(t, r.Subscribe(subID, events.TopicInsights))
	require.NoError(t, r.Subscribe(otherID, events.TopicCostUpdates))

	bus.Publish(events.TopicInsights, "insights-generated", map[string]string{"a": "b"})

	require.Eventually(t, func() bool {
		return subscribed.hasFrame("insights-generated")
	}, time.Second, 5*time.Millisecond)

	// The other connection only ever saw its own lifecycle frames.
	for _, ft := range other.frameTypes() {
		assert.NotEqual(t, "insights-generated", ft)
	}
}

func TestRegistry_UnsubscribeStopsDelivery(t *testing.T) {
	r, bus := startRegistry(t, Config{})
	tr := newFakeTransport()
	id := r.Register(tr)

	require.NoError(t, r.Subscribe(id, events.TopicAnomalyAlerts))
	require.NoError(t, r.Unsubscribe(id, events.TopicAnomalyAlerts))

	require.Eventually(t, func() bool {
		return tr.hasFrame(FrameUnsubscribed)
	}, time.Second, 5*time.Millisecond)

	bus.Publish(events.TopicAnomalyAlerts, "anomalies-detected", nil)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, tr.hasFrame("anomalies-detected"))
}

func TestRegistry_BrokenConnectionIsIsolated(t *testing.T) {
	r, bus := startRegistry(t, Config{})

	healthy := newFakeTransport()
	broken := newFakeTransport()
	broken.failAfter = 0 // every send fails

	healthyID := r.Register(healthy)
	brokenID := r.Register(broken)
	require.NoError(t, r.Subscribe(healthyID, events.TopicCostUpdates))

	// Subscribe bypasses the failing Send only at the registry level; the
	// writer goroutine hits the error and unregisters the connection.
	_ = r.Subscribe(brokenID, events.TopicCostUpdates)

	require.Eventually(t, func() bool {
		return !r.Connected(brokenID)
	}, time.Second, 5*time.Millisecond)
	assert.True(t, broken.isClosed())

	// The healthy subscriber still receives broadcasts.
	bus.Publish(events.TopicCostUpdates, "records-synced", nil)
	require.Eventually(t, func() bool {
		return healthy.hasFrame("records-synced")
	}, time.Second, 5*time.Millisecond)
	assert.True(t, r.Connected(healthyID))
}

func TestRegistry_DisconnectIdempotent(t *testing.T) {
	r, _ := startRegistry(t, Config{})
	tr := newFakeTransport()
	id := r.Register(tr)

	r.Disconnect(id)
	assert.Equal(t, 0, r.Count())
	assert.True(t, tr.isClosed())

	// Second disconnect leaves the registry in the same state.
	r.Disconnect(id)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_HandleInbound(t *testing.T) {
	t.Run("subscribe message", func(t *testing.T) {
		r, bus := startRegistry(t, Config{})
		tr := newFakeTransport()
		id := r.Register(tr)

		r.HandleInbound(id, []byte(`{"type":"subscribe","data":{"topic":"job-progress"}}`))

		require.Eventually(t, func() bool {
			return tr.hasFrame(FrameSubscribed)
		}, time.Second, 5*time.Millisecond)

		bus.Publish(events.TopicJobProgress, "job-started", nil)
		require.Eventually(t, func() bool {
			return tr.hasFrame("job-started")
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("ping yields pong", func(t *testing.T) {
		r, _ := startRegistry(t, Config{})
		tr := newFakeTransport()
		id := r.Register(tr)

		r.HandleInbound(id, []byte(`{"type":"ping"}`))
		require.Eventually(t, func() bool {
			return tr.hasFrame(FramePong)
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("malformed json", func(t *testing.T) {
		r, _ := startRegistry(t, Config{})
		tr := newFakeTransport()
		id := r.Register(tr)

		r.HandleInbound(id, []byte(`{not json`))
		require.Eventually(t, func() bool {
			return tr.hasFrame(FrameError)
		}, time.Second, 5*time.Millisecond)
		assert.True(t, r.Connected(id), "malformed input must not drop the connection")
	})

	t.Run("unknown topic", func(t *testing.T) {
		r, _ := startRegistry(t, Config{})
		tr := newFakeTransport()
		id := r.Register(tr)

		r.HandleInbound(id, []byte(`{"type":"subscribe","data":{"topic":"made-up"}}`))
		require.Eventually(t, func() bool {
			return tr.hasFrame(FrameError)
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("unknown message type", func(t *testing.T) {
		r, _ := startRegistry(t, Config{})
		tr := newFakeTransport()
		id := r.Register(tr)

		r.HandleInbound(id, []byte(`{"type":"teleport"}`))
		require.Eventually(t, func() bool {
			return tr.hasFrame(FrameError)
		}, time.Second, 5*time.Millisecond)
	})
}

func TestRegistry_SnapshotOnSubscribe(t *testing.T) {
	snapshot := func(topic events.Topic) any {
		if topic == events.TopicJobProgress {
			return []string{"job-1", "job-2"}
		}
		return nil
	}
	r, _ := startRegistry(t, Config{Snapshot: snapshot})
	tr := newFakeTransport()
	id := r.Register(tr)

	require.NoError(t, r.Subscribe(id, events.TopicJobProgress))
	require.Eventually(t, func() bool {
		return tr.hasFrame(FrameSnapshot)
	}, time.Second, 5*time.Millisecond)

	// Topics without a snapshot just skip the frame.
	tr2 := newFakeTransport()
	id2 := r.Register(tr2)
	require.NoError(t, r.Subscribe(id2, events.TopicInsights))
	require.Eventually(t, func() bool {
		return tr2.hasFrame(FrameSubscribed)
	}, time.Second, 5*time.Millisecond)
	assert.False(t, tr2.hasFrame(FrameSnapshot))
}

func TestRegistry_IdleSweep(t *testing.T) {
	r, _ := startRegistry(t, Config{
		IdleTimeout:   30 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})
	idle := newFakeTransport()
	busy := newFakeTransport()
	idleID := r.Register(idle)
	busyID := r.Register(busy)

	// Keep one connection active past the other's idle deadline.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		r.HandleInbound(busyID, []byte(`{"type":"ping"}`))
		time.Sleep(10 * time.Millisecond)
	}

	assert.False(t, r.Connected(idleID), "idle connection should be evicted")
	assert.True(t, r.Connected(busyID), "active connection should survive")
}

func TestRegistry_SubscribeUnknownConnection(t *testing.T) {
	r, _ := startRegistry(t, Config{})
	err := r.Subscribe("no-such-id", events.TopicInsights)
	assert.Error(t, err)
	err = r.Subscribe("no-such-id", events.Topic("bad"))
	assert.Error(t, err)
}

func TestRegistry_ManyConnections(t *testing.T) {
	r, bus := startRegistry(t, Config{})

	const n = 20
	transports := make([]*fakeTransport, n)
	for i := 0; i < n; i++ {
		transports[i] = newFakeTransport()
		id := r.Register(transports[i])
		require.NoError(t, r.Subscribe(id, events.TopicCostUpdates))
	}
	assert.Equal(t, n, r.Count())

	bus.Publish(events.TopicCostUpdates, "records-synced",
		map[string]string{"batch": fmt.Sprint(n)})

	for i, tr := range transports {
		tr := tr
		require.Eventually(t, func() bool {
			return tr.hasFrame("records-synced")
		}, time.Second, 5*time.Millisecond, "connection %d missed broadcast", i)
	}
}
