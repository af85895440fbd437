// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianCost/services/orchestrator/events"
)

func newTestManager(cfg Config) *Manager {
	return NewManager(events.NewBus(), cfg)
}

func TestManager_CreateAndComplete(t *testing.T) {
	m := newTestManager(Config{})

	h, err := m.Create(KindSync, map[string]string{"source": "aws"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	j, err := m.Get(h.ID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if j.State != StateRunning {
		t.Errorf("expected running, got %q", j.State)
	}
	if j.Metadata["source"] != "aws" {
		t.Errorf("expected metadata to be carried, got %v", j.Metadata)
	}

	if err := m.Complete(h, "done"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	j, err = m.Get(h.ID())
	if err != nil {
		t.Fatalf("Get after complete failed: %v", err)
	}
	if j.State != StateCompleted {
		t.Errorf("expected completed, got %q", j.State)
	}
	if j.Progress != 100 {
		t.Errorf("expected progress forced to 100, got %d", j.Progress)
	}
	if j.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if m.ActiveCount() != 0 {
		t.Errorf("expected 0 active jobs, got %d", m.ActiveCount())
	}
}

func TestManager_Fail(t *testing.T) {
	m := newTestManager(Config{})

	h, err := m.Create(KindDetectAnomalies, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	desc := ErrorDescriptor{
		Code:    "upstream_unavailable",
		Summary: "the analysis backend was unavailable after retries",
		Detail:  "dial tcp: connection refused",
	}
	if err := m.Fail(h, desc); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	j, err := m.Get(h.ID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if j.State != StateFailed {
		t.Errorf("expected failed, got %q", j.State)
	}
	if j.Error == nil || j.Error.Code != "upstream_unavailable" {
		t.Errorf("expected error descriptor carried, got %+v", j.Error)
	}
}

func TestManager_ActiveCap(t *testing.T) {
	m := newTestManager(Config{MaxActive: 2})

	h1, err := m.Create(KindSync, nil)
	if err != nil {
		t.Fatalf("Create 1 failed: %v", err)
	}
	if _, err := m.Create(KindSync, nil); err != nil {
		t.Fatalf("Create 2 failed: %v", err)
	}

	if _, err := m.Create(KindSync, nil); !errors.Is(err, ErrTooManyActiveJobs) {
		t.Errorf("expected ErrTooManyActiveJobs, got %v", err)
	}

	// Finishing a job frees a slot.
	if err := m.Complete(h1, ""); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if _, err := m.Create(KindSync, nil); err != nil {
		t.Errorf("expected slot to free up, got %v", err)
	}
}

func TestManager_ProgressClampAndMonotonic(t *testing.T) {
	m := newTestManager(Config{})
	h, _ := m.Create(KindGenerateInsights, nil)

	m.ReportProgress(h, 150, "way past done")
	j, _ := m.Get(h.ID())
	if j.Progress != 100 {
		t.Errorf("expected clamp to 100, got %d", j.Progress)
	}

	// A decrease is a logged no-op, not a rollback.
	m.ReportProgress(h, 40, "going backwards")
	j, _ = m.Get(h.ID())
	if j.Progress != 100 {
		t.Errorf("expected progress to stay at 100, got %d", j.Progress)
	}

	m.ReportProgress(h, -5, "negative")
	j, _ = m.Get(h.ID())
	if j.Progress != 100 {
		t.Errorf("expected progress unchanged after negative clamp, got %d", j.Progress)
	}
}

func TestManager_ProgressMessage(t *testing.T) {
	m := newTestManager(Config{})
	h, _ := m.Create(KindSync, nil)

	m.ReportProgress(h, 30, "writing records")
	j, _ := m.Get(h.ID())
	if j.Progress != 30 {
		t.Errorf("expected progress=30, got %d", j.Progress)
	}
	if j.Metadata["status"] != "writing records" {
		t.Errorf("expected status message, got %q", j.Metadata["status"])
	}
}

func TestManager_TerminalIsFinal(t *testing.T) {
	m := newTestManager(Config{})
	h, _ := m.Create(KindSync, nil)

	if err := m.Complete(h, ""); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if err := m.Fail(h, ErrorDescriptor{Code: "x"}); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("expected ErrInvalidStateTransition, got %v", err)
	}
	if err := m.Complete(h, "again"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("expected ErrInvalidStateTransition, got %v", err)
	}

	// Progress after terminal is ignored.
	m.ReportProgress(h, 10, "too late")
	j, _ := m.Get(h.ID())
	if j.State != StateCompleted || j.Progress != 100 {
		t.Errorf("terminal snapshot mutated: state=%q progress=%d", j.State, j.Progress)
	}
}

func TestManager_CancelPendingRejectsRunning(t *testing.T) {
	m := newTestManager(Config{})
	h, _ := m.Create(KindSync, nil)

	// Jobs transition to Running inside Create, so a live handle is never
	// cancellable.
	if err := m.CancelPending(h); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("expected ErrInvalidStateTransition, got %v", err)
	}
	j, _ := m.Get(h.ID())
	if j.State != StateRunning {
		t.Errorf("expected job untouched, got %q", j.State)
	}
}

func TestManager_GetUnknown(t *testing.T) {
	m := newTestManager(Config{})
	if _, err := m.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_ListHistoryNewestFirst(t *testing.T) {
	m := newTestManager(Config{HistorySize: 10})

	var ids []string
	for i := 0; i < 3; i++ {
		h, err := m.Create(KindSync, nil)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, h.ID())
		if err := m.Complete(h, ""); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
	}

	got := m.ListHistory(2)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].ID != ids[2] || got[1].ID != ids[1] {
		t.Errorf("expected newest first [%s %s], got [%s %s]",
			ids[2], ids[1], got[0].ID, got[1].ID)
	}

	if got := m.ListHistory(0); len(got) != 3 {
		t.Errorf("expected full history for limit=0, got %d", len(got))
	}
}

func TestManager_LifecycleEvents(t *testing.T) {
	bus := events.NewBus()
	m := NewManager(bus, Config{})

	var types []string
	_, err := bus.Subscribe(events.TopicJobProgress, func(ev events.Event) {
		types = append(types, ev.Type)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	h, _ := m.Create(KindSync, nil)
	m.ReportProgress(h, 50, "halfway")
	_ = m.Complete(h, "")

	want := []string{EventJobStarted, EventJobProgress, EventJobCompleted}
	if len(types) != len(want) {
		t.Fatalf("expected %d events, got %d (%v)", len(want), len(types), types)
	}
	for i, w := range want {
		if types[i] != w {
			t.Errorf("event %d: expected %q, got %q", i, w, types[i])
		}
	}
}

func TestSnapshotIsolation(t *testing.T) {
	m := newTestManager(Config{})
	h, _ := m.Create(KindSync, map[string]string{"k": "v"})

	j, _ := m.Get(h.ID())
	j.Metadata["k"] = "mutated"
	j.Progress = 99

	fresh, _ := m.Get(h.ID())
	if fresh.Metadata["k"] != "v" || fresh.Progress == 99 {
		t.Error("caller mutation leaked into manager state")
	}
}
