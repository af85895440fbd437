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

// history is a fixed-capacity ring of terminal job snapshots. When full, the
// oldest entry is overwritten, which makes the memory bound an invariant
// rather than an incidental slice operation.
//
// NOT safe for concurrent use; the Manager's mutex synchronizes access.
type history struct {
	data  []Job
	head  int // next write position
	tail  int // oldest entry position
	count int
	full  bool
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 100
	}
	return &history{data: make([]Job, capacity)}
}

// push records a terminal job, evicting the oldest entry if at capacity.
func (h *history) push(j Job) {
	h.data[h.head] = j
	h.head = (h.head + 1) % len(h.data)

	if h.full {
		h.tail = (h.tail + 1) % len(h.data)
	} else {
		h.count++
		if h.count == len(h.data) {
			h.full = true
		}
	}
}

// find returns the snapshot for id, newest match first.
func (h *history) find(id string) (Job, bool) {
	for i := 0; i < h.count; i++ {
		idx := h.head - 1 - i
		if idx < 0 {
			idx += len(h.data)
		}
		if h.data[idx].ID == id {
			return h.data[idx], true
		}
	}
	return Job{}, false
}

// last returns up to n entries, newest first.
func (h *history) last(n int) []Job {
	if n <= 0 || h.count == 0 {
		return nil
	}
	if n > h.count {
		n = h.count
	}
	result := make([]Job, n)
	for i := 0; i < n; i++ {
		idx := h.head - 1 - i
		if idx < 0 {
			idx += len(h.data)
		}
		result[i] = h.data[idx]
	}
	return result
}

func (h *history) len() int { return h.count }

func (h *history) cap() int { return len(h.data) }
