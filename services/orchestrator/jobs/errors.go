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

import "errors"

var (
	// ErrTooManyActiveJobs is the backpressure signal returned by Create
	// when the configured cap on concurrently active jobs is reached.
	// Callers should retry later or reject the triggering request.
	ErrTooManyActiveJobs = errors.New("too many active jobs")

	// ErrInvalidStateTransition signals an attempt to mutate a job that is
	// already in a terminal state. The mutation is a no-op beyond this error.
	ErrInvalidStateTransition = errors.New("invalid job state transition")

	// ErrNotFound is returned when a job id is in neither the active set
	// nor the bounded history.
	ErrNotFound = errors.New("job not found")
)
