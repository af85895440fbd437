// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func apiError(status int) error {
	return &openai.APIError{HTTPStatusCode: status, Message: "x"}
}

func TestClassifyAPIError(t *testing.T) {
	t.Run("rate limit is transient", func(t *testing.T) {
		err := classifyAPIError("op", apiError(http.StatusTooManyRequests))
		if !IsTransient(err) {
			t.Errorf("expected transient, got %v", err)
		}
	})

	t.Run("server errors are transient", func(t *testing.T) {
		for _, status := range []int{500, 502, 503} {
			err := classifyAPIError("op", apiError(status))
			if !IsTransient(err) {
				t.Errorf("status %d: expected transient, got %v", status, err)
			}
		}
	})

	t.Run("client errors are fatal", func(t *testing.T) {
		for _, status := range []int{400, 401, 403, 404} {
			err := classifyAPIError("op", apiError(status))
			if !IsFatal(err) {
				t.Errorf("status %d: expected fatal, got %v", status, err)
			}
		}
	})

	t.Run("wrapped api error still classified", func(t *testing.T) {
		err := classifyAPIError("op", fmt.Errorf("request failed: %w", apiError(503)))
		if !IsTransient(err) {
			t.Errorf("expected transient, got %v", err)
		}
	})

	t.Run("caller cancellation passes through", func(t *testing.T) {
		err := classifyAPIError("op", context.Canceled)
		if !errors.Is(err, context.Canceled) || IsTransient(err) || IsFatal(err) {
			t.Errorf("expected unclassified context.Canceled, got %v", err)
		}
	})

	t.Run("transport errors are transient", func(t *testing.T) {
		err := classifyAPIError("op", errors.New("dial tcp: connection refused"))
		if !IsTransient(err) {
			t.Errorf("expected transient, got %v", err)
		}
	})
}
