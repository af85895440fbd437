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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a cloud cost analysis engine. Respond with a single JSON object " +
	`of the form {"result": <task-specific JSON>, "confidence": <number in [0,1]>} and nothing else.`

// OpenAIAnalyzer implements Analyzer against the OpenAI chat completion API.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

// NewOpenAIAnalyzer builds an analyzer from OPENAI_API_KEY and OPENAI_MODEL,
// falling back to the mounted secret file when the env var is unset.
func NewOpenAIAnalyzer() (*OpenAIAnalyzer, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI analyzer", "model", model)
	return &OpenAIAnalyzer{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Analyze implements the Analyzer interface. All failures are classified:
// network problems, rate limits, 5xx responses, and unparsable completions
// are transient; request-shaped failures (4xx other than 429) are fatal.
func (o *OpenAIAnalyzer) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	slog.Debug("Running upstream analysis via OpenAI", "model", o.model, "task", req.Task)

	userContent := fmt.Sprintf("Task: %s\nInput:\n%s", req.Task, string(req.Input))
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
	})
	if err != nil {
		return nil, classifyAPIError(req.Task, err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices", "task", req.Task)
		return nil, Transient(req.Task, fmt.Errorf("upstream returned no choices"))
	}

	var envelope struct {
		Result     json.RawMessage `json:"result"`
		Confidence float64         `json:"confidence"`
	}
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		slog.Warn("unparsable upstream response", "task", req.Task, "error", err)
		return nil, Transient(req.Task, fmt.Errorf("malformed upstream response: %w", err))
	}

	return &Analysis{
		Result:     envelope.Result,
		Confidence: envelope.Confidence,
		Usage: TokenUsage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
	}, nil
}

// classifyAPIError maps go-openai errors onto the transient/fatal taxonomy.
func classifyAPIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return Transient(op, err)
		case apiErr.HTTPStatusCode >= 500:
			return Transient(op, err)
		case apiErr.HTTPStatusCode >= 400:
			return Fatal(op, err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// Anything else is a transport-level problem: DNS, refused connection,
	// timeout, truncated body.
	return Transient(op, err)
}
