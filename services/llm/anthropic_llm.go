// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIVersion   = "2023-06-01"
	defaultAnthropicURL   = "https://api.anthropic.com/v1/messages"
	defaultAnthropicModel = "claude-3-5-haiku-latest"

	// anthropicDefaultMaxTokens is required by the Messages API. Parameter
	// extraction replies are short JSON objects.
	anthropicDefaultMaxTokens = 1024
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicClient talks to the Anthropic Messages API. Chat only: Anthropic
// has no embeddings endpoint.
//
// Thread Safety: AnthropicClient is safe for concurrent use.
type AnthropicClient struct {
	httpClient *http.Client
	key        KeySource
	model      string
	baseURL    string
}

// NewAnthropicClientWithConfig creates an AnthropicClient with explicit configuration.
//
// # Inputs
//
//   - key: API key source.
//   - model: Model name. Empty means claude-3-5-haiku-latest.
//   - baseURL: Full messages endpoint URL. Empty means the public API.
//
// # Outputs
//
//   - *AnthropicClient: The configured client.
func NewAnthropicClientWithConfig(key KeySource, model, baseURL string) *AnthropicClient {
	if model == "" {
		model = defaultAnthropicModel
	}
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		key:        key,
		model:      model,
		baseURL:    baseURL,
	}
}

// Model returns the configured model name.
func (a *AnthropicClient) Model() string { return a.model }

// Chat sends messages to the Messages API. System messages are lifted into
// the top-level system field; multiple system messages are joined.
//
// Thread Safety: This method is safe for concurrent use.
func (a *AnthropicClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	var systemParts []string
	apiMessages := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		if strings.EqualFold(msg.Role, "system") {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		role := msg.Role
		if role != "assistant" {
			role = "user"
		}
		apiMessages = append(apiMessages, anthropicMessage{Role: role, Content: msg.Content})
	}

	model := a.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	reqPayload := anthropicRequest{
		Model:       model,
		Messages:    apiMessages,
		System:      strings.Join(systemParts, "\n\n"),
		MaxTokens:   anthropicDefaultMaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		StopSeqs:    params.Stop,
	}
	if params.MaxTokens != nil && *params.MaxTokens > 0 {
		reqPayload.MaxTokens = *params.MaxTokens
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("anthropic: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("anthropic: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", keyOf(a.key))
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic: HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("anthropic: reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic: API returned %d: %s", resp.StatusCode, truncateBody(body, 512))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("anthropic: parsing response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic: response contained no text content")
	}
	return sb.String(), nil
}
