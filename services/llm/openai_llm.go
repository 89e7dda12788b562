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
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// OpenAI Wire Types
// =============================================================================

const (
	defaultOpenAIBaseURL        = "https://api.openai.com/v1"
	defaultOpenAIChatModel      = "gpt-4o-mini"
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
)

type openaiRequest struct {
	Model               string          `json:"model"`
	Messages            []openaiMessage `json:"messages"`
	Temperature         *float32        `json:"temperature,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	TopP                *float32        `json:"top_p,omitempty"`
	Stop                []string        `json:"stop,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Choices []openaiChoice `json:"choices"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type openaiEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *openaiError `json:"error,omitempty"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OpenAIClient talks to the OpenAI chat completions and embeddings REST
// APIs using raw net/http.
//
// # Description
//
// Works against any OpenAI-compatible server: baseURL is the API root
// (".../v1"), and the client appends "/chat/completions" or "/embeddings".
//
// # Thread Safety
//
// Safe for concurrent use.
type OpenAIClient struct {
	httpClient     *http.Client
	key            KeySource
	model          string
	embeddingModel string
	baseURL        string
}

// NewOpenAIClientWithConfig creates an OpenAIClient with explicit configuration.
//
// # Inputs
//
//   - key: API key source. Called once per request.
//   - model: Chat model. Empty means gpt-4o-mini.
//   - embeddingModel: Embedding model. Empty means text-embedding-3-small.
//   - baseURL: API root. Empty means https://api.openai.com/v1.
//
// # Outputs
//
//   - *OpenAIClient: The configured client. Never nil.
func NewOpenAIClientWithConfig(key KeySource, model, embeddingModel, baseURL string) *OpenAIClient {
	if model == "" {
		model = defaultOpenAIChatModel
	}
	if embeddingModel == "" {
		embeddingModel = defaultOpenAIEmbeddingModel
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClient{
		httpClient:     &http.Client{Timeout: 120 * time.Second},
		key:            key,
		model:          model,
		embeddingModel: embeddingModel,
		baseURL:        strings.TrimRight(baseURL, "/"),
	}
}

// Model returns the chat model name.
func (o *OpenAIClient) Model() string { return o.model }

// EmbeddingModel returns the embedding model name.
func (o *OpenAIClient) EmbeddingModel() string { return o.embeddingModel }

// Chat sends a chat completion request and returns the first choice's text.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation messages. Unknown roles are mapped to "user".
//   - params: Generation parameters.
//
// # Outputs
//
//   - string: The assistant's response text.
//   - error: Non-nil on transport failure, non-200 status, API error or no choices.
//
// # Thread Safety
//
// Safe for concurrent use.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	model := o.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	oaiMessages := make([]openaiMessage, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case "system", "user", "assistant":
		default:
			slog.Warn("OpenAI: unknown message role, mapping to user",
				slog.String("unknown_role", role),
				slog.String("model", model),
			)
			role = "user"
		}
		oaiMessages = append(oaiMessages, openaiMessage{Role: role, Content: msg.Content})
	}

	reqPayload := openaiRequest{
		Model:               model,
		Messages:            oaiMessages,
		Temperature:         params.Temperature,
		MaxCompletionTokens: params.MaxTokens,
		TopP:                params.TopP,
		Stop:                params.Stop,
	}

	var apiResp openaiResponse
	if err := o.post(ctx, "/chat/completions", reqPayload, &apiResp); err != nil {
		return "", err
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("openai: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("openai: returned no choices")
	}

	slog.Debug("Received OpenAI chat response",
		slog.String("finish_reason", apiResp.Choices[0].FinishReason),
		slog.Int("response_len", len(apiResp.Choices[0].Message.Content)),
	)
	return apiResp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for a single text.
//
// # Outputs
//
//   - []float32: The embedding. Never empty on success.
//   - error: Non-nil on failure or when the response holds no vector.
func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var apiResp openaiEmbeddingResponse
	err := o.post(ctx, "/embeddings", openaiEmbeddingRequest{
		Model: o.embeddingModel,
		Input: []string{text},
	}, &apiResp)
	if err != nil {
		return nil, err
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("openai: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}
	for _, d := range apiResp.Data {
		if d.Index == 0 && len(d.Embedding) > 0 {
			return d.Embedding, nil
		}
	}
	return nil, fmt.Errorf("openai: embeddings returned empty vector")
}

func (o *OpenAIClient) post(ctx context.Context, path string, payload, out any) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("openai: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("openai: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+keyOf(o.key))

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("openai: HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("openai: reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai: API returned %d: %s", resp.StatusCode, truncateBody(bodyBytes, 512))
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("openai: parsing response JSON: %w", err)
	}
	return nil
}
