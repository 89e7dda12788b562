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
	defaultOllamaChatModel      = "granite4:micro-h"
	defaultOllamaEmbeddingModel = "nomic-embed-text-v2-moe"
)

// ollamaEmbedReq is the Ollama /api/embed request body.
type ollamaEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaChatReq struct {
	Model     string         `json:"model"`
	Messages  []Message      `json:"messages"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type ollamaChatResp struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

// OllamaClient talks to a local Ollama server's /api/chat and /api/embed
// endpoints.
//
// # Thread Safety
//
// Safe for concurrent use.
type OllamaClient struct {
	httpClient     *http.Client
	baseURL        string
	model          string
	embeddingModel string
}

// NewOllamaClient creates an OllamaClient.
//
// # Inputs
//
//   - baseURL: Server root, e.g. http://localhost:11434.
//   - model: Chat model. Empty means granite4:micro-h.
//   - embeddingModel: Embedding model. Empty means nomic-embed-text-v2-moe.
//
// # Outputs
//
//   - *OllamaClient: The configured client. Never nil.
func NewOllamaClient(baseURL, model, embeddingModel string) *OllamaClient {
	if model == "" {
		model = defaultOllamaChatModel
	}
	if embeddingModel == "" {
		embeddingModel = defaultOllamaEmbeddingModel
	}
	return &OllamaClient{
		// Warm-up embeds can be slow on a cold model; per-call deadlines come
		// from the caller's context.
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		baseURL:        strings.TrimRight(baseURL, "/"),
		model:          model,
		embeddingModel: embeddingModel,
	}
}

// Model returns the chat model name.
func (c *OllamaClient) Model() string { return c.model }

// EmbeddingModel returns the embedding model name.
func (c *OllamaClient) EmbeddingModel() string { return c.embeddingModel }

// Chat sends a non-streaming /api/chat request.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	model := c.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	options := map[string]any{}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if params.NumCtx != nil {
		options["num_ctx"] = *params.NumCtx
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}

	var resp ollamaChatResp
	err := c.post(ctx, "/api/chat", ollamaChatReq{
		Model:     model,
		Messages:  messages,
		Stream:    false,
		KeepAlive: params.KeepAlive,
		Options:   options,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama: chat error: %s", resp.Error)
	}
	return resp.Message.Content, nil
}

// Embed calls /api/embed and returns the first embedding vector.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaEmbedResp
	if err := c.post(ctx, "/api/embed", ollamaEmbedReq{Model: c.embeddingModel, Input: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama: embed service returned empty vector")
	}
	return resp.Embeddings[0], nil
}

func (c *OllamaClient) post(ctx context.Context, path string, payload, out any) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: service returned %d: %s", resp.StatusCode, truncateBody(body, 512))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("ollama: parse response: %w", err)
	}
	return nil
}
