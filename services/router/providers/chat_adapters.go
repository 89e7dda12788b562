// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianRouter/services/llm"
	"go.opentelemetry.io/otel/attribute"
)

// wireChat is the method set shared by the raw clients in services/llm.
type wireChat interface {
	Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error)
}

// wireEmbed is the embedding method set shared by the raw clients.
type wireEmbed interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

func chatVia(ctx context.Context, provider string, client wireChat, messages []llm.Message, opts ChatOptions) (string, error) {
	var out string
	err := instrument(ctx, provider, opChat, []attribute.KeyValue{
		attribute.Int("message_count", len(messages)),
		attribute.Float64("temperature", opts.Temperature),
	}, func(ctx context.Context) error {
		var err error
		out, err = client.Chat(ctx, messages, opts.toGenerationParams())
		return err
	})
	return out, err
}

func embedVia(ctx context.Context, provider string, client wireEmbed, text string) ([]float32, error) {
	var vec []float32
	err := instrument(ctx, provider, opEmbed, []attribute.KeyValue{
		attribute.Int("text_len", len(text)),
	}, func(ctx context.Context) error {
		var err error
		vec, err = client.Embed(ctx, text)
		if err == nil && len(vec) == 0 {
			err = ErrEmptyEmbedding
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", provider, err)
	}
	return vec, nil
}

// =============================================================================
// Chat adapters
// =============================================================================

// OllamaChatAdapter wraps llm.OllamaClient to implement ChatClient.
//
// Thread Safety: OllamaChatAdapter is safe for concurrent use.
type OllamaChatAdapter struct {
	client *llm.OllamaClient
}

// NewOllamaChatAdapter creates a new OllamaChatAdapter.
func NewOllamaChatAdapter(client *llm.OllamaClient) *OllamaChatAdapter {
	return &OllamaChatAdapter{client: client}
}

// Chat implements ChatClient.
func (a *OllamaChatAdapter) Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("Ollama client is nil")
	}
	return chatVia(ctx, ProviderOllama, a.client, messages, opts)
}

// OpenAIChatAdapter wraps llm.OpenAIClient to implement ChatClient.
// Ollama-specific options (KeepAlive, NumCtx) are ignored.
//
// Thread Safety: OpenAIChatAdapter is safe for concurrent use.
type OpenAIChatAdapter struct {
	client *llm.OpenAIClient
}

// NewOpenAIChatAdapter creates a new OpenAIChatAdapter.
func NewOpenAIChatAdapter(client *llm.OpenAIClient) *OpenAIChatAdapter {
	return &OpenAIChatAdapter{client: client}
}

// Chat implements ChatClient.
func (a *OpenAIChatAdapter) Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("OpenAI client is nil")
	}
	return chatVia(ctx, ProviderOpenAI, a.client, messages, opts)
}

// AnthropicChatAdapter wraps llm.AnthropicClient to implement ChatClient.
//
// Thread Safety: AnthropicChatAdapter is safe for concurrent use.
type AnthropicChatAdapter struct {
	client *llm.AnthropicClient
}

// NewAnthropicChatAdapter creates a new AnthropicChatAdapter.
func NewAnthropicChatAdapter(client *llm.AnthropicClient) *AnthropicChatAdapter {
	return &AnthropicChatAdapter{client: client}
}

// Chat implements ChatClient.
func (a *AnthropicChatAdapter) Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("Anthropic client is nil")
	}
	return chatVia(ctx, ProviderAnthropic, a.client, messages, opts)
}

// =============================================================================
// Embedders
// =============================================================================

// OllamaEmbedder wraps llm.OllamaClient to implement Embedder.
type OllamaEmbedder struct {
	client *llm.OllamaClient
}

// NewOllamaEmbedder creates a new OllamaEmbedder.
func NewOllamaEmbedder(client *llm.OllamaClient) *OllamaEmbedder {
	return &OllamaEmbedder{client: client}
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.client == nil {
		return nil, fmt.Errorf("Ollama client is nil")
	}
	return embedVia(ctx, ProviderOllama, e.client, text)
}

// OpenAIEmbedder wraps llm.OpenAIClient to implement Embedder.
type OpenAIEmbedder struct {
	client *llm.OpenAIClient
}

// NewOpenAIEmbedder creates a new OpenAIEmbedder.
func NewOpenAIEmbedder(client *llm.OpenAIClient) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.client == nil {
		return nil, fmt.Errorf("OpenAI client is nil")
	}
	return embedVia(ctx, ProviderOpenAI, e.client, text)
}
