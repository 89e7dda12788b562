// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package providers defines the two provider boundaries the router consumes
// (text embedding and chat generation) and the adapters that satisfy them
// for Ollama, OpenAI, Anthropic and langchaingo-backed models.
//
// Thread Safety:
//
//	All interfaces in this package must be implemented as safe for concurrent use.
package providers

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianRouter/services/llm"
)

// ErrEmptyEmbedding is returned when a provider answers with a zero-length vector.
var ErrEmptyEmbedding = errors.New("provider returned empty embedding")

// Embedder turns text into a fixed-length vector.
//
// # Description
//
// The only capability assumed of an embedding provider. No batching
// guarantee: callers that need many vectors issue concurrent Embed calls.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed returns the embedding of text.
	//
	// Outputs:
	//   - []float32: Non-empty vector on success.
	//   - error: Non-nil on transport failure, timeout, or empty vector.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChatClient is the minimal generation interface used by parameter extraction.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ChatClient interface {
	// Chat sends messages and returns the assistant's response text.
	//
	// Inputs:
	//   - ctx: Context for cancellation and timeout.
	//   - messages: Conversation messages (system, user, assistant).
	//   - opts: Provider-agnostic chat options.
	//
	// Outputs:
	//   - string: The assistant's response text.
	//   - error: Non-nil on failure.
	Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error)
}

// ChatOptions holds provider-agnostic options for a chat request.
type ChatOptions struct {
	// Temperature controls randomness. A negative value omits it from the
	// request so the provider default applies.
	Temperature float64

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int

	// KeepAlive controls model lifetime (Ollama-specific, ignored by cloud).
	KeepAlive string

	// NumCtx sets the context window size (Ollama-specific, ignored by cloud).
	NumCtx int

	// Model overrides the adapter's model for this request when non-empty.
	Model string
}

// toGenerationParams converts ChatOptions to the wire-level parameter struct.
func (o ChatOptions) toGenerationParams() llm.GenerationParams {
	var params llm.GenerationParams
	if o.Temperature >= 0 {
		temp := float32(o.Temperature)
		params.Temperature = &temp
	}
	if o.MaxTokens > 0 {
		maxTokens := o.MaxTokens
		params.MaxTokens = &maxTokens
	}
	if o.NumCtx > 0 {
		numCtx := o.NumCtx
		params.NumCtx = &numCtx
	}
	params.KeepAlive = o.KeepAlive
	params.ModelOverride = o.Model
	return params
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// ChatFunc adapts a function to the ChatClient interface.
type ChatFunc func(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error)

// Chat implements ChatClient.
func (f ChatFunc) Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
	return f(ctx, messages, opts)
}
