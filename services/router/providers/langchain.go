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
	"strings"

	"github.com/AleutianAI/AleutianRouter/services/llm"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel/attribute"
)

// LangChainChat adapts any langchaingo llms.Model to ChatClient.
//
// # Description
//
// Lets deployments plug in any backend langchaingo supports without a
// dedicated raw-HTTP client here. KeepAlive and NumCtx are ignored.
//
// # Thread Safety
//
// Safe for concurrent use if the wrapped model is.
type LangChainChat struct {
	model llms.Model
}

// NewLangChainChat wraps model.
func NewLangChainChat(model llms.Model) *LangChainChat {
	return &LangChainChat{model: model}
}

// Chat implements ChatClient.
func (c *LangChainChat) Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
	if c.model == nil {
		return "", fmt.Errorf("langchain model is nil")
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(langChainRole(m.Role), m.Content))
	}

	var callOpts []llms.CallOption
	if opts.Temperature >= 0 {
		callOpts = append(callOpts, llms.WithTemperature(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}

	var out string
	err := instrument(ctx, ProviderLangChain, opChat, []attribute.KeyValue{
		attribute.Int("message_count", len(messages)),
	}, func(ctx context.Context) error {
		resp, err := c.model.GenerateContent(ctx, content, callOpts...)
		if err != nil {
			return fmt.Errorf("langchain: generate content: %w", err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return fmt.Errorf("langchain: returned no choices")
		}
		out = resp.Choices[0].Content
		return nil
	})
	return out, err
}

func langChainRole(role string) llms.ChatMessageType {
	switch strings.ToLower(role) {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// LangChainEmbedder adapts a langchaingo embeddings.Embedder to Embedder.
type LangChainEmbedder struct {
	embedder embeddings.Embedder
}

// NewLangChainEmbedder wraps embedder.
func NewLangChainEmbedder(embedder embeddings.Embedder) *LangChainEmbedder {
	return &LangChainEmbedder{embedder: embedder}
}

// Embed implements Embedder using EmbedQuery.
func (e *LangChainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("langchain embedder is nil")
	}
	var vec []float32
	err := instrument(ctx, ProviderLangChain, opEmbed, []attribute.KeyValue{
		attribute.Int("text_len", len(text)),
	}, func(ctx context.Context) error {
		var err error
		vec, err = e.embedder.EmbedQuery(ctx, text)
		if err == nil && len(vec) == 0 {
			err = ErrEmptyEmbedding
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("langchain embed: %w", err)
	}
	return vec, nil
}
