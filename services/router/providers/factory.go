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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianRouter/services/llm"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// ProviderFactory creates the right adapters based on provider configuration.
//
// # Description
//
// ProviderFactory is the central creation point for the two provider roles:
// the embedding provider (SimilarityIndex warm-up and query embedding) and
// the generation provider (parameter extraction).
//
// # Thread Safety
//
// ProviderFactory is safe for concurrent use after construction.
type ProviderFactory struct {
	logger *slog.Logger
}

// NewProviderFactory creates a new ProviderFactory. A nil logger uses slog.Default().
func NewProviderFactory(logger *slog.Logger) *ProviderFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderFactory{logger: logger}
}

// CreateChatClient creates a ChatClient adapter for the given provider config.
//
// # Inputs
//
//   - cfg: Provider configuration specifying provider type and model.
//
// # Outputs
//
//   - ChatClient: The chat adapter for the specified provider.
//   - error: Non-nil if the provider is unsupported, a required API key is
//     missing, or construction fails.
//
// # Example
//
//	client, err := factory.CreateChatClient(ProviderConfig{
//	    Provider: "openai",
//	    Model:    "gpt-4o-mini",
//	    Key:      secret,
//	})
func (f *ProviderFactory) CreateChatClient(cfg ProviderConfig) (ChatClient, error) {
	switch cfg.Provider {
	case ProviderOllama:
		return NewOllamaChatAdapter(llm.NewOllamaClient(cfg.ollamaBaseURL(), cfg.Model, "")), nil

	case ProviderOpenAI:
		if !cfg.hasKey() {
			return nil, fmt.Errorf("OPENAI_API_KEY required for OpenAI provider")
		}
		return NewOpenAIChatAdapter(llm.NewOpenAIClientWithConfig(cfg.Key, cfg.Model, "", cfg.BaseURL)), nil

	case ProviderAnthropic:
		if !cfg.hasKey() {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY required for Anthropic provider")
		}
		return NewAnthropicChatAdapter(llm.NewAnthropicClientWithConfig(cfg.Key, cfg.Model, cfg.BaseURL)), nil

	case ProviderLangChain:
		model, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.ollamaBaseURL()))
		if err != nil {
			return nil, fmt.Errorf("creating langchain ollama model: %w", err)
		}
		return NewLangChainChat(model), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %q (valid: %v)", cfg.Provider, ValidProviders)
	}
}

// CreateEmbedder creates an Embedder for the given provider config.
//
// # Description
//
// Anthropic has no embeddings API, so it is rejected here even though it
// is a valid chat provider.
//
// # Outputs
//
//   - Embedder: The embedding adapter.
//   - string: The embedding model identifier, for cache fingerprinting.
//   - error: Non-nil if the provider cannot embed or construction fails.
func (f *ProviderFactory) CreateEmbedder(cfg ProviderConfig) (Embedder, string, error) {
	switch cfg.Provider {
	case ProviderOllama:
		client := llm.NewOllamaClient(cfg.ollamaBaseURL(), "", cfg.Model)
		return NewOllamaEmbedder(client), client.EmbeddingModel(), nil

	case ProviderOpenAI:
		if !cfg.hasKey() {
			return nil, "", fmt.Errorf("OPENAI_API_KEY required for OpenAI provider")
		}
		client := llm.NewOpenAIClientWithConfig(cfg.Key, "", cfg.Model, cfg.BaseURL)
		return NewOpenAIEmbedder(client), client.EmbeddingModel(), nil

	case ProviderLangChain:
		model, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.ollamaBaseURL()))
		if err != nil {
			return nil, "", fmt.Errorf("creating langchain ollama model: %w", err)
		}
		emb, err := embeddings.NewEmbedder(model)
		if err != nil {
			return nil, "", fmt.Errorf("creating langchain embedder: %w", err)
		}
		return NewLangChainEmbedder(emb), "langchain/" + cfg.Model, nil

	case ProviderAnthropic:
		return nil, "", fmt.Errorf("provider %q has no embeddings API", cfg.Provider)

	default:
		if !isValidProvider(cfg.Provider) {
			f.logger.Warn("unknown embedding provider requested",
				slog.String("provider", cfg.Provider))
		}
		return nil, "", fmt.Errorf("unsupported provider: %q (valid: %v)", cfg.Provider, ValidProviders)
	}
}
