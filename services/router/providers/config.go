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
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianRouter/services/llm"
)

// Provider constants for supported backends.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	// ProviderLangChain routes through langchaingo's Ollama backend. Useful
	// when the deployment already standardises on langchaingo options.
	ProviderLangChain = "langchain"
)

// ValidProviders contains the set of valid provider names.
var ValidProviders = []string{ProviderOllama, ProviderOpenAI, ProviderAnthropic, ProviderLangChain}

// ProviderConfig holds the configuration for a single provider role
// (embedding or generation).
//
// # Description
//
// Specifies which provider to use, which model, and any provider-specific
// settings. Used by ProviderFactory to create the right adapter.
type ProviderConfig struct {
	// Provider is one of ValidProviders.
	Provider string `mapstructure:"provider" validate:"required,oneof=ollama openai anthropic langchain"`

	// Model is the provider-specific model identifier. For the embedding
	// role it names the embedding model.
	Model string `mapstructure:"model"`

	// BaseURL is an optional endpoint override. For Ollama it defaults to
	// ResolveOllamaURL().
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`

	// KeepAlive controls model lifetime (Ollama-specific).
	KeepAlive string `mapstructure:"keep_alive"`

	// NumCtx sets the context window size (Ollama-specific).
	NumCtx int `mapstructure:"num_ctx" validate:"gte=0"`

	// Key supplies the API key for cloud providers. Not loaded from the
	// config file; see config.Secret.
	Key llm.KeySource `mapstructure:"-"`
}

// isValidProvider checks if a provider name is valid.
func isValidProvider(provider string) bool {
	for _, p := range ValidProviders {
		if provider == p {
			return true
		}
	}
	return false
}

// ResolveOllamaURL resolves the Ollama server URL from environment variables.
//
// # Description
//
// Resolution order:
//  1. OLLAMA_BASE_URL (preferred)
//  2. OLLAMA_URL (deprecated, emits warning)
//  3. http://localhost:11434 (default)
func ResolveOllamaURL() string {
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		return url
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		slog.Warn("OLLAMA_URL is deprecated, use OLLAMA_BASE_URL instead",
			slog.String("ollama_url", url))
		return url
	}
	return "http://localhost:11434"
}

// InferProvider infers the provider from a model name prefix.
//
// "gpt-" and "text-embedding-" map to openai, "claude-" to anthropic.
// Anything else returns "" and callers keep their configured provider.
func InferProvider(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "text-embedding-"):
		return ProviderOpenAI
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic
	default:
		return ""
	}
}

// ollamaBaseURL returns cfg.BaseURL or the environment-resolved default.
func (cfg ProviderConfig) ollamaBaseURL() string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	return ResolveOllamaURL()
}

// hasKey reports whether a non-empty API key is available.
func (cfg ProviderConfig) hasKey() bool {
	return cfg.Key != nil && cfg.Key.APIKey() != ""
}
