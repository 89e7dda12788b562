// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm contains raw net/http clients for the chat and embedding
// endpoints the router talks to (OpenAI, Anthropic, Ollama).
//
// The clients own wire formats only. Provider selection, metrics and
// tracing live in services/router/providers.
package llm

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams holds optional generation settings.
//
// Nil pointer fields are omitted from the request so the provider default
// applies.
type GenerationParams struct {
	Temperature   *float32
	MaxTokens     *int
	TopP          *float32
	Stop          []string
	ModelOverride string

	// KeepAlive and NumCtx are Ollama-specific and ignored by cloud clients.
	KeepAlive string
	NumCtx    *int
}

// KeySource supplies an API key at request time.
//
// # Description
//
// Clients call APIKey once per request instead of holding the key as a
// plain string, so a sealed secret (see services/router/config.Secret) is
// only opened while a request is being built.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type KeySource interface {
	APIKey() string
}

// StaticKey is a KeySource backed by a plain string. Intended for tests and
// local development.
type StaticKey string

// APIKey implements KeySource.
func (k StaticKey) APIKey() string { return string(k) }

func keyOf(src KeySource) string {
	if src == nil {
		return ""
	}
	return src.APIKey()
}
