// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools provides the router's built-in web tools: google_search,
// get_page and search_and_read.
//
// Each tool is a registry.ToolDefinition whose handler receives parameters
// that the registry has already validated and coerced.
package tools

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianRouter/services/llm"
	"github.com/AleutianAI/AleutianRouter/services/router/registry"
)

// Built-in tool names.
const (
	GoogleSearchName  = "google_search"
	GetPageName       = "get_page"
	SearchAndReadName = "search_and_read"
)

const (
	DefaultSearchEndpoint = "https://www.googleapis.com/customsearch/v1"
	DefaultSearchTimeout  = 10 * time.Second
	DefaultPageTimeout    = 15 * time.Second
	DefaultPageMaxChars   = 20000

	// maxSearchResults is the Custom Search API's per-request ceiling.
	maxSearchResults = 10

	// searchAndReadResults is how many hits search_and_read opens.
	searchAndReadResults = 5

	// searchAndReadConcurrency bounds parallel page fetches.
	searchAndReadConcurrency = 3
)

// Config configures the built-in tools.
type Config struct {
	SearchEndpoint string
	SearchEngineID string

	// SearchKey supplies the Custom Search API key per request.
	SearchKey llm.KeySource

	SearchTimeout time.Duration
	PageTimeout   time.Duration
	PageMaxChars  int
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.SearchEndpoint == "" {
		c.SearchEndpoint = DefaultSearchEndpoint
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = DefaultSearchTimeout
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = DefaultPageTimeout
	}
	if c.PageMaxChars <= 0 {
		c.PageMaxChars = DefaultPageMaxChars
	}
	return c
}

// Builtins returns the built-in tool definitions.
//
// # Inputs
//
//   - cfg: Tool configuration. Zero fields take package defaults.
//   - client: Shared HTTP client. Nil means a client without a global
//     timeout; every call carries its own deadline.
//   - logger: Nil means slog.Default().
//
// # Outputs
//
//   - []registry.ToolDefinition: google_search, get_page, search_and_read.
func Builtins(cfg Config, client *http.Client, logger *slog.Logger) []registry.ToolDefinition {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	search := NewSearchClient(cfg, client)
	pages := NewPageFetcher(cfg, client)

	return []registry.ToolDefinition{
		search.Definition(),
		pages.Definition(),
		searchAndReadDefinition(search, pages, logger),
	}
}

// RegisterBuiltins registers every built-in tool in reg.
func RegisterBuiltins(reg *registry.Registry, cfg Config, client *http.Client, logger *slog.Logger) error {
	for _, def := range Builtins(cfg, client, logger) {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	return nil
}
