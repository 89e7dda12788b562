// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianRouter/services/llm"
	"github.com/AleutianAI/AleutianRouter/services/router/registry"
)

// ErrMissingCredentials is returned when the search key or engine ID is unset.
var ErrMissingCredentials = errors.New(
	"missing required environment variables: CUSTOM_SEARCH_API_KEY and PROGRAMMABLE_SEARCH_ENGINE_ID must be set")

// SearchResult is one web search hit.
type SearchResult struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Snippet     string `json:"snippet"`
	DisplayLink string `json:"displayLink"`
}

type searchResponse struct {
	Items []SearchResult `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// SearchClient calls the Custom Search JSON API.
//
// # Thread Safety
//
// Safe for concurrent use.
type SearchClient struct {
	client   *http.Client
	endpoint string
	engineID string
	key      llm.KeySource
	timeout  time.Duration
}

// NewSearchClient creates a SearchClient from cfg.
func NewSearchClient(cfg Config, client *http.Client) *SearchClient {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{}
	}
	return &SearchClient{
		client:   client,
		endpoint: cfg.SearchEndpoint,
		engineID: cfg.SearchEngineID,
		key:      cfg.SearchKey,
		timeout:  cfg.SearchTimeout,
	}
}

// Search runs query and returns up to num results.
//
// # Description
//
// num is clamped to [1, 10]. An "error" object in the response body is
// returned as an error even when the status is 200.
//
// # Outputs
//
//   - []SearchResult: Hits in API order. Empty, not nil, when there are none.
//   - error: ErrMissingCredentials, transport failure or API error.
func (s *SearchClient) Search(ctx context.Context, query string, num int) ([]SearchResult, error) {
	apiKey := ""
	if s.key != nil {
		apiKey = s.key.APIKey()
	}
	if apiKey == "" || s.engineID == "" {
		return nil, ErrMissingCredentials
	}
	num = min(max(num, 1), maxSearchResults)

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("key", apiKey)
	q.Set("cx", s.engineID)
	q.Set("num", strconv.Itoa(num))
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// The URL carries the key; never surface it.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return nil, fmt.Errorf("search request failed: %w", uerr.Err)
		}
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, llm.SafeLogString(string(body)))
		}
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("google search API error: %s", llm.SafeLogString(parsed.Error.Message))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned %d", resp.StatusCode)
	}
	if parsed.Items == nil {
		parsed.Items = []SearchResult{}
	}
	return parsed.Items, nil
}

// Definition returns the google_search tool.
func (s *SearchClient) Definition() registry.ToolDefinition {
	return registry.ToolDefinition{
		Name:        GoogleSearchName,
		Description: "Search the web with Google Programmable Search and return titles, links and snippets.",
		Parameters: map[string]registry.ParamSpec{
			"query": {
				Type:        registry.TypeString,
				Required:    true,
				Description: "The search query",
			},
			"num_results": {
				Type:        registry.TypeInt,
				Default:     maxSearchResults,
				Description: "Number of results to return, at most 10",
			},
		},
		Handler: func(ctx context.Context, p registry.Params) (any, error) {
			return s.Search(ctx, p.String("query"), p.Int("num_results", maxSearchResults))
		},
	}
}
