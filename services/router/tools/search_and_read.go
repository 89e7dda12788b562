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
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRouter/services/router/registry"
)

// PageContent is one page read by search_and_read. Error is set instead of
// Content when that page could not be fetched.
type PageContent struct {
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SearchAndRead searches for query and fetches the top hits in parallel.
// A page that fails to load is reported in its PageContent; only a failed
// search fails the call.
func SearchAndRead(ctx context.Context, search *SearchClient, pages *PageFetcher, query string, logger *slog.Logger) ([]PageContent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	hits, err := search.Search(ctx, query, searchAndReadResults)
	if err != nil {
		return nil, err
	}

	out := make([]PageContent, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchAndReadConcurrency)
	for i, hit := range hits {
		out[i].URL = hit.Link
		g.Go(func() error {
			text, err := pages.Fetch(gctx, hit.Link)
			if err != nil {
				logger.Warn("search_and_read: page fetch failed",
					slog.String("url", hit.Link),
					slog.String("error", err.Error()))
				out[i].Error = err.Error()
				return nil
			}
			out[i].Content = text
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func searchAndReadDefinition(search *SearchClient, pages *PageFetcher, logger *slog.Logger) registry.ToolDefinition {
	return registry.ToolDefinition{
		Name:        SearchAndReadName,
		Description: "Search the web and return the readable text of the top results.",
		Parameters: map[string]registry.ParamSpec{
			"query": {
				Type:        registry.TypeString,
				Required:    true,
				Description: "The search query",
			},
		},
		Handler: func(ctx context.Context, p registry.Params) (any, error) {
			return SearchAndRead(ctx, search, pages, p.String("query"), logger)
		},
		Exemplars: []string{
			"search the web and summarize what the top articles say about",
			"read the top search results for",
			"find articles about this and tell me what they say",
			"research this topic online and read the sources",
			"look up recent coverage and read the pages",
			"search for reviews and read them",
		},
	}
}
