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
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-openapi/strfmt"

	"github.com/AleutianAI/AleutianRouter/services/router/registry"
)

const (
	pageUserAgent      = "SimpleCrawler/1.0"
	pageAccept         = "text/html,application/xhtml+xml,application/xml"
	pageAcceptLanguage = "en-US,en;q=0.9"

	// maxPageBytes bounds how much of a response body is parsed.
	maxPageBytes = 5 << 20
)

// ErrInvalidURL is returned for URLs that are not absolute http(s) URIs.
var ErrInvalidURL = errors.New("invalid url")

// PageFetcher downloads web pages and extracts their main text.
//
// # Thread Safety
//
// Safe for concurrent use.
type PageFetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxChars int
}

// NewPageFetcher creates a PageFetcher from cfg.
func NewPageFetcher(cfg Config, client *http.Client) *PageFetcher {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{}
	}
	return &PageFetcher{client: client, timeout: cfg.PageTimeout, maxChars: cfg.PageMaxChars}
}

// validatePageURL accepts absolute http and https URIs only.
func validatePageURL(raw string) error {
	if !strfmt.Default.Validates("uri", raw) {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q must be an absolute http or https URL", ErrInvalidURL, raw)
	}
	return nil
}

// Fetch downloads rawURL and returns its main text.
//
// # Outputs
//
//   - string: Main text, whitespace-collapsed and capped at MaxChars runes.
//   - error: ErrInvalidURL, transport failure, non-2xx status or parse error.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := validatePageURL(rawURL); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create page request: %w", err)
	}
	req.Header.Set("User-Agent", pageUserAgent)
	req.Header.Set("Accept", pageAccept)
	req.Header.Set("Accept-Language", pageAcceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	return ExtractMainText(io.LimitReader(resp.Body, maxPageBytes), f.maxChars)
}

// ExtractMainText parses HTML and returns the text of its main content.
//
// # Description
//
// script, style and noscript elements are removed. The first of main,
// article or body is used, falling back to the whole document. Runs of
// whitespace collapse to a single space and the result is truncated to
// maxChars runes when maxChars is positive.
func ExtractMainText(r io.Reader, maxChars int) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	root := doc.Selection
	for _, sel := range []string{"main", "article", "body"} {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			root = found
			break
		}
	}

	// Join per-node text with spaces so adjacent blocks do not run together.
	var b strings.Builder
	root.Contents().Each(func(_ int, s *goquery.Selection) {
		collectText(&b, s)
	})
	text := strings.Join(strings.Fields(b.String()), " ")

	if maxChars > 0 {
		if runes := []rune(text); len(runes) > maxChars {
			text = string(runes[:maxChars])
		}
	}
	return text, nil
}

// collectText appends every text node under s, separated by spaces.
func collectText(b *strings.Builder, s *goquery.Selection) {
	if goquery.NodeName(s) == "#text" {
		b.WriteString(s.Text())
		b.WriteByte(' ')
		return
	}
	s.Contents().Each(func(_ int, child *goquery.Selection) {
		collectText(b, child)
	})
}

// Definition returns the get_page tool.
func (f *PageFetcher) Definition() registry.ToolDefinition {
	return registry.ToolDefinition{
		Name:        GetPageName,
		Description: "Download a web page and return its main readable text.",
		Parameters: map[string]registry.ParamSpec{
			"url": {
				Type:        registry.TypeString,
				Required:    true,
				Description: "Absolute http or https URL of the page",
			},
		},
		Handler: func(ctx context.Context, p registry.Params) (any, error) {
			return f.Fetch(ctx, p.String("url"))
		},
	}
}
