// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"regexp"
)

// secretPattern pairs a matcher with the label that replaces it.
type secretPattern struct {
	re    *regexp.Regexp
	label string
}

// secretPatterns is ordered most-specific first: the Anthropic prefix also
// matches the generic "sk-" rule.
var secretPatterns = []secretPattern{
	{regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`), "[REDACTED:anthropic_key]"},
	{regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9_-]{20,}`), "[REDACTED:openai_key]"},
	// Google API keys are what the Custom Search tool sends.
	{regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`), "[REDACTED:google_key]"},
	{regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`), "[REDACTED:bearer_token]"},
	{regexp.MustCompile(`([?&](?:key|api_key|cx)=)[^&\s"]+`), "${1}[REDACTED]"},
}

// SafeLogString redacts API keys and bearer tokens from s.
//
// # Description
//
// Provider error bodies and request URLs (the Custom Search API takes its
// key as a query parameter) can echo credentials back. Every provider error
// that is wrapped or logged passes through here first.
//
// Pattern-based only: keys in unknown formats are not detected.
//
// # Thread Safety
//
// Safe for concurrent use.
func SafeLogString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.label)
	}
	return s
}

// truncateBody bounds provider error bodies embedded in error strings.
func truncateBody(b []byte, max int) string {
	s := SafeLogString(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
