// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package params

import (
	"regexp"
	"sort"
	"strings"
)

// searchPhrases are stripped from a message to recover a search query.
var searchPhrases = []string{
	"search for", "search about", "find", "look up", "get", "show me", "what is", "who is",
}

var (
	searchPhrasePattern = buildPhrasePattern(searchPhrases)
	urlPattern          = regexp.MustCompile(`https?://[^\s]+`)
	whitespacePattern   = regexp.MustCompile(`\s+`)
)

// buildPhrasePattern matches any phrase as whole words, longest first so
// "search for" wins over a shorter overlapping phrase.
func buildPhrasePattern(phrases []string) *regexp.Regexp {
	sorted := append([]string(nil), phrases...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, len(sorted))
	for i, p := range sorted {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// ExtractQuery derives a search query from a message.
//
// The message is lowercased and search-intent phrases ("search for",
// "look up", "what is", ...) are removed as whole words. If nothing is left
// the original message is returned unchanged.
func ExtractQuery(message string) string {
	q := searchPhrasePattern.ReplaceAllString(strings.ToLower(message), " ")
	q = strings.TrimSpace(whitespacePattern.ReplaceAllString(q, " "))
	if q == "" {
		return message
	}
	return q
}

// FirstURL returns the first http or https URL in text, or "" if there is
// none. Trailing sentence punctuation and an unbalanced closing parenthesis
// are dropped.
func FirstURL(text string) string {
	u := urlPattern.FindString(text)
	for u != "" {
		last := u[len(u)-1]
		switch {
		case strings.IndexByte(`.,;:!?"'`, last) >= 0:
			u = u[:len(u)-1]
		case last == ')' && strings.Count(u, "(") < strings.Count(u, ")"):
			u = u[:len(u)-1]
		default:
			return u
		}
	}
	return u
}

// heuristicValue derives a value for a parameter from its name alone.
// The bool is false when no value could be derived.
func heuristicValue(name, message string) (any, bool) {
	switch name {
	case "query":
		return ExtractQuery(message), true
	case "url":
		if u := FirstURL(message); u != "" {
			return u, true
		}
		return nil, false
	default:
		return message, true
	}
}
