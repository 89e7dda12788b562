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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// errNoJSONObject is returned when a reply contains no '{'.
var errNoJSONObject = errors.New("no JSON object found in response")

// parseFirstObject returns the first JSON object in a model reply.
//
// # Description
//
// Each top-level '{' in the reply is tried in order as the start of a JSON
// value; the first that decodes as an object wins, so prose or code fences
// around the object and trailing text after it are ignored. A '{' nested
// inside an unclosed object is never tried on its own, so a truncated reply
// cannot surface an inner object as the parameters. If no top-level object
// decodes, the span from the first '{' to the last '}' is run through
// jsonrepair, which fixes the usual model mistakes (single quotes, trailing
// commas, unquoted keys, truncation).
//
// Numbers are decoded as json.Number so integers survive without a float
// round trip.
//
// # Outputs
//
//   - map[string]any: The decoded object.
//   - bool: True if the object needed repair.
//   - error: Non-nil if no object could be recovered.
func parseFirstObject(reply string) (map[string]any, bool, error) {
	first := strings.IndexByte(reply, '{')
	if first < 0 {
		return nil, false, errNoJSONObject
	}

	for _, i := range topLevelBraces(reply[first:]) {
		if obj, ok := decodeObjectAt(reply[first+i:]); ok {
			return obj, false, nil
		}
	}

	span := reply[first:]
	if last := strings.LastIndexByte(span, '}'); last > 0 {
		span = span[:last+1]
	}
	repaired, err := jsonrepair.JSONRepair(span)
	if err != nil {
		return nil, false, fmt.Errorf("repair JSON: %w", err)
	}
	obj, ok := decodeObjectAt(repaired)
	if !ok {
		return nil, false, fmt.Errorf("repaired JSON is not an object: %s", truncate(repaired, 100))
	}
	return obj, true, nil
}

// topLevelBraces returns the offsets of every '{' in s that is not inside an
// object opened earlier. String literals are skipped inside objects only;
// quotes in surrounding prose do not count.
func topLevelBraces(s string) []int {
	var (
		starts   []int
		depth    int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				starts = append(starts, i)
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return starts
}

func decodeObjectAt(s string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
