// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coerce converts v to the declared type.
//
// # Description
//
// Conversion rules:
//
//   - string: strings pass through; scalars use their decimal or literal
//     form; maps and slices are JSON-encoded.
//   - int: integers pass through; finite floats truncate toward zero;
//     strings must parse as a base-10 integer ("10.5" does not).
//   - float: any number; strings must parse as a float.
//   - bool: booleans; strings accepted by strconv.ParseBool plus
//     yes/no/y/n/on/off; the numbers 0 and 1.
//
// # Outputs
//
//   - any: The converted value on success. On failure, the string form of
//     v, so lenient callers can degrade to text.
//   - bool: True if the conversion succeeded.
func Coerce(v any, t ParamType) (any, bool) {
	if v == nil {
		return nil, false
	}
	if n, ok := v.(json.Number); ok {
		v = normalizeNumber(n)
	}

	var (
		out any
		ok  bool
	)
	switch t {
	case TypeString:
		out, ok = toString(v), true
	case TypeInt:
		out, ok = toInt(v)
	case TypeFloat:
		out, ok = toFloat(v)
	case TypeBool:
		out, ok = toBool(v)
	}
	if !ok {
		return toString(v), false
	}
	return out, true
}

func normalizeNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case map[string]any, []any:
		if b, err := json.Marshal(x); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int8:
		return int(x), true
	case int16:
		return int(x), true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case uint:
		return int(x), true
	case uint32:
		return int(x), true
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	}
	return 0, false
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int(f), true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int:
		return x != 0, x == 0 || x == 1
	case int64:
		return x != 0, x == 0 || x == 1
	case float64:
		return x != 0, x == 0 || x == 1
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		switch s {
		case "yes", "y", "on":
			return true, true
		case "no", "n", "off":
			return false, true
		}
		b, err := strconv.ParseBool(s)
		return b, err == nil
	}
	return false, false
}
