// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint computes the cache fingerprint of a corpus.
//
// # Description
//
// data is serialized with encoding/json, which sorts map keys and emits
// struct fields in declaration order, so logically identical input always
// produces identical bytes. The bytes are hashed with SHA-256.
//
// Slices are hashed in order. Callers whose input order is not meaningful
// should sort before fingerprinting.
//
// # Inputs
//
//   - data: Any JSON-serializable value (exemplar list, negative list, or a
//     struct combining them with the embedding model name).
//
// # Outputs
//
//   - string: Lowercase hex SHA-256 digest (64 characters).
//   - error: Non-nil if data cannot be serialized.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func Fingerprint(data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
