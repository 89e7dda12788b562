// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorcache persists named embedding stores between restarts.
//
// Each prefix ("tool", "negative") maps to two artifacts: a compressed
// binary blob holding the text → vector mapping, and a small JSON metadata
// document carrying the fingerprint of the corpus that produced it. A load
// succeeds only when the persisted fingerprint equals the one recomputed
// from the current corpus, so a stale cache is never used and callers never
// need to bust it explicitly.
//
// Storage layout (file backend):
//
//	{dir}/{prefix}_embeddings.bin   zstd(CBOR envelope)
//	{dir}/{prefix}_metadata.json    {"data_hash","version","prefix",...}
//
// Badger, SQLite and GCS backends hold the same two artifacts under their
// own key schemes.
package vectorcache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Store maps a stable key to its embedding vector.
//
// Tool exemplars are keyed "{tool}:{example}", negatives by the example text.
type Store map[string][]float32

// Metadata is the persisted fingerprint record for one prefix.
type Metadata struct {
	DataHash  string    `json:"data_hash"`
	Version   string    `json:"version"`
	Prefix    string    `json:"prefix"`
	CreatedAt time.Time `json:"created_at"`
	Entries   int       `json:"entries"`
}

// ErrNotFound is returned by a Backend when an artifact does not exist.
var ErrNotFound = errors.New("vector cache: artifact not found")

// ErrInvalidPrefix is returned when a prefix is empty or contains
// characters outside [a-zA-Z0-9_-].
var ErrInvalidPrefix = errors.New("vector cache: invalid prefix")

var prefixPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Backend stores the blob and metadata artifacts for a prefix.
//
// # Description
//
// Write must leave the pair consistent for readers: the blob is durable
// before the metadata becomes visible. Read methods return ErrNotFound
// (possibly wrapped) when the artifact is absent.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs and status output.
	Name() string

	ReadMeta(ctx context.Context, prefix string) ([]byte, error)
	ReadBlob(ctx context.Context, prefix string) ([]byte, error)
	Write(ctx context.Context, prefix string, blob, meta []byte) error

	// Remove deletes both artifacts. Removing an absent prefix is not an error.
	Remove(ctx context.Context, prefix string) error

	// Size returns the combined byte size of both artifacts, 0 if absent.
	Size(ctx context.Context, prefix string) (int64, error)

	Close() error
}

func validatePrefix(prefix string) error {
	if !prefixPattern.MatchString(prefix) {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return nil
}

// shortHash returns the first 8 characters of a hash for log display.
func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8] + "..."
	}
	return h
}
