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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Cache validates and persists embedding stores through a Backend.
//
// # Description
//
// Load never fails: every I/O, decode, or fingerprint problem is a miss,
// logged and counted, so the caller simply rebuilds. Save returns errors so
// the caller can log them; a failed save is never fatal.
//
// # Thread Safety
//
// Safe for concurrent use if the Backend is.
type Cache struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a Cache over the given backend.
//
// # Inputs
//
//   - backend: Storage backend. Must not be nil.
//   - logger: Logger for hit/miss diagnostics. May be nil.
func New(backend Backend, logger *slog.Logger) *Cache {
	if backend == nil {
		panic("vectorcache.New: backend must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{backend: backend, logger: logger}
}

// Backend returns the underlying backend.
func (c *Cache) Backend() Backend { return c.backend }

// Load returns the persisted store for prefix if its fingerprint matches.
//
// # Description
//
// The metadata is read first. Its data hash must equal expected and its
// prefix must equal prefix. The blob is then decoded and its embedded hash
// and prefix checked again, which catches a blob replaced after the
// metadata was read.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - prefix: Store name, e.g. "tool" or "negative".
//   - expected: Fingerprint recomputed from the current corpus.
//
// # Outputs
//
//   - Store: The vectors on a hit, nil otherwise.
//   - bool: True on a hit.
func (c *Cache) Load(ctx context.Context, prefix, expected string) (Store, bool) {
	store, result, err := c.load(ctx, prefix, expected)
	cacheLoadsTotal.WithLabelValues(c.backend.Name(), result).Inc()

	switch result {
	case loadHit:
		c.logger.Debug("vector cache: hit",
			slog.String("prefix", prefix),
			slog.String("hash", shortHash(expected)),
			slog.Int("entries", len(store)))
		return store, true
	case loadError:
		c.logger.Warn("vector cache: load failed, treating as miss",
			slog.String("prefix", prefix),
			slog.String("backend", c.backend.Name()),
			slog.String("error", err.Error()))
	default:
		c.logger.Debug("vector cache: "+result,
			slog.String("prefix", prefix),
			slog.String("hash", shortHash(expected)))
	}
	return nil, false
}

func (c *Cache) load(ctx context.Context, prefix, expected string) (Store, string, error) {
	if err := validatePrefix(prefix); err != nil {
		return nil, loadError, err
	}

	rawMeta, err := c.backend.ReadMeta(ctx, prefix)
	if errors.Is(err, ErrNotFound) {
		return nil, loadMiss, nil
	}
	if err != nil {
		return nil, loadError, fmt.Errorf("read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, loadError, fmt.Errorf("parse metadata: %w", err)
	}
	if meta.Prefix != prefix || meta.DataHash != expected {
		return nil, loadStale, nil
	}

	blob, err := c.backend.ReadBlob(ctx, prefix)
	if errors.Is(err, ErrNotFound) {
		return nil, loadMiss, nil
	}
	if err != nil {
		return nil, loadError, fmt.Errorf("read blob: %w", err)
	}

	env, err := decodeBlob(blob)
	if err != nil {
		return nil, loadError, err
	}
	if env.DataHash != expected || env.Prefix != prefix {
		return nil, loadStale, nil
	}
	return Store(env.Vectors), loadHit, nil
}

// Save persists store under prefix with the given fingerprint and version.
//
// # Description
//
// The blob is written before the metadata. If the process dies between the
// two writes the prefix has no metadata and the next Load is a miss.
//
// # Outputs
//
//   - error: Non-nil on invalid prefix, encode failure, or storage failure.
func (c *Cache) Save(ctx context.Context, prefix string, store Store, fingerprint, version string) error {
	if err := validatePrefix(prefix); err != nil {
		return err
	}

	start := time.Now()
	err := c.save(ctx, prefix, store, fingerprint, version)
	status := "success"
	if err != nil {
		status = "error"
	}
	cacheSaveDuration.WithLabelValues(c.backend.Name(), status).Observe(time.Since(start).Seconds())
	return err
}

func (c *Cache) save(ctx context.Context, prefix string, store Store, fingerprint, version string) error {
	blob, err := encodeBlob(prefix, fingerprint, store)
	if err != nil {
		return fmt.Errorf("vector cache save %q: %w", prefix, err)
	}
	meta, err := json.MarshalIndent(Metadata{
		DataHash:  fingerprint,
		Version:   version,
		Prefix:    prefix,
		CreatedAt: time.Now().UTC(),
		Entries:   len(store),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("vector cache save %q: encode metadata: %w", prefix, err)
	}

	if err := c.backend.Write(ctx, prefix, blob, meta); err != nil {
		return fmt.Errorf("vector cache save %q: %w", prefix, err)
	}

	cacheBlobBytes.WithLabelValues(prefix).Set(float64(len(blob)))
	c.logger.Info("vector cache: saved",
		slog.String("prefix", prefix),
		slog.String("backend", c.backend.Name()),
		slog.String("hash", shortHash(fingerprint)),
		slog.Int("entries", len(store)),
		slog.Int("blob_bytes", len(blob)))
	return nil
}

// Invalidate removes both artifacts for prefix.
func (c *Cache) Invalidate(ctx context.Context, prefix string) error {
	if err := validatePrefix(prefix); err != nil {
		return err
	}
	if err := c.backend.Remove(ctx, prefix); err != nil {
		return fmt.Errorf("vector cache invalidate %q: %w", prefix, err)
	}
	c.logger.Info("vector cache: invalidated", slog.String("prefix", prefix))
	return nil
}

// SizeOf returns the persisted size of prefix in bytes, 0 if absent or
// unreadable.
func (c *Cache) SizeOf(ctx context.Context, prefix string) int64 {
	if validatePrefix(prefix) != nil {
		return 0
	}
	n, err := c.backend.Size(ctx, prefix)
	if err != nil {
		return 0
	}
	return n
}

// Status describes the persisted state of one prefix.
type Status struct {
	Prefix string `json:"prefix"`

	// Exists is true when readable metadata is present.
	Exists bool `json:"exists"`

	// Valid is true when the metadata fingerprint equals the expected one.
	Valid bool `json:"valid"`

	Bytes    int64     `json:"bytes"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Stat reports the persisted state of prefix without decoding the blob.
func (c *Cache) Stat(ctx context.Context, prefix, expected string) Status {
	st := Status{Prefix: prefix}
	if validatePrefix(prefix) != nil {
		return st
	}

	rawMeta, err := c.backend.ReadMeta(ctx, prefix)
	if err != nil {
		return st
	}
	var meta Metadata
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return st
	}

	st.Exists = true
	st.Metadata = &meta
	st.Valid = meta.Prefix == prefix && meta.DataHash == expected
	st.Bytes = c.SizeOf(ctx, prefix)
	return st
}

// Inspect reads the metadata and vectors of prefix without checking the
// fingerprint. It is meant for tooling; routing uses Load.
func (c *Cache) Inspect(ctx context.Context, prefix string) (Metadata, Store, error) {
	var meta Metadata
	if err := validatePrefix(prefix); err != nil {
		return meta, nil, err
	}
	rawMeta, err := c.backend.ReadMeta(ctx, prefix)
	if err != nil {
		return meta, nil, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return meta, nil, fmt.Errorf("parse metadata: %w", err)
	}
	blob, err := c.backend.ReadBlob(ctx, prefix)
	if err != nil {
		return meta, nil, fmt.Errorf("read blob: %w", err)
	}
	env, err := decodeBlob(blob)
	if err != nil {
		return meta, nil, err
	}
	if env.DataHash != meta.DataHash || env.Prefix != prefix {
		return meta, Store(env.Vectors), fmt.Errorf("blob for %q does not match its metadata", prefix)
	}
	return meta, Store(env.Vectors), nil
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}
