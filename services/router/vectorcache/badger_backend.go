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

// =============================================================================
// BadgerBackend — embedded KV storage
// =============================================================================
//
// Key layout:
//
//	router/emb/v1/{prefix}/blob  →  zstd(CBOR envelope)
//	router/emb/v1/{prefix}/meta  →  metadata JSON
//
// Both keys are written in one transaction, so the pair is always
// consistent. An optional TTL lets Badger's GC expire entries that nothing
// refreshes; an expired key reads as ErrKeyNotFound, which is a miss.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerKeyPrefix is prepended to every key. Versioned to allow future
// format changes without collision.
const BadgerKeyPrefix = "router/emb/v1/"

// BadgerBackend implements Backend over a BadgerDB instance.
//
// # Thread Safety
//
// Safe for concurrent use. Badger transactions are per-goroutine.
type BadgerBackend struct {
	db     *badger.DB
	ttl    time.Duration
	owned  bool
	logger *slog.Logger
}

// BadgerOptions configures OpenBadgerBackend.
type BadgerOptions struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// ReadOnly opens an existing database without taking the write lock.
	ReadOnly bool

	// TTL expires entries after this long. Zero disables expiry.
	TTL time.Duration
}

// OpenBadgerBackend opens a BadgerDB and returns a backend that owns it.
//
// # Outputs
//
//   - *BadgerBackend: Ready-to-use backend. Close releases the DB.
//   - error: Non-nil if the database cannot be opened.
func OpenBadgerBackend(opts BadgerOptions, logger *slog.Logger) (*BadgerBackend, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, fmt.Errorf("badger backend: directory must not be empty")
		}
		bopts = badger.DefaultOptions(opts.Dir).WithReadOnly(opts.ReadOnly)
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badger backend: open: %w", err)
	}
	b := NewBadgerBackend(db, opts.TTL, logger)
	b.owned = true
	return b, nil
}

// NewBadgerBackend wraps a DB opened by the caller. The caller keeps
// ownership; Close is a no-op.
func NewBadgerBackend(db *badger.DB, ttl time.Duration, logger *slog.Logger) *BadgerBackend {
	if db == nil {
		panic("NewBadgerBackend: db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerBackend{db: db, ttl: ttl, logger: logger}
}

// Name implements Backend.
func (b *BadgerBackend) Name() string { return "badger" }

// DB exposes the underlying database for tooling such as key dumps.
func (b *BadgerBackend) DB() *badger.DB { return b.db }

func badgerBlobKey(prefix string) []byte { return []byte(BadgerKeyPrefix + prefix + "/blob") }
func badgerMetaKey(prefix string) []byte { return []byte(BadgerKeyPrefix + prefix + "/meta") }

// ReadMeta implements Backend.
func (b *BadgerBackend) ReadMeta(ctx context.Context, prefix string) ([]byte, error) {
	return b.get(ctx, badgerMetaKey(prefix))
}

// ReadBlob implements Backend.
func (b *BadgerBackend) ReadBlob(ctx context.Context, prefix string) ([]byte, error) {
	return b.get(ctx, badgerBlobKey(prefix))
}

func (b *BadgerBackend) get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	return raw, err
}

// Write implements Backend. Blob and metadata commit atomically.
func (b *BadgerBackend) Write(ctx context.Context, prefix string, blob, meta []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		blobEntry := badger.NewEntry(badgerBlobKey(prefix), blob)
		metaEntry := badger.NewEntry(badgerMetaKey(prefix), meta)
		if b.ttl > 0 {
			blobEntry = blobEntry.WithTTL(b.ttl)
			metaEntry = metaEntry.WithTTL(b.ttl)
		}
		if err := txn.SetEntry(blobEntry); err != nil {
			return err
		}
		return txn.SetEntry(metaEntry)
	})
	if err != nil {
		return fmt.Errorf("badger write: %w", err)
	}
	b.logger.Debug("badger backend: wrote prefix",
		slog.String("prefix", prefix),
		slog.Duration("ttl", b.ttl))
	return nil
}

// Remove implements Backend.
func (b *BadgerBackend) Remove(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(badgerMetaKey(prefix)); err != nil {
			return err
		}
		return txn.Delete(badgerBlobKey(prefix))
	})
}

// Size implements Backend.
func (b *BadgerBackend) Size(ctx context.Context, prefix string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var total int64
	err := b.db.View(func(txn *badger.Txn) error {
		for _, key := range [][]byte{badgerBlobKey(prefix), badgerMetaKey(prefix)} {
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			total += item.ValueSize()
		}
		return nil
	})
	return total, err
}

// Keys lists every cache key with its value size, in key order.
func (b *BadgerBackend) Keys(ctx context.Context) ([]KeyInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []KeyInfo
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(BadgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			info := KeyInfo{
				Key:   string(item.KeyCopy(nil)),
				Bytes: item.ValueSize(),
			}
			if exp := item.ExpiresAt(); exp > 0 {
				info.ExpiresAt = time.Unix(int64(exp), 0).UTC()
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

// KeyInfo describes one stored key.
type KeyInfo struct {
	Key       string    `json:"key"`
	Bytes     int64     `json:"bytes"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Close implements Backend. Only a DB opened by OpenBadgerBackend is closed.
func (b *BadgerBackend) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}
