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
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vector_cache (
	prefix     TEXT PRIMARY KEY,
	blob       BLOB NOT NULL,
	meta       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteBackend stores each prefix as one row, so blob and metadata are
// replaced together by a single upsert.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLiteBackend opens (or creates) the database at path and applies the
// schema.
func OpenSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite backend: create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite backend: open: %w", err)
	}
	// One writer at a time; modernc's driver serializes anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite backend: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite backend: migrate: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Name implements Backend.
func (b *SQLiteBackend) Name() string { return "sqlite" }

// ReadMeta implements Backend.
func (b *SQLiteBackend) ReadMeta(ctx context.Context, prefix string) ([]byte, error) {
	var meta string
	err := b.db.QueryRowContext(ctx, `SELECT meta FROM vector_cache WHERE prefix = ?`, prefix).Scan(&meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(meta), nil
}

// ReadBlob implements Backend.
func (b *SQLiteBackend) ReadBlob(ctx context.Context, prefix string) ([]byte, error) {
	var blob []byte
	err := b.db.QueryRowContext(ctx, `SELECT blob FROM vector_cache WHERE prefix = ?`, prefix).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// Write implements Backend.
func (b *SQLiteBackend) Write(ctx context.Context, prefix string, blob, meta []byte) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite write: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vector_cache (prefix, blob, meta, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(prefix) DO UPDATE SET
			blob = excluded.blob,
			meta = excluded.meta,
			updated_at = excluded.updated_at`,
		prefix, blob, string(meta), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite write: upsert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite write: commit: %w", err)
	}
	return nil
}

// Remove implements Backend.
func (b *SQLiteBackend) Remove(ctx context.Context, prefix string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM vector_cache WHERE prefix = ?`, prefix); err != nil {
		return fmt.Errorf("sqlite remove: %w", err)
	}
	return nil
}

// Size implements Backend.
func (b *SQLiteBackend) Size(ctx context.Context, prefix string) (int64, error) {
	var n int64
	err := b.db.QueryRowContext(ctx,
		`SELECT length(blob) + length(CAST(meta AS BLOB)) FROM vector_cache WHERE prefix = ?`, prefix).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
