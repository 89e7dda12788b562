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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend stores artifacts as files in a directory.
//
// # Description
//
// Each artifact is written to a temp file in the same directory, synced, and
// renamed into place, so readers see either the old or the new file and
// never a partial one. Existing metadata is removed before the new blob is
// written and rewritten last, so a crash mid-save leaves a miss.
//
// # Thread Safety
//
// Safe for concurrent use within and across processes sharing the directory.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the directory if needed and returns a backend over it.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("file backend: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file backend: create %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file" }

// Dir returns the cache directory.
func (b *FileBackend) Dir() string { return b.dir }

func (b *FileBackend) blobPath(prefix string) string {
	return filepath.Join(b.dir, prefix+"_embeddings.bin")
}

func (b *FileBackend) metaPath(prefix string) string {
	return filepath.Join(b.dir, prefix+"_metadata.json")
}

// ReadMeta implements Backend.
func (b *FileBackend) ReadMeta(ctx context.Context, prefix string) ([]byte, error) {
	return readFile(ctx, b.metaPath(prefix))
}

// ReadBlob implements Backend.
func (b *FileBackend) ReadBlob(ctx context.Context, prefix string) ([]byte, error) {
	return readFile(ctx, b.blobPath(prefix))
}

// Write implements Backend.
func (b *FileBackend) Write(ctx context.Context, prefix string, blob, meta []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := removeIfExists(b.metaPath(prefix)); err != nil {
		return err
	}
	if err := writeFileAtomic(b.blobPath(prefix), blob); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := writeFileAtomic(b.metaPath(prefix), meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Remove implements Backend. Metadata goes first so a failure between the
// two removals still leaves a miss.
func (b *FileBackend) Remove(ctx context.Context, prefix string) error {
	if err := removeIfExists(b.metaPath(prefix)); err != nil {
		return err
	}
	return removeIfExists(b.blobPath(prefix))
}

// Size implements Backend.
func (b *FileBackend) Size(ctx context.Context, prefix string) (int64, error) {
	var total int64
	for _, p := range []string{b.blobPath(prefix), b.metaPath(prefix)} {
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

func readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
