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
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSBackend shares the cache across instances through a Cloud Storage bucket.
//
// # Description
//
// Objects mirror the file layout under an optional object prefix:
//
//	{objectPrefix}{prefix}_embeddings.bin
//	{objectPrefix}{prefix}_metadata.json
//
// Object writes are atomic per object. Write deletes the old metadata,
// uploads the blob, then uploads the metadata, so readers never pair new
// metadata with an old blob. The envelope hash check on load covers the
// reverse race.
//
// # Thread Safety
//
// Safe for concurrent use.
type GCSBackend struct {
	client       *storage.Client
	bucket       string
	objectPrefix string
}

// NewGCSBackend creates a client and returns a backend for bucket.
//
// # Inputs
//
//   - ctx: Context for client creation.
//   - bucket: Bucket name. Must not be empty.
//   - objectPrefix: Optional object name prefix, e.g. "router-cache/".
//   - opts: Client options (credentials file, endpoint override).
func NewGCSBackend(ctx context.Context, bucket, objectPrefix string, opts ...option.ClientOption) (*GCSBackend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs backend: bucket must not be empty")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs backend: create client: %w", err)
	}
	if objectPrefix != "" && !strings.HasSuffix(objectPrefix, "/") {
		objectPrefix += "/"
	}
	return &GCSBackend{client: client, bucket: bucket, objectPrefix: objectPrefix}, nil
}

// Name implements Backend.
func (b *GCSBackend) Name() string { return "gcs" }

func (b *GCSBackend) blobObject(prefix string) string {
	return b.objectPrefix + prefix + "_embeddings.bin"
}

func (b *GCSBackend) metaObject(prefix string) string {
	return b.objectPrefix + prefix + "_metadata.json"
}

// ReadMeta implements Backend.
func (b *GCSBackend) ReadMeta(ctx context.Context, prefix string) ([]byte, error) {
	return b.read(ctx, b.metaObject(prefix))
}

// ReadBlob implements Backend.
func (b *GCSBackend) ReadBlob(ctx context.Context, prefix string) ([]byte, error) {
	return b.read(ctx, b.blobObject(prefix))
}

func (b *GCSBackend) read(ctx context.Context, name string) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", name, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *GCSBackend) write(ctx context.Context, name, contentType string, data []byte) error {
	w := b.client.Bucket(b.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs write %s: %w", name, err)
	}
	return nil
}

func (b *GCSBackend) delete(ctx context.Context, name string) error {
	err := b.client.Bucket(b.bucket).Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", name, err)
	}
	return nil
}

// Write implements Backend.
func (b *GCSBackend) Write(ctx context.Context, prefix string, blob, meta []byte) error {
	if err := b.delete(ctx, b.metaObject(prefix)); err != nil {
		return err
	}
	if err := b.write(ctx, b.blobObject(prefix), "application/zstd", blob); err != nil {
		return err
	}
	return b.write(ctx, b.metaObject(prefix), "application/json", meta)
}

// Remove implements Backend.
func (b *GCSBackend) Remove(ctx context.Context, prefix string) error {
	if err := b.delete(ctx, b.metaObject(prefix)); err != nil {
		return err
	}
	return b.delete(ctx, b.blobObject(prefix))
}

// Size implements Backend.
func (b *GCSBackend) Size(ctx context.Context, prefix string) (int64, error) {
	var total int64
	for _, name := range []string{b.blobObject(prefix), b.metaObject(prefix)} {
		attrs, err := b.client.Bucket(b.bucket).Object(name).Attrs(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("gcs attrs %s: %w", name, err)
		}
		total += attrs.Size
	}
	return total, nil
}

// Close implements Backend.
func (b *GCSBackend) Close() error {
	return b.client.Close()
}
