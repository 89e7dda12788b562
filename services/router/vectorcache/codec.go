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
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// maxDecodedBlob bounds decompression so a corrupt or hostile blob cannot
// exhaust memory. 256 MiB is far above any realistic exemplar corpus.
const maxDecodedBlob = 256 << 20

// envelope is the blob payload. DataHash and Prefix are repeated inside the
// blob so a blob paired with the wrong metadata is detected on load.
type envelope struct {
	DataHash string               `cbor:"data_hash"`
	Prefix   string               `cbor:"prefix"`
	Vectors  map[string][]float32 `cbor:"vectors"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	// Core Deterministic Encoding: sorted map keys, so identical stores
	// produce identical blobs.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("vectorcache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxMapPairs: 1 << 24,
	}.DecMode()
	if err != nil {
		panic("vectorcache: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("vectorcache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedBlob))
	if err != nil {
		panic("vectorcache: zstd decoder initialization failed: " + err.Error())
	}
}

func encodeBlob(prefix, dataHash string, store Store) ([]byte, error) {
	raw, err := encMode.Marshal(envelope{
		DataHash: dataHash,
		Prefix:   prefix,
		Vectors:  store,
	})
	if err != nil {
		return nil, fmt.Errorf("cbor encode: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

func decodeBlob(blob []byte) (*envelope, error) {
	raw, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	var env envelope
	if err := decMode.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("cbor decode: %w", err)
	}
	return &env, nil
}
