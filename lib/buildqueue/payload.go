// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildqueue

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how webhook payloads are stored. Values are
// persisted in the payload_codec column and must not be renumbered.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (compression Compression) String() string {
	switch compression {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(compression))
	}
}

// ParseCompression maps a configuration value to a Compression. The
// empty string selects zstd.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown payload compression %q (want zstd, lz4 or none)", name)
	}
}

// Webhook bodies are JSON and compress well; a shared encoder keeps
// per-call allocation low. Both are safe for concurrent EncodeAll and
// DecodeAll.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

var errIncompressible = errors.New("payload is incompressible")

// compressPayload returns the stored form of data and the codec that
// was actually used, which is CompressionNone when compression would
// not shrink the payload.
func compressPayload(data []byte, compression Compression) ([]byte, Compression, error) {
	if len(data) == 0 {
		return nil, CompressionNone, nil
	}
	switch compression {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
		if len(compressed) >= len(data) {
			return data, CompressionNone, nil
		}
		return compressed, CompressionZstd, nil
	case CompressionLZ4:
		compressed, err := compressLZ4(data)
		if errors.Is(err, errIncompressible) {
			return data, CompressionNone, nil
		}
		if err != nil {
			return nil, 0, err
		}
		return compressed, CompressionLZ4, nil
	default:
		return nil, 0, fmt.Errorf("unsupported payload compression %d", compression)
	}
}

// decompressPayload reverses compressPayload. size is the length of
// the original payload.
func decompressPayload(stored []byte, compression Compression, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	var data []byte
	var err error
	switch compression {
	case CompressionNone:
		data = stored
	case CompressionZstd:
		data, err = zstdDecoder.DecodeAll(stored, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
	case CompressionLZ4:
		data = make([]byte, size)
		var written int
		written, err = lz4.UncompressBlock(stored, data)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		data = data[:written]
	default:
		return nil, fmt.Errorf("unsupported payload compression %d", compression)
	}
	if len(data) != size {
		return nil, fmt.Errorf("payload size %d does not match recorded %d", len(data), size)
	}
	return data, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}
