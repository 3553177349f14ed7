/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package compression provides configurable compression for flyarray.

Compression Overview:
=====================

This module implements configurable compression for:
  - Binary payloads on the wire (internal/protocol's FlagCompressed)
  - Replication traffic to reduce network bandwidth
  - Batch operations for better compression ratios

Supported Algorithms:
=====================

 1. LZ4 (github.com/pierrec/lz4/v4): fast, moderate ratio
 2. Snappy (github.com/golang/snappy): very fast, lower ratio
 3. Zstd (github.com/klauspost/compress/zstd): best ratio, tunable
 4. Gzip (compress/gzip): stdlib fallback, kept for compatibility with
    tooling that only speaks gzip

Batch Compression:
==================

Batching multiple entries before compression improves ratios:
 1. Collect entries into a batch
 2. Compress the entire batch
 3. Store/transmit compressed batch
 4. Decompress and split on read
*/
package compression

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmGzip
	AlgorithmLZ4
	AlgorithmSnappy
	AlgorithmZstd
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmLZ4:
		return "lz4"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseAlgorithm parses a compression algorithm from string.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "none", "":
		return AlgorithmNone, nil
	case "gzip":
		return AlgorithmGzip, nil
	case "lz4":
		return AlgorithmLZ4, nil
	case "snappy":
		return AlgorithmSnappy, nil
	case "zstd":
		return AlgorithmZstd, nil
	default:
		return AlgorithmNone, fmt.Errorf("unknown compression algorithm: %s", s)
	}
}

// Level represents a compression level, honored by the gzip and zstd
// codecs; lz4 and snappy have no tunable ratio/speed knob and ignore it.
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 5
	LevelBest    Level = 9
)

// Config holds compression configuration.
type Config struct {
	Algorithm        Algorithm `json:"algorithm"`
	Level            Level     `json:"level"`
	MinSize          int       `json:"min_size"`          // Minimum size to compress
	BatchSize        int       `json:"batch_size"`        // Number of entries per batch
	BatchTimeout     int       `json:"batch_timeout_ms"`  // Max wait time for batch (ms)
	DictionaryEnable bool      `json:"dictionary_enable"` // Use dictionary compression
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Algorithm:        AlgorithmZstd,
		Level:            LevelDefault,
		MinSize:          256,
		BatchSize:        100,
		BatchTimeout:     10,
		DictionaryEnable: false,
	}
}

// Errors
var (
	ErrDataTooSmall    = errors.New("data too small to compress")
	ErrInvalidHeader   = errors.New("invalid compression header")
	ErrUnsupportedAlgo = errors.New("unsupported compression algorithm")
	ErrDecompressFailed = errors.New("decompression failed")
)

// literal/compressed frame markers, prefixed to every Compress result so
// Decompress knows whether MinSize caused the data to be stored raw.
const (
	frameLiteral    byte = 0x00
	frameCompressed byte = 0x01
)

// Compressor provides compression/decompression operations for a single
// configured algorithm and level, pooling the codec state gzip and zstd
// need to avoid a fresh allocation on every call.
type Compressor struct {
	config     Config
	gzipPool   sync.Pool
	zstdEnc    *zstd.Encoder
	zstdDec    *zstd.Decoder
	bufferPool sync.Pool
}

// NewCompressor creates a new compressor. The returned Compressor holds
// a persistent zstd encoder/decoder pair; callers that create many
// short-lived Compressors for the same algorithm should share one
// instead.
func NewCompressor(config Config) *Compressor {
	c := &Compressor{
		config: config,
		gzipPool: sync.Pool{
			New: func() interface{} {
				w, err := gzip.NewWriterLevel(nil, int(config.Level))
				if err != nil {
					w = gzip.NewWriter(nil)
				}
				return w
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
	if config.Algorithm == AlgorithmZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(config.Level)))
		if err == nil {
			c.zstdEnc = enc
		}
		dec, err := zstd.NewReader(nil)
		if err == nil {
			c.zstdDec = dec
		}
	}
	return c
}

// Algorithm reports the codec this Compressor was configured with, so a
// caller on the receiving end of a compressed stream (which only has a
// Compressor, not the original Config) can look up which algorithm to
// hand to Decompress.
func (c *Compressor) Algorithm() Algorithm {
	return c.config.Algorithm
}

// WouldCompress reports whether Compress would actually run the
// configured codec on a payload of the given size, or store it as a
// literal frame because it falls under MinSize. Callers that want to
// flag a message as compressed only when compression really happened
// (rather than every time a Compressor is configured) check this before
// calling Compress.
func (c *Compressor) WouldCompress(size int) bool {
	return c.config.Algorithm != AlgorithmNone && size >= c.config.MinSize
}

func zstdLevel(l Level) zstd.EncoderLevel {
	switch {
	case l <= LevelFastest:
		return zstd.SpeedFastest
	case l >= LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// Compress compresses data with the compressor's configured algorithm.
// Data shorter than config.MinSize is stored as a literal frame instead,
// avoiding compression overhead on tiny messages.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) < c.config.MinSize || c.config.Algorithm == AlgorithmNone {
		out := make([]byte, 1+len(data))
		out[0] = frameLiteral
		copy(out[1:], data)
		return out, nil
	}

	body, err := compressBytes(c, c.config.Algorithm, data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(body))
	out[0] = frameCompressed
	copy(out[1:], body)
	return out, nil
}

// Decompress reverses Compress. algo must match the algorithm the data
// was compressed with when the frame is marked compressed.
func (c *Compressor) Decompress(data []byte, algo Algorithm) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidHeader
	}
	frame, body := data[0], data[1:]
	switch frame {
	case frameLiteral:
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	case frameCompressed:
		return decompressBytes(c, algo, body)
	default:
		return nil, ErrInvalidHeader
	}
}

func compressBytes(c *Compressor, algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		return data, nil
	case AlgorithmGzip:
		buf := c.bufferPool.Get().(*bytes.Buffer)
		buf.Reset()
		defer c.bufferPool.Put(buf)

		gw := c.gzipPool.Get().(*gzip.Writer)
		defer c.gzipPool.Put(gw)
		gw.Reset(buf)
		if _, err := gw.Write(data); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
		out := make([]byte, buf.Len())
		copy(out, buf.Bytes())
		return out, nil
	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil
	case AlgorithmLZ4:
		buf := new(bytes.Buffer)
		zw := lz4.NewWriter(buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case AlgorithmZstd:
		enc := c.zstdEnc
		if enc == nil {
			var err error
			enc, err = zstd.NewWriter(nil)
			if err != nil {
				return nil, err
			}
			defer enc.Close()
		}
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, ErrUnsupportedAlgo
	}
}

func decompressBytes(c *Compressor, algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case AlgorithmGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		defer gr.Close()
		out, err := io.ReadAll(gr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil
	case AlgorithmSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil
	case AlgorithmLZ4:
		zr := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil
	case AlgorithmZstd:
		dec := c.zstdDec
		if dec == nil {
			var err error
			dec, err = zstd.NewReader(nil)
			if err != nil {
				return nil, err
			}
			defer dec.Close()
		}
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil
	default:
		return nil, ErrUnsupportedAlgo
	}
}

// BatchCompressor accumulates small entries and compresses them together
// as one unit, improving the compression ratio over compressing each
// entry independently.
type BatchCompressor struct {
	compressor *Compressor
	entries    [][]byte
}

// NewBatchCompressor creates a batch compressor using config's algorithm.
func NewBatchCompressor(config Config) *BatchCompressor {
	return &BatchCompressor{compressor: NewCompressor(config)}
}

// Add appends an entry to the pending batch.
func (b *BatchCompressor) Add(entry []byte) {
	e := make([]byte, len(entry))
	copy(e, entry)
	b.entries = append(b.entries, e)
}

// Flush serializes the pending batch as length-prefixed entries and
// compresses the result, then clears the batch.
func (b *BatchCompressor) Flush() ([]byte, error) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	for _, e := range b.entries {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(e)))
		buf.Write(lenBuf)
		buf.Write(e)
	}
	b.entries = nil
	return b.compressor.Compress(buf.Bytes())
}

// DecompressBatch reverses Flush, splitting the decompressed batch back
// into its original entries.
func (b *BatchCompressor) DecompressBatch(data []byte, algo Algorithm) ([][]byte, error) {
	raw, err := b.compressor.Decompress(data, algo)
	if err != nil {
		return nil, err
	}

	var entries [][]byte
	for len(raw) > 0 {
		if len(raw) < 4 {
			return nil, ErrInvalidHeader
		}
		n := binary.BigEndian.Uint32(raw[:4])
		raw = raw[4:]
		if uint32(len(raw)) < n {
			return nil, ErrInvalidHeader
		}
		entry := make([]byte, n)
		copy(entry, raw[:n])
		entries = append(entries, entry)
		raw = raw[n:]
	}
	return entries, nil
}
