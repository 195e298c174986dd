// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names a Content-Encoding applied to request bodies.
type Compression string

const (
	// CompressionNone sends the framed payload as is.
	CompressionNone Compression = "none"

	// CompressionGzip is gzip at the default level.
	CompressionGzip Compression = "gzip"

	// CompressionZstd is a zstd frame at the default level. Better
	// ratio than gzip on span payloads at a fraction of the CPU.
	CompressionZstd Compression = "zstd"

	// CompressionLZ4 is an LZ4 frame. Cheapest to produce.
	CompressionLZ4 Compression = "lz4"
)

// ParseCompression parses a configuration value. The empty string is
// CompressionNone.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionZstd, CompressionLZ4:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none, gzip, zstd or lz4)", name)
	}
}

// contentEncoding returns the Content-Encoding header value, or "" for
// CompressionNone.
func (c Compression) contentEncoding() string {
	if c == CompressionNone || c == "" {
		return ""
	}
	return string(c)
}

// streamWriter is a compressor that can be pointed at a new
// destination once its previous stream is closed.
type streamWriter interface {
	io.WriteCloser
	Reset(io.Writer)
}

// writerPools hold closed compressors for reuse across requests. zstd
// encoders in particular allocate their window and tables up front.
var writerPools = map[Compression]*sync.Pool{
	CompressionGzip: {},
	CompressionZstd: {},
	CompressionLZ4:  {},
}

// acquireWriter returns a compressor writing to destination, reusing a
// pooled one when available.
func acquireWriter(compression Compression, destination io.Writer) (streamWriter, error) {
	pool, ok := writerPools[compression]
	if !ok {
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
	if writer, ok := pool.Get().(streamWriter); ok {
		writer.Reset(destination)
		return writer, nil
	}
	switch compression {
	case CompressionGzip:
		return gzip.NewWriter(destination), nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(destination, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return encoder, nil
	default:
		return lz4.NewWriter(destination), nil
	}
}

// releaseWriter returns a closed compressor to its pool.
func releaseWriter(compression Compression, writer streamWriter) {
	writer.Reset(io.Discard)
	writerPools[compression].Put(writer)
}

// compressingReader compresses source as it is read. Compressed output
// accumulates in buffer and is handed out before more input is pulled,
// so memory stays bounded by one input chunk plus the compressor's own
// window. The compressor goes back to its pool once the stream is
// finished; a reader abandoned mid-stream leaves it to the collector.
type compressingReader struct {
	source      io.Reader
	compression Compression
	writer      streamWriter
	buffer      bytes.Buffer
	scratch     []byte
	done        bool
}

const compressChunkSize = 32 << 10

func newCompressingReader(source io.Reader, compression Compression) (io.Reader, error) {
	reader := &compressingReader{
		source:      source,
		compression: compression,
		scratch:     make([]byte, compressChunkSize),
	}
	writer, err := acquireWriter(compression, &reader.buffer)
	if err != nil {
		return nil, err
	}
	reader.writer = writer
	return reader, nil
}

func (r *compressingReader) Read(p []byte) (int, error) {
	for r.buffer.Len() == 0 && !r.done {
		n, err := r.source.Read(r.scratch)
		if n > 0 {
			if _, writeErr := r.writer.Write(r.scratch[:n]); writeErr != nil {
				return 0, fmt.Errorf("compressing payload: %w", writeErr)
			}
		}
		if err == io.EOF {
			if closeErr := r.writer.Close(); closeErr != nil {
				return 0, fmt.Errorf("finishing compressed stream: %w", closeErr)
			}
			releaseWriter(r.compression, r.writer)
			r.writer = nil
			r.done = true
		} else if err != nil {
			return 0, err
		}
	}
	if r.buffer.Len() == 0 {
		return 0, io.EOF
	}
	return r.buffer.Read(p)
}

// newDecompressor undoes a Content-Encoding. An empty encoding or
// "identity" returns body unchanged.
func newDecompressor(encoding string, body io.Reader) (io.ReadCloser, error) {
	switch encoding {
	case "", "identity", string(CompressionNone):
		return io.NopCloser(body), nil
	case string(CompressionGzip):
		reader, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return reader, nil
	case string(CompressionZstd):
		decoder, err := zstd.NewReader(body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return decoder.IOReadCloser(), nil
	case string(CompressionLZ4):
		return io.NopCloser(lz4.NewReader(body)), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
