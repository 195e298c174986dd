// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package span

import (
	"encoding/hex"
	"fmt"
	"maps"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/bureau-foundation/spanpipe/lib/codec"
)

// TraceID is a 16-byte globally unique trace identifier.
//
// Encoding: JSON uses 32-character lowercase hex text (via
// encoding.TextMarshaler). CBOR and MessagePack use a 16-byte binary
// string, saving 17 bytes per ID compared to hex text.
type TraceID [16]byte

// MarshalText implements encoding.TextMarshaler. Returns a 32-character
// lowercase hex string. A zero-value TraceID marshals as all zeros.
func (id TraceID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(id[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *TraceID) UnmarshalText(data []byte) error {
	return unmarshalHex(id[:], "TraceID", data)
}

// MarshalCBOR implements cbor.Marshaler. Encodes as a CBOR byte string
// (major type 2) containing the raw 16 bytes.
func (id TraceID) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(id[:])
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (id *TraceID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORBytes(id[:], "TraceID", data)
}

// EncodeMsgpack implements msgpack.CustomEncoder as a bin 8 value.
func (id TraceID) EncodeMsgpack(encoder *msgpack.Encoder) error {
	return encoder.EncodeBytes(id[:])
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (id *TraceID) DecodeMsgpack(decoder *msgpack.Decoder) error {
	return decodeMsgpackBytes(id[:], "TraceID", decoder)
}

// IsZero reports whether this is an uninitialized zero-value TraceID.
func (id TraceID) IsZero() bool { return id == TraceID{} }

// String returns the 32-character lowercase hex representation.
func (id TraceID) String() string { return hex.EncodeToString(id[:]) }

// SpanID is an 8-byte span identifier, unique within a trace. Encoded
// like TraceID.
type SpanID [8]byte

func (id SpanID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(id[:])), nil
}

func (id *SpanID) UnmarshalText(data []byte) error {
	return unmarshalHex(id[:], "SpanID", data)
}

func (id SpanID) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(id[:])
}

func (id *SpanID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORBytes(id[:], "SpanID", data)
}

func (id SpanID) EncodeMsgpack(encoder *msgpack.Encoder) error {
	return encoder.EncodeBytes(id[:])
}

func (id *SpanID) DecodeMsgpack(decoder *msgpack.Decoder) error {
	return decodeMsgpackBytes(id[:], "SpanID", decoder)
}

// IsZero reports whether this is an uninitialized zero-value SpanID.
func (id SpanID) IsZero() bool { return id == SpanID{} }

// String returns the 16-character lowercase hex representation.
func (id SpanID) String() string { return hex.EncodeToString(id[:]) }

func unmarshalHex(dst []byte, kind string, data []byte) error {
	if len(data) == 0 {
		clear(dst)
		return nil
	}
	decoded, err := hex.DecodeString(string(data))
	if err != nil {
		return fmt.Errorf("invalid %s hex: %w", kind, err)
	}
	if len(decoded) != len(dst) {
		return fmt.Errorf("invalid %s: expected %d bytes, got %d", kind, len(dst), len(decoded))
	}
	copy(dst, decoded)
	return nil
}

func unmarshalCBORBytes(dst []byte, kind string, data []byte) error {
	var raw []byte
	if err := codec.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid %s CBOR: %w", kind, err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("invalid %s: expected %d bytes, got %d", kind, len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}

func decodeMsgpackBytes(dst []byte, kind string, decoder *msgpack.Decoder) error {
	raw, err := decoder.DecodeBytes()
	if err != nil {
		return fmt.Errorf("invalid %s msgpack: %w", kind, err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("invalid %s: expected %d bytes, got %d", kind, len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}

// Span is one finished unit of work. Spans of one trace are submitted
// under one group id so the collector receives them together.
type Span struct {
	// TraceID is shared by every span of a distributed operation.
	TraceID TraceID `json:"trace_id"`

	// SpanID uniquely identifies this span within its trace.
	SpanID SpanID `json:"span_id"`

	// ParentID identifies the parent span. Zero for root spans.
	ParentID SpanID `json:"parent_id"`

	// Name is the operation, by convention "component.operation":
	// "http.request", "db.query", "cache.get".
	Name string `json:"name"`

	// Service is the name of the emitting service.
	Service string `json:"service"`

	// Resource is what the operation acted on: a route, a query, a
	// cache key pattern.
	Resource string `json:"resource,omitempty"`

	// Type classifies the span for the collector ("web", "db",
	// "cache", "custom").
	Type string `json:"type,omitempty"`

	// Start is when the operation began, as Unix nanoseconds.
	Start int64 `json:"start"`

	// Duration is how long the operation took, in nanoseconds.
	Duration int64 `json:"duration"`

	// Error is set when the operation failed. Meta["error.message"]
	// carries the description by convention.
	Error bool `json:"error,omitempty"`

	// Meta holds string tags ("http.method": "POST").
	Meta map[string]string `json:"meta,omitempty"`

	// Metrics holds numeric tags ("http.status_code": 200).
	Metrics Metrics `json:"metrics,omitempty"`
}

// Metrics holds a span's numeric tags. MessagePack output writes the
// keys in sorted order so equal spans encode to equal bytes.
type Metrics map[string]float64

// EncodeMsgpack implements msgpack.CustomEncoder.
func (m Metrics) EncodeMsgpack(encoder *msgpack.Encoder) error {
	if m == nil {
		return encoder.EncodeNil()
	}
	if err := encoder.EncodeMapLen(len(m)); err != nil {
		return err
	}
	for _, key := range slices.Sorted(maps.Keys(m)) {
		if err := encoder.EncodeString(key); err != nil {
			return err
		}
		if err := encoder.EncodeFloat64(m[key]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack implements msgpack.CustomDecoder. Integer values are
// accepted and widened.
func (m *Metrics) DecodeMsgpack(decoder *msgpack.Decoder) error {
	length, err := decoder.DecodeMapLen()
	if err != nil {
		return fmt.Errorf("decoding Metrics: %w", err)
	}
	if length < 0 {
		*m = nil
		return nil
	}
	decoded := make(Metrics, length)
	for range length {
		key, err := decoder.DecodeString()
		if err != nil {
			return fmt.Errorf("decoding Metrics key: %w", err)
		}
		value, err := decoder.DecodeFloat64()
		if err != nil {
			return fmt.Errorf("decoding Metrics[%q]: %w", key, err)
		}
		decoded[key] = value
	}
	*m = decoded
	return nil
}

// IsRoot reports whether the span has no parent.
func (s *Span) IsRoot() bool { return s.ParentID.IsZero() }
