// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides spanpipe's standard CBOR encoding
// configuration.
//
// CBOR is the default span encoding and payload framing: the client
// encodes each span with [Marshal], the pipeline concatenates the
// encodings into array-framed groups, and the collector splits the
// body back into [RawMessage] values with [Unmarshal]. Every package
// shares the modes defined here so a span encodes identically
// wherever it is produced. The encoder uses Core Deterministic
// Encoding (RFC 8949 §4.2).
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// Span types carry `json` tags only. fxamacker/cbor v2 reads `json`
// tags as a fallback when `cbor` tags are absent, and the msgpack
// encoder in lib/schema/span is configured to read them too, so one
// tag controls field naming and omitempty for JSON, CBOR and
// MessagePack alike. Never use both `cbor` and `json` tags on the
// same field.
package codec
