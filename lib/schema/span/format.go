// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package span

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/bureau-foundation/spanpipe/lib/codec"
	"github.com/bureau-foundation/spanpipe/lib/reframe"
)

// Format is a span encoding.
type Format string

const (
	// FormatCBOR encodes spans as CBOR maps with Core Deterministic
	// Encoding.
	FormatCBOR Format = "cbor"

	// FormatMsgpack encodes spans as MessagePack maps with sorted
	// keys.
	FormatMsgpack Format = "msgpack"
)

// ParseFormat parses a configuration value. The empty string is
// FormatCBOR.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case "", FormatCBOR:
		return FormatCBOR, nil
	case FormatMsgpack:
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("unknown span format %q (expected cbor or msgpack)", name)
	}
}

// FormatOf returns the span encoding matching a payload framing.
func FormatOf(framing reframe.Framing) (Format, error) {
	return ParseFormat(framing.Name())
}

// Framing returns the payload framing that wraps spans encoded in f.
func (f Format) Framing() reframe.Framing {
	if f == FormatMsgpack {
		return reframe.MessagePack
	}
	return reframe.CBOR
}

// Encode returns the encoding of s in format.
func (s *Span) Encode(format Format) ([]byte, error) {
	return s.AppendEncode(nil, format)
}

// AppendEncode appends the encoding of s in format to dst. Producers
// reuse dst across spans to keep the submit path allocation-free.
func (s *Span) AppendEncode(dst []byte, format Format) ([]byte, error) {
	switch format {
	case FormatCBOR, "":
		data, err := codec.Marshal(s)
		if err != nil {
			return dst, fmt.Errorf("encoding span as CBOR: %w", err)
		}
		return append(dst, data...), nil
	case FormatMsgpack:
		buffer := bytes.NewBuffer(dst)
		encoder := msgpack.GetEncoder()
		defer msgpack.PutEncoder(encoder)
		encoder.Reset(buffer)
		encoder.SetCustomStructTag("json")
		encoder.SetSortMapKeys(true)
		if err := encoder.Encode(s); err != nil {
			return dst, fmt.Errorf("encoding span as msgpack: %w", err)
		}
		return buffer.Bytes(), nil
	default:
		return dst, fmt.Errorf("unknown span format %q", format)
	}
}

// Decode decodes one span encoded in format.
func Decode(format Format, data []byte) (*Span, error) {
	var s Span
	switch format {
	case FormatCBOR, "":
		if err := codec.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decoding CBOR span: %w", err)
		}
	case FormatMsgpack:
		decoder := msgpack.GetDecoder()
		defer msgpack.PutDecoder(decoder)
		decoder.Reset(bytes.NewReader(data))
		decoder.SetCustomStructTag("json")
		if err := decoder.Decode(&s); err != nil {
			return nil, fmt.Errorf("decoding msgpack span: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown span format %q", format)
	}
	return &s, nil
}
