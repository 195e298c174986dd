// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reframe

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Framing produces the array heads that turn a Batch into a single
// self-describing document.
type Framing interface {
	// Name is the configuration name of the framing.
	Name() string

	// ContentType is the HTTP media type of a framed body.
	ContentType() string

	// AppendArrayHead appends the head of an n-element array to dst.
	// The head is at most 9 bytes.
	AppendArrayHead(dst []byte, n int) []byte
}

var (
	// CBOR frames batches with RFC 8949 definite-length arrays.
	CBOR Framing = cborFraming{}

	// MessagePack frames batches with msgpack arrays.
	MessagePack Framing = msgpackFraming{}
)

// ParseFraming returns the framing registered under name.
func ParseFraming(name string) (Framing, error) {
	switch name {
	case "cbor", "":
		return CBOR, nil
	case "msgpack":
		return MessagePack, nil
	default:
		return nil, fmt.Errorf("unknown framing %q (want cbor or msgpack)", name)
	}
}

type cborFraming struct{}

func (cborFraming) Name() string        { return "cbor" }
func (cborFraming) ContentType() string { return "application/cbor" }

// AppendArrayHead writes major type 4 with the shortest argument
// encoding.
func (cborFraming) AppendArrayHead(dst []byte, n int) []byte {
	const major = 4 << 5
	count := uint64(n)
	switch {
	case count < 24:
		return append(dst, major|byte(count))
	case count <= 0xff:
		return append(dst, major|24, byte(count))
	case count <= 0xffff:
		return binary.BigEndian.AppendUint16(append(dst, major|25), uint16(count))
	case count <= 0xffffffff:
		return binary.BigEndian.AppendUint32(append(dst, major|26), uint32(count))
	default:
		return binary.BigEndian.AppendUint64(append(dst, major|27), count)
	}
}

type msgpackFraming struct{}

func (msgpackFraming) Name() string        { return "msgpack" }
func (msgpackFraming) ContentType() string { return "application/msgpack" }

func (msgpackFraming) AppendArrayHead(dst []byte, n int) []byte {
	encoder := msgpack.GetEncoder()
	defer msgpack.PutEncoder(encoder)

	buffer := bytes.NewBuffer(dst)
	encoder.Reset(buffer)
	if err := encoder.EncodeArrayLen(n); err != nil {
		// Writes to a bytes.Buffer do not fail.
		panic("reframe: encoding msgpack array head: " + err.Error())
	}
	return buffer.Bytes()
}
