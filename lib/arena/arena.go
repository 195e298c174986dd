// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// HeaderSize is the number of bytes preceding every record payload:
// a little-endian uint32 payload length followed by a little-endian
// uint32 group id.
const HeaderSize = 8

// Tombstone is the group id written over a record once the reframer
// has consumed it. Producers may not submit records with this id.
const Tombstone uint32 = math.MaxUint32

// Arena is a fixed-capacity byte region that producers append records
// to concurrently.
//
// position is the reservation cursor, written counts bytes whose
// records are completely written, and refs counts writers that are
// between lease and release. Once no writer holds the arena,
// written == position and every byte below written belongs to a
// complete record.
//
// refs is only ever adjusted with balanced Add calls, never stored:
// a writer that loses the race against a rotation may briefly bump
// the count of an arena it does not end up writing to.
type Arena struct {
	data     []byte
	position atomic.Int64
	written  atomic.Int64
	refs     atomic.Int32
}

func newArena(capacity int) *Arena {
	return &Arena{data: make([]byte, capacity)}
}

// Capacity returns the arena's fixed size in bytes.
func (a *Arena) Capacity() int { return len(a.data) }

// Len returns the number of committed bytes.
func (a *Arena) Len() int { return int(a.written.Load()) }

// Bytes returns the committed region. Only the exclusive owner of an
// arena (the exporter, after AcquireForExport) may call this.
func (a *Arena) Bytes() []byte { return a.data[:a.written.Load()] }

// isFree reports whether no writer holds the arena and nothing has
// been committed to it.
func (a *Arena) isFree() bool {
	return a.refs.Load() == 0 && a.written.Load() == 0
}

// fillPercent returns how much of the arena has been reserved.
func (a *Arena) fillPercent() int {
	position := a.position.Load()
	if position > int64(len(a.data)) {
		position = int64(len(a.data))
	}
	return int(position * 100 / int64(len(a.data)))
}

func (a *Arena) release() { a.refs.Add(-1) }

// append reserves room for one record and writes it. Returns false
// without writing anything if the record does not fit. The caller
// must hold a lease on the arena.
func (a *Arena) append(group uint32, payload []byte) bool {
	size := int64(HeaderSize + len(payload))
	end := a.position.Add(size)
	if end > int64(len(a.data)) {
		a.position.Add(-size)
		return false
	}
	start := end - size
	binary.LittleEndian.PutUint32(a.data[start:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(a.data[start+4:], group)
	copy(a.data[start+HeaderSize:end], payload)
	a.written.Add(size)
	return true
}

// reset zeroes the used region and rewinds the counters. Only valid
// while the caller owns the arena exclusively.
func (a *Arena) reset() {
	used := a.position.Load()
	if used > int64(len(a.data)) {
		used = int64(len(a.data))
	}
	clear(a.data[:used])
	a.position.Store(0)
	a.written.Store(0)
}

// ErrCorruptRecord is returned by ReadHeader when a record header
// points past the committed region.
var ErrCorruptRecord = errors.New("arena: corrupt record")

// ReadHeader decodes the record header at offset and returns the
// payload length and group id. The record occupies
// data[offset : offset+HeaderSize+length].
func ReadHeader(data []byte, offset int) (length int, group uint32, err error) {
	if offset+HeaderSize > len(data) {
		return 0, 0, fmt.Errorf("%w: header at offset %d exceeds %d committed bytes", ErrCorruptRecord, offset, len(data))
	}
	length = int(binary.LittleEndian.Uint32(data[offset:]))
	group = binary.LittleEndian.Uint32(data[offset+4:])
	if offset+HeaderSize+length > len(data) {
		return 0, 0, fmt.Errorf("%w: payload of %d bytes at offset %d exceeds %d committed bytes", ErrCorruptRecord, length, offset, len(data))
	}
	return length, group, nil
}

// MarkConsumed overwrites the group id of the record at offset with
// Tombstone.
func MarkConsumed(data []byte, offset int) {
	binary.LittleEndian.PutUint32(data[offset+4:], Tombstone)
}
