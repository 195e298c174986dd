// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reframe

import (
	"fmt"

	"github.com/bureau-foundation/spanpipe/lib/arena"
)

// Group describes one run in a Batch.
type Group struct {
	// ID is the producer-assigned group id.
	ID uint32

	// Count is the number of records in the run.
	Count int

	// Length is the run's size in bytes: the sum of the payload
	// lengths, headers excluded.
	Length int
}

// Batch is the reframed content of one arena. It references the
// Reframer's scratch space and is valid until the next call to
// Reframe on the same Reframer.
type Batch struct {
	groups  []Group
	data    []byte
	records int
}

// GroupCount returns the number of groups in the batch.
func (b *Batch) GroupCount() int { return len(b.groups) }

// Groups returns the group headers in wire order.
func (b *Batch) Groups() []Group { return b.groups }

// Records returns the total number of records in the batch.
func (b *Batch) Records() int { return b.records }

// Size returns the number of payload bytes in the batch.
func (b *Batch) Size() int { return len(b.data) }

// Each calls fn for every group with the group's byte run, in wire
// order, and stops at the first error.
func (b *Batch) Each(fn func(group Group, run []byte) error) error {
	offset := 0
	for _, group := range b.groups {
		if err := fn(group, b.data[offset:offset+group.Length]); err != nil {
			return err
		}
		offset += group.Length
	}
	return nil
}

// Reframer groups arena records. It keeps its destination buffer
// between calls, so one Reframer should be reused for every arena an
// exporter drains. Not safe for concurrent use.
type Reframer struct {
	batch Batch
}

// New returns a Reframer with empty scratch space.
func New() *Reframer {
	return &Reframer{}
}

// Reframe consumes every record in data, the committed region of an
// arena the caller owns exclusively, and returns the grouped batch.
// Consumed records are tombstoned in place, so reframing the same data
// twice yields an empty batch the second time.
//
// Each pass takes the group of the first open record, copies all of
// that group's records in order and remembers where the next open
// group starts. The cost is one scan per distinct group.
func (r *Reframer) Reframe(data []byte) (*Batch, error) {
	batch := &r.batch
	batch.groups = batch.groups[:0]
	batch.data = batch.data[:0]
	batch.records = 0

	start, err := firstOpen(data, 0)
	if err != nil {
		return nil, err
	}
	for start >= 0 {
		_, current, _ := arena.ReadHeader(data, start)
		group := Group{ID: current}
		next := -1

		for offset := start; offset < len(data); {
			length, id, err := arena.ReadHeader(data, offset)
			if err != nil {
				return nil, fmt.Errorf("reframing group %d: %w", current, err)
			}
			switch {
			case id == current:
				payload := data[offset+arena.HeaderSize : offset+arena.HeaderSize+length]
				batch.data = append(batch.data, payload...)
				arena.MarkConsumed(data, offset)
				group.Count++
				group.Length += length
			case id != arena.Tombstone && next < 0:
				next = offset
			}
			offset += arena.HeaderSize + length
		}

		batch.groups = append(batch.groups, group)
		batch.records += group.Count
		start = next
	}
	return batch, nil
}

// firstOpen returns the offset of the first record at or after offset
// that has not been consumed, or -1 if there is none.
func firstOpen(data []byte, offset int) (int, error) {
	for offset < len(data) {
		length, id, err := arena.ReadHeader(data, offset)
		if err != nil {
			return -1, fmt.Errorf("scanning arena: %w", err)
		}
		if id != arena.Tombstone {
			return offset, nil
		}
		offset += arena.HeaderSize + length
	}
	return -1, nil
}
