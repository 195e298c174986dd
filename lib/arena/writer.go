// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrCapacityExceeded is returned for a record that could not fit
	// even in an empty arena of the maximum capacity.
	ErrCapacityExceeded = errors.New("arena: record exceeds max arena capacity")

	// ErrReservedGroup is returned for a record tagged with the
	// Tombstone group id.
	ErrReservedGroup = errors.New("arena: group id is reserved")

	// ErrRecordDropped is returned when a record did not fit into the
	// current arena before or after one rotation.
	ErrRecordDropped = errors.New("arena: record dropped")
)

// WriterConfig wires a Writer to its pool and to the pipeline state it
// consults on the slow path.
type WriterConfig struct {
	// Pool receives the records. Required.
	Pool *Pool

	// PressurePercent is the fill level of the current arena at or
	// above which OnPressure is called after a successful write. Zero
	// disables the check.
	PressurePercent int

	// OnPressure is called (from the producer's goroutine) when the
	// current arena crosses PressurePercent. Must not block.
	OnPressure func()

	// AllowAlloc reports whether rotations requested by the writer
	// may allocate new arenas. Nil means always.
	AllowAlloc func() bool

	// BeforeRotate is called before the writer requests a rotation.
	// The pipeline uses it as a control-path touch point for process
	// identity checks. Optional.
	BeforeRotate func()
}

// Writer appends records to a pool's current arena. Safe for
// concurrent use by any number of producers.
type Writer struct {
	pool            *Pool
	pressurePercent int
	onPressure      func()
	allowAlloc      func() bool
	beforeRotate    func()

	accepted atomic.Uint64
	dropped  atomic.Uint64
	rejected atomic.Uint64
}

// WriterStats is a point-in-time snapshot of writer counters.
type WriterStats struct {
	// Accepted counts records written to an arena.
	Accepted uint64

	// Dropped counts records lost because no arena had room after
	// one rotation.
	Dropped uint64

	// Rejected counts records refused up front (oversized or tagged
	// with the reserved group id).
	Rejected uint64
}

// NewWriter returns a Writer for config.Pool.
func NewWriter(config WriterConfig) *Writer {
	if config.Pool == nil {
		panic("arena.NewWriter: Pool is required")
	}
	allowAlloc := config.AllowAlloc
	if allowAlloc == nil {
		allowAlloc = func() bool { return true }
	}
	return &Writer{
		pool:            config.Pool,
		pressurePercent: config.PressurePercent,
		onPressure:      config.OnPressure,
		allowAlloc:      allowAlloc,
		beforeRotate:    config.BeforeRotate,
	}
}

// Submit appends one record and reports whether it was accepted. It
// never blocks beyond one pool rotation.
func (w *Writer) Submit(group uint32, payload []byte) bool {
	return w.TrySubmit(group, payload) == nil
}

// TrySubmit is Submit with the reason for a refusal.
func (w *Writer) TrySubmit(group uint32, payload []byte) error {
	if group == Tombstone {
		w.rejected.Add(1)
		return ErrReservedGroup
	}
	size := HeaderSize + len(payload)
	if size > w.pool.MaxCapacity() {
		w.rejected.Add(1)
		return fmt.Errorf("%w: %d byte record, max capacity %d", ErrCapacityExceeded, size, w.pool.MaxCapacity())
	}

	tried, ok := w.write(group, payload, size)
	if ok {
		return nil
	}

	if w.beforeRotate != nil {
		w.beforeRotate()
	}
	if err := w.pool.RotateFrom(tried, w.allowAlloc(), size); err != nil {
		w.dropped.Add(1)
		return fmt.Errorf("%w: %w", ErrRecordDropped, err)
	}
	if _, ok := w.write(group, payload, size); ok {
		return nil
	}
	w.dropped.Add(1)
	return fmt.Errorf("%w: no room after rotation", ErrRecordDropped)
}

// write tries the current arena once. Returns the arena it tried (nil
// if there was none) and whether the record was stored.
func (w *Writer) write(group uint32, payload []byte, size int) (*Arena, bool) {
	arena := w.pool.lease(size)
	if arena == nil {
		return nil, false
	}
	defer arena.release()

	if !arena.append(group, payload) {
		return arena, false
	}
	w.accepted.Add(1)

	if w.pressurePercent > 0 && w.onPressure != nil && arena.fillPercent() >= w.pressurePercent {
		w.onPressure()
	}
	return arena, true
}

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Accepted: w.accepted.Load(),
		Dropped:  w.dropped.Load(),
		Rejected: w.rejected.Load(),
	}
}
