// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrAllocationFailure is returned by Rotate when it cannot install a
// current arena large enough for the request.
var ErrAllocationFailure = errors.New("arena: no arena available")

// PoolConfig sizes a Pool.
type PoolConfig struct {
	// InitialCapacity is the capacity of the first arena and the
	// starting point of the capacity ratchet.
	InitialCapacity int

	// MaxCapacity caps every arena the pool allocates. A record
	// larger than MaxCapacity-HeaderSize can never be stored.
	MaxCapacity int

	// BacklogSlots is the number of arenas the pool keeps besides the
	// current one, filled or free.
	BacklogSlots int
}

// Pool owns the current arena and the backlog slots.
//
// current is read lock-free by producers. Every change to current or
// to the backlog happens under mu, which is held only for the
// duration of a slot scan.
type Pool struct {
	current atomic.Pointer[Arena]

	mu          sync.Mutex
	backlog     []*Arena
	minCapacity int

	maxCapacity        int
	arenas             atomic.Int64
	allocationFailures atomic.Uint64
}

// PoolStats is a point-in-time snapshot of pool counters.
type PoolStats struct {
	// Arenas is the number of arenas the pool currently owns,
	// including the current one and any held by the exporter.
	Arenas int64

	// MinCapacity is the current value of the capacity ratchet.
	MinCapacity int

	// AllocationFailures counts rotations that could not produce an
	// arena.
	AllocationFailures uint64
}

// NewPool validates config and returns an empty pool. The first arena
// is allocated by the first rotation.
func NewPool(config PoolConfig) (*Pool, error) {
	if config.InitialCapacity <= HeaderSize {
		return nil, fmt.Errorf("arena pool: initial capacity must exceed %d bytes, got %d", HeaderSize, config.InitialCapacity)
	}
	if config.MaxCapacity < config.InitialCapacity {
		return nil, fmt.Errorf("arena pool: max capacity %d is below initial capacity %d", config.MaxCapacity, config.InitialCapacity)
	}
	if config.BacklogSlots <= 0 {
		return nil, fmt.Errorf("arena pool: backlog slots must be positive, got %d", config.BacklogSlots)
	}
	return &Pool{
		backlog:     make([]*Arena, config.BacklogSlots),
		minCapacity: config.InitialCapacity,
		maxCapacity: config.MaxCapacity,
	}, nil
}

// MaxCapacity returns the largest arena the pool will allocate.
func (p *Pool) MaxCapacity() int { return p.maxCapacity }

// lease pins the current arena for writing. The returned arena has
// its refcount raised and must be released by the caller; nil means
// there is no current arena or it is smaller than minSize.
//
// The refcount is raised before current is re-checked, so an arena
// that was rotated out concurrently is never written to: either the
// rotation happens first and the re-check fails, or the exporter sees
// the raised refcount and leaves the arena in the backlog.
func (p *Pool) lease(minSize int) *Arena {
	for {
		arena := p.current.Load()
		if arena == nil {
			return nil
		}
		arena.refs.Add(1)
		if p.current.Load() == arena {
			if arena.Capacity() < minSize {
				arena.release()
				return nil
			}
			return arena
		}
		arena.release()
	}
}

// Rotate makes sure the current arena is free and at least minSize
// bytes. See RotateFrom.
func (p *Pool) Rotate(allowAlloc bool, minSize int) error {
	return p.rotate(nil, allowAlloc, minSize)
}

// RotateFrom rotates on behalf of a writer that failed to fit a
// record into expected. If another writer already replaced expected
// with an arena of at least minSize, RotateFrom returns without
// parking the replacement.
func (p *Pool) RotateFrom(expected *Arena, allowAlloc bool, minSize int) error {
	return p.rotate(expected, allowAlloc, minSize)
}

func (p *Pool) rotate(expected *Arena, allowAlloc bool, minSize int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// The ratchet moves on every request, whether or not this
	// rotation ends up allocating.
	capacity := p.growLocked(minSize)

	old := p.current.Load()
	if expected != nil && old != nil && old != expected && old.Capacity() >= minSize {
		return nil
	}
	if old != nil && old.isFree() && old.Capacity() >= minSize {
		return nil
	}

	// A free backlog arena is recycled in place and the old current
	// takes its slot.
	for i, candidate := range p.backlog {
		if candidate != nil && candidate.isFree() && candidate.Capacity() >= minSize {
			candidate.reset()
			p.backlog[i] = old
			p.current.Store(candidate)
			return nil
		}
	}

	mustPark := old != nil && !old.isFree()
	slot := p.emptySlotLocked()
	if mustPark && slot < 0 {
		p.allocationFailures.Add(1)
		return fmt.Errorf("%w: all %d backlog slots hold unexported arenas", ErrAllocationFailure, len(p.backlog))
	}
	if !allowAlloc && !mustPark {
		// Nothing to drain and nothing may be allocated: an empty but
		// undersized current is still better than none.
		return fmt.Errorf("%w: allocation disabled", ErrAllocationFailure)
	}

	if mustPark {
		p.backlog[slot] = old
	} else if old != nil {
		// Empty and too small; nobody can have data in it.
		p.arenas.Add(-1)
	}

	if !allowAlloc {
		// Draining: the old arena is now in the backlog where the
		// exporter can reach it, and writers fail until allocation is
		// allowed again.
		p.current.Store(nil)
		return nil
	}

	if capacity < minSize {
		p.current.Store(nil)
		p.allocationFailures.Add(1)
		return fmt.Errorf("%w: %d bytes requested, max arena capacity is %d", ErrAllocationFailure, minSize, p.maxCapacity)
	}
	p.current.Store(newArena(capacity))
	p.arenas.Add(1)
	return nil
}

// growLocked returns the capacity for a new arena: the ratchet doubled
// until it holds minSize, capped at maxCapacity. The ratchet never
// decreases.
func (p *Pool) growLocked(minSize int) int {
	capacity := p.minCapacity
	for capacity < minSize && capacity < p.maxCapacity {
		capacity *= 2
	}
	if capacity > p.maxCapacity {
		capacity = p.maxCapacity
	}
	if capacity > p.minCapacity {
		p.minCapacity = capacity
	}
	return capacity
}

func (p *Pool) emptySlotLocked() int {
	for i, arena := range p.backlog {
		if arena == nil {
			return i
		}
	}
	return -1
}

// AcquireForExport removes and returns a backlog arena that holds
// committed records and no writers, or nil if there is none. The
// caller owns the arena exclusively until it calls Release.
func (p *Pool) AcquireForExport() *Arena {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, arena := range p.backlog {
		if arena != nil && arena.written.Load() > 0 && arena.refs.Load() == 0 {
			p.backlog[i] = nil
			return arena
		}
	}
	return nil
}

// Release returns an exported arena to the pool. The arena is reset
// and parked in an empty backlog slot; if every slot is taken it is
// dropped.
func (p *Pool) Release(arena *Arena) {
	arena.reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot := p.emptySlotLocked(); slot >= 0 {
		p.backlog[slot] = arena
		return
	}
	p.arenas.Add(-1)
}

// Pending reports whether any arena still owned by the pool holds
// committed records.
func (p *Pool) Pending() bool {
	if current := p.current.Load(); current != nil && current.Len() > 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, arena := range p.backlog {
		if arena != nil && arena.Len() > 0 {
			return true
		}
	}
	return false
}

// PendingBytes returns the committed bytes held by the current arena
// and the backlog.
func (p *Pool) PendingBytes() int {
	total := 0
	if current := p.current.Load(); current != nil {
		total += current.Len()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, arena := range p.backlog {
		if arena != nil {
			total += arena.Len()
		}
	}
	return total
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	minCapacity := p.minCapacity
	p.mu.Unlock()
	return PoolStats{
		Arenas:             p.arenas.Load(),
		MinCapacity:        minCapacity,
		AllocationFailures: p.allocationFailures.Load(),
	}
}
