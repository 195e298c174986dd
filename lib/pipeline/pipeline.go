// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/spanpipe/lib/arena"
	"github.com/bureau-foundation/spanpipe/lib/clock"
	"github.com/bureau-foundation/spanpipe/lib/process"
	"github.com/bureau-foundation/spanpipe/lib/reframe"
)

// Sender ships one reframed batch. The batch is only valid for the
// duration of the call. Implementations must honor ctx cancellation:
// Shutdown cancels it to abort a stalled request.
type Sender interface {
	Send(ctx context.Context, batch *reframe.Batch) error
}

// Config configures a Pipeline.
type Config struct {
	// Pool sizes the arena pool.
	Pool arena.PoolConfig

	// FlushInterval is the period of the export loop. Required.
	FlushInterval time.Duration

	// PressurePercent is the current-arena fill level that triggers
	// an early flush. Zero disables early flushes.
	PressurePercent int

	// ShutdownTimeout is the default drain timeout used by Close.
	// Defaults to 5 seconds.
	ShutdownTimeout time.Duration

	// SendEnabled controls whether drained batches are passed to
	// Sender. When false the pipeline still drains and reframes.
	SendEnabled bool

	// Sender receives the batches. Required when SendEnabled is set.
	Sender Sender

	// Clock drives the flush interval and the control timeouts.
	// Defaults to clock.Real().
	Clock clock.Clock

	// Identity returns the live process identity. Defaults to
	// process.ID.
	Identity func() int

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// Pipeline is an in-process span exporter. All methods are safe for
// concurrent use.
type Pipeline struct {
	pool     *arena.Pool
	writer   *arena.Writer
	sender   Sender
	clock    clock.Clock
	identity func() int
	logger   *slog.Logger

	flushInterval      time.Duration
	shutdownTimeout    time.Duration
	configuredSendMode bool

	// Loop mode, read by the worker on every cycle.
	sendEnabled      atomic.Bool
	allowNewArenas   atomic.Bool
	shutdownWhenIdle atomic.Bool
	suspended        atomic.Bool
	interval         atomic.Int64

	state   atomic.Int32
	groupID atomic.Uint32

	cycles          atomic.Uint64
	arenasFlushed   atomic.Uint64
	recordsExported atomic.Uint64
	sendFailures    atomic.Uint64

	// flushSignal wakes the worker. Capacity 1: signals coalesce.
	flushSignal chan struct{}

	// active is the worker that owns the pipeline. A worker that
	// finds itself replaced exits.
	active atomic.Pointer[worker]

	mu        sync.Mutex
	worker    *worker
	owner     int
	cycling   bool
	cycleDone chan struct{}
	stopped   bool
}

// worker is one export goroutine.
type worker struct {
	owner    int
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	reframer *reframe.Reframer
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	State State

	// Cycles counts completed export cycles.
	Cycles uint64

	// ArenasFlushed counts arenas drained, whether or not their send
	// succeeded.
	ArenasFlushed uint64

	// RecordsExported counts records in batches the sender accepted.
	RecordsExported uint64

	// SendFailures counts batches discarded after a Sender error.
	SendFailures uint64

	Writer arena.WriterStats
	Pool   arena.PoolStats
}

// New validates config and returns a pipeline in StateNotStarted.
// Records submitted before Start are buffered and exported by the
// first cycle.
func New(config Config) (*Pipeline, error) {
	var problems []error
	if config.Logger == nil {
		problems = append(problems, errors.New("Logger is required"))
	}
	if config.FlushInterval <= 0 {
		problems = append(problems, fmt.Errorf("flush interval must be positive, got %v", config.FlushInterval))
	}
	if config.PressurePercent < 0 || config.PressurePercent > 100 {
		problems = append(problems, fmt.Errorf("pressure percent must be within 0-100, got %d", config.PressurePercent))
	}
	if config.SendEnabled && config.Sender == nil {
		problems = append(problems, errors.New("Sender is required when sending is enabled"))
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid pipeline config: %w", errors.Join(problems...))
	}

	pool, err := arena.NewPool(config.Pool)
	if err != nil {
		return nil, fmt.Errorf("creating arena pool: %w", err)
	}

	p := &Pipeline{
		pool:               pool,
		sender:             config.Sender,
		clock:              config.Clock,
		identity:           config.Identity,
		logger:             config.Logger,
		flushInterval:      config.FlushInterval,
		shutdownTimeout:    config.ShutdownTimeout,
		configuredSendMode: config.SendEnabled,
		flushSignal:        make(chan struct{}, 1),
		cycleDone:          make(chan struct{}),
	}
	if p.clock == nil {
		p.clock = clock.Real()
	}
	if p.identity == nil {
		p.identity = process.ID
	}
	if p.shutdownTimeout == 0 {
		p.shutdownTimeout = 5 * time.Second
	}
	p.sendEnabled.Store(config.SendEnabled)
	p.allowNewArenas.Store(true)
	p.interval.Store(int64(config.FlushInterval))

	p.writer = arena.NewWriter(arena.WriterConfig{
		Pool:            pool,
		PressurePercent: config.PressurePercent,
		OnPressure:      p.signal,
		AllowAlloc:      p.allowNewArenas.Load,
		BeforeRotate:    p.touch,
	})
	return p, nil
}

// Submit buffers one encoded record under group. Returns false if the
// record was dropped: too large, no room after one rotation, or the
// pipeline has shut down.
func (p *Pipeline) Submit(group uint32, payload []byte) bool {
	if State(p.state.Load()) == StateStopped {
		return false
	}
	return p.writer.Submit(group, payload)
}

// NextGroupID returns a fresh group id. Ids increase monotonically,
// wrap around, and never equal arena.Tombstone.
func (p *Pipeline) NextGroupID() uint32 {
	for {
		if id := p.groupID.Add(1); id != arena.Tombstone {
			return id
		}
	}
}

// SetSendEnabled switches sending on or off and returns the previous
// setting. With sending off, drained arenas are reframed and
// discarded.
func (p *Pipeline) SetSendEnabled(enabled bool) bool {
	if enabled && p.sender == nil {
		p.logger.Warn("cannot enable sending without a sender")
		return p.sendEnabled.Load()
	}
	return p.sendEnabled.Swap(enabled)
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		State:           p.State(),
		Cycles:          p.cycles.Load(),
		ArenasFlushed:   p.arenasFlushed.Load(),
		RecordsExported: p.recordsExported.Load(),
		SendFailures:    p.sendFailures.Load(),
		Writer:          p.writer.Stats(),
		Pool:            p.pool.Stats(),
	}
}

// signal raises the flush signal without blocking.
func (p *Pipeline) signal() {
	select {
	case p.flushSignal <- struct{}{}:
	default:
	}
}

// touch is the control-path identity check used by the Submit slow
// path.
func (p *Pipeline) touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkIdentityLocked()
}
