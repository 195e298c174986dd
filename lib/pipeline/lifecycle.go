// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"time"

	"github.com/bureau-foundation/spanpipe/lib/reframe"
)

// forceJoinTimeout bounds the wait for a worker after Shutdown cancels
// it.
const forceJoinTimeout = time.Second

// Start puts the pipeline into operational mode and starts the worker
// if none is running. Idempotent. A pipeline that has been shut down
// stays stopped.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.checkIdentityLocked()
	if p.worker != nil {
		return
	}

	p.sendEnabled.Store(p.configuredSendMode && p.sender != nil)
	p.interval.Store(int64(p.flushInterval))
	p.allowNewArenas.Store(true)
	p.shutdownWhenIdle.Store(false)
	p.spawnLocked()
}

// spawnLocked starts a worker owned by the live process. Caller holds
// mu.
func (p *Pipeline) spawnLocked() {
	if err := p.pool.Rotate(p.allowNewArenas.Load(), 0); err != nil {
		p.logger.Debug("initial rotation failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		owner:    p.identity(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		reframer: reframe.New(),
	}
	p.worker = w
	p.owner = w.owner
	p.cycling = false
	p.active.Store(w)

	switch State(p.state.Load()) {
	case StateNotStarted, StateStopped:
		p.state.Store(int32(StateStartingUp))
	}
	go p.run(w)
}

// checkIdentityLocked replaces the worker when the live process
// identity no longer matches the one that started it. The old handle
// is dropped without cancel or join. Caller holds mu.
func (p *Pipeline) checkIdentityLocked() {
	if p.worker == nil {
		return
	}
	live := p.identity()
	if live == p.owner {
		return
	}
	p.logger.Info("process identity changed, restarting export worker",
		"previous_owner", p.owner,
		"current", live,
	)
	p.worker = nil
	p.active.Store(nil)
	p.spawnLocked()
}

// RequestFlush wakes the worker. Returns false if no worker is
// running.
func (p *Pipeline) RequestFlush() bool {
	p.mu.Lock()
	p.checkIdentityLocked()
	running := p.worker != nil
	p.mu.Unlock()

	if !running {
		return false
	}
	p.signal()
	return true
}

// SyncFlush signals a flush and waits until a complete export cycle
// has run after the call, or until timeout. Returns true if at least
// one arena was drained while waiting. Returns within timeout even if
// the sender is stalled.
func (p *Pipeline) SyncFlush(timeout time.Duration) bool {
	p.mu.Lock()
	p.checkIdentityLocked()
	if p.worker == nil {
		p.mu.Unlock()
		return false
	}
	flushedBefore := p.arenasFlushed.Load()
	wait := p.cycleDone
	// A cycle already past its rotation may miss records submitted
	// before this call, so wait for the one after it too.
	cycles := 1
	if p.cycling {
		cycles = 2
	}
	p.mu.Unlock()

	p.signal()

	timer := p.clock.NewTimer(timeout)
	defer timer.Stop()
	for i := range cycles {
		select {
		case <-wait:
		case <-timer.C:
			return p.arenasFlushed.Load() > flushedBefore
		}
		if i+1 < cycles {
			p.mu.Lock()
			wait = p.cycleDone
			p.mu.Unlock()
		}
	}
	return p.arenasFlushed.Load() > flushedBefore
}

// Shutdown drains the pipeline and stops the worker. The pipeline
// stops allocating arenas, the loop stops sleeping between cycles and
// exits once nothing is left to export. Returns true if the worker
// finished within timeout.
//
// On timeout the worker is cancelled, which aborts an in-flight send,
// and joined for a short grace period; Shutdown then returns false. If
// the process identity changed while waiting, the worker handle is left
// alone and Shutdown returns false.
//
// Calling Shutdown on a stopped pipeline returns true immediately.
func (p *Pipeline) Shutdown(timeout time.Duration) bool {
	p.mu.Lock()
	p.checkIdentityLocked()
	if p.stopped {
		p.mu.Unlock()
		return true
	}
	w := p.worker
	p.allowNewArenas.Store(false)
	p.interval.Store(0)
	p.shutdownWhenIdle.Store(true)
	p.suspended.Store(false)
	if w == nil {
		if pending := p.pool.PendingBytes(); pending > 0 {
			p.logger.Warn("discarding records submitted before Start",
				"bytes", pending,
			)
		}
		p.stopped = true
		p.state.Store(int32(StateStopped))
		p.mu.Unlock()
		return true
	}
	p.state.Store(int32(StateDraining))
	p.mu.Unlock()

	p.signal()

	timer := p.clock.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-w.done:
		case <-timer.C:
			return p.forceStop(w, timeout)
		}
		p.mu.Lock()
		if p.worker != nil && p.worker != w {
			// w was replaced after an identity change; the new worker
			// inherited the drain flags.
			w = p.worker
			p.mu.Unlock()
			continue
		}
		p.finishLocked(w)
		p.mu.Unlock()
		return true
	}
}

// forceStop handles a Shutdown timeout. Always returns false.
func (p *Pipeline) forceStop(w *worker, timeout time.Duration) bool {
	p.logger.Warn("export worker did not drain in time",
		"timeout", timeout,
		"error", ErrShutdownTimeout,
	)
	if live := p.identity(); live != w.owner {
		p.logger.Info("process identity changed during shutdown, leaving worker handle alone",
			"owner", w.owner,
			"current", live,
		)
		return false
	}

	w.cancel()
	grace := p.clock.NewTimer(forceJoinTimeout)
	defer grace.Stop()
	select {
	case <-w.done:
		p.mu.Lock()
		p.finishLocked(w)
		p.mu.Unlock()
	case <-grace.C:
		p.logger.Error("export worker did not stop after cancellation", "grace", forceJoinTimeout)
	}
	return false
}

// Close shuts the pipeline down with the configured shutdown timeout.
func (p *Pipeline) Close() error {
	if !p.Shutdown(p.shutdownTimeout) {
		return ErrShutdownTimeout
	}
	return nil
}

// finishLocked records that w has exited after a shutdown. Caller
// holds mu.
func (p *Pipeline) finishLocked(w *worker) {
	if p.worker == w {
		p.worker = nil
		p.active.Store(nil)
	}
	p.stopped = true
	p.state.Store(int32(StateStopped))
}

// Suspend pauses exporting. The worker keeps waking but skips its
// cycles; producers keep writing until the pool fills. Returns false
// unless the pipeline was running.
func (p *Pipeline) Suspend() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkIdentityLocked()
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateSuspended)) {
		return false
	}
	p.suspended.Store(true)
	return true
}

// Resume undoes Suspend and triggers a flush. Returns false unless the
// pipeline was suspended.
func (p *Pipeline) Resume() bool {
	p.mu.Lock()
	p.checkIdentityLocked()
	resumed := p.state.CompareAndSwap(int32(StateSuspended), int32(StateRunning))
	if resumed {
		p.suspended.Store(false)
	}
	p.mu.Unlock()

	if resumed {
		p.signal()
	}
	return resumed
}
