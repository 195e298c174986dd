// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/spanpipe/lib/arena"
)

// run is the export loop of one worker.
func (p *Pipeline) run(w *worker) {
	defer close(w.done)

	if p.suspended.Load() {
		p.state.CompareAndSwap(int32(StateStartingUp), int32(StateSuspended))
	} else {
		p.state.CompareAndSwap(int32(StateStartingUp), int32(StateRunning))
	}
	p.logger.Debug("export worker started", "owner", w.owner)

	for {
		signalled, ok := p.wait(w)
		if !ok {
			p.logger.Debug("export worker cancelled", "owner", w.owner)
			return
		}
		if p.active.Load() != w {
			// Replaced after an identity change. A flush request meant
			// for the pipeline goes to the replacement.
			if signalled {
				p.signal()
			}
			p.logger.Debug("stale export worker exiting", "owner", w.owner)
			return
		}
		if p.suspended.Load() {
			continue
		}

		p.beginCycle()
		processed := p.drain(w)
		exit := w.ctx.Err() != nil ||
			(processed == 0 && p.shutdownWhenIdle.Load() && !p.pool.Pending())
		p.completeCycle()
		if exit {
			p.logger.Debug("export worker finished", "owner", w.owner, "cycles", p.cycles.Load())
			return
		}
	}
}

// wait blocks until the flush interval elapses or a flush is
// signalled. With a zero interval it only consumes a pending signal.
// Returns false when the worker has been cancelled.
func (p *Pipeline) wait(w *worker) (signalled, ok bool) {
	interval := time.Duration(p.interval.Load())
	if interval <= 0 {
		if w.ctx.Err() != nil {
			return false, false
		}
		select {
		case <-p.flushSignal:
			return true, true
		default:
			return false, true
		}
	}

	timer := p.clock.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false, true
	case <-p.flushSignal:
		return true, true
	case <-w.ctx.Done():
		return false, false
	}
}

// drain rotates the current arena out and exports every filled backlog
// arena. Returns the number of arenas exported.
func (p *Pipeline) drain(w *worker) int {
	if err := p.pool.Rotate(p.allowNewArenas.Load(), 0); err != nil {
		p.logger.Debug("rotation before drain failed", "error", err)
	}

	processed := 0
	for w.ctx.Err() == nil {
		exported := p.pool.AcquireForExport()
		if exported == nil {
			break
		}
		p.export(w, exported)
		processed++
	}
	return processed
}

// export reframes one arena and hands it to the sender. The arena is
// returned to the pool whatever happens.
func (p *Pipeline) export(w *worker, exported *arena.Arena) {
	defer p.pool.Release(exported)
	defer p.arenasFlushed.Add(1)

	batch, err := w.reframer.Reframe(exported.Bytes())
	if err != nil {
		p.logger.Error("reframing arena failed, discarding it",
			"bytes", exported.Len(),
			"error", err,
		)
		return
	}
	if !p.sendEnabled.Load() {
		p.logger.Debug("sending disabled, discarding batch",
			"groups", batch.GroupCount(),
			"records", batch.Records(),
		)
		return
	}

	if err := p.sender.Send(w.ctx, batch); err != nil {
		p.sendFailures.Add(1)
		p.logger.Warn("exporting batch failed, discarding it",
			"groups", batch.GroupCount(),
			"records", batch.Records(),
			"bytes", batch.Size(),
			"error", fmt.Errorf("%w: %w", ErrTransport, err),
		)
		return
	}
	p.recordsExported.Add(uint64(batch.Records()))
}

func (p *Pipeline) beginCycle() {
	p.mu.Lock()
	p.cycling = true
	p.mu.Unlock()
}

// completeCycle counts the cycle and wakes SyncFlush waiters.
func (p *Pipeline) completeCycle() {
	p.cycles.Add(1)
	p.mu.Lock()
	p.cycling = false
	close(p.cycleDone)
	p.cycleDone = make(chan struct{})
	p.mu.Unlock()
}
