// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source of the export loop and the blocking
// lifecycle calls.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTimer returns a Timer that delivers one event on its C
	// channel after duration d. A non-positive d fires immediately.
	NewTimer(d time.Duration) *Timer
}

// Timer is a single scheduled event. Callers that give up waiting
// must Stop it, otherwise a FakeClock keeps counting it as pending.
type Timer struct {
	// C delivers the timer event. Buffered with capacity 1.
	C <-chan time.Time

	stop  func() bool
	reset func(time.Duration) bool
}

// Stop prevents the Timer from firing. It reports whether the call
// stopped an active timer.
func (t *Timer) Stop() bool { return t.stop() }

// Reset reschedules the timer to fire after d and reports whether it
// was active.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }
