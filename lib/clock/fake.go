// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{
		current: initial,
	}
	clock.waitersChanged = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for tests. Timers fire only when
// Advance moves the clock past their deadline.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*fakeWaiter
	waitersChanged *sync.Cond
}

// fakeWaiter is one timer registration.
type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time

	// stopped is set by Timer.Stop. Stopped waiters are skipped
	// during Advance and dropped from the pending list.
	stopped bool

	// fired prevents double delivery on overlapping Advance calls.
	fired bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewTimer returns a Timer that fires once the clock advances past
// now+d. A non-positive d fires immediately.
func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	waiter := &fakeWaiter{deadline: c.current.Add(d), channel: channel}
	if d <= 0 {
		waiter.fired = true
		channel <- c.current
	} else {
		c.addWaiterLocked(waiter)
	}

	return &Timer{
		C: channel,
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if waiter.stopped || waiter.fired {
				return false
			}
			waiter.stopped = true
			c.waitersChanged.Broadcast()
			return true
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := !waiter.stopped && !waiter.fired
			waiter.stopped = false
			waiter.fired = false
			waiter.deadline = c.current.Add(d)
			if !wasActive {
				c.addWaiterLocked(waiter)
			}
			return wasActive
		},
	}
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline falls within the new time, in deadline order. Channel
// sends are non-blocking.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	toFire := c.collectExpiredLocked(target)
	c.mu.Unlock()

	sort.Slice(toFire, func(i, j int) bool {
		return toFire[i].deadline.Before(toFire[j].deadline)
	})
	for _, waiter := range toFire {
		select {
		case waiter.channel <- target:
		default:
		}
	}
}

// collectExpiredLocked removes expired and stopped waiters from the
// pending list and returns the expired ones. Must be called with c.mu
// held.
func (c *FakeClock) collectExpiredLocked(target time.Time) []*fakeWaiter {
	var toFire []*fakeWaiter
	remaining := c.waiters[:0]
	for _, waiter := range c.waiters {
		switch {
		case waiter.stopped:
		case !waiter.deadline.After(target):
			waiter.fired = true
			toFire = append(toFire, waiter)
		default:
			remaining = append(remaining, waiter)
		}
	}
	clear(c.waiters[len(remaining):])
	c.waiters = remaining
	c.waitersChanged.Broadcast()
	return toFire
}

func (c *FakeClock) addWaiterLocked(waiter *fakeWaiter) {
	c.waiters = append(c.waiters, waiter)
	c.waitersChanged.Broadcast()
}

// WaitForTimers blocks until at least n waiters are pending
// (registered, not fired, not stopped). This removes the race between
// a goroutine registering a timer and the test advancing the clock.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingCountLocked() < n {
		c.waitersChanged.Wait()
	}
}

// PendingCount returns the number of active pending waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingCountLocked()
}

func (c *FakeClock) pendingCountLocked() int {
	count := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			count++
		}
	}
	return count
}
