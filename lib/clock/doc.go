// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for the export
// pipeline.
//
// The pipeline takes a Clock instead of calling time.Now or
// time.NewTimer directly. Real() is the wall clock. Fake() is a
// deterministic clock that moves only when Advance is called, so tests
// drive the export loop's flush interval without sleeping.
//
// # FakeClock Synchronization
//
// A goroutine calling NewTimer on a FakeClock registers a pending
// waiter. Use WaitForTimers to block until a given
// number of waiters exist before calling Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	p := pipeline.New(pipeline.Config{Clock: c, ...})
//	p.Start()
//	c.WaitForTimers(1)         // export loop is waiting for its interval
//	c.Advance(time.Second)     // fire the flush deterministically
package clock
