// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline wires the arena pool, the record writer, the
// reframer and a Sender into one in-process span exporter.
//
// Producers call [Pipeline.Submit] with an encoded span and a group id
// obtained from [Pipeline.NextGroupID]. Submit never blocks beyond the
// pool's rotation critical section and never returns an error; a
// record that cannot be buffered is dropped and counted.
//
// One export goroutine (the worker) wakes on the flush interval or on
// an explicit flush signal, rotates the current arena out, and drains
// every filled backlog arena: reframe, send, release. Delivery is best
// effort and at most once. A failed send discards that arena's batch.
//
// The worker belongs to the process that started it. Every control
// call ([Pipeline.Start], [Pipeline.RequestFlush],
// [Pipeline.SyncFlush], [Pipeline.Shutdown], Suspend/Resume and the
// rotation slow path of Submit) first compares the live process
// identity with the recorded owner. On a mismatch the old worker
// handle is abandoned without being cancelled or joined and a fresh
// worker is started. The abandoned worker exits on its next wake-up.
//
// Lifecycle states:
//
//	NotStarted -> StartingUp -> Running <-> Suspended
//	Running/Suspended -> Draining -> Stopped
package pipeline
