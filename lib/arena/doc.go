// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package arena provides the bounded buffer pool that request
// handlers write encoded spans into.
//
// An [Arena] is a fixed-capacity byte region with three atomic
// counters: the write cursor (position), the committed byte count and
// the number of writers currently holding it. A [Pool] owns one
// "current" arena that all producers share plus a fixed number of
// backlog slots holding arenas that are either waiting for export or
// free for reuse.
//
// Records are laid out back to back:
//
//	[length uint32 LE][group uint32 LE][payload ...]
//
// The group field of a consumed record is overwritten with
// [Tombstone]; that group id is reserved and never accepted from a
// producer.
//
// Producers use [Writer.Submit], which never blocks beyond the pool's
// short rotation critical section: a record that does not fit after
// one rotation is dropped. The single exporter takes filled arenas out
// of the backlog with [Pool.AcquireForExport], owns them exclusively
// until it hands them back with [Pool.Release], and may therefore
// mutate them in place.
package arena
