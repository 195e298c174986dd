// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reframe turns the raw record stream of one exported arena
// into a batch of per-group runs ready for the wire.
//
// A [Reframer] walks the arena, collects every record of a group into
// one contiguous run and tombstones the consumed records in place (see
// [arena.MarkConsumed]). The resulting [Batch] lists the groups in
// order of first appearance together with their element counts and
// byte lengths.
//
// On the wire a batch is one array-of-arrays document: an outer array
// head carrying the group count, then per group an array head carrying
// the element count followed by the group's concatenated record
// payloads. The payloads are expected to be self-delimiting encodings
// in the same format as the framing ([CBOR] or [MessagePack]), so the
// request body decodes as a single value. [Batch.NewReader] produces
// the document on demand without materializing it.
package reframe
