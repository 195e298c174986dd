// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for spanpipe packages.
//
// [RequireReceive], [RequireNoReceive] and [RequireClosed] wrap the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls. Export loop tests drive
// time through a fake clock; these helpers are the only place real
// wall-clock timeouts bound a test.
//
// [Logger] returns a logger that discards everything, or writes to
// stderr when SPANPIPE_TEST_LOG is set, for the components whose
// constructors require one.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no spanpipe-internal dependencies.
package testutil
