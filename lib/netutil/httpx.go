// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers for the exporter and the
// collector.
//
// Response bodies are always read through a limit so that a
// misbehaving collector cannot make the exporter allocate without
// bound. ErrorBody keeps a short excerpt for error messages; Discard
// drains a body so the connection can go back to the idle pool.
package netutil

import (
	"io"
	"strings"
)

// MaxErrorBody is the number of response bytes ErrorBody keeps.
const MaxErrorBody = 4 << 10

// MaxDiscard is the number of response bytes Discard reads before
// giving up on connection reuse.
const MaxDiscard int64 = 256 << 10

// ErrorBody reads an HTTP error response body and returns a trimmed
// excerpt for diagnostic error messages. Read errors are silently
// ignored: a partial or empty body is still useful in an error
// message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBody+1))
	excerpt := strings.TrimSpace(string(data[:min(len(data), MaxErrorBody)]))
	if len(data) > MaxErrorBody {
		excerpt += " [truncated]"
	}
	if excerpt == "" {
		return "(empty body)"
	}
	return excerpt
}

// Discard reads and drops up to MaxDiscard bytes of body.
func Discard(body io.Reader) {
	io.Copy(io.Discard, io.LimitReader(body, MaxDiscard))
}
