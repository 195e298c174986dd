// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestErrorBody(t *testing.T) {
	t.Run("returns body as string", func(t *testing.T) {
		got := ErrorBody(bytes.NewReader([]byte("payload digest mismatch\n")))
		if got != "payload digest mismatch" {
			t.Fatalf("got %q, want %q", got, "payload digest mismatch")
		}
	})

	t.Run("empty body", func(t *testing.T) {
		if got := ErrorBody(bytes.NewReader(nil)); got != "(empty body)" {
			t.Fatalf("got %q, want placeholder", got)
		}
	})

	t.Run("read error returns placeholder", func(t *testing.T) {
		if got := ErrorBody(&failReader{}); got != "(empty body)" {
			t.Fatalf("got %q from failing reader", got)
		}
	})

	t.Run("long body is truncated", func(t *testing.T) {
		got := ErrorBody(strings.NewReader(strings.Repeat("x", MaxErrorBody*2)))
		if !strings.HasSuffix(got, " [truncated]") {
			t.Fatalf("long body not marked truncated: ...%q", got[len(got)-20:])
		}
		if len(got) != MaxErrorBody+len(" [truncated]") {
			t.Fatalf("excerpt length = %d", len(got))
		}
	})
}

func TestDiscard(t *testing.T) {
	reader := strings.NewReader(strings.Repeat("y", int(MaxDiscard)+10))
	Discard(reader)
	if reader.Len() != 10 {
		t.Fatalf("%d bytes left unread, want 10", reader.Len())
	}
}

// failReader always returns an error on Read.
type failReader struct{}

func (*failReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("simulated read failure")
}
