// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"io"
	"log/slog"
	"os"
)

// Logger returns a text logger for tests. Output is discarded unless
// SPANPIPE_TEST_LOG is set, in which case it goes to stderr at Debug
// level.
func Logger() *slog.Logger {
	if os.Getenv("SPANPIPE_TEST_LOG") == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
