// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import "errors"

var (
	// ErrTransport wraps a Sender failure. The batch is discarded.
	ErrTransport = errors.New("pipeline: transport failure")

	// ErrShutdownTimeout is logged when the worker does not drain
	// within the Shutdown timeout.
	ErrShutdownTimeout = errors.New("pipeline: shutdown timed out")
)
