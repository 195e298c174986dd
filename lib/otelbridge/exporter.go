// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package otelbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/bureau-foundation/spanpipe/lib/pipeline"
	"github.com/bureau-foundation/spanpipe/lib/schema/span"
)

// ErrDropped is returned by ExportSpans when the pipeline refused some
// of the spans.
var ErrDropped = errors.New("otelbridge: spans dropped by the pipeline")

// Pipeline is the part of *pipeline.Pipeline the exporter uses.
type Pipeline interface {
	Submit(group uint32, payload []byte) bool
	NextGroupID() uint32
	Shutdown(timeout time.Duration) bool
}

// Config configures an Exporter.
type Config struct {
	// Pipeline receives the encoded spans. Required.
	Pipeline Pipeline

	// Format is the span encoding. It must match the framing of the
	// pipeline's sender. Defaults to span.FormatCBOR.
	Format span.Format

	// ShutdownTimeout bounds the pipeline drain in Shutdown when the
	// context carries no earlier deadline. Defaults to 5 seconds.
	ShutdownTimeout time.Duration

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// Exporter is an sdktrace.SpanExporter feeding a span pipeline.
type Exporter struct {
	pipeline        Pipeline
	format          span.Format
	shutdownTimeout time.Duration
	logger          *slog.Logger

	// mu guards buffer, the encoding scratch space reused across
	// spans.
	mu     sync.Mutex
	buffer []byte

	submitted atomic.Uint64
	dropped   atomic.Uint64
	stopped   atomic.Bool
}

var _ sdktrace.SpanExporter = (*Exporter)(nil)

// ExporterStats is a snapshot of exporter counters.
type ExporterStats struct {
	Submitted uint64
	Dropped   uint64
}

// NewExporter validates config and returns an Exporter.
func NewExporter(config Config) (*Exporter, error) {
	if config.Pipeline == nil {
		return nil, errors.New("otelbridge: Pipeline is required")
	}
	if config.Logger == nil {
		return nil, errors.New("otelbridge: Logger is required")
	}
	format, err := span.ParseFormat(string(config.Format))
	if err != nil {
		return nil, fmt.Errorf("otelbridge: %w", err)
	}
	timeout := config.ShutdownTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Exporter{
		pipeline:        config.Pipeline,
		format:          format,
		shutdownTimeout: timeout,
		logger:          config.Logger,
		buffer:          make([]byte, 0, 1024),
	}, nil
}

// ExportSpans encodes spans and submits them, one group per trace id
// within the call.
func (e *Exporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.stopped.Load() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	groups := make(map[trace.TraceID]uint32)
	dropped := 0
	for _, readOnly := range spans {
		traceID := readOnly.SpanContext().TraceID()
		group, ok := groups[traceID]
		if !ok {
			group = e.pipeline.NextGroupID()
			groups[traceID] = group
		}

		record := Convert(readOnly)
		encoded, err := record.AppendEncode(e.buffer[:0], e.format)
		if err != nil {
			e.logger.Warn("encoding span failed", "name", record.Name, "error", err)
			dropped++
			continue
		}
		e.buffer = encoded
		if !e.pipeline.Submit(group, encoded) {
			dropped++
		}
	}

	e.submitted.Add(uint64(len(spans) - dropped))
	if dropped > 0 {
		e.dropped.Add(uint64(dropped))
		return fmt.Errorf("%w: %d of %d", ErrDropped, dropped, len(spans))
	}
	return nil
}

// Shutdown drains and stops the pipeline. The drain is bounded by the
// earlier of ctx's deadline and the configured shutdown timeout.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e.stopped.Swap(true) {
		return nil
	}
	timeout := e.shutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = max(remaining, 0)
		}
	}
	if !e.pipeline.Shutdown(timeout) {
		return pipeline.ErrShutdownTimeout
	}
	return nil
}

// Stats returns a snapshot of the exporter counters.
func (e *Exporter) Stats() ExporterStats {
	return ExporterStats{
		Submitted: e.submitted.Load(),
		Dropped:   e.dropped.Load(),
	}
}
