// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package otelbridge plugs a span pipeline into the OpenTelemetry
// SDK. [Exporter] implements sdktrace.SpanExporter: register it with
// sdktrace.WithSyncer (or WithBatcher) and every finished span is
// converted to a [span.Span], encoded and submitted to the pipeline
// under one group id per trace.
//
// ExportSpans never blocks on the network. It returns once the spans
// are in the pipeline's arena; the pipeline's own export loop ships
// them.
package otelbridge
