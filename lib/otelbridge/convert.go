// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package otelbridge

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/bureau-foundation/spanpipe/lib/schema/span"
)

// Attribute keys with a dedicated Span field.
const (
	serviceNameKey  = attribute.Key("service.name")
	resourceNameKey = attribute.Key("resource.name")
	spanTypeKey     = attribute.Key("span.type")
)

// Meta keys set by Convert.
const (
	MetaErrorMessage = "error.message"
	MetaSpanKind     = "span.kind"
	MetaScope        = "otel.scope.name"
)

// Convert maps an OpenTelemetry span to a span.Span.
//
// Service comes from the service.name resource attribute. Resource
// and Type come from the resource.name and span.type attributes when
// present, otherwise from the span name and kind. Numeric attributes
// become Metrics and everything else becomes Meta.
func Convert(readOnly sdktrace.ReadOnlySpan) span.Span {
	spanContext := readOnly.SpanContext()
	record := span.Span{
		TraceID:  span.TraceID(spanContext.TraceID()),
		SpanID:   span.SpanID(spanContext.SpanID()),
		ParentID: span.SpanID(readOnly.Parent().SpanID()),
		Name:     readOnly.Name(),
		Resource: readOnly.Name(),
		Type:     kindType(readOnly.SpanKind()),
		Start:    readOnly.StartTime().UnixNano(),
		Duration: readOnly.EndTime().Sub(readOnly.StartTime()).Nanoseconds(),
	}
	if service, ok := readOnly.Resource().Set().Value(serviceNameKey); ok {
		record.Service = service.Emit()
	}

	meta := map[string]string{MetaSpanKind: readOnly.SpanKind().String()}
	if scope := readOnly.InstrumentationScope().Name; scope != "" {
		meta[MetaScope] = scope
	}
	var metrics map[string]float64
	for _, attr := range readOnly.Attributes() {
		switch attr.Key {
		case resourceNameKey:
			record.Resource = attr.Value.Emit()
			continue
		case spanTypeKey:
			record.Type = attr.Value.Emit()
			continue
		}
		switch attr.Value.Type() {
		case attribute.INT64:
			if metrics == nil {
				metrics = make(map[string]float64)
			}
			metrics[string(attr.Key)] = float64(attr.Value.AsInt64())
		case attribute.FLOAT64:
			if metrics == nil {
				metrics = make(map[string]float64)
			}
			metrics[string(attr.Key)] = attr.Value.AsFloat64()
		case attribute.BOOL:
			meta[string(attr.Key)] = strconv.FormatBool(attr.Value.AsBool())
		default:
			meta[string(attr.Key)] = attr.Value.Emit()
		}
	}

	if status := readOnly.Status(); status.Code == codes.Error {
		record.Error = true
		if status.Description != "" {
			meta[MetaErrorMessage] = status.Description
		}
	}
	record.Meta = meta
	record.Metrics = metrics
	return record
}

func kindType(kind trace.SpanKind) string {
	switch kind {
	case trace.SpanKindServer:
		return "web"
	case trace.SpanKindClient:
		return "http"
	case trace.SpanKindProducer, trace.SpanKindConsumer:
		return "queue"
	default:
		return "custom"
	}
}
