// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package span defines the span record producers submit to the
// pipeline and the collector decodes.
//
// A span is encoded once, by the producer, in the wire format the
// pipeline frames its payloads with: CBOR (via lib/codec) or
// MessagePack. [Format] names the encoding and maps to the matching
// [reframe.Framing], so a request body is one decodable document of
// groups of spans. Both encodings take their field names from the
// `json` tags (see lib/codec doc.go for the tagging convention).
//
// Trace and span ids are raw bytes on the binary wire and lowercase
// hex in JSON.
package span
