// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

// Wire protocol header names.
const (
	HeaderClient        = "Spanpipe-Client"
	HeaderClientVersion = "Spanpipe-Client-Version"
	HeaderClientRuntime = "Spanpipe-Client-Runtime"
	HeaderRuntimeID     = "Spanpipe-Runtime-ID"
	HeaderContainerID   = "Spanpipe-Container-ID"
	HeaderGroupCount    = "Spanpipe-Group-Count"

	// TrailerDigest carries the hex BLAKE3 digest of the uncompressed
	// payload. Sent as an HTTP trailer.
	TrailerDigest = "Spanpipe-Payload-Digest"
)

// DefaultPath is the request path the collector serves spans on.
const DefaultPath = "/v1/spans"

// DefaultClientName is sent in HeaderClient when the sender is not
// given a name.
const DefaultClientName = "spanpipe-go"
