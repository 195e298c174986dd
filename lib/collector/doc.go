// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package collector implements both ends of the span export wire
// protocol.
//
// [HTTPSender] ships one reframed arena per HTTP POST. The body is a
// chunked stream pulled from [reframe.Batch.NewReader], optionally
// compressed (gzip, zstd or lz4) on the fly. Identity headers are built
// once per sender and cloned into every request. A BLAKE3 digest of
// the uncompressed payload travels as the HTTP trailer
// Spanpipe-Payload-Digest, so the sender never buffers the body to
// hash it.
//
// [Receiver] is the matching http.Handler: it undoes the content
// encoding, verifies the digest trailer and the group count header,
// decodes the array-of-arrays document into raw span encodings and
// hands the result to a callback. [Server] mounts a Receiver on its
// export path next to a health route and drains it on shutdown.
package collector
