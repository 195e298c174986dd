// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"encoding/hex"
	"io"

	"github.com/zeebo/blake3"
)

// payloadDomainKey keys the payload digest so it cannot collide with
// BLAKE3 hashes computed over the same bytes for other purposes. ASCII
// "spanpipe.payload", zero-padded to 32 bytes.
var payloadDomainKey = [32]byte{
	's', 'p', 'a', 'n', 'p', 'i', 'p', 'e', '.', 'p', 'a', 'y', 'l', 'o', 'a', 'd',
}

func newDigest() *blake3.Hasher {
	hasher, err := blake3.NewKeyed(payloadDomainKey[:])
	if err != nil {
		panic("collector: BLAKE3 keyed hasher initialization failed: " + err.Error())
	}
	return hasher
}

// PayloadDigest returns the hex digest sent in TrailerDigest for an
// uncompressed payload.
func PayloadDigest(payload []byte) string {
	hasher := newDigest()
	hasher.Write(payload)
	return hex.EncodeToString(hasher.Sum(nil))
}

// digestReader hashes everything read through it and reports the hex
// digest once, when source returns io.EOF. onEOF runs before the EOF is
// returned to the caller.
type digestReader struct {
	source io.Reader
	hasher *blake3.Hasher
	onEOF  func(digest string)
	done   bool
}

func (r *digestReader) Read(p []byte) (int, error) {
	n, err := r.source.Read(p)
	if n > 0 {
		r.hasher.Write(p[:n])
	}
	if err == io.EOF && !r.done {
		r.done = true
		r.onEOF(hex.EncodeToString(r.hasher.Sum(nil)))
	}
	return n, err
}
