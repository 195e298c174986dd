// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reframe

import "io"

// NewReader returns a reader producing the framed document for b: the
// outer array head, then for every group its array head followed by
// its byte run. Bytes are produced as the reader is drained; only the
// current array head is held in scratch space.
//
// The batch must not be modified or reused while the reader is live.
func (b *Batch) NewReader(framing Framing) io.Reader {
	return &batchReader{batch: b, framing: framing}
}

type batchReader struct {
	batch   *Batch
	framing Framing

	head    [9]byte
	pending []byte

	started bool
	inRun   bool
	next    int
	offset  int
}

func (r *batchReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			if !r.advance() {
				break
			}
			continue
		}
		copied := copy(p[n:], r.pending)
		r.pending = r.pending[copied:]
		n += copied
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// advance loads the next chunk of the document into pending. Returns
// false once the document is complete.
func (r *batchReader) advance() bool {
	groups := r.batch.groups
	switch {
	case !r.started:
		r.started = true
		r.pending = r.framing.AppendArrayHead(r.head[:0], len(groups))
	case r.inRun:
		group := groups[r.next]
		r.pending = r.batch.data[r.offset : r.offset+group.Length]
		r.offset += group.Length
		r.next++
		r.inRun = false
	case r.next < len(groups):
		r.pending = r.framing.AppendArrayHead(r.head[:0], groups[r.next].Count)
		r.inRun = true
	default:
		return false
	}
	return true
}
