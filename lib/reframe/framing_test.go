// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reframe

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/bureau-foundation/spanpipe/lib/codec"
)

func TestCBORArrayHead(t *testing.T) {
	tests := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x80}},
		{23, []byte{0x97}},
		{24, []byte{0x98, 24}},
		{255, []byte{0x98, 0xff}},
		{256, []byte{0x99, 0x01, 0x00}},
		{65536, []byte{0x9a, 0x00, 0x01, 0x00, 0x00}},
	}
	for _, test := range tests {
		got := CBOR.AppendArrayHead(nil, test.n)
		if !bytes.Equal(got, test.want) {
			t.Errorf("AppendArrayHead(%d) = %x, want %x", test.n, got, test.want)
		}
	}
}

func TestMessagePackArrayHead(t *testing.T) {
	for _, n := range []int{0, 15, 16, 65535, 65536} {
		want, err := msgpack.Marshal(make([]struct{}, n))
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		got := MessagePack.AppendArrayHead([]byte("prefix"), n)
		if !bytes.HasPrefix(got, []byte("prefix")) {
			t.Fatalf("AppendArrayHead(%d) clobbered dst: %x", n, got)
		}
		head := got[len("prefix"):]
		if !bytes.HasPrefix(want, head) || len(head) > 9 {
			t.Errorf("AppendArrayHead(%d) = %x, want prefix of %x", n, head, want[:min(len(want), 5)])
		}
	}
}

func TestParseFraming(t *testing.T) {
	for name, want := range map[string]Framing{"": CBOR, "cbor": CBOR, "msgpack": MessagePack} {
		got, err := ParseFraming(name)
		if err != nil {
			t.Fatalf("ParseFraming(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("ParseFraming(%q) = %s, want %s", name, got.Name(), want.Name())
		}
	}
	if _, err := ParseFraming("protobuf"); err == nil {
		t.Fatal("ParseFraming accepted an unknown name")
	}
}

// reframedStrings submits each string encoded with marshal, grouped as
// given, and returns the reframed batch.
func reframedStrings(t *testing.T, marshal func(any) ([]byte, error), groups map[uint32][]string, order []uint32) *Batch {
	t.Helper()
	var records []record
	cursor := make(map[uint32]int)
	for _, group := range order {
		value := groups[group][cursor[group]]
		cursor[group]++
		encoded, err := marshal(value)
		if err != nil {
			t.Fatalf("encoding %q: %v", value, err)
		}
		records = append(records, record{group: group, payload: encoded})
	}
	batch, err := New().Reframe(fill(t, 4096, records).Bytes())
	if err != nil {
		t.Fatalf("Reframe: %v", err)
	}
	return batch
}

var (
	streamGroups = map[uint32][]string{
		10: {"alpha", "beta", "gamma"},
		20: {"delta"},
		30: {"epsilon", "zeta"},
	}
	streamOrder = []uint32{10, 20, 10, 30, 30, 10}
	streamWant  = [][]string{{"alpha", "beta", "gamma"}, {"delta"}, {"epsilon", "zeta"}}
)

func checkDecoded(t *testing.T, got [][]string) {
	t.Helper()
	if len(got) != len(streamWant) {
		t.Fatalf("decoded %d groups, want %d: %v", len(got), len(streamWant), got)
	}
	for i := range streamWant {
		if len(got[i]) != len(streamWant[i]) {
			t.Fatalf("group %d = %v, want %v", i, got[i], streamWant[i])
		}
		for j := range streamWant[i] {
			if got[i][j] != streamWant[i][j] {
				t.Fatalf("group %d = %v, want %v", i, got[i], streamWant[i])
			}
		}
	}
}

func TestStreamDecodesAsCBOR(t *testing.T) {
	batch := reframedStrings(t, codec.Marshal, streamGroups, streamOrder)

	body, err := io.ReadAll(batch.NewReader(CBOR))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	var decoded [][]string
	if err := codec.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	checkDecoded(t, decoded)
}

func TestStreamDecodesAsMessagePack(t *testing.T) {
	batch := reframedStrings(t, msgpack.Marshal, streamGroups, streamOrder)

	body, err := io.ReadAll(batch.NewReader(MessagePack))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	var decoded [][]string
	if err := msgpack.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	checkDecoded(t, decoded)
}

func TestStreamSmallReads(t *testing.T) {
	batch := reframedStrings(t, codec.Marshal, streamGroups, streamOrder)

	whole, err := io.ReadAll(batch.NewReader(CBOR))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if err := iotest.TestReader(batch.NewReader(CBOR), whole); err != nil {
		t.Fatal(err)
	}
	trickled, err := io.ReadAll(iotest.OneByteReader(batch.NewReader(CBOR)))
	if err != nil {
		t.Fatalf("ReadAll one byte at a time: %v", err)
	}
	if !bytes.Equal(trickled, whole) {
		t.Fatal("one-byte reads produced a different document")
	}
}

func TestStreamEmptyBatch(t *testing.T) {
	batch, err := New().Reframe(nil)
	if err != nil {
		t.Fatalf("Reframe: %v", err)
	}
	body, err := io.ReadAll(batch.NewReader(CBOR))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(body, []byte{0x80}) {
		t.Fatalf("empty batch = %x, want 80", body)
	}
}
