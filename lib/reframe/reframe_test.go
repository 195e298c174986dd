// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reframe

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bureau-foundation/spanpipe/lib/arena"
)

type record struct {
	group   uint32
	payload []byte
}

// fill writes records through a Writer and returns the arena holding
// them, acquired for export.
func fill(t *testing.T, capacity int, records []record) *arena.Arena {
	t.Helper()
	pool, err := arena.NewPool(arena.PoolConfig{InitialCapacity: capacity, MaxCapacity: capacity, BacklogSlots: 1})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if err := pool.Rotate(true, 0); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	writer := arena.NewWriter(arena.WriterConfig{Pool: pool})
	for i, record := range records {
		if err := writer.TrySubmit(record.group, record.payload); err != nil {
			t.Fatalf("TrySubmit(%d): %v", i, err)
		}
	}
	if err := pool.Rotate(false, 0); err != nil {
		t.Fatalf("parking arena: %v", err)
	}
	exported := pool.AcquireForExport()
	if exported == nil {
		t.Fatal("no arena to export")
	}
	return exported
}

func TestReframeSingleGroup(t *testing.T) {
	records := make([]record, 2000)
	for i := range records {
		records[i] = record{group: 0, payload: make([]byte, 10)}
	}
	exported := fill(t, 128*1024, records)

	batch, err := New().Reframe(exported.Bytes())
	if err != nil {
		t.Fatalf("Reframe: %v", err)
	}
	if batch.GroupCount() != 1 {
		t.Fatalf("GroupCount() = %d, want 1", batch.GroupCount())
	}
	group := batch.Groups()[0]
	if group.ID != 0 || group.Count != 2000 || group.Length != 20000 {
		t.Fatalf("group = %+v, want {ID:0 Count:2000 Length:20000}", group)
	}
	if batch.Records() != 2000 || batch.Size() != 20000 {
		t.Fatalf("Records() = %d, Size() = %d", batch.Records(), batch.Size())
	}
}

func TestReframeInterleavedGroups(t *testing.T) {
	exported := fill(t, 4096, []record{
		{1, []byte("a1")},
		{2, []byte("b1")},
		{1, []byte("a22")},
		{3, []byte("c1")},
		{2, []byte("b22")},
		{1, []byte("a333")},
	})

	batch, err := New().Reframe(exported.Bytes())
	if err != nil {
		t.Fatalf("Reframe: %v", err)
	}

	want := []struct {
		group Group
		run   string
	}{
		{Group{ID: 1, Count: 3, Length: 9}, "a1a22a333"},
		{Group{ID: 2, Count: 2, Length: 5}, "b1b22"},
		{Group{ID: 3, Count: 1, Length: 2}, "c1"},
	}
	if batch.GroupCount() != len(want) {
		t.Fatalf("GroupCount() = %d, want %d", batch.GroupCount(), len(want))
	}
	index := 0
	err = batch.Each(func(group Group, run []byte) error {
		if group != want[index].group {
			t.Errorf("group %d = %+v, want %+v", index, group, want[index].group)
		}
		if string(run) != want[index].run {
			t.Errorf("run %d = %q, want %q", index, run, want[index].run)
		}
		index++
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if batch.Records() != 6 {
		t.Fatalf("Records() = %d, want 6", batch.Records())
	}
}

func TestReframeTombstonesConsumedRecords(t *testing.T) {
	exported := fill(t, 1024, []record{{5, []byte("x")}, {6, []byte("y")}})
	data := exported.Bytes()

	reframer := New()
	if _, err := reframer.Reframe(data); err != nil {
		t.Fatalf("Reframe: %v", err)
	}
	for offset := 0; offset < len(data); {
		length, group, err := arena.ReadHeader(data, offset)
		if err != nil {
			t.Fatalf("ReadHeader: %v", err)
		}
		if group != arena.Tombstone {
			t.Fatalf("record at %d still has group %d", offset, group)
		}
		offset += arena.HeaderSize + length
	}

	batch, err := reframer.Reframe(data)
	if err != nil {
		t.Fatalf("second Reframe: %v", err)
	}
	if batch.GroupCount() != 0 || batch.Records() != 0 {
		t.Fatalf("second Reframe produced %d groups", batch.GroupCount())
	}
}

func TestReframeEmpty(t *testing.T) {
	batch, err := New().Reframe(nil)
	if err != nil {
		t.Fatalf("Reframe(nil): %v", err)
	}
	if batch.GroupCount() != 0 || batch.Size() != 0 {
		t.Fatalf("empty input produced %+v", batch.Groups())
	}
}

func TestReframeCorruptArena(t *testing.T) {
	exported := fill(t, 1024, []record{{1, []byte("abcd")}, {2, []byte("efgh")}})
	data := exported.Bytes()

	if _, err := New().Reframe(data[:len(data)-2]); !errors.Is(err, arena.ErrCorruptRecord) {
		t.Fatalf("Reframe of truncated data: err = %v, want ErrCorruptRecord", err)
	}
}

func TestReframerReusesScratch(t *testing.T) {
	reframer := New()

	first := fill(t, 1024, []record{{1, bytes.Repeat([]byte("x"), 100)}})
	batch, err := reframer.Reframe(first.Bytes())
	if err != nil {
		t.Fatalf("Reframe: %v", err)
	}
	if batch.Size() != 100 {
		t.Fatalf("Size() = %d, want 100", batch.Size())
	}

	second := fill(t, 1024, []record{{2, []byte("yy")}, {3, []byte("z")}})
	batch, err = reframer.Reframe(second.Bytes())
	if err != nil {
		t.Fatalf("second Reframe: %v", err)
	}
	if batch.GroupCount() != 2 || batch.Size() != 3 || batch.Records() != 2 {
		t.Fatalf("second batch = %+v size %d", batch.Groups(), batch.Size())
	}
}
