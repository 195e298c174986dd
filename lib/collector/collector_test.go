// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/spanpipe/lib/arena"
	"github.com/bureau-foundation/spanpipe/lib/reframe"
	"github.com/bureau-foundation/spanpipe/lib/testutil"
)

type record struct {
	group   uint32
	payload []byte
}

// reframed writes records into a fresh arena and returns the reframed
// batch.
func reframed(t *testing.T, records []record) *reframe.Batch {
	t.Helper()
	pool, err := arena.NewPool(arena.PoolConfig{InitialCapacity: 64 << 10, MaxCapacity: 64 << 10, BacklogSlots: 1})
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
	batch, err := reframe.New().Reframe(pool.AcquireForExport().Bytes())
	if err != nil {
		t.Fatalf("Reframe: %v", err)
	}
	return batch
}

// startCollector serves receiver on a loopback port for the duration
// of the test and returns the server.
func startCollector(t *testing.T, receiver *Receiver) *Server {
	t.Helper()
	server, err := NewServer(ServerConfig{
		Address:         "127.0.0.1:0",
		Receiver:        receiver,
		ShutdownTimeout: 2 * time.Second,
		Logger:          testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, serveDone, 5*time.Second, "collector shutdown"); err != nil {
			t.Errorf("Serve() = %v", err)
		}
	})

	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "collector ready")
	if err := server.Err(); err != nil {
		t.Fatalf("collector failed to listen: %v", err)
	}
	return server
}

// startReceiver serves a Receiver at DefaultPath and returns the
// server plus the channel payloads are delivered on.
func startReceiver(t *testing.T) (*Server, <-chan *Payload, *Receiver) {
	t.Helper()
	payloads := make(chan *Payload, 16)
	receiver := NewReceiver(ReceiverConfig{
		Deliver: func(ctx context.Context, payload *Payload) error {
			payloads <- payload
			return nil
		},
		Logger: testutil.Logger(),
	})
	return startCollector(t, receiver), payloads, receiver
}
