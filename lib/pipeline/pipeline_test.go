// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/spanpipe/lib/arena"
	"github.com/bureau-foundation/spanpipe/lib/clock"
	"github.com/bureau-foundation/spanpipe/lib/reframe"
	"github.com/bureau-foundation/spanpipe/lib/testutil"
)

const testInterval = time.Hour

// capturedBatch is a copy of a batch taken inside Send.
type capturedBatch struct {
	groups []reframe.Group
	runs   [][]byte
}

func (b capturedBatch) records() int {
	total := 0
	for _, group := range b.groups {
		total += group.Count
	}
	return total
}

// recordingSender captures every batch it is given.
type recordingSender struct {
	batches chan capturedBatch
	fail    atomic.Bool
	stall   atomic.Bool
	calls   atomic.Int32

	// deadline is set when a Send context carried a deadline.
	deadline atomic.Bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{batches: make(chan capturedBatch, 1024)}
}

func (s *recordingSender) Send(ctx context.Context, batch *reframe.Batch) error {
	s.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		s.deadline.Store(true)
	}
	if s.stall.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	captured := capturedBatch{groups: append([]reframe.Group(nil), batch.Groups()...)}
	batch.Each(func(_ reframe.Group, run []byte) error {
		captured.runs = append(captured.runs, append([]byte(nil), run...))
		return nil
	})
	s.batches <- captured
	if s.fail.Load() {
		return errors.New("collector unavailable")
	}
	return nil
}

type testPipeline struct {
	*Pipeline
	sender   *recordingSender
	clock    *clock.FakeClock
	identity *atomic.Int64
}

func newTestPipeline(t *testing.T, modify func(*Config)) *testPipeline {
	t.Helper()
	sender := newRecordingSender()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	identity := &atomic.Int64{}
	identity.Store(1000)

	config := Config{
		Pool: arena.PoolConfig{
			InitialCapacity: 128 << 10,
			MaxCapacity:     1 << 20,
			BacklogSlots:    4,
		},
		FlushInterval: testInterval,
		SendEnabled:   true,
		Sender:        sender,
		Clock:         fake,
		Identity:      func() int { return int(identity.Load()) },
		Logger:        testutil.Logger(),
	}
	if modify != nil {
		modify(&config)
	}
	p, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Shutdown(5 * time.Second) })
	return &testPipeline{Pipeline: p, sender: sender, clock: fake, identity: identity}
}

// syncFlush runs SyncFlush with a timeout the fake clock never
// reaches.
func (p *testPipeline) syncFlush(t *testing.T) bool {
	t.Helper()
	return p.SyncFlush(time.Minute)
}

func (p *testPipeline) receive(t *testing.T) capturedBatch {
	t.Helper()
	return testutil.RequireReceive(t, p.sender.batches, 5*time.Second, "waiting for batch")
}

func (p *testPipeline) expectNoBatch(t *testing.T) {
	t.Helper()
	testutil.RequireNoReceive(t, p.sender.batches, "no batch expected")
}

func TestSyncFlushSingleGroup(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.Start()

	payload := make([]byte, 10)
	for i := range 2000 {
		if !p.Submit(0, payload) {
			t.Fatalf("Submit %d failed", i)
		}
	}
	if !p.syncFlush(t) {
		t.Fatal("SyncFlush = false with 2000 buffered records")
	}

	batch := p.receive(t)
	if len(batch.groups) != 1 {
		t.Fatalf("batch has %d groups, want 1", len(batch.groups))
	}
	if group := batch.groups[0]; group.ID != 0 || group.Count != 2000 || group.Length != 20000 {
		t.Fatalf("group = %+v, want {ID:0 Count:2000 Length:20000}", group)
	}
	stats := p.Stats()
	if stats.Pool.AllocationFailures != 0 {
		t.Fatalf("AllocationFailures = %d, want 0", stats.Pool.AllocationFailures)
	}
	if stats.RecordsExported != 2000 || stats.ArenasFlushed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSyncFlushWithNothingPending(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.Start()
	if p.syncFlush(t) {
		t.Fatal("SyncFlush = true with nothing buffered")
	}
	if p.Stats().Cycles == 0 {
		t.Fatal("SyncFlush returned before a cycle completed")
	}
	p.expectNoBatch(t)
}

func TestControlCallsBeforeStart(t *testing.T) {
	p := newTestPipeline(t, nil)
	if p.State() != StateNotStarted {
		t.Fatalf("State() = %s, want not-started", p.State())
	}
	if p.RequestFlush() {
		t.Fatal("RequestFlush = true without a worker")
	}
	if p.SyncFlush(time.Minute) {
		t.Fatal("SyncFlush = true without a worker")
	}

	// Records buffered before Start go out with the first cycle.
	if !p.Submit(7, []byte("early")) {
		t.Fatal("Submit before Start failed")
	}
	p.Start()
	if !p.syncFlush(t) {
		t.Fatal("SyncFlush after Start = false")
	}
	if batch := p.receive(t); string(batch.runs[0]) != "early" {
		t.Fatalf("run = %q, want early", batch.runs[0])
	}
}

func TestStartIsIdempotent(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.Start()
	first := p.worker
	p.Start()
	if p.worker != first {
		t.Fatal("second Start replaced the worker")
	}
}

func TestFlushInterval(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.Start()
	p.Submit(1, []byte("tick"))

	p.clock.WaitForTimers(1)
	p.expectNoBatch(t)
	p.clock.Advance(testInterval)

	batch := p.receive(t)
	if len(batch.groups) != 1 || batch.groups[0].ID != 1 {
		t.Fatalf("batch groups = %+v", batch.groups)
	}
}

func TestRequestFlush(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.Start()
	p.Submit(1, []byte("now"))
	if !p.RequestFlush() {
		t.Fatal("RequestFlush = false with a running worker")
	}
	p.receive(t)
}

func TestPressureTriggersFlush(t *testing.T) {
	p := newTestPipeline(t, func(config *Config) {
		config.Pool = arena.PoolConfig{InitialCapacity: 1024, MaxCapacity: 1024, BacklogSlots: 4}
		config.PressurePercent = 50
	})
	p.Start()

	payload := make([]byte, 56)
	for range 8 {
		p.Submit(3, payload)
	}
	batch := p.receive(t)
	if batch.groups[0].ID != 3 {
		t.Fatalf("batch groups = %+v", batch.groups)
	}
}

func TestInterleavedGroupsStayContiguous(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.Start()

	traceA, traceB := p.NextGroupID(), p.NextGroupID()
	p.Submit(traceA, []byte("a1"))
	p.Submit(traceB, []byte("b1"))
	p.Submit(traceA, []byte("a2"))
	p.Submit(traceB, []byte("b2"))
	p.Submit(traceA, []byte("a3"))
	p.syncFlush(t)

	batch := p.receive(t)
	if len(batch.groups) != 2 {
		t.Fatalf("batch has %d groups, want 2", len(batch.groups))
	}
	if string(batch.runs[0]) != "a1a2a3" || string(batch.runs[1]) != "b1b2" {
		t.Fatalf("runs = %q", batch.runs)
	}
}

func TestNextGroupIDSkipsTombstone(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.groupID.Store(arena.Tombstone - 2)
	if got := p.NextGroupID(); got != arena.Tombstone-1 {
		t.Fatalf("NextGroupID() = %d, want %d", got, arena.Tombstone-1)
	}
	if got := p.NextGroupID(); got != 0 {
		t.Fatalf("NextGroupID() after wraparound = %d, want 0", got)
	}
}

func TestSetSendEnabled(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.Start()

	if previous := p.SetSendEnabled(false); !previous {
		t.Fatal("SetSendEnabled(false) reported sending was off")
	}
	p.Submit(1, []byte("dropped on the floor"))
	if !p.syncFlush(t) {
		t.Fatal("SyncFlush = false with sending disabled; the arena should still drain")
	}
	p.expectNoBatch(t)

	if previous := p.SetSendEnabled(true); previous {
		t.Fatal("SetSendEnabled(true) reported sending was on")
	}
	p.Submit(1, []byte("shipped"))
	p.syncFlush(t)
	if batch := p.receive(t); string(batch.runs[0]) != "shipped" {
		t.Fatalf("run = %q", batch.runs[0])
	}
}

func TestSendFailureDiscardsBatch(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.Start()

	p.sender.fail.Store(true)
	p.Submit(1, []byte("lost"))
	if !p.syncFlush(t) {
		t.Fatal("SyncFlush = false; a failed send still processes the arena")
	}
	p.receive(t)
	if got := p.Stats().SendFailures; got != 1 {
		t.Fatalf("SendFailures = %d, want 1", got)
	}

	p.sender.fail.Store(false)
	p.Submit(2, []byte("kept"))
	p.syncFlush(t)
	batch := p.receive(t)
	if len(batch.groups) != 1 || string(batch.runs[0]) != "kept" {
		t.Fatalf("failed batch was retried: runs = %q", batch.runs)
	}
}

func TestSuspendResume(t *testing.T) {
	p := newTestPipeline(t, nil)
	if p.Suspend() {
		t.Fatal("Suspend succeeded before Start")
	}
	p.Start()
	p.syncFlush(t) // the worker is past StartingUp once a cycle completed

	if !p.Suspend() {
		t.Fatal("Suspend failed on a running pipeline")
	}
	if p.State() != StateSuspended {
		t.Fatalf("State() = %s, want suspended", p.State())
	}
	p.Submit(1, []byte("held"))
	if !p.Resume() {
		t.Fatal("Resume failed on a suspended pipeline")
	}
	if p.State() != StateRunning {
		t.Fatalf("State() = %s, want running", p.State())
	}
	if batch := p.receive(t); string(batch.runs[0]) != "held" {
		t.Fatalf("run = %q", batch.runs[0])
	}
	if p.Resume() {
		t.Fatal("Resume succeeded on a running pipeline")
	}
}

func TestShutdownDrainsAndStops(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.Start()
	for i := range 100 {
		p.Submit(uint32(i%5), []byte("span"))
	}

	if !p.Shutdown(5 * time.Second) {
		t.Fatal("Shutdown = false")
	}
	if p.State() != StateStopped {
		t.Fatalf("State() = %s, want stopped", p.State())
	}

	total := 0
	for {
		select {
		case batch := <-p.sender.batches:
			total += batch.records()
			continue
		default:
		}
		break
	}
	if total != 100 {
		t.Fatalf("drained %d records, want 100", total)
	}

	if p.Submit(1, []byte("late")) {
		t.Fatal("Submit succeeded after Shutdown")
	}
}

func TestShutdownTwice(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.Start()
	if !p.Shutdown(5 * time.Second) {
		t.Fatal("first Shutdown = false")
	}
	cycles := p.Stats().Cycles
	if !p.Shutdown(5 * time.Second) {
		t.Fatal("second Shutdown = false")
	}
	if p.worker != nil {
		t.Fatal("second Shutdown left a worker behind")
	}
	if p.Stats().Cycles != cycles {
		t.Fatal("second Shutdown ran another cycle")
	}

	p.Start()
	if p.worker != nil || p.State() != StateStopped {
		t.Fatal("Start revived a stopped pipeline")
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	p := newTestPipeline(t, nil)
	if !p.Shutdown(time.Second) {
		t.Fatal("Shutdown of an unstarted pipeline = false")
	}
	if p.State() != StateStopped {
		t.Fatalf("State() = %s, want stopped", p.State())
	}
}

func TestShutdownWithoutStartReportsDiscardedRecords(t *testing.T) {
	var output bytes.Buffer
	p := newTestPipeline(t, func(config *Config) {
		config.Logger = slog.New(slog.NewTextHandler(&output, nil))
	})
	if !p.Submit(3, []byte("early")) {
		t.Fatal("Submit before Start failed")
	}
	if !p.Shutdown(time.Second) {
		t.Fatal("Shutdown of an unstarted pipeline = false")
	}
	logged := output.String()
	if !strings.Contains(logged, "discarding records submitted before Start") || !strings.Contains(logged, "bytes=") {
		t.Fatalf("Shutdown did not report discarded records, log:\n%s", logged)
	}
	if p.sender.calls.Load() != 0 {
		t.Fatal("records submitted before Start were sent without a worker")
	}
}

func TestShutdownWithoutStartOrRecordsIsQuiet(t *testing.T) {
	var output bytes.Buffer
	p := newTestPipeline(t, func(config *Config) {
		config.Logger = slog.New(slog.NewTextHandler(&output, nil))
	})
	p.Shutdown(time.Second)
	if strings.Contains(output.String(), "discarding") {
		t.Fatalf("Shutdown with nothing buffered logged a discard:\n%s", output.String())
	}
}

func TestSendContextCarriesNoPipelineDeadline(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.Start()
	p.Submit(0, []byte("x"))
	if !p.syncFlush(t) {
		t.Fatal("SyncFlush = false")
	}
	p.receive(t)
	if p.sender.deadline.Load() {
		t.Fatal("pipeline imposed a deadline on Send; request timeouts belong to the sender")
	}
}

func TestIdentityChangeRestartsWorker(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.Start()
	original := p.worker
	p.clock.WaitForTimers(1)

	p.identity.Store(2000)
	p.Submit(1, []byte("before"))

	// Submit's fast path does not look at the identity; the next
	// control call does.
	if p.worker != original {
		t.Fatal("worker replaced by a fast-path Submit")
	}
	if !p.RequestFlush() {
		t.Fatal("RequestFlush = false after restart")
	}
	if p.worker == original || p.worker == nil {
		t.Fatal("identity change did not start a new worker")
	}
	if p.worker.owner != 2000 {
		t.Fatalf("new worker owner = %d, want 2000", p.worker.owner)
	}

	p.Submit(1, []byte("after"))
	p.syncFlush(t)

	var runs []string
	for len(runs) < 2 {
		batch := p.receive(t)
		for _, run := range batch.runs {
			runs = append(runs, string(run))
		}
	}
	joined := strings.Join(runs, ",")
	if !strings.Contains(joined, "before") || !strings.Contains(joined, "after") {
		t.Fatalf("exported runs = %q, want both records", joined)
	}

	// The abandoned worker exits on its next wake-up.
	p.clock.Advance(testInterval)
	testutil.RequireClosed(t, original.done, 5*time.Second, "abandoned worker exit")
}

func TestSubmitSlowPathChecksIdentity(t *testing.T) {
	p := newTestPipeline(t, func(config *Config) {
		config.Pool = arena.PoolConfig{InitialCapacity: 64, MaxCapacity: 64, BacklogSlots: 4}
	})
	p.Start()
	original := p.worker

	p.identity.Store(3000)
	payload := make([]byte, 40)
	p.Submit(1, payload)
	p.Submit(1, payload) // does not fit; rotates through the slow path
	if p.worker == original {
		t.Fatal("rotation slow path did not restart the worker")
	}
}

func TestSyncFlushReturnsWhileSenderStalls(t *testing.T) {
	p := newTestPipeline(t, func(config *Config) {
		config.Clock = clock.Real()
	})
	p.sender.stall.Store(true)
	p.Start()
	p.Submit(1, []byte("stuck"))

	start := time.Now()
	if p.SyncFlush(100 * time.Millisecond) {
		t.Fatal("SyncFlush = true while the only arena is stuck in Send")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("SyncFlush took %v with a 100ms timeout", elapsed)
	}

	// Shutdown times out, cancels the stalled send and joins.
	if p.Shutdown(100 * time.Millisecond) {
		t.Fatal("Shutdown = true with a stalled sender")
	}
	if p.State() != StateStopped {
		t.Fatalf("State() after forced shutdown = %s, want stopped", p.State())
	}
	if p.worker != nil {
		t.Fatal("forced shutdown did not join the worker")
	}
}

func TestShutdownTimeoutAfterIdentityChange(t *testing.T) {
	p := newTestPipeline(t, func(config *Config) {
		config.Clock = clock.Real()
	})
	p.sender.stall.Store(true)
	p.Start()
	p.Submit(1, []byte("stuck"))
	p.RequestFlush()
	for p.sender.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	worker := p.worker

	// The identity changes while Shutdown waits.
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.identity.Store(4000)
	}()
	if p.Shutdown(100 * time.Millisecond) {
		t.Fatal("Shutdown = true with a stalled sender")
	}
	if worker.ctx.Err() != nil {
		t.Fatal("Shutdown cancelled a worker that predates an identity change")
	}
	worker.cancel()
	testutil.RequireClosed(t, worker.done, 5*time.Second, "worker exit after test cancel")
}

func TestConcurrentSubmitAndFlush(t *testing.T) {
	const (
		producers = 8
		perWorker = 1000
	)
	p := newTestPipeline(t, func(config *Config) {
		config.Pool = arena.PoolConfig{InitialCapacity: 4096, MaxCapacity: 4096, BacklogSlots: 64}
	})
	p.Start()

	var waitGroup sync.WaitGroup
	for producer := range producers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			group := p.NextGroupID()
			for i := range perWorker {
				p.Submit(group, []byte{byte(producer), byte(i)})
				if i%250 == 0 {
					p.RequestFlush()
				}
			}
		}()
	}
	waitGroup.Wait()
	if !p.Shutdown(10 * time.Second) {
		t.Fatal("Shutdown = false")
	}

	exported := 0
	for {
		select {
		case batch := <-p.sender.batches:
			exported += batch.records()
			continue
		default:
		}
		break
	}
	stats := p.Stats()
	if uint64(exported) != stats.Writer.Accepted {
		t.Fatalf("exported %d records, writer accepted %d (dropped %d)", exported, stats.Writer.Accepted, stats.Writer.Dropped)
	}
	if stats.Writer.Accepted+stats.Writer.Dropped != producers*perWorker {
		t.Fatalf("accepted %d + dropped %d != %d", stats.Writer.Accepted, stats.Writer.Dropped, producers*perWorker)
	}
}

func TestNewValidation(t *testing.T) {
	logger := testutil.Logger()
	pool := arena.PoolConfig{InitialCapacity: 64, MaxCapacity: 64, BacklogSlots: 1}
	tests := []struct {
		name   string
		config Config
	}{
		{"missing_logger", Config{Pool: pool, FlushInterval: time.Second}},
		{"zero_interval", Config{Pool: pool, Logger: logger}},
		{"pressure_out_of_range", Config{Pool: pool, FlushInterval: time.Second, PressurePercent: 150, Logger: logger}},
		{"send_without_sender", Config{Pool: pool, FlushInterval: time.Second, SendEnabled: true, Logger: logger}},
		{"bad_pool", Config{Pool: arena.PoolConfig{InitialCapacity: 4}, FlushInterval: time.Second, Logger: logger}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := New(test.config); err == nil {
				t.Fatal("New accepted an invalid config")
			}
		})
	}
}
