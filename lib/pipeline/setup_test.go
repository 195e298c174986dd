// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/spanpipe/lib/clock"
	"github.com/bureau-foundation/spanpipe/lib/collector"
	"github.com/bureau-foundation/spanpipe/lib/config"
	"github.com/bureau-foundation/spanpipe/lib/testutil"
)

func TestNewFromConfigEndToEnd(t *testing.T) {
	payloads := make(chan *collector.Payload, 16)
	receiver := collector.NewReceiver(collector.ReceiverConfig{
		Deliver: func(ctx context.Context, payload *collector.Payload) error {
			payloads <- payload
			return nil
		},
		Logger: testutil.Logger(),
	})
	server, err := collector.NewServer(collector.ServerConfig{
		Address:  "127.0.0.1:0",
		Receiver: receiver,
		Logger:   testutil.Logger(),
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
		testutil.RequireReceive(t, serveDone, 5*time.Second, "collector shutdown")
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "collector ready")
	if err := server.Err(); err != nil {
		t.Fatalf("collector failed to listen: %v", err)
	}

	cfg := config.Default()
	cfg.Export.Endpoint = server.Endpoint()
	cfg.Export.Compression = "zstd"
	cfg.Export.Framing = "msgpack"
	cfg.Export.ContainerID = "container-under-test"
	cfg.Export.FlushInterval = time.Hour

	p, sender, err := NewFromConfig(cfg, clock.Real(), testutil.Logger())
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	p.Start()
	trace := p.NextGroupID()
	for range 3 {
		p.Submit(trace, []byte{0xa3, 'a', 'b', 'c'}) // msgpack "abc"
	}
	if !p.Shutdown(5 * time.Second) {
		t.Fatal("Shutdown = false")
	}

	payload := testutil.RequireReceive(t, payloads, 5*time.Second, "waiting for payload")
	if len(payload.Groups) != 1 || len(payload.Groups[0]) != 3 {
		t.Fatalf("payload groups = %d, want one group of 3", len(payload.Groups))
	}
	if payload.ContainerID != "container-under-test" {
		t.Fatalf("ContainerID = %q", payload.ContainerID)
	}
	if payload.RuntimeID != sender.RuntimeID() {
		t.Fatalf("RuntimeID = %q, want %q", payload.RuntimeID, sender.RuntimeID())
	}
	if !payload.DigestVerified {
		t.Fatal("payload digest was not verified")
	}
}

func TestNewFromConfigSendingDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Export.SendEnabled = false
	cfg.Export.Endpoint = ""

	p, sender, err := NewFromConfig(cfg, nil, testutil.Logger())
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if sender != nil {
		t.Fatal("sender created with sending disabled")
	}
	if p.SetSendEnabled(true) {
		t.Fatal("SetSendEnabled(true) reported sending was on")
	}
	if p.sendEnabled.Load() {
		t.Fatal("SetSendEnabled(true) enabled sending without a sender")
	}
}

func TestNewFromConfigInvalid(t *testing.T) {
	cfg := config.Default()
	cfg.Arena.BacklogSlots = 0
	if _, _, err := NewFromConfig(cfg, nil, testutil.Logger()); err == nil {
		t.Fatal("NewFromConfig accepted an invalid config")
	}
}
