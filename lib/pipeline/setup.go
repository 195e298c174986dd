// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/spanpipe/lib/arena"
	"github.com/bureau-foundation/spanpipe/lib/clock"
	"github.com/bureau-foundation/spanpipe/lib/collector"
	"github.com/bureau-foundation/spanpipe/lib/config"
	"github.com/bureau-foundation/spanpipe/lib/process"
	"github.com/bureau-foundation/spanpipe/lib/reframe"
)

// NewFromConfig validates cfg and builds a Pipeline exporting to the
// configured collector over HTTP. The pipeline is not started. An
// empty container id in cfg is detected from the process cgroup.
func NewFromConfig(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*Pipeline, *collector.HTTPSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	framing, err := reframe.ParseFraming(cfg.Export.Framing)
	if err != nil {
		return nil, nil, err
	}
	compression, err := collector.ParseCompression(cfg.Export.Compression)
	if err != nil {
		return nil, nil, err
	}
	containerID := cfg.Export.ContainerID
	if containerID == "" {
		containerID = process.ContainerID()
	}

	var sender *collector.HTTPSender
	if cfg.Export.SendEnabled {
		sender, err = collector.NewHTTPSender(collector.SenderConfig{
			Endpoint:       cfg.Export.Endpoint,
			ContainerID:    containerID,
			ConnectTimeout: cfg.Export.ConnectTimeout,
			RequestTimeout: cfg.Export.RequestTimeout,
			Compression:    compression,
			Framing:        framing,
			Logger:         logger.With("component", "sender"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating sender: %w", err)
		}
	}

	pipelineConfig := Config{
		Pool: arena.PoolConfig{
			InitialCapacity: cfg.Arena.InitialCapacity,
			MaxCapacity:     cfg.Arena.MaxCapacity,
			BacklogSlots:    cfg.Arena.BacklogSlots,
		},
		FlushInterval:   cfg.Export.FlushInterval,
		PressurePercent: cfg.Arena.PressurePercent,
		ShutdownTimeout: cfg.Export.ShutdownTimeout,
		SendEnabled:     sender != nil,
		Clock:           clk,
		Logger:          logger,
	}
	// A nil *HTTPSender must not become a non-nil Sender interface.
	if sender != nil {
		pipelineConfig.Sender = sender
	}
	p, err := New(pipelineConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("creating pipeline: %w", err)
	}
	return p, sender, nil
}
