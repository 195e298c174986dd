// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// spanpipe-collector is a standalone export endpoint. It accepts the
// batches a pipeline posts, verifies their digests, and logs one line
// per payload. With --verbose every span is decoded and logged as
// well, which makes it useful as a development sink for
// spanpipe-loadgen and for instrumented services.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spanpipe/lib/codec"
	"github.com/bureau-foundation/spanpipe/lib/collector"
	"github.com/bureau-foundation/spanpipe/lib/process"
	"github.com/bureau-foundation/spanpipe/lib/schema/span"
	"github.com/bureau-foundation/spanpipe/lib/version"
)

const binaryName = "spanpipe-collector"

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	listen      string
	path        string
	maxBodySize int64
	minReadRate int64
	verbose     bool
	showVersion bool
}

func parseFlags(args []string) (*options, error) {
	var opts options
	flagSet := pflag.NewFlagSet(binaryName, pflag.ContinueOnError)
	flagSet.StringVar(&opts.listen, "listen", "127.0.0.1:4319", "TCP address to accept export requests on")
	flagSet.StringVar(&opts.path, "path", collector.DefaultPath, "URL path of the export endpoint")
	flagSet.Int64Var(&opts.maxBodySize, "max-body-size", 64<<20, "largest accepted uncompressed body in bytes")
	flagSet.Int64Var(&opts.minReadRate, "min-read-rate", collector.DefaultMinReadRate, "slowest accepted upload rate in bytes per second; sizes the read timeout")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "decode and log every span")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if flagSet.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	if opts.path == "" || opts.path[0] != '/' {
		return nil, fmt.Errorf("--path must start with /, got %q", opts.path)
	}
	return &opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if opts.showVersion {
		version.Print(os.Stdout, binaryName)
		return nil
	}

	logger := newLogger(os.Stderr, opts.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := &payloadLogger{logger: logger, verbose: opts.verbose}
	receiver := collector.NewReceiver(collector.ReceiverConfig{
		Deliver:     sink.deliver,
		MaxBodySize: opts.maxBodySize,
		Logger:      logger.With("component", "receiver"),
	})
	server, err := collector.NewServer(collector.ServerConfig{
		Address:         opts.listen,
		Path:            opts.path,
		Receiver:        receiver,
		MinReadRate:     opts.minReadRate,
		ShutdownTimeout: 5 * time.Second,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()

	<-server.Ready()
	if err := server.Err(); err != nil {
		return err
	}
	logger.Info("collector ready", "endpoint", server.Endpoint(), "version", version.Short())
	return <-serveErr
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	var handler slog.Handler
	if verbose {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// payloadLogger is the receiver's delivery target.
type payloadLogger struct {
	logger  *slog.Logger
	verbose bool
}

func (l *payloadLogger) deliver(ctx context.Context, payload *collector.Payload) error {
	l.logger.InfoContext(ctx, "payload received",
		"groups", len(payload.Groups),
		"spans", payload.Spans(),
		"bytes", payload.Size,
		"framing", payload.Framing.Name(),
		"client", payload.Client,
		"client_version", payload.ClientVersion,
		"runtime_id", payload.RuntimeID,
		"container_id", payload.ContainerID,
		"digest_verified", payload.DigestVerified,
	)
	if !l.verbose {
		return nil
	}

	format, err := span.FormatOf(payload.Framing)
	if err != nil {
		return err
	}
	for groupIndex, group := range payload.Groups {
		for _, encoded := range group {
			l.logSpan(ctx, format, groupIndex, encoded)
		}
	}
	return nil
}

// logSpan decodes one span encoding. Payloads that are not spans are
// still logged: CBOR in diagnostic notation, anything else by size.
func (l *payloadLogger) logSpan(ctx context.Context, format span.Format, group int, encoded []byte) {
	decoded, err := span.Decode(format, encoded)
	if err == nil {
		l.logger.DebugContext(ctx, "span",
			"group", group,
			"trace_id", decoded.TraceID,
			"span_id", decoded.SpanID,
			"parent_id", decoded.ParentID,
			"name", decoded.Name,
			"service", decoded.Service,
			"duration", time.Duration(decoded.Duration),
			"error", decoded.Error,
		)
		return
	}
	if format == span.FormatCBOR {
		if notation, diagErr := codec.Diagnose(encoded); diagErr == nil {
			l.logger.DebugContext(ctx, "record", "group", group, "cbor", notation)
			return
		}
	}
	l.logger.DebugContext(ctx, "record", "group", group, "bytes", len(encoded), "decode_error", err)
}
