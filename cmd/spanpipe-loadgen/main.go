// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// spanpipe-loadgen drives an export pipeline with synthetic traces.
// A configurable number of producer goroutines build traces of
// related spans, submit each trace as one group, and keep going until
// --duration elapses or the process is interrupted. The pipeline is
// then shut down and its counters are printed.
//
// Pair it with spanpipe-collector to exercise the whole path:
//
//	spanpipe-collector --listen 127.0.0.1:4319 &
//	spanpipe-loadgen --producers 8 --duration 30s --format msgpack
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spanpipe/lib/clock"
	"github.com/bureau-foundation/spanpipe/lib/config"
	"github.com/bureau-foundation/spanpipe/lib/pipeline"
	"github.com/bureau-foundation/spanpipe/lib/process"
	"github.com/bureau-foundation/spanpipe/lib/schema/span"
	"github.com/bureau-foundation/spanpipe/lib/version"
)

const binaryName = "spanpipe-loadgen"

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath    string
	endpoint      string
	format        string
	producers     int
	spansPerTrace int
	traceInterval time.Duration
	duration      time.Duration
	verbose       bool
	showVersion   bool
}

func parseFlags(args []string) (*options, error) {
	var opts options
	flagSet := pflag.NewFlagSet(binaryName, pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "config file (default: $SPANPIPE_CONFIG, or built-in defaults)")
	flagSet.StringVar(&opts.endpoint, "endpoint", "", "collector URL, overrides export.endpoint")
	flagSet.StringVar(&opts.format, "format", "", "span encoding, cbor or msgpack (default: export.framing)")
	flagSet.IntVarP(&opts.producers, "producers", "p", 4, "number of concurrent producer goroutines")
	flagSet.IntVar(&opts.spansPerTrace, "spans-per-trace", 5, "spans in each synthetic trace")
	flagSet.DurationVar(&opts.traceInterval, "trace-interval", time.Millisecond, "pause between traces of one producer")
	flagSet.DurationVarP(&opts.duration, "duration", "d", 10*time.Second, "how long to generate load")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if flagSet.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	if opts.producers <= 0 {
		return nil, fmt.Errorf("--producers must be positive, got %d", opts.producers)
	}
	if opts.spansPerTrace <= 0 {
		return nil, fmt.Errorf("--spans-per-trace must be positive, got %d", opts.spansPerTrace)
	}
	if opts.duration <= 0 {
		return nil, fmt.Errorf("--duration must be positive, got %s", opts.duration)
	}
	return &opts, nil
}

// loadConfig reads the config file named by --config, falling back to
// SPANPIPE_CONFIG, and applies the command-line overrides.
func loadConfig(opts *options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if opts.endpoint != "" {
		cfg.Export.Endpoint = opts.endpoint
	}
	if opts.format != "" {
		cfg.Export.Framing = opts.format
	}
	return cfg, nil
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

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	format, err := span.ParseFormat(cfg.Export.Framing)
	if err != nil {
		return err
	}

	p, sender, err := pipeline.NewFromConfig(cfg, clock.Real(), logger)
	if err != nil {
		return err
	}
	p.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	logger.Info("generating load",
		"environment", cfg.Environment,
		"endpoint", cfg.Export.Endpoint,
		"format", format,
		"producers", opts.producers,
		"spans_per_trace", opts.spansPerTrace,
		"duration", opts.duration,
	)
	traces := generate(ctx, p, format, opts)

	if !p.Shutdown(cfg.Export.ShutdownTimeout) {
		logger.Warn("pipeline did not drain before the shutdown timeout", "timeout", cfg.Export.ShutdownTimeout)
	}
	report(os.Stdout, traces, p.Stats())
	if sender != nil {
		senderStats := sender.Stats()
		fmt.Fprintf(os.Stdout, "requests:         %d (%d failed)\n", senderStats.Requests, senderStats.Failures)
	}
	return nil
}

// submitter is the part of the pipeline the producers use.
type submitter interface {
	Submit(group uint32, payload []byte) bool
	NextGroupID() uint32
}

// generate runs the producers until ctx is done and returns the number
// of traces submitted.
func generate(ctx context.Context, target submitter, format span.Format, opts *options) uint64 {
	var waitGroup sync.WaitGroup
	counts := make([]uint64, opts.producers)
	for producer := range opts.producers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			counts[producer] = produce(ctx, target, format, opts.spansPerTrace, opts.traceInterval)
		}()
	}
	waitGroup.Wait()

	var total uint64
	for _, count := range counts {
		total += count
	}
	return total
}

func produce(ctx context.Context, target submitter, format span.Format, spansPerTrace int, interval time.Duration) uint64 {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	var buffer []byte
	var traces uint64
	for ctx.Err() == nil {
		group := target.NextGroupID()
		for _, s := range syntheticTrace(rng, time.Now(), spansPerTrace) {
			var err error
			buffer, err = s.AppendEncode(buffer[:0], format)
			if err != nil {
				slog.Error("encoding span", "error", err)
				return traces
			}
			target.Submit(group, buffer)
		}
		traces++

		if interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
	}
	return traces
}

var (
	services  = []string{"frontend", "checkout", "inventory", "payments"}
	resources = []string{"GET /v1/cart", "POST /v1/orders", "SELECT orders", "charge"}
)

// syntheticTrace returns count spans sharing one trace id. The first
// span is the root; every other span is a child of a span before it.
func syntheticTrace(rng *rand.Rand, now time.Time, count int) []span.Span {
	traceID := span.TraceID(uuid.New())
	spans := make([]span.Span, count)
	start := now.Add(-time.Second).UnixNano()
	for i := range spans {
		s := &spans[i]
		s.TraceID = traceID
		binary.LittleEndian.PutUint64(s.SpanID[:], rng.Uint64()|1)
		if i > 0 {
			s.ParentID = spans[rng.IntN(i)].SpanID
		}
		service := rng.IntN(len(services))
		s.Name = "request"
		s.Service = services[service]
		s.Resource = resources[service]
		s.Type = "web"
		s.Start = start + int64(i)*int64(time.Millisecond)
		s.Duration = int64(time.Duration(1+rng.IntN(50)) * time.Millisecond)
		s.Meta = map[string]string{"loadgen.version": version.Short()}
		s.Metrics = map[string]float64{"loadgen.index": float64(i)}
		if rng.IntN(100) == 0 {
			s.Error = true
			s.Meta["error.message"] = "synthetic failure"
		}
	}
	return spans
}

func report(w io.Writer, traces uint64, stats pipeline.Stats) {
	fmt.Fprintf(w, "traces:           %d\n", traces)
	fmt.Fprintf(w, "spans accepted:   %d\n", stats.Writer.Accepted)
	fmt.Fprintf(w, "spans dropped:    %d\n", stats.Writer.Dropped)
	fmt.Fprintf(w, "spans rejected:   %d\n", stats.Writer.Rejected)
	fmt.Fprintf(w, "spans exported:   %d\n", stats.RecordsExported)
	fmt.Fprintf(w, "export cycles:    %d\n", stats.Cycles)
	fmt.Fprintf(w, "arenas flushed:   %d\n", stats.ArenasFlushed)
	fmt.Fprintf(w, "send failures:    %d\n", stats.SendFailures)
	fmt.Fprintf(w, "arenas allocated: %d (min capacity %d)\n", stats.Pool.Arenas, stats.Pool.MinCapacity)
	fmt.Fprintf(w, "final state:      %s\n", stats.State)
}
