// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HealthPath serves the receiver counters as JSON.
const HealthPath = "/healthz"

// DefaultMinReadRate is the slowest upload, in bytes per second, a
// Server waits for when sizing its read timeout.
const DefaultMinReadRate = 1 << 20

// minReadTimeout is the read timeout floor for small body limits.
const minReadTimeout = 10 * time.Second

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address is the TCP listen address ("127.0.0.1:4319",
	// "127.0.0.1:0" for tests). Required.
	Address string

	// Path is where Receiver is mounted. Defaults to DefaultPath.
	Path string

	// Receiver handles export requests. Required.
	Receiver *Receiver

	// MinReadRate is the upload rate a streaming exporter is expected
	// to sustain. Together with the receiver's body limit it bounds
	// how long one request may take to arrive. Defaults to
	// DefaultMinReadRate.
	MinReadRate int64

	// ShutdownTimeout bounds the wait for in-flight exports after
	// the context passed to Serve is cancelled. Defaults to 10
	// seconds.
	ShutdownTimeout time.Duration

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// Server is a collector endpoint: a Receiver mounted at its export
// path plus a health route, on one TCP listener.
type Server struct {
	address         string
	path            string
	receiver        *Receiver
	readTimeout     time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}
	addr      net.Addr
	listenErr error
}

// NewServer validates config and returns a server. Call Serve to
// start accepting exports.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Address == "" {
		return nil, errors.New("collector server: Address is required")
	}
	if config.Receiver == nil {
		return nil, errors.New("collector server: Receiver is required")
	}
	if config.Logger == nil {
		return nil, errors.New("collector server: Logger is required")
	}
	path := config.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") || path == HealthPath {
		return nil, fmt.Errorf("collector server: invalid export path %q", path)
	}
	rate := config.MinReadRate
	if rate <= 0 {
		rate = DefaultMinReadRate
	}
	shutdownTimeout := config.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		address:         config.Address,
		path:            path,
		receiver:        config.Receiver,
		readTimeout:     readTimeoutFor(config.Receiver.maxBodySize, rate),
		shutdownTimeout: shutdownTimeout,
		logger:          config.Logger,
		ready:           make(chan struct{}),
	}, nil
}

// readTimeoutFor returns how long a body of maxBodySize bytes takes at
// rate, with minReadTimeout as the floor.
func readTimeoutFor(maxBodySize, rate int64) time.Duration {
	timeout := time.Duration(maxBodySize/rate+1) * time.Second
	return max(timeout, minReadTimeout)
}

// Ready is closed once Serve has bound its listener or failed to.
// After that, Addr reports the bound address and Err the listen
// failure.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or nil if listening failed. Valid
// after Ready is closed.
func (s *Server) Addr() net.Addr { return s.addr }

// Err returns the listen failure, if any. Valid after Ready is
// closed.
func (s *Server) Err() error { return s.listenErr }

// Endpoint returns the export URL exporters should be pointed at.
// Valid after Ready is closed without an error.
func (s *Server) Endpoint() string {
	return "http://" + s.addr.String() + s.path
}

// Serve accepts exports until ctx is cancelled, then drains in-flight
// requests for up to ShutdownTimeout. Serve may be called once.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, s.receiver)
	mux.HandleFunc(HealthPath, s.serveHealth)
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.readTimeout + 10*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	drained := make(chan error, 1)
	stopDrain := context.AfterFunc(ctx, func() {
		s.logger.Info("collector draining", "timeout", s.shutdownTimeout)
		drainCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		drained <- httpServer.Shutdown(drainCtx)
	})
	defer stopDrain()

	s.logger.Info("collector accepting exports",
		"endpoint", s.Endpoint(),
		"read_timeout", s.readTimeout,
	)
	if err := httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving collector: %w", err)
	}
	if err := <-drained; err != nil {
		return fmt.Errorf("draining collector: %w", err)
	}

	stats := s.receiver.Stats()
	s.logger.Info("collector stopped",
		"payloads", stats.Payloads,
		"spans", stats.Spans,
		"rejected", stats.Rejected,
	)
	return nil
}

// listen binds the listener and closes ready whatever the outcome.
func (s *Server) listen() (net.Listener, error) {
	defer s.readyOnce.Do(func() { close(s.ready) })
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.listenErr = fmt.Errorf("listening on %s: %w", s.address, err)
		return nil, s.listenErr
	}
	s.addr = listener.Addr()
	return listener, nil
}

func (s *Server) serveHealth(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(s.receiver.Stats())
}
