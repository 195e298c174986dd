// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/spanpipe/lib/netutil"
	"github.com/bureau-foundation/spanpipe/lib/reframe"
	"github.com/bureau-foundation/spanpipe/lib/version"
)

// SenderConfig configures an HTTPSender.
type SenderConfig struct {
	// Endpoint is the collector URL the batches are POSTed to.
	// Required.
	Endpoint string

	// ClientName is sent in HeaderClient. Defaults to
	// DefaultClientName.
	ClientName string

	// ContainerID is sent in HeaderContainerID when non-empty.
	ContainerID string

	// ConnectTimeout bounds establishing the TCP connection. Defaults
	// to 2 seconds if zero. Ignored when Client is set.
	ConnectTimeout time.Duration

	// RequestTimeout bounds one whole request, including streaming the
	// body and reading the response. Zero means only the caller's
	// context applies.
	RequestTimeout time.Duration

	// Compression is the Content-Encoding applied to bodies.
	// Defaults to CompressionNone.
	Compression Compression

	// Framing produces the array heads of the body document.
	// Defaults to reframe.CBOR.
	Framing reframe.Framing

	// Client overrides the HTTP client. Optional.
	Client *http.Client

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// HTTPSender posts reframed batches to a collector. Safe for
// concurrent use.
type HTTPSender struct {
	endpoint       string
	client         *http.Client
	headers        http.Header
	runtimeID      string
	compression    Compression
	framing        reframe.Framing
	requestTimeout time.Duration
	logger         *slog.Logger

	requests atomic.Uint64
	failures atomic.Uint64
}

// SenderStats is a snapshot of sender counters.
type SenderStats struct {
	Requests uint64
	Failures uint64
}

// NewHTTPSender validates config and returns a sender. The identity
// headers, including a fresh runtime id, are fixed here.
func NewHTTPSender(config SenderConfig) (*HTTPSender, error) {
	if config.Logger == nil {
		return nil, errors.New("collector sender: Logger is required")
	}
	if config.Endpoint == "" {
		return nil, errors.New("collector sender: Endpoint is required")
	}
	endpoint, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("collector sender: parsing endpoint: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("collector sender: endpoint %q must be http or https", config.Endpoint)
	}

	compression := config.Compression
	if compression == "" {
		compression = CompressionNone
	}
	if _, err := ParseCompression(string(compression)); err != nil {
		return nil, fmt.Errorf("collector sender: %w", err)
	}
	framing := config.Framing
	if framing == nil {
		framing = reframe.CBOR
	}

	client := config.Client
	if client == nil {
		connectTimeout := config.ConnectTimeout
		if connectTimeout == 0 {
			connectTimeout = 2 * time.Second
		}
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	clientName := config.ClientName
	if clientName == "" {
		clientName = DefaultClientName
	}
	runtimeID := uuid.NewString()
	headers := http.Header{}
	headers.Set(HeaderClient, clientName)
	headers.Set(HeaderClientVersion, version.Short())
	headers.Set(HeaderClientRuntime, version.Runtime())
	headers.Set(HeaderRuntimeID, runtimeID)
	if config.ContainerID != "" {
		headers.Set(HeaderContainerID, config.ContainerID)
	}
	headers.Set("Content-Type", framing.ContentType())
	if encoding := compression.contentEncoding(); encoding != "" {
		headers.Set("Content-Encoding", encoding)
	}

	return &HTTPSender{
		endpoint:       endpoint.String(),
		client:         client,
		headers:        headers,
		runtimeID:      runtimeID,
		compression:    compression,
		framing:        framing,
		requestTimeout: config.RequestTimeout,
		logger:         config.Logger,
	}, nil
}

// RuntimeID returns the id this sender puts in HeaderRuntimeID.
func (s *HTTPSender) RuntimeID() string { return s.runtimeID }

// Send streams batch to the collector in one POST. A non-2xx response
// is an error carrying an excerpt of the response body.
func (s *HTTPSender) Send(ctx context.Context, batch *reframe.Batch) error {
	s.requests.Add(1)
	if err := s.send(ctx, batch); err != nil {
		s.failures.Add(1)
		return err
	}
	return nil
}

func (s *HTTPSender) send(ctx context.Context, batch *reframe.Batch) error {
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	request.Header = s.headers.Clone()
	request.Header.Set(HeaderGroupCount, strconv.Itoa(batch.GroupCount()))

	// The trailer value is filled in by the digest reader when the
	// payload hits EOF, before the transport writes the trailers.
	request.Trailer = http.Header{TrailerDigest: nil}
	var body io.Reader = &digestReader{
		source: batch.NewReader(s.framing),
		hasher: newDigest(),
		onEOF: func(digest string) {
			request.Trailer.Set(TrailerDigest, digest)
		},
	}
	if s.compression.contentEncoding() != "" {
		body, err = newCompressingReader(body, s.compression)
		if err != nil {
			return err
		}
	}
	request.Body = io.NopCloser(body)
	request.ContentLength = -1

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("posting %d groups to %s: %w", batch.GroupCount(), s.endpoint, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("collector returned %s: %s", response.Status, netutil.ErrorBody(response.Body))
	}
	// Drain so the connection can be reused.
	netutil.Discard(response.Body)

	s.logger.Debug("batch sent",
		"groups", batch.GroupCount(),
		"records", batch.Records(),
		"bytes", batch.Size(),
	)
	return nil
}

// Stats returns a snapshot of the sender counters.
func (s *HTTPSender) Stats() SenderStats {
	return SenderStats{
		Requests: s.requests.Load(),
		Failures: s.failures.Load(),
	}
}
