// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/bureau-foundation/spanpipe/lib/codec"
	"github.com/bureau-foundation/spanpipe/lib/reframe"
)

// Payload is one decoded export request.
type Payload struct {
	// Framing is the document format of the request body.
	Framing reframe.Framing

	// Groups holds the raw span encodings of every group, in wire
	// order.
	Groups [][][]byte

	// Size is the uncompressed body size in bytes.
	Size int

	// Client, ClientVersion, ClientRuntime, RuntimeID and ContainerID
	// are the identity headers of the request.
	Client        string
	ClientVersion string
	ClientRuntime string
	RuntimeID     string
	ContainerID   string

	// DigestVerified is true when the request carried a digest
	// trailer and it matched the payload.
	DigestVerified bool
}

// Spans returns the total number of span encodings in the payload.
func (p *Payload) Spans() int {
	total := 0
	for _, group := range p.Groups {
		total += len(group)
	}
	return total
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Deliver is called with every valid payload. An error turns into
	// a 500 response. Required.
	Deliver func(ctx context.Context, payload *Payload) error

	// MaxBodySize bounds the uncompressed body. Defaults to 64 MiB.
	MaxBodySize int64

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// Receiver is an http.Handler accepting export requests.
type Receiver struct {
	deliver     func(ctx context.Context, payload *Payload) error
	maxBodySize int64
	logger      *slog.Logger

	payloads atomic.Uint64
	spans    atomic.Uint64
	rejected atomic.Uint64
}

// ReceiverStats is a snapshot of receiver counters.
type ReceiverStats struct {
	Payloads uint64 `json:"payloads"`
	Spans    uint64 `json:"spans"`
	Rejected uint64 `json:"rejected"`
}

// NewReceiver returns a Receiver. Panics on missing required fields.
func NewReceiver(config ReceiverConfig) *Receiver {
	if config.Deliver == nil {
		panic("collector.Receiver: Deliver is required")
	}
	if config.Logger == nil {
		panic("collector.Receiver: Logger is required")
	}
	maxBodySize := config.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 64 << 20
	}
	return &Receiver{
		deliver:     config.Deliver,
		maxBodySize: maxBodySize,
		logger:      config.Logger,
	}
}

// requestError is a client-visible rejection.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func reject(status int, format string, args ...any) error {
	return &requestError{status: status, message: fmt.Sprintf(format, args...)}
}

func (r *Receiver) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	payload, err := r.decode(request)
	if err != nil {
		r.rejected.Add(1)
		status := http.StatusBadRequest
		var rejection *requestError
		if errors.As(err, &rejection) {
			status = rejection.status
		}
		r.logger.Warn("rejecting export request",
			"remote", request.RemoteAddr,
			"status", status,
			"error", err,
		)
		http.Error(writer, err.Error(), status)
		return
	}

	if err := r.deliver(request.Context(), payload); err != nil {
		r.logger.Error("delivering payload failed", "error", err)
		http.Error(writer, "delivering payload: "+err.Error(), http.StatusInternalServerError)
		return
	}
	r.payloads.Add(1)
	r.spans.Add(uint64(payload.Spans()))

	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(struct {
		Groups int `json:"groups"`
		Spans  int `json:"spans"`
	}{len(payload.Groups), payload.Spans()})
}

func (r *Receiver) decode(request *http.Request) (*Payload, error) {
	if request.Method != http.MethodPost {
		return nil, reject(http.StatusMethodNotAllowed, "method %s not allowed", request.Method)
	}

	mediaType, _, err := mime.ParseMediaType(request.Header.Get("Content-Type"))
	if err != nil {
		return nil, reject(http.StatusUnsupportedMediaType, "parsing content type: %v", err)
	}
	var framing reframe.Framing
	switch mediaType {
	case reframe.CBOR.ContentType():
		framing = reframe.CBOR
	case reframe.MessagePack.ContentType():
		framing = reframe.MessagePack
	default:
		return nil, reject(http.StatusUnsupportedMediaType, "unsupported content type %q", mediaType)
	}

	decompressed, err := newDecompressor(request.Header.Get("Content-Encoding"), request.Body)
	if err != nil {
		return nil, reject(http.StatusUnsupportedMediaType, "%v", err)
	}
	defer decompressed.Close()

	hasher := newDigest()
	body, err := io.ReadAll(io.TeeReader(io.LimitReader(decompressed, r.maxBodySize+1), hasher))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > r.maxBodySize {
		return nil, reject(http.StatusRequestEntityTooLarge, "body exceeds %d bytes", r.maxBodySize)
	}

	// Trailers are only populated once the raw body reached EOF, which
	// a decompressor may not have driven it to.
	if _, err := io.Copy(io.Discard, request.Body); err != nil {
		return nil, fmt.Errorf("draining body: %w", err)
	}

	payload := &Payload{
		Framing:       framing,
		Size:          len(body),
		Client:        request.Header.Get(HeaderClient),
		ClientVersion: request.Header.Get(HeaderClientVersion),
		ClientRuntime: request.Header.Get(HeaderClientRuntime),
		RuntimeID:     request.Header.Get(HeaderRuntimeID),
		ContainerID:   request.Header.Get(HeaderContainerID),
	}

	if digest := request.Trailer.Get(TrailerDigest); digest != "" {
		computed := hex.EncodeToString(hasher.Sum(nil))
		if digest != computed {
			return nil, reject(http.StatusBadRequest, "payload digest mismatch: trailer %s, computed %s", digest, computed)
		}
		payload.DigestVerified = true
	}

	payload.Groups, err = decodeGroups(framing, body)
	if err != nil {
		return nil, reject(http.StatusBadRequest, "decoding payload: %v", err)
	}

	if header := request.Header.Get(HeaderGroupCount); header != "" {
		count, err := strconv.Atoi(header)
		if err != nil {
			return nil, reject(http.StatusBadRequest, "invalid %s header %q", HeaderGroupCount, header)
		}
		if count != len(payload.Groups) {
			return nil, reject(http.StatusBadRequest, "%s header says %d groups, payload has %d", HeaderGroupCount, count, len(payload.Groups))
		}
	}
	return payload, nil
}

// decodeGroups splits a framed document into the raw encodings of its
// elements.
func decodeGroups(framing reframe.Framing, body []byte) ([][][]byte, error) {
	var groups [][][]byte
	switch framing {
	case reframe.CBOR:
		var raw [][]codec.RawMessage
		if err := codec.Unmarshal(body, &raw); err != nil {
			return nil, err
		}
		for _, group := range raw {
			spans := make([][]byte, len(group))
			for i, span := range group {
				spans[i] = span
			}
			groups = append(groups, spans)
		}
	case reframe.MessagePack:
		var raw [][]msgpack.RawMessage
		if err := msgpack.Unmarshal(body, &raw); err != nil {
			return nil, err
		}
		for _, group := range raw {
			spans := make([][]byte, len(group))
			for i, span := range group {
				spans[i] = span
			}
			groups = append(groups, spans)
		}
	default:
		return nil, fmt.Errorf("unsupported framing %s", framing.Name())
	}
	return groups, nil
}

// Stats returns a snapshot of the receiver counters.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Payloads: r.payloads.Load(),
		Spans:    r.spans.Load(),
		Rejected: r.rejected.Load(),
	}
}
