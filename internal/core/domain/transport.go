package domain

import (
	"context"
	"net/http"
	"time"
)

// Request is a single outbound dispatch handed to a Transport.
type Request struct {
	URL       string
	Headers   http.Header
	Timeout   time.Duration
	Proxy     string // optional proxy URL selected from the site policy
	UserAgent string
}

// Response is the raw outcome of a successful transport call.
// Non-2xx statuses are still Responses; classification decides what they mean.
type Response struct {
	Status  int         `json:"status"`
	Body    []byte      `json:"-"`
	Headers http.Header `json:"headers,omitempty"`
	URL     string      `json:"url"`
	Latency time.Duration
}

// Transport performs one request. A plain HTTP client and a headless
// browser loader are interchangeable implementations.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request) (*Response, error)

// Do calls f(ctx, req).
func (f TransportFunc) Do(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// SoftFailure is a failure signalled by downstream extraction logic that the
// transport layer cannot detect on its own.
type SoftFailure int

const (
	SoftNone SoftFailure = iota
	SoftParsing
	SoftContentChange
)

// Outcome is the raw input to classification: what a transport call (or a
// downstream parser) observed.
type Outcome struct {
	Status int
	Err    error
	Soft   SoftFailure
}
