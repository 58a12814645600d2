package fetch

import (
	"net/http"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second
)

// CallOptions are the knobs of one Fetch call.
type CallOptions struct {
	MaxRetries int
	Timeout    time.Duration
	Headers    http.Header
	// Fallback starts the call on the fallback transport.
	Fallback bool
}

// Option adjusts CallOptions. Passed to New they set executor defaults;
// passed to Fetch they override those for one call.
type Option func(*CallOptions)

// WithMaxRetries sets how many retries follow the first attempt.
func WithMaxRetries(n int) Option {
	return func(o *CallOptions) {
		if n >= 0 {
			o.MaxRetries = n
		}
	}
}

// WithTimeout bounds each transport attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *CallOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithHeaders adds headers on top of the site policy's.
func WithHeaders(h http.Header) Option {
	return func(o *CallOptions) { o.Headers = h.Clone() }
}

// WithFallback sends every attempt through the fallback transport.
func WithFallback() Option {
	return func(o *CallOptions) { o.Fallback = true }
}

func defaultCallOptions() CallOptions {
	return CallOptions{MaxRetries: DefaultMaxRetries, Timeout: DefaultTimeout}
}
