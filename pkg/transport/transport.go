// Package transport carries newline-delimited JSON-RPC messages between
// agents and a Handler. Two transports exist: a TCP Listener restricted to
// an address allow-list, and StdioTransport for a single local agent.
//
// Usage:
//
//	l, err := transport.Listen(cfg, engine, transport.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	return l.Serve(ctx)
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/fluffypony/universe/pkg/config"
	"github.com/fluffypony/universe/pkg/logging"
	"github.com/fluffypony/universe/pkg/observability"
)

// Caller identifies the peer a message came from
type Caller struct {
	ClientID   string
	RemoteAddr string
}

// Handler processes one framed message and returns the framed reply, or
// nil when there is nothing to send.
type Handler interface {
	Handle(ctx context.Context, caller Caller, msg []byte) []byte

	// Reject answers a message the transport refused to dispatch, such as
	// one over the rate limit.
	Reject(ctx context.Context, caller Caller, msg []byte, err error) []byte
}

// ErrClosed is returned when serving a transport that was already closed
var ErrClosed = errors.New("transport closed")

// options shared by both transports
type options struct {
	logger         logging.Logger
	metrics        *observability.Metrics
	maxConnections int
	maxMessageSize int
	idleTimeout    time.Duration
	rateLimit      config.RateLimitConfig
}

// Option configures a transport
type Option func(*options)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records connection metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithMaxConnections bounds concurrently served connections
func WithMaxConnections(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConnections = n
		}
	}
}

// WithMaxMessageSize bounds a single framed message in bytes
func WithMaxMessageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxMessageSize = n
		}
	}
}

// WithIdleTimeout closes connections that send nothing for d. Zero
// disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// WithRateLimit enables the per-connection token bucket
func WithRateLimit(rl config.RateLimitConfig) Option {
	return func(o *options) {
		o.rateLimit = rl
	}
}

// WithTransportConfig applies every setting of a config section
func WithTransportConfig(tc config.TransportConfig) Option {
	return func(o *options) {
		WithMaxConnections(tc.MaxConnections)(o)
		WithMaxMessageSize(tc.MaxMessageSize)(o)
		WithIdleTimeout(tc.IdleTimeout)(o)
		WithRateLimit(tc.RateLimit)(o)
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:         logging.Global(),
		maxConnections: config.DefaultMaxConnections,
		maxMessageSize: 1 << 20,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
