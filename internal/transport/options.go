// Package transport carries whole CDP messages between the client and the
// browser. WebSocket speaks RFC 6455 over TCP; Pipe speaks Chrome's
// --remote-debugging-pipe framing over a pair of file descriptors. Both
// satisfy the same small read/write/close contract.
package transport

import (
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/grantcarthew/cdpmux/internal/log"
	"github.com/grantcarthew/cdpmux/internal/wsframe"
)

// ErrClosed is returned by writes after Close or after the peer closed.
var ErrClosed = errors.New("transport closed")

// Defaults.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCloseTimeout     = 2 * time.Second
)

type options struct {
	maxFrameSize     int64
	fragmentSize     int
	handshakeTimeout time.Duration
	closeTimeout     time.Duration
	header           http.Header
	tlsConfig        *tls.Config
	logger           *log.Logger
}

func defaultOptions() options {
	return options{
		maxFrameSize:     wsframe.DefaultMaxFrameSize,
		handshakeTimeout: DefaultHandshakeTimeout,
		closeTimeout:     DefaultCloseTimeout,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a transport.
type Option func(*options)

// WithMaxFrameSize bounds inbound frames and messages, in bytes.
func WithMaxFrameSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrameSize = n
		}
	}
}

// WithFragmentSize splits outbound WebSocket messages into frames of at most
// n bytes. Zero disables fragmentation.
func WithFragmentSize(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.fragmentSize = n
		}
	}
}

// WithHandshakeTimeout bounds dialing plus the opening handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithCloseTimeout bounds how long Close waits for the peer's close frame.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.closeTimeout = d
		}
	}
}

// WithHeader adds headers to the upgrade request.
func WithHeader(h http.Header) Option {
	return func(o *options) {
		o.header = h
	}
}

// WithTLSConfig sets the TLS configuration for wss:// endpoints.
func WithTLSConfig(c *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
