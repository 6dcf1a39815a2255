// Package cdp multiplexes Chrome DevTools Protocol commands and events from
// many sessions over one transport.
package cdp

import (
	"context"

	"github.com/grantcarthew/cdpmux/internal/transport"
)

// Transport carries complete protocol messages. One goroutine calls
// ReadMessage while others call WriteMessage.
type Transport interface {
	// ReadMessage returns the next complete message.
	ReadMessage(ctx context.Context) ([]byte, error)

	// WriteMessage sends one complete message.
	WriteMessage(ctx context.Context, p []byte) error

	// Close releases the underlying connection.
	Close() error
}

var (
	_ Transport = (*transport.WebSocket)(nil)
	_ Transport = (*transport.Pipe)(nil)
)
