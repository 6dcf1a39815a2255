package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/grantcarthew/cdpmux/internal/log"
	"github.com/grantcarthew/cdpmux/internal/wsframe"
)

// WebSocket is a client WebSocket connection carrying text messages.
//
// One goroutine may call ReadMessage while any number call WriteMessage.
// Pings are answered from inside ReadMessage, so the connection must be read
// for the close handshake and keepalives to work.
type WebSocket struct {
	conn   net.Conn
	reader *wsframe.Reader
	opts   options
	logger *log.Logger

	writeMu   sync.Mutex
	closeSent bool

	// readDone is closed once the peer's close frame arrives or reading
	// fails, so Close stops waiting for a reply that cannot come.
	readDone chan struct{}
	readOnce sync.Once

	closeOnce sync.Once
	closeErr  error
	connOnce  sync.Once
	connErr   error
}

// DialWebSocket connects to a ws:// or wss:// endpoint and performs the
// opening handshake. ctx and the handshake timeout bound the whole dial.
func DialWebSocket(ctx context.Context, rawURL string, opts ...Option) (*WebSocket, error) {
	o := buildOptions(opts)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	var port string
	switch u.Scheme {
	case "ws":
		port = "80"
	case "wss":
		port = "443"
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), port)
	}

	ctx, cancel := context.WithTimeout(ctx, o.handshakeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if u.Scheme == "wss" {
		cfg := o.tlsConfig.Clone()
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			cfg.ServerName = u.Hostname()
		}
		tc := tls.Client(conn, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tc
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	br, _, err := wsframe.Handshake(conn, u, o.header)
	if !stop() {
		conn.Close()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("handshake with %s: %w", u.Redacted(), err)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", u.Redacted(), err)
	}
	_ = conn.SetDeadline(time.Time{})

	o.logger.Debugf("ws", "connected to %s", u.Redacted())
	return newWebSocket(conn, br, o), nil
}

// NewWebSocket wraps a connection whose opening handshake already
// completed. r supplies any bytes buffered during the handshake; when nil
// frames are read from conn directly.
func NewWebSocket(conn net.Conn, r io.Reader, opts ...Option) *WebSocket {
	return newWebSocket(conn, r, buildOptions(opts))
}

func newWebSocket(conn net.Conn, r io.Reader, o options) *WebSocket {
	if r == nil {
		r = conn
	}
	ws := &WebSocket{
		conn:     conn,
		opts:     o,
		logger:   o.logger,
		readDone: make(chan struct{}),
	}
	ws.reader = wsframe.NewReader(r)
	ws.reader.MaxFrameSize = o.maxFrameSize
	ws.reader.MaxMessageSize = o.maxFrameSize
	ws.reader.OnPing = ws.pong
	ws.reader.OnClose = ws.peerClose
	return ws
}

// ReadMessage returns the next complete data message. Cancelling ctx
// interrupts a blocked read and leaves the connection unusable.
func (ws *WebSocket) ReadMessage(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = ws.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	op, p, err := ws.reader.ReadMessage()
	if err != nil {
		ws.readOnce.Do(func() { close(ws.readDone) })
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var fe *wsframe.FrameError
		if errors.As(err, &fe) {
			ws.fail(fe)
		}
		return nil, err
	}
	ws.logger.Debugf("ws:frame", "<- %s message, %d bytes", op, len(p))
	return p, nil
}

// WriteMessage sends p as a text message. Writes are serialized, so frames
// of concurrent messages never interleave. Only the ctx deadline is
// honoured; a write in progress is not interrupted by cancellation.
func (ws *WebSocket) WriteMessage(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := wsframe.EncodeMessage(wsframe.OpText, p, ws.opts.fragmentSize)
	if err != nil {
		return err
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	if ws.closeSent {
		return ErrClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.conn.SetWriteDeadline(deadline)
		defer func() { _ = ws.conn.SetWriteDeadline(time.Time{}) }()
	}
	if _, err := ws.conn.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	ws.logger.Debugf("ws:frame", "-> text message, %d bytes", len(p))
	return nil
}

// Close starts the closing handshake with status 1000, waits up to the close
// timeout for the peer's close frame, then closes the socket. It is safe to
// call more than once.
func (ws *WebSocket) Close() error {
	ws.closeOnce.Do(func() {
		sent := ws.writeClose(wsframe.CloseNormal, "")
		if sent {
			t := time.NewTimer(ws.opts.closeTimeout)
			select {
			case <-ws.readDone:
			case <-t.C:
				ws.logger.Debugf("ws", "no close frame from peer within %s", ws.opts.closeTimeout)
			}
			t.Stop()
		}
		ws.closeErr = ws.closeConn()
	})
	return ws.closeErr
}

// writeClose sends a close frame unless one was already sent, and reports
// whether this call sent it.
func (ws *WebSocket) writeClose(code int, reason string) bool {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	if ws.closeSent {
		return false
	}
	ws.closeSent = true

	data, err := wsframe.EncodeMessage(wsframe.OpClose, wsframe.ClosePayload(code, reason), 0)
	if err != nil {
		return false
	}
	_ = ws.conn.SetWriteDeadline(time.Now().Add(ws.opts.closeTimeout))
	if _, err := ws.conn.Write(data); err != nil {
		ws.logger.Debugf("ws", "send close frame: %v", err)
		return false
	}
	ws.logger.Debugf("ws", "sent close %d", code)
	return true
}

func (ws *WebSocket) pong(payload []byte) error {
	data, err := wsframe.EncodeMessage(wsframe.OpPong, payload, 0)
	if err != nil {
		return err
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	if ws.closeSent {
		return nil
	}
	if _, err := ws.conn.Write(data); err != nil {
		return err
	}
	ws.logger.Debugf("ws:frame", "answered ping, %d bytes", len(payload))
	return nil
}

// peerClose echoes the peer's close frame and shuts the socket.
func (ws *WebSocket) peerClose(ce *wsframe.CloseError) error {
	ws.logger.Debugf("ws", "peer closed: %v", ce)
	code := ce.Code
	if code == wsframe.CloseNoStatus {
		code = 0
	}
	ws.writeClose(code, "")
	ws.readOnce.Do(func() { close(ws.readDone) })
	return ws.closeConn()
}

// fail closes the connection after a framing violation by the peer.
func (ws *WebSocket) fail(fe *wsframe.FrameError) {
	code := wsframe.CloseProtocolError
	if errors.Is(fe, wsframe.ErrFrameTooLarge) {
		code = wsframe.CloseMessageTooBig
	}
	ws.logger.Warnf("ws", "closing after protocol violation: %v", fe)
	ws.writeClose(code, "")
	_ = ws.closeConn()
}

func (ws *WebSocket) closeConn() error {
	ws.connOnce.Do(func() {
		err := ws.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		ws.connErr = err
	})
	return ws.connErr
}
