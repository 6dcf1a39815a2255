// Package cdptest provides a fake CDP browser for tests.
package cdptest

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grantcarthew/cdpmux/internal/protocol"
)

// Identifiers used by DefaultHandler and the discovery endpoints.
const (
	TargetID         = "target_id_0123456789"
	SessionID        = "session_id_0123456789"
	BrowserContextID = "browser_context_id_0123456789"
	FrameID          = "frame_id_0123456789"
	LoaderID         = "loader_id_0123456789"

	Product         = "HeadlessChrome/120.0.6099.71"
	ProtocolVersion = "1.3"
	UserAgent       = "Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/120.0.6099.71"
	JSVersion       = "12.0.267.8"
)

// Server can be used as a test alternative to a real CDP compatible browser.
type Server struct {
	t          testing.TB
	Mux        *http.ServeMux
	ServerHTTP *httptest.Server

	mu       sync.Mutex
	received []*protocol.Request
}

// NewServer returns a running server. It is closed when the test ends.
func NewServer(t testing.TB, opts ...func(*Server)) *Server {
	t.Helper()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	s := &Server{
		t:          t,
		Mux:        mux,
		ServerHTTP: server,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL returns the ws:// URL of path on the server.
func (s *Server) URL(path string) string {
	u, _ := url.Parse(s.ServerHTTP.URL)
	u.Scheme = "ws"
	u.Path = path
	return u.String()
}

// HostPort returns the host and port the server listens on.
func (s *Server) HostPort() (string, int) {
	host, port, err := net.SplitHostPort(s.ServerHTTP.Listener.Addr().String())
	if err != nil {
		s.t.Fatalf("cdptest: listener address: %v", err)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		s.t.Fatalf("cdptest: listener port: %v", err)
	}
	return host, n
}

// Received returns the commands received so far on every CDP path.
func (s *Server) Received() []*protocol.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.Request, len(s.received))
	copy(out, s.received)
	return out
}

// Methods returns the method names of the commands received so far.
func (s *Server) Methods() []string {
	var out []string
	for _, req := range s.Received() {
		out = append(out, req.Method)
	}
	return out
}

func (s *Server) record(req *protocol.Request) {
	s.mu.Lock()
	s.received = append(s.received, req)
	s.mu.Unlock()
}

// Handler reacts to one command by writing replies and events to w.
type Handler func(w *Writer, req *protocol.Request)

// Writer queues messages for the client. It is safe for concurrent use.
type Writer struct {
	t    testing.TB
	ch   chan []byte
	done chan struct{}
}

// Raw queues data as one text message.
func (w *Writer) Raw(data []byte) {
	select {
	case w.ch <- data:
	case <-w.done:
	}
}

// Reply queues a successful response.
func (w *Writer) Reply(req *protocol.Request, result any) {
	data, err := protocol.EncodeResponse(req.ID, result, req.SessionID)
	if err != nil {
		w.t.Errorf("cdptest: encode reply to %s: %v", req.Method, err)
		return
	}
	w.Raw(data)
}

// Error queues an error response.
func (w *Writer) Error(req *protocol.Request, code int, message string) {
	data, err := protocol.EncodeError(req.ID, code, message, req.SessionID)
	if err != nil {
		w.t.Errorf("cdptest: encode error for %s: %v", req.Method, err)
		return
	}
	w.Raw(data)
}

// Event queues an event for sessionID; empty means browser level.
func (w *Writer) Event(method string, params any, sessionID string) {
	data, err := protocol.EncodeEvent(method, params, sessionID)
	if err != nil {
		w.t.Errorf("cdptest: encode event %s: %v", method, err)
		return
	}
	w.Raw(data)
}

// Done is closed when the client connection ends.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// WithCDPHandler serves CDP on path, calling fn for every command in the
// order received.
func WithCDPHandler(path string, fn Handler) func(*Server) {
	return func(s *Server) {
		s.Mux.HandleFunc(path, func(rw http.ResponseWriter, r *http.Request) {
			conn, err := (&websocket.Upgrader{}).Upgrade(rw, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			conn.SetReadLimit(100 << 20)

			w := &Writer{
				t:    s.t,
				ch:   make(chan []byte, 64),
				done: make(chan struct{}),
			}

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case data := <-w.ch:
						if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
							return
						}
					case <-w.done:
						return
					}
				}
			}()

			for {
				_, buf, err := conn.ReadMessage()
				if err != nil {
					break
				}
				req, err := protocol.DecodeCommand(buf)
				if err != nil {
					s.t.Errorf("cdptest: %v", err)
					continue
				}
				s.record(req)
				fn(w, req)
			}
			close(w.done)
			wg.Wait()
		})
	}
}

// WithEchoHandler attaches a handler that echoes one message back and then
// closes the connection normally.
func WithEchoHandler(path string) func(*Server) {
	return func(s *Server) {
		s.Mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()

			typ, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(typ, msg); err != nil {
				return
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(10*time.Second),
			)
			// Wait for the client's close reply.
			_, _, _ = conn.ReadMessage()
		})
	}
}

// WithClosureAbnormalHandler attaches a handler that drops the connection
// without a close handshake.
func WithClosureAbnormalHandler(path string) func(*Server) {
	return func(s *Server) {
		s.Mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
			if err != nil {
				return
			}
			conn.Close()
		})
	}
}

// WithDiscovery serves /json/version and /json/list the way Chrome does,
// pointing the browser endpoint at cdpPath.
func WithDiscovery(cdpPath string) func(*Server) {
	return func(s *Server) {
		writeJSON := func(w http.ResponseWriter, v any) {
			w.Header().Set("Content-Type", "application/json; charset=UTF-8")
			_ = json.NewEncoder(w).Encode(v)
		}
		s.Mux.HandleFunc("/json/version", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, map[string]string{
				"Browser":              Product,
				"Protocol-Version":     ProtocolVersion,
				"User-Agent":           UserAgent,
				"V8-Version":           JSVersion,
				"webSocketDebuggerUrl": s.URL(cdpPath),
			})
		})
		list := func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, []map[string]string{{
				"id":                   TargetID,
				"type":                 "page",
				"title":                "",
				"url":                  "about:blank",
				"webSocketDebuggerUrl": s.URL(cdpPath),
			}})
		}
		s.Mux.HandleFunc("/json", list)
		s.Mux.HandleFunc("/json/list", list)
	}
}

func targetInfo() map[string]any {
	return map[string]any{
		"targetId":         TargetID,
		"type":             "page",
		"title":            "",
		"url":              "about:blank",
		"attached":         true,
		"canAccessOpener":  false,
		"browserContextId": BrowserContextID,
	}
}

// DefaultHandler answers the commands the cdpmux CLI issues the way
// Chrome does, and reports unknown methods with code -32601.
func DefaultHandler(w *Writer, req *protocol.Request) {
	switch req.Method {
	case "Browser.getVersion":
		w.Reply(req, map[string]any{
			"protocolVersion": ProtocolVersion,
			"product":         Product,
			"revision":        "@0123456789abcdef",
			"userAgent":       UserAgent,
			"jsVersion":       JSVersion,
		})
	case "Target.getTargets":
		w.Reply(req, map[string]any{"targetInfos": []any{targetInfo()}})
	case "Target.attachToTarget":
		var params struct {
			TargetID string `json:"targetId"`
		}
		_ = json.Unmarshal(req.Params, &params)
		if params.TargetID != TargetID {
			w.Error(req, -32602, "No target with given id found")
			return
		}
		w.Event("Target.attachedToTarget", map[string]any{
			"sessionId":          SessionID,
			"targetInfo":         targetInfo(),
			"waitingForDebugger": false,
		}, "")
		w.Reply(req, map[string]any{"sessionId": SessionID})
	case "Page.navigate":
		if req.SessionID == "" {
			w.Error(req, -32601, "'Page.navigate' wasn't found")
			return
		}
		w.Reply(req, map[string]any{"frameId": FrameID, "loaderId": LoaderID})
		w.Event("Page.frameStartedLoading", map[string]any{"frameId": FrameID}, req.SessionID)
		w.Event("Page.loadEventFired", map[string]any{"timestamp": 1234.5}, req.SessionID)
	case "Page.enable", "Runtime.enable", "Network.enable", "Network.setExtraHTTPHeaders",
		"Target.setDiscoverTargets", "Target.detachFromTarget", "Browser.close":
		w.Reply(req, nil)
	default:
		w.Error(req, -32601, "'"+req.Method+"' wasn't found")
	}
}
