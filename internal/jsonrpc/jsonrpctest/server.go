// Package jsonrpctest provides an in-process JSON-RPC WebSocket server for
// transport tests.
package jsonrpctest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/coral-mesh/vmlens/internal/jsonrpc"
)

// HandlerFunc answers one request. Returning a non-nil *jsonrpc.Error sends
// an error response.
type HandlerFunc func(params json.RawMessage) (any, *jsonrpc.Error)

// Server is a JSON-RPC server backed by httptest.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    map[string]int
	extra    map[string]int
	conns    []*serverConn
}

type serverConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *serverConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// NewServer starts a server and registers its shutdown on t.Cleanup.
func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		handlers: make(map[string]HandlerFunc),
		calls:    make(map[string]int),
		extra:    make(map[string]int),
	}
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{conn: conn}
		s.mu.Lock()
		s.conns = append(s.conns, sc)
		s.mu.Unlock()
		s.serve(sc)
	}))
	t.Cleanup(s.Close)

	return s
}

// URL returns the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Handle registers the handler for a method.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// HandleResult registers a handler that always answers with result.
func (s *Server) HandleResult(method string, result any) {
	s.Handle(method, func(json.RawMessage) (any, *jsonrpc.Error) { return result, nil })
}

// Duplicate makes the server send every response to method extra more
// times with the same id.
func (s *Server) Duplicate(method string, extra int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra[method] = extra
}

// Calls returns how many times a method was invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Notify pushes a notification to every connected client.
func (s *Server) Notify(method string, params any) {
	s.mu.Lock()
	conns := append([]*serverConn(nil), s.conns...)
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.writeJSON(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
	}
}

func (s *Server) serve(sc *serverConn) {
	defer func() { _ = sc.conn.Close() }()

	for {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := sc.conn.ReadJSON(&req); err != nil {
			return
		}

		s.mu.Lock()
		s.calls[req.Method]++
		handler := s.handlers[req.Method]
		extra := s.extra[req.Method]
		s.mu.Unlock()

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if handler == nil {
			resp["error"] = &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "Method not found"}
		} else if result, rpcErr := handler(req.Params); rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}

		for i := 0; i <= extra; i++ {
			if err := sc.writeJSON(resp); err != nil {
				return
			}
		}
	}
}
