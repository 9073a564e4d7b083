// Package jsonrpc implements a JSON-RPC 2.0 peer over a WebSocket.
//
// Both the VM Service and the Dart Tooling Daemon speak JSON-RPC 2.0 over a
// single WebSocket: requests carry a string id, responses are matched back
// by id, and server-initiated messages without an id are stream
// notifications. A Peer multiplexes concurrent calls over one connection;
// writes are serialised, reads happen on one goroutine.
package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
)

const protocolVersion = "2.0"

// Error is an error object returned by the remote peer.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// envelope is any inbound message: a response or a notification.
type envelope struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// NotificationHandler receives the params of a server notification.
type NotificationHandler func(params json.RawMessage)

// Peer is one side of a JSON-RPC connection.
type Peer struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	pending       map[string]chan *envelope
	notifications map[string]NotificationHandler

	closeOnce sync.Once
	done      chan struct{}
	readErr   error
}

// Dial opens a WebSocket to uri and starts the read loop.
func Dial(ctx context.Context, uri string, logger zerolog.Logger) (*Peer, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, uri, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, perrors.New(perrors.KindUnavailable, "dial "+uri, err)
	}

	return NewPeer(conn, logger), nil
}

// NewPeer wraps an established WebSocket connection.
func NewPeer(conn *websocket.Conn, logger zerolog.Logger) *Peer {
	p := &Peer{
		conn:          conn,
		logger:        logger.With().Str("component", "jsonrpc").Logger(),
		pending:       make(map[string]chan *envelope),
		notifications: make(map[string]NotificationHandler),
		done:          make(chan struct{}),
	}
	go p.readLoop()
	return p
}

// OnNotification registers a handler for server notifications with the
// given method name, replacing any previous handler.
func (p *Peer) OnNotification(method string, handler NotificationHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications[method] = handler
}

// Call sends a request and decodes the result into result (which may be
// nil to discard it). The context bounds the wait for the response.
func (p *Peer) Call(ctx context.Context, method string, params any, result any) error {
	id := uuid.New().String()
	ch := make(chan *envelope, 1)

	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	select {
	case <-p.done:
		return perrors.New(perrors.KindUnavailable, method, p.closedErr())
	default:
	}

	if err := p.write(request{JSONRPC: protocolVersion, ID: id, Method: method, Params: params}); err != nil {
		return perrors.New(perrors.KindUnavailable, method, err)
	}

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return perrors.New(perrors.KindTimeout, method, ctx.Err())
		}
		return ctx.Err()
	case <-p.done:
		return perrors.New(perrors.KindUnavailable, method, p.closedErr())
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if result == nil || len(msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Result, result); err != nil {
			return perrors.New(perrors.KindMalformed, method, err)
		}
		return nil
	}
}

// Done is closed once the connection is gone.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Close closes the connection. Pending calls fail with Unavailable.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.writeMu.Lock()
		_ = p.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		p.writeMu.Unlock()
		err = p.conn.Close()
	})
	<-p.done
	return err
}

func (p *Peer) write(req request) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(req)
}

func (p *Peer) closedErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return p.readErr
	}
	return fmt.Errorf("connection closed")
}

func (p *Peer) readLoop() {
	defer close(p.done)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			p.readErr = err
			p.mu.Unlock()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debug().Err(err).Msg("Connection read loop ended")
			}
			return
		}

		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			p.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Ignoring malformed message")
			continue
		}

		p.dispatch(&msg)
	}
}

func (p *Peer) dispatch(msg *envelope) {
	id := decodeID(msg.ID)

	if id == "" {
		if msg.Method == "" {
			return
		}
		p.mu.Lock()
		handler := p.notifications[msg.Method]
		p.mu.Unlock()
		if handler != nil {
			handler(msg.Params)
		}
		return
	}

	p.mu.Lock()
	ch, ok := p.pending[id]
	p.mu.Unlock()
	if !ok {
		p.logger.Debug().Str("id", id).Msg("Dropping response for unknown or abandoned request")
		return
	}
	select {
	case ch <- msg:
	default:
		p.logger.Warn().Str("id", id).Msg("Dropping duplicate response")
	}
}

// decodeID accepts string and numeric ids.
func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
