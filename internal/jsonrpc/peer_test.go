package jsonrpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/jsonrpc"
	"github.com/coral-mesh/vmlens/internal/jsonrpc/jsonrpctest"
	"github.com/coral-mesh/vmlens/internal/testutil"
)

func dial(t *testing.T, srv *jsonrpctest.Server) *jsonrpc.Peer {
	t.Helper()
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	peer, err := jsonrpc.Dial(ctx, srv.URL(), testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })
	return peer
}

func TestPeer_Call(t *testing.T) {
	srv := jsonrpctest.NewServer(t)
	srv.Handle("echo", func(params json.RawMessage) (any, *jsonrpc.Error) {
		var in map[string]string
		_ = json.Unmarshal(params, &in)
		return map[string]string{"said": in["text"]}, nil
	})

	peer := dial(t, srv)

	var out struct {
		Said string `json:"said"`
	}
	err := peer.Call(context.Background(), "echo", map[string]string{"text": "hello"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Said)
	assert.Equal(t, 1, srv.Calls("echo"))
}

func TestPeer_CallConcurrent(t *testing.T) {
	srv := jsonrpctest.NewServer(t)
	srv.Handle("double", func(params json.RawMessage) (any, *jsonrpc.Error) {
		var n int
		_ = json.Unmarshal(params, &n)
		return n * 2, nil
	})
	peer := dial(t, srv)

	results := make(chan int, 20)
	for i := 0; i < 20; i++ {
		go func(n int) {
			var out int
			if err := peer.Call(context.Background(), "double", n, &out); err != nil {
				results <- -1
				return
			}
			results <- out - 2*n
		}(i)
	}
	for i := 0; i < 20; i++ {
		assert.Equal(t, 0, <-results, "each response must match its own request")
	}
}

func TestPeer_RemoteError(t *testing.T) {
	srv := jsonrpctest.NewServer(t)
	peer := dial(t, srv)

	err := peer.Call(context.Background(), "missing", nil, nil)
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.CodeMethodNotFound, rpcErr.Code)
}

func TestPeer_Timeout(t *testing.T) {
	srv := jsonrpctest.NewServer(t)
	srv.Handle("slow", func(json.RawMessage) (any, *jsonrpc.Error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	})
	peer := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := peer.Call(ctx, "slow", nil, nil)
	assert.True(t, perrors.Is(err, perrors.KindTimeout), "got %v", err)
}

func TestPeer_Malformed(t *testing.T) {
	srv := jsonrpctest.NewServer(t)
	srv.HandleResult("shape", "not an object")
	peer := dial(t, srv)

	var out struct{ N int }
	err := peer.Call(context.Background(), "shape", nil, &out)
	assert.True(t, perrors.Is(err, perrors.KindMalformed), "got %v", err)
}

func TestPeer_Notification(t *testing.T) {
	srv := jsonrpctest.NewServer(t)
	srv.HandleResult("streamListen", map[string]string{"type": "Success"})
	peer := dial(t, srv)

	got := make(chan string, 1)
	peer.OnNotification("streamNotify", func(params json.RawMessage) {
		var p struct {
			StreamID string `json:"streamId"`
		}
		_ = json.Unmarshal(params, &p)
		got <- p.StreamID
	})
	require.NoError(t, peer.Call(context.Background(), "streamListen", nil, nil))

	srv.Notify("streamNotify", map[string]string{"streamId": "Timeline"})

	select {
	case id := <-got:
		assert.Equal(t, "Timeline", id)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestPeer_DuplicateResponsesDoNotStall(t *testing.T) {
	srv := jsonrpctest.NewServer(t)
	srv.HandleResult("getVersion", map[string]int{"major": 4})
	srv.Duplicate("getVersion", 3)
	peer := dial(t, srv)

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		var out struct {
			Major int `json:"major"`
		}
		err := peer.Call(ctx, "getVersion", nil, &out)
		cancel()
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, 4, out.Major)
	}
	assert.Equal(t, 5, srv.Calls("getVersion"))
}

func TestPeer_CallAfterClose(t *testing.T) {
	srv := jsonrpctest.NewServer(t)
	srv.HandleResult("ping", "pong")
	peer := dial(t, srv)

	require.NoError(t, peer.Close())
	err := peer.Call(context.Background(), "ping", nil, nil)
	assert.True(t, perrors.Is(err, perrors.KindUnavailable), "got %v", err)
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := jsonrpc.Dial(ctx, "ws://127.0.0.1:1/ws", testutil.NewTestLogger(t))
	assert.True(t, perrors.Is(err, perrors.KindUnavailable), "got %v", err)
}
