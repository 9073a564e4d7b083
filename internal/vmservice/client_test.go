package vmservice

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/jsonrpc"
	"github.com/coral-mesh/vmlens/internal/jsonrpc/jsonrpctest"
	"github.com/coral-mesh/vmlens/internal/retry"
	"github.com/coral-mesh/vmlens/internal/testutil"
)

func connect(t *testing.T, srv *jsonrpctest.Server) *Conn {
	t.Helper()
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	conn, err := Connect(ctx, srv.URL(), Options{
		CallTimeout: time.Second,
		Dial:        retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
	}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketURI(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://127.0.0.1:8181/AbCd=/", want: "ws://127.0.0.1:8181/AbCd=/ws"},
		{in: "ws://127.0.0.1:8181/AbCd=/ws", want: "ws://127.0.0.1:8181/AbCd=/ws"},
		{in: "https://device.local:443/x", want: "wss://device.local:443/x/ws"},
		{in: "  http://localhost:1234  ", want: "ws://localhost:1234/ws"},
		{in: "ftp://localhost:1", wantErr: true},
		{in: "not a uri", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := WebSocketURI(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConn_GetVMAndSamples(t *testing.T) {
	srv := jsonrpctest.NewServer(t)
	srv.HandleResult("getVM", map[string]any{
		"type": "VM", "name": "vm", "pid": 4242,
		"isolates": []map[string]any{{"type": "@Isolate", "id": "isolates/1", "name": "main"}},
	})
	srv.Handle("getCpuSamples", func(params json.RawMessage) (any, *jsonrpc.Error) {
		var p map[string]any
		_ = json.Unmarshal(params, &p)
		if p["isolateId"] != "isolates/1" {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "bad isolate"}
		}
		return map[string]any{
			"type": "CpuSamples", "samplePeriod": 250, "maxStackDepth": 128, "sampleCount": 1,
			"functions": []map[string]any{{
				"kind": "Dart", "exclusiveTicks": 1, "inclusiveTicks": 1,
				"resolvedUrl": "package:shop/cart.dart",
				"function": map[string]any{"type": "@Function", "id": "functions/1", "name": "total",
					"owner": map[string]any{"type": "@Class", "id": "classes/7", "name": "Cart",
						"library": map[string]any{"type": "@Library", "id": "libraries/3", "uri": "package:shop/cart.dart"}}},
			}},
			"samples": []map[string]any{{"tid": 1, "timestamp": 100, "stack": []int{0}}},
		}, nil
	})

	conn := connect(t, srv)
	ctx := context.Background()

	vm, err := conn.GetVM(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4242, vm.PID)
	require.Len(t, vm.Isolates, 1)
	assert.Equal(t, MainIsolateName, vm.Isolates[0].Name)

	samples, err := conn.GetCPUSamples(ctx, "isolates/1", 0, 10_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(250), samples.SamplePeriod)
	require.Len(t, samples.Functions, 1)
	fn := samples.Functions[0].Function
	assert.Equal(t, "Cart", fn.Owner.Name)
	assert.Equal(t, "package:shop/cart.dart", fn.LibraryURI())

	_, err = conn.GetCPUSamples(ctx, "isolates/9", 0, 1)
	assert.True(t, perrors.Is(err, perrors.KindNotFound), "got %v", err)
}

func TestConn_SentinelsAreNotFound(t *testing.T) {
	srv := jsonrpctest.NewServer(t)
	sentinel := map[string]any{"type": "Sentinel", "kind": "Collected", "valueAsString": "<collected>"}
	srv.HandleResult("getObject", sentinel)
	srv.HandleResult("getInstances", sentinel)
	srv.HandleResult("getRetainingPath", sentinel)

	conn := connect(t, srv)
	ctx := context.Background()

	_, err := conn.GetObject(ctx, "isolates/1", "objects/1")
	assert.True(t, perrors.Is(err, perrors.KindNotFound), "got %v", err)
	_, err = conn.GetInstances(ctx, "isolates/1", "classes/1", 10)
	assert.True(t, perrors.Is(err, perrors.KindNotFound), "got %v", err)
	_, err = conn.GetRetainingPath(ctx, "isolates/1", "objects/1", 100)
	assert.True(t, perrors.Is(err, perrors.KindNotFound), "got %v", err)
	assert.Contains(t, err.Error(), "collected")
}

func TestConn_RetainingPath(t *testing.T) {
	srv := jsonrpctest.NewServer(t)
	srv.HandleResult("getRetainingPath", map[string]any{
		"type": "RetainingPath", "length": 3, "gcRootType": "static fields table",
		"elements": []map[string]any{
			{"value": map[string]any{"type": "@Instance", "id": "objects/1", "class": map[string]any{"type": "@Class", "name": "OrderItem"}}},
			{"value": map[string]any{"type": "@Instance", "kind": "List", "id": "objects/2"}, "parentListIndex": 4},
			{"value": map[string]any{"type": "@Instance", "id": "objects/3"}, "parentField": map[string]any{"type": "@Field", "name": "_items"}},
			{"value": map[string]any{"type": "@Context", "id": "objects/4"}, "parentField": "cache"},
		},
	})

	conn := connect(t, srv)
	path, err := conn.GetRetainingPath(context.Background(), "isolates/1", "objects/1", 100)
	require.NoError(t, err)
	require.Len(t, path.Elements, 4)
	assert.Equal(t, "static fields table", path.GCRootType)
	assert.Equal(t, 4, *path.Elements[1].ParentListIndex)
	assert.Equal(t, "_items", path.Elements[2].FieldName())
	assert.Equal(t, "cache", path.Elements[3].FieldName())
	assert.Equal(t, "", path.Elements[0].FieldName())
}

func TestConn_FeatureDisabledIsUnavailable(t *testing.T) {
	srv := jsonrpctest.NewServer(t)
	srv.Handle("getCpuSamples", func(json.RawMessage) (any, *jsonrpc.Error) {
		return nil, &jsonrpc.Error{Code: 100, Message: "Feature is disabled"}
	})
	conn := connect(t, srv)

	_, err := conn.GetCPUSamples(context.Background(), "isolates/1", 0, 1)
	assert.True(t, perrors.Is(err, perrors.KindUnavailable), "got %v", err)
}

func TestAllocationProfile_GCCount(t *testing.T) {
	var profile AllocationProfile
	raw := `{"members":[],"memoryUsage":{"heapUsage":10,"heapCapacity":20,"externalUsage":3},
		"_heaps":{"new":{"collections":7},"old":{"collections":2}}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &profile))

	assert.Equal(t, int64(9), profile.GCCount())
	assert.Equal(t, int64(20), profile.MemoryUsage.HeapCapacity)
	assert.Equal(t, int64(0), (&AllocationProfile{}).GCCount())
}
