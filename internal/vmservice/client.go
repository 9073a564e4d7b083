// Package vmservice is a client for the VM Service protocol, the JSON-RPC
// introspection API exposed by a running Dart/Flutter VM.
//
// Only the requests the collectors need are implemented: VM and isolate
// discovery, CPU samples, allocation profiles, object and script lookup,
// instance sampling, retaining paths, timeline reads and the profiler and
// timeline switches. Every request runs under the connection's call timeout
// in addition to the caller's context.
package vmservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/jsonrpc"
	"github.com/coral-mesh/vmlens/internal/retry"
)

// Client is the request surface of a VM Service connection.
type Client interface {
	GetVersion(ctx context.Context) (*Version, error)
	GetVM(ctx context.Context) (*VM, error)
	GetVMTimelineMicros(ctx context.Context) (int64, error)
	GetCPUSamples(ctx context.Context, isolateID string, timeOriginMicros, timeExtentMicros int64) (*CPUSamples, error)
	ClearCPUSamples(ctx context.Context, isolateID string) error
	SetFlag(ctx context.Context, name, value string) error
	GetAllocationProfile(ctx context.Context, isolateID string, gc bool) (*AllocationProfile, error)
	GetObject(ctx context.Context, isolateID, objectID string) (*Object, error)
	GetInstances(ctx context.Context, isolateID, classID string, limit int) (*InstanceSet, error)
	GetRetainingPath(ctx context.Context, isolateID, targetID string, limit int) (*RetainingPath, error)
	GetVMTimeline(ctx context.Context, timeOriginMicros, timeExtentMicros int64) (*Timeline, error)
	SetVMTimelineFlags(ctx context.Context, recordedStreams []string) error
	ClearVMTimeline(ctx context.Context) error
	Close() error
}

// VM Service error codes vmlens reacts to.
const (
	codeFeatureDisabled    = 100
	codeIsolateReloading   = 108
	codeServiceDisappeared = 112
)

// Options configures a connection.
type Options struct {
	// CallTimeout bounds every request (default 5s).
	CallTimeout time.Duration
	// Dial controls connection retries.
	Dial retry.Config
}

// Conn is a VM Service connection.
type Conn struct {
	peer        *jsonrpc.Peer
	callTimeout time.Duration
	logger      zerolog.Logger
}

var _ Client = (*Conn)(nil)

// Connect dials the VM Service at uri, retrying while the VM is not yet
// accepting connections.
func Connect(ctx context.Context, uri string, opts Options, logger zerolog.Logger) (*Conn, error) {
	wsURI, err := WebSocketURI(uri)
	if err != nil {
		return nil, err
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	if opts.Dial.MaxRetries <= 0 {
		opts.Dial = retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}
	}

	logger = logger.With().Str("component", "vm_service").Logger()

	var peer *jsonrpc.Peer
	err = retry.Do(ctx, opts.Dial, func() error {
		p, dialErr := jsonrpc.Dial(ctx, wsURI, logger)
		if dialErr != nil {
			logger.Debug().Err(dialErr).Str("uri", wsURI).Msg("VM Service not reachable yet")
			return dialErr
		}
		peer = p
		return nil
	}, func(err error) bool {
		return perrors.Is(err, perrors.KindUnavailable)
	})
	if err != nil {
		return nil, perrors.New(perrors.KindUnavailable, "connect", err)
	}

	logger.Info().Str("uri", wsURI).Msg("Connected to VM Service")

	return &Conn{peer: peer, callTimeout: opts.CallTimeout, logger: logger}, nil
}

// NewConn wraps an existing peer.
func NewConn(peer *jsonrpc.Peer, callTimeout time.Duration, logger zerolog.Logger) *Conn {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	return &Conn{peer: peer, callTimeout: callTimeout, logger: logger}
}

// WebSocketURI converts the address printed by `flutter run` or
// `dart --observe` (http://127.0.0.1:8181/AbCd=/) to its WebSocket
// endpoint (ws://127.0.0.1:8181/AbCd=/ws).
func WebSocketURI(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid VM Service URI %q", raw)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported VM Service URI scheme %q", u.Scheme)
	}

	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	return u.String(), nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.peer.Close()
}

// GetVersion returns the protocol version.
func (c *Conn) GetVersion(ctx context.Context) (*Version, error) {
	var v Version
	if err := c.call(ctx, "getVersion", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVM returns the VM description, including its isolates.
func (c *Conn) GetVM(ctx context.Context) (*VM, error) {
	var vm VM
	if err := c.call(ctx, "getVM", nil, &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}

// GetVMTimelineMicros returns the current time of the clock used for
// timeline events and CPU sample timestamps.
func (c *Conn) GetVMTimelineMicros(ctx context.Context) (int64, error) {
	var ts struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := c.call(ctx, "getVMTimelineMicros", nil, &ts); err != nil {
		return 0, err
	}
	return ts.Timestamp, nil
}

// GetCPUSamples returns samples captured in [origin, origin+extent).
func (c *Conn) GetCPUSamples(ctx context.Context, isolateID string, timeOriginMicros, timeExtentMicros int64) (*CPUSamples, error) {
	var samples CPUSamples
	params := map[string]any{
		"isolateId":        isolateID,
		"timeOriginMicros": timeOriginMicros,
		"timeExtentMicros": timeExtentMicros,
	}
	if err := c.call(ctx, "getCpuSamples", params, &samples); err != nil {
		return nil, err
	}
	return &samples, nil
}

// ClearCPUSamples drops samples collected so far.
func (c *Conn) ClearCPUSamples(ctx context.Context, isolateID string) error {
	return c.call(ctx, "clearCpuSamples", map[string]any{"isolateId": isolateID}, nil)
}

// SetFlag sets a VM flag such as profile_period.
func (c *Conn) SetFlag(ctx context.Context, name, value string) error {
	var resp struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := c.call(ctx, "setFlag", map[string]any{"name": name, "value": value}, &resp); err != nil {
		return err
	}
	if resp.Type == "Error" {
		return perrors.Newf(perrors.KindMalformed, "setFlag", "flag %s: %s", name, resp.Message)
	}
	return nil
}

// GetAllocationProfile returns per-class heap statistics. With gc set the
// VM collects garbage first so live counts are exact.
func (c *Conn) GetAllocationProfile(ctx context.Context, isolateID string, gc bool) (*AllocationProfile, error) {
	var profile AllocationProfile
	params := map[string]any{"isolateId": isolateID}
	if gc {
		params["gc"] = true
	}
	if err := c.call(ctx, "getAllocationProfile", params, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetObject fetches a full object. A sentinel answer (collected or expired
// id) is reported as NotFound.
func (c *Conn) GetObject(ctx context.Context, isolateID, objectID string) (*Object, error) {
	var obj Object
	if err := c.call(ctx, "getObject", map[string]any{"isolateId": isolateID, "objectId": objectID}, &obj); err != nil {
		return nil, err
	}
	if obj.IsSentinel() {
		return nil, perrors.Newf(perrors.KindNotFound, "getObject", "%s is %s", objectID, sentinelKind(&obj.Ref))
	}
	return &obj, nil
}

// GetInstances returns up to limit live instances of a class.
func (c *Conn) GetInstances(ctx context.Context, isolateID, classID string, limit int) (*InstanceSet, error) {
	var raw json.RawMessage
	params := map[string]any{"isolateId": isolateID, "objectId": classID, "limit": limit}
	if err := c.call(ctx, "getInstances", params, &raw); err != nil {
		return nil, err
	}
	if err := sentinelError("getInstances", classID, raw); err != nil {
		return nil, err
	}
	var set InstanceSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, perrors.New(perrors.KindMalformed, "getInstances", err)
	}
	return &set, nil
}

// GetRetainingPath returns at most limit links from targetID towards a GC
// root.
func (c *Conn) GetRetainingPath(ctx context.Context, isolateID, targetID string, limit int) (*RetainingPath, error) {
	var raw json.RawMessage
	params := map[string]any{"isolateId": isolateID, "targetId": targetID, "limit": limit}
	if err := c.call(ctx, "getRetainingPath", params, &raw); err != nil {
		return nil, err
	}
	if err := sentinelError("getRetainingPath", targetID, raw); err != nil {
		return nil, err
	}
	var path RetainingPath
	if err := json.Unmarshal(raw, &path); err != nil {
		return nil, perrors.New(perrors.KindMalformed, "getRetainingPath", err)
	}
	return &path, nil
}

// GetVMTimeline returns trace events recorded in [origin, origin+extent).
func (c *Conn) GetVMTimeline(ctx context.Context, timeOriginMicros, timeExtentMicros int64) (*Timeline, error) {
	var timeline Timeline
	params := map[string]any{
		"timeOriginMicros": timeOriginMicros,
		"timeExtentMicros": timeExtentMicros,
	}
	if err := c.call(ctx, "getVMTimeline", params, &timeline); err != nil {
		return nil, err
	}
	return &timeline, nil
}

// SetVMTimelineFlags selects the recorded timeline streams.
func (c *Conn) SetVMTimelineFlags(ctx context.Context, recordedStreams []string) error {
	return c.call(ctx, "setVMTimelineFlags", map[string]any{"recordedStreams": recordedStreams}, nil)
}

// ClearVMTimeline drops recorded timeline events.
func (c *Conn) ClearVMTimeline(ctx context.Context) error {
	return c.call(ctx, "clearVMTimeline", nil, nil)
}

func (c *Conn) call(ctx context.Context, method string, params any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	err := c.peer.Call(ctx, method, params, result)
	c.logger.Trace().Str("method", method).Dur("took", time.Since(start)).Err(err).Msg("VM Service call")

	return classify(method, err)
}

// classify maps protocol errors onto the vmlens taxonomy.
func classify(method string, err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codeFeatureDisabled, codeServiceDisappeared, jsonrpc.CodeMethodNotFound:
			return perrors.New(perrors.KindUnavailable, method, rpcErr)
		case codeIsolateReloading:
			return perrors.New(perrors.KindTimeout, method, rpcErr)
		case jsonrpc.CodeInvalidParams:
			return perrors.New(perrors.KindNotFound, method, rpcErr)
		default:
			return perrors.New(perrors.KindMalformed, method, rpcErr)
		}
	}
	if perrors.KindOf(err) != perrors.KindUnknown || errors.Is(err, context.Canceled) {
		return err
	}
	return perrors.New(perrors.KindUnavailable, method, err)
}

func sentinelError(method, id string, raw json.RawMessage) error {
	var head Ref
	if err := json.Unmarshal(raw, &head); err != nil {
		return perrors.New(perrors.KindMalformed, method, err)
	}
	if head.IsSentinel() {
		return perrors.Newf(perrors.KindNotFound, method, "%s is %s", id, sentinelKind(&head))
	}
	return nil
}

func sentinelKind(r *Ref) string {
	if r.Kind != "" {
		return strings.ToLower(r.Kind)
	}
	if r.ValueAsString != "" {
		return strconv.Quote(r.ValueAsString)
	}
	return "unavailable"
}
