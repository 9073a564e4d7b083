// Package dtd reads project files through the Dart Tooling Daemon file
// system service. It is used when the VM does not carry script sources,
// which is the case for profile and release builds.
package dtd

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/jsonrpc"
	"github.com/coral-mesh/vmlens/internal/logging"
	"github.com/coral-mesh/vmlens/internal/retry"
)

const (
	methodReadFile       = "FileSystem.readFileAsString"
	methodListDirectory  = "FileSystem.listDirectoryContents"
	methodWorkspaceRoots = "FileSystem.getIDEWorkspaceRoots"
)

// Client is a DTD connection.
type Client struct {
	peer   *jsonrpc.Peer
	logger zerolog.Logger
}

// Connect dials the daemon at uri.
func Connect(ctx context.Context, uri string, dial retry.Config, logger zerolog.Logger) (*Client, error) {
	logger = logging.Component(logger, "dtd")
	if dial.MaxRetries <= 0 {
		dial = retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}
	}

	var peer *jsonrpc.Peer
	err := retry.Do(ctx, dial, func() error {
		p, err := jsonrpc.Dial(ctx, uri, logger)
		if err != nil {
			return err
		}
		peer = p
		return nil
	}, func(err error) bool {
		return perrors.Is(err, perrors.KindUnavailable)
	})
	if err != nil {
		return nil, perrors.New(perrors.KindUnavailable, "dtd connect", err)
	}

	logger.Debug().Str("uri", uri).Msg("Connected to tooling daemon")
	return &Client{peer: peer, logger: logger}, nil
}

// New wraps an existing peer.
func New(peer *jsonrpc.Peer, logger zerolog.Logger) *Client {
	return &Client{peer: peer, logger: logging.Component(logger, "dtd")}
}

// WorkspaceRoots returns the root URIs of the IDE workspace.
func (c *Client) WorkspaceRoots(ctx context.Context) ([]string, error) {
	var resp struct {
		IDEWorkspaceRoots []string `json:"ideWorkspaceRoots"`
	}
	if err := c.call(ctx, methodWorkspaceRoots, nil, &resp); err != nil {
		return nil, err
	}
	return resp.IDEWorkspaceRoots, nil
}

// ListDirectory returns the URIs of the entries of a directory. The daemon
// marks subdirectories with a trailing slash.
func (c *Client) ListDirectory(ctx context.Context, uri string) ([]string, error) {
	var resp struct {
		URIs []string `json:"uris"`
	}
	if err := c.call(ctx, methodListDirectory, map[string]string{"uri": uri}, &resp); err != nil {
		return nil, err
	}
	return resp.URIs, nil
}

// ReadFile returns the content of the file at uri.
func (c *Client) ReadFile(ctx context.Context, uri string) (string, error) {
	var resp struct {
		Content string `json:"content"`
	}
	if err := c.call(ctx, methodReadFile, map[string]string{"uri": uri}, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.peer.Close()
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	err := c.peer.Call(ctx, method, params, result)
	if err == nil {
		return nil
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		// The daemon reports missing files and permission problems as
		// ordinary RPC errors.
		return perrors.New(perrors.KindNotFound, method, rpcErr)
	}
	return err
}
