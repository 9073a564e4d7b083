// Package mcp exposes redacted performance data as Model Context Protocol
// tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/vmlens/internal/history"
	"github.com/coral-mesh/vmlens/internal/privacy"
	"github.com/coral-mesh/vmlens/internal/snapshot"
)

// Collector is the part of the collector facade the tools use.
type Collector interface {
	CollectSnapshot(ctx context.Context) (*snapshot.Snapshot, error)
	EnhanceClass(ctx context.Context, sample snapshot.AllocationSample) snapshot.AllocationSample
	EnhanceFunctions(ctx context.Context, cpu *snapshot.CPUData) *snapshot.CPUData
}

// HistoryReader lists stored summaries. *history.Store satisfies it.
type HistoryReader interface {
	Recent(ctx context.Context, f history.Filter) ([]history.Record, error)
}

// Config contains configuration for the MCP server.
type Config struct {
	// Name and Version are reported to clients.
	Name    string
	Version string

	// DefaultLevel applies when a call does not name a privacy level and
	// is the weakest level a call may request (default: maximum).
	DefaultLevel privacy.Level

	// EnabledTools optionally restricts which tools are available.
	// If empty, all tools are enabled.
	EnabledTools []string
}

// Server serves the vmlens tools.
type Server struct {
	collector Collector
	history   HistoryReader
	redactor  *privacy.Redactor
	config    Config
	logger    zerolog.Logger
	mcpServer *server.MCPServer

	handlers map[string]server.ToolHandlerFunc

	mu   sync.Mutex
	last *snapshot.Snapshot
}

// New creates a server. store may be nil, which disables vmlens_history.
func New(collector Collector, store HistoryReader, redactor *privacy.Redactor, config Config, logger zerolog.Logger) (*Server, error) {
	if collector == nil {
		return nil, fmt.Errorf("collector is required")
	}
	if config.Name == "" {
		config.Name = "vmlens"
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	if config.DefaultLevel == "" {
		config.DefaultLevel = privacy.LevelMaximum
	}
	if redactor == nil {
		redactor = privacy.NewRedactor()
	}

	s := &Server{
		collector: collector,
		history:   store,
		redactor:  redactor,
		config:    config,
		logger:    logger.With().Str("component", "mcp").Logger(),
		mcpServer: server.NewMCPServer(config.Name, config.Version, server.WithToolCapabilities(true)),
		handlers:  make(map[string]server.ToolHandlerFunc),
	}
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	s.logger.Info().
		Int("tool_count", len(s.handlers)).
		Str("default_privacy_level", string(config.DefaultLevel)).
		Msg("MCP server initialized")
	return s, nil
}

// ServeStdio serves on stdin and stdout until ctx ends.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve serves the protocol on the given streams until ctx ends.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info().Msg("Starting MCP server on stdio")
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// ListToolNames returns the registered tool names, sorted.
func (s *Server) ListToolNames() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecuteTool runs a tool by name with JSON-encoded arguments and returns
// its text output.
func (s *Server) ExecuteTool(ctx context.Context, name string, argumentsJSON string) (string, error) {
	handler, ok := s.handlers[name]
	if !ok {
		return "", fmt.Errorf("tool not found or not enabled: %s", name)
	}

	var req mcp.CallToolRequest
	req.Params.Name = name
	if argumentsJSON != "" {
		var args map[string]any
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			return "", fmt.Errorf("failed to parse arguments: %w", err)
		}
		req.Params.Arguments = args
	}

	result, err := handler(ctx, req)
	if err != nil {
		return "", err
	}
	text := resultText(result)
	if result.IsError {
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}

func resultText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func (s *Server) isToolEnabled(name string) bool {
	if len(s.config.EnabledTools) == 0 {
		return true
	}
	for _, enabled := range s.config.EnabledTools {
		if enabled == name {
			return true
		}
	}
	return false
}

// registerTool generates the input schema of inputType and registers the
// handler under name.
func (s *Server) registerTool(name, description string, inputType any, handler server.ToolHandlerFunc) error {
	if !s.isToolEnabled(name) {
		return nil
	}
	schema, err := generateInputSchema(inputType)
	if err != nil {
		return fmt.Errorf("failed to generate input schema for %s: %w", name, err)
	}
	tool := mcp.NewToolWithRawSchema(name, description, schema)
	s.mcpServer.AddTool(tool, handler)
	s.handlers[name] = handler
	s.logger.Debug().Str("tool", name).Msg("Tool registered")
	return nil
}

// generateInputSchema returns an inline JSON schema for a Go type.
func generateInputSchema(inputType any) ([]byte, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(inputType)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(raw, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	// MCP clients expect a plain object schema.
	delete(schemaMap, "$schema")
	delete(schemaMap, "$id")
	return json.Marshal(schemaMap)
}

// decodeArgs decodes the call arguments into input.
func decodeArgs(req mcp.CallToolRequest, input any) error {
	if req.Params.Arguments == nil {
		return nil
	}
	raw, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}
	if err := json.Unmarshal(raw, input); err != nil {
		return fmt.Errorf("failed to parse arguments: %w", err)
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
