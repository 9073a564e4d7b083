package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/coral-mesh/vmlens/internal/history"
	"github.com/coral-mesh/vmlens/internal/privacy"
	"github.com/coral-mesh/vmlens/internal/snapshot"
)

// Tool names.
const (
	ToolSnapshot         = "vmlens_snapshot"
	ToolInspectClass     = "vmlens_inspect_class"
	ToolInspectFunctions = "vmlens_inspect_functions"
	ToolHistory          = "vmlens_history"
)

func (s *Server) registerTools() error {
	if err := s.registerTool(ToolSnapshot,
		"Collect a performance snapshot of the running Dart VM: CPU hotspots, heap usage by class and frame timings. Returns a redacted summary split into app and framework code.",
		SnapshotInput{}, s.handleSnapshot); err != nil {
		return err
	}
	if err := s.registerTool(ToolInspectClass,
		"Inspect one class from the latest snapshot: instance count, live size, declaration site and the retention path that keeps its instances alive.",
		InspectClassInput{}, s.handleInspectClass); err != nil {
		return err
	}
	if err := s.registerTool(ToolInspectFunctions,
		"List the hottest functions from the latest snapshot with their source locations resolved.",
		InspectFunctionsInput{}, s.handleInspectFunctions); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.registerTool(ToolHistory,
			"List stored snapshot summaries, newest first, to compare trends over time.",
			HistoryInput{}, s.handleHistory); err != nil {
			return err
		}
	}
	return nil
}

// level parses an optional privacy level argument. A call may ask for more
// redaction than the configured level, never less.
func (s *Server) level(arg *string) (privacy.Level, error) {
	if arg == nil || *arg == "" {
		return s.config.DefaultLevel, nil
	}
	level, err := privacy.ParseLevel(*arg)
	if err != nil {
		return "", err
	}
	if !level.AtLeast(s.config.DefaultLevel) {
		return "", fmt.Errorf("privacy level %q is weaker than the configured %q", level, s.config.DefaultLevel)
	}
	return level, nil
}

// latest returns the cached snapshot, collecting one when there is none
// or refresh is set.
func (s *Server) latest(ctx context.Context, refresh bool) (*snapshot.Snapshot, error) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last != nil && !refresh {
		return last, nil
	}

	snap, err := s.collector.CollectSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
	return snap, nil
}

func (s *Server) handleSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input SnapshotInput
	if err := decodeArgs(req, &input); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	level, err := s.level(input.PrivacyLevel)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap, err := s.latest(ctx, true)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to collect snapshot: %v", err)), nil
	}
	s.logger.Debug().Str("snapshot_id", snap.ID.String()).Str("privacy_level", string(level)).Msg("Snapshot served")
	return jsonResult(s.redactor.Summary(snap, level))
}

func (s *Server) handleInspectClass(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input InspectClassInput
	if err := decodeArgs(req, &input); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if input.ClassName == "" {
		return mcp.NewToolResultError("class_name is required"), nil
	}
	level, err := s.level(input.PrivacyLevel)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap, err := s.latest(ctx, input.Refresh != nil && *input.Refresh)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to collect snapshot: %v", err)), nil
	}
	if snap.Memory == nil {
		return mcp.NewToolResultError("no memory data in the latest snapshot"), nil
	}

	// Callers may pass the pseudonym they saw in a maximum-privacy summary.
	for _, a := range snap.Memory.Allocations {
		if a.ClassName != input.ClassName && s.redactor.Pseudonym(a.ClassName) != input.ClassName {
			continue
		}
		enhanced := s.collector.EnhanceClass(ctx, a)
		return jsonResult(privacy.SummarizeClass(s.redactor.RedactClass(enhanced, level)))
	}
	return mcp.NewToolResultError(fmt.Sprintf("class %q not found in the latest snapshot", input.ClassName)), nil
}

func (s *Server) handleInspectFunctions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input InspectFunctionsInput
	if err := decodeArgs(req, &input); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	level, err := s.level(input.PrivacyLevel)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := 10
	if input.Limit != nil && *input.Limit > 0 {
		limit = *input.Limit
	}

	snap, err := s.latest(ctx, input.Refresh != nil && *input.Refresh)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to collect snapshot: %v", err)), nil
	}
	if snap.CPU == nil {
		return mcp.NewToolResultError("no CPU data in the latest snapshot"), nil
	}

	cpu := snap.CPU.Clone()
	if len(cpu.TopFunctions) > limit {
		cpu.TopFunctions = cpu.TopFunctions[:limit]
	}
	cpu = s.redactor.RedactCPU(s.collector.EnhanceFunctions(ctx, cpu), level)

	entries := make([]privacy.FunctionEntry, 0, len(cpu.TopFunctions))
	for _, fn := range cpu.TopFunctions {
		entries = append(entries, privacy.SummarizeFunction(fn))
	}
	return jsonResult(map[string]any{
		"privacy_level": level,
		"sample_count":  cpu.SampleCount,
		"functions":     entries,
	})
}

func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input HistoryInput
	if err := decodeArgs(req, &input); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	since := time.Hour
	if input.Since != nil {
		d, err := time.ParseDuration(*input.Since)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since duration: %v", err)), nil
		}
		since = d
	}
	filter := history.Filter{Since: time.Now().Add(-since)}
	if input.Limit != nil {
		filter.Limit = *input.Limit
	}

	records, err := s.history.Recent(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to query history: %v", err)), nil
	}
	if records == nil {
		records = []history.Record{}
	}
	return jsonResult(records)
}
