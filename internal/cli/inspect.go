package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/vmlens/internal/cli/helpers"
	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/privacy"
)

func newInspectCmd(opts *helpers.GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Resolve sources and retention for classes and functions",
		Long: `Look closer at what a snapshot found: where a class is declared and what
keeps its instances alive, or where the hottest functions live.

Examples:
  vmlens inspect class CartItem
  vmlens inspect functions --limit 5`,
	}
	cmd.AddCommand(newInspectClassCmd(opts))
	cmd.AddCommand(newInspectFunctionsCmd(opts))
	return cmd
}

func newInspectClassCmd(opts *helpers.GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "class NAME",
		Short: "Show the declaration and retention path of a class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := helpers.SignalContext(cmd)
			defer cancel()

			session, err := helpers.OpenSession(ctx, opts)
			if err != nil {
				return err
			}
			defer perrors.DeferClose(session.Logger, session, "failed to close VM connection")

			return runInspectClass(ctx, session, args[0], cmd.OutOrStdout(), opts.JSON)
		},
	}
}

func newInspectFunctionsCmd(opts *helpers.GlobalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "functions",
		Short: "List the hottest functions with their source locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := helpers.SignalContext(cmd)
			defer cancel()

			session, err := helpers.OpenSession(ctx, opts)
			if err != nil {
				return err
			}
			defer perrors.DeferClose(session.Logger, session, "failed to close VM connection")

			return runInspectFunctions(ctx, session, limit, cmd.OutOrStdout(), opts.JSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of functions to resolve")
	return cmd
}

func runInspectClass(ctx context.Context, s *helpers.Session, name string, w io.Writer, asJSON bool) error {
	snap, err := s.Facade.CollectSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect snapshot: %w", err)
	}
	if snap.Memory == nil {
		return perrors.Newf(perrors.KindUnavailable, "inspect class", "no memory data in the snapshot")
	}

	for _, a := range snap.Memory.Allocations {
		if a.ClassName != name {
			continue
		}
		sel := s.Facade.BeginSelection()
		enhanced, ok := s.Facade.EnhanceSelectedClass(ctx, sel, a)
		if !ok {
			return perrors.Newf(perrors.KindUnavailable, "inspect class", "selection of %s was superseded", name)
		}
		entry := privacy.SummarizeClass(s.Redactor.RedactClass(enhanced, s.Level))
		if asJSON {
			return helpers.WriteJSON(w, entry)
		}
		helpers.RenderClass(w, entry)
		return nil
	}
	return perrors.Newf(perrors.KindNoInstances, "inspect class", "class %q has no live instances", name)
}

func runInspectFunctions(ctx context.Context, s *helpers.Session, limit int, w io.Writer, asJSON bool) error {
	if limit <= 0 {
		return perrors.Newf(perrors.KindMalformed, "inspect functions", "--limit must be positive")
	}
	snap, err := s.Facade.CollectSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect snapshot: %w", err)
	}
	if snap.CPU == nil {
		return perrors.Newf(perrors.KindUnavailable, "inspect functions", "no CPU data in the snapshot")
	}

	cpu := snap.CPU.Clone()
	if len(cpu.TopFunctions) > limit {
		cpu.TopFunctions = cpu.TopFunctions[:limit]
	}
	cpu = s.Redactor.RedactCPU(s.Facade.EnhanceFunctions(ctx, cpu), s.Level)

	entries := make([]privacy.FunctionEntry, 0, len(cpu.TopFunctions))
	for _, fn := range cpu.TopFunctions {
		entries = append(entries, privacy.SummarizeFunction(fn))
	}
	if asJSON {
		return helpers.WriteJSON(w, entries)
	}
	helpers.RenderFunctions(w, entries)
	return nil
}
