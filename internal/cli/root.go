// Package cli implements the vmlens command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/vmlens/internal/cli/ask"
	"github.com/coral-mesh/vmlens/internal/cli/helpers"
	"github.com/coral-mesh/vmlens/internal/cli/profile"
	"github.com/coral-mesh/vmlens/pkg/version"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &helpers.GlobalOptions{}

	cmd := &cobra.Command{
		Use:   "vmlens",
		Short: "vmlens - performance telemetry for running Dart and Flutter apps",
		Long: `Attach to a running Dart VM and turn its CPU samples, heap statistics and
frame timeline into compact, privacy-redacted summaries.

Summaries separate your app's code from framework code, locate hot
functions and leaking classes in your sources, and can be handed to an
LLM advisor or any MCP client without leaking file paths or identifiers.

The VM Service URI is printed by 'flutter run' and 'dart run --observe'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(newSnapshotCmd(opts))
	cmd.AddCommand(newInspectCmd(opts))
	cmd.AddCommand(profile.NewProfileCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(ask.NewAskCmd(opts))
	cmd.AddCommand(newMCPCmd(opts))
	cmd.AddCommand(newVersionCmd(opts))

	return cmd
}

func newVersionCmd(opts *helpers.GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if opts.JSON {
				return helpers.WriteJSON(cmd.OutOrStdout(), info)
			}
			cmd.Printf("vmlens version %s\n", info.Version)
			cmd.Printf("Git commit: %s\n", info.GitCommit)
			cmd.Printf("Build date: %s\n", info.BuildDate)
			cmd.Printf("Go version: %s\n", info.GoVersion)
			return nil
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
