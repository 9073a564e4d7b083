// Package profile implements `vmlens profile`.
package profile

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/vmlens/internal/cli/helpers"
)

// NewProfileCmd creates the root profile command.
func NewProfileCmd(opts *helpers.GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Export raw profiles for standard tooling",
		Long: `Export the VM's raw samples in formats other tools understand.

Profiles are written to local files and are not redacted.

Examples:
  vmlens profile cpu --duration 30s -o cpu.pb.gz
  go tool pprof -http=: cpu.pb.gz`,
	}

	cmd.AddCommand(NewCPUCmd(opts))

	return cmd
}
