package profile

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/vmlens/internal/cli/helpers"
	"github.com/coral-mesh/vmlens/internal/collector"
	"github.com/coral-mesh/vmlens/internal/config"
	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/export"
)

// NewCPUCmd creates `vmlens profile cpu`.
func NewCPUCmd(opts *helpers.GlobalOptions) *cobra.Command {
	var (
		output   string
		duration time.Duration
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "cpu",
		Short: "Write the VM's CPU samples as a pprof profile",
		Long: `Fetch the CPU samples of the trailing window and write them as a gzipped
pprof profile (samples/count and cpu/nanoseconds).

With --wait the command first records for --duration, so the profile only
holds samples taken after it started.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := helpers.SignalContext(cmd)
			defer cancel()

			session, err := helpers.OpenSession(ctx, opts, func(cfg *config.Config) {
				if duration > 0 {
					cfg.CPU.Window = duration
				}
			})
			if err != nil {
				return err
			}
			defer perrors.DeferClose(session.Logger, session, "failed to close VM connection")

			if wait {
				window := session.Config.CPU.Window
				session.Logger.Info().Dur("duration", window).Msg("Recording CPU samples")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(window):
				}
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer perrors.DeferClose(session.Logger, f, "failed to close profile file")

			count, err := writeCPUProfile(ctx, session.Facade, f)
			if err != nil {
				return err
			}
			cmd.Printf("Wrote %d samples to %s\n", count, output)
			cmd.Printf("%s\n", helpers.HintStyle.Render("go tool pprof -http=: "+output))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "cpu.pb.gz", "Profile file to write")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Sample window (default from config, 10s)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Record for --duration before fetching samples")
	return cmd
}

func writeCPUProfile(ctx context.Context, facade *collector.Facade, w io.Writer) (int, error) {
	batch, err := facade.RawCPUSamples(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch CPU samples: %w", err)
	}
	if err := export.WriteCPUProfile(w, batch); err != nil {
		return 0, err
	}
	return len(batch.Samples), nil
}
