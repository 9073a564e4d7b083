package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/vmlens/internal/cli/helpers"
	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/history"
)

func newWatchCmd(opts *helpers.GlobalOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Collect snapshots on an interval and store them in history",
		Long: `Collect a redacted snapshot every --interval and store its summary in the
local history database until interrupted. Entries older than the
configured retention are removed in the background.

Examples:
  vmlens watch --interval 10s
  vmlens watch --json > trend.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := helpers.SignalContext(cmd)
			defer cancel()

			session, err := helpers.OpenSession(ctx, opts)
			if err != nil {
				return err
			}
			defer perrors.DeferClose(session.Logger, session, "failed to close VM connection")

			store, err := session.OpenHistory()
			if err != nil {
				return err
			}
			defer perrors.DeferClose(session.Logger, store, "failed to close history store")

			cfg := session.Config.WatchConfig()
			if interval > 0 {
				cfg.Interval = interval
			}
			return runWatch(ctx, session, store, cfg, cmd.OutOrStdout(), opts.JSON)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Collection interval (default from config, 30s)")
	return cmd
}

func runWatch(ctx context.Context, s *helpers.Session, store *history.Store, cfg history.WatchConfig, w io.Writer, asJSON bool) error {
	watcher := history.NewWatcher(s.Facade, s.Redactor, store, cfg, s.Logger)
	watcher.OnRecord = func(r history.Record) {
		if asJSON {
			// One object per line so the output can be streamed.
			_ = helpers.WriteJSONLine(w, r)
			return
		}
		fmt.Fprintln(w, formatRecordLine(r))
	}

	s.Logger.Info().Dur("interval", cfg.Interval).Str("history", s.Config.History.Path).Msg("Watching VM")
	return watcher.Run(ctx)
}

func formatRecordLine(r history.Record) string {
	line := fmt.Sprintf("%s  heap %6.1f MB  %5d samples  frames %d/%d janky  p95 %.1f ms",
		r.Timestamp.Local().Format("15:04:05"), r.HeapUsedMB, r.SampleCount, r.JankFrames, r.TotalFrames, r.P95Millis)
	if r.TopFunction != "" {
		line += "  " + helpers.HintStyle.Render("top "+r.TopFunction)
	}
	return line
}
