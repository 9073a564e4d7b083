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

// historyRow is one table line of `vmlens history`.
type historyRow struct {
	Time        string  `header:"TIME"`
	Isolate     string  `header:"ISOLATE"`
	HeapMB      float64 `header:"HEAP_MB"`
	Samples     int     `header:"SAMPLES"`
	Jank        string  `header:"JANK"`
	P95         float64 `header:"P95_MS"`
	TopFunction string  `header:"TOP_FUNCTION"`
}

func newHistoryCmd(opts *helpers.GlobalOptions) *cobra.Command {
	var (
		timeFlags helpers.TimeFlags
		isolate   string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored snapshot summaries",
		Long: `List the summaries recorded by 'vmlens watch' and 'vmlens snapshot --save',
newest first. No VM connection is needed.

Examples:
  vmlens history --since 30m
  vmlens history --from 2026-03-01T09:00:00Z --to 2026-03-01T10:00:00Z --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := helpers.NewLogger(opts)
			if err != nil {
				return err
			}
			window, err := timeFlags.Parse(time.Now())
			if err != nil {
				return err
			}

			store, err := helpers.OpenHistory(cfg, logger)
			if err != nil {
				return err
			}
			defer perrors.DeferClose(logger, store, "failed to close history store")

			filter := history.Filter{IsolateID: isolate, Since: window.Start, Until: window.End, Limit: limit}
			return runHistory(cmd.Context(), store, filter, cmd.OutOrStdout(), opts.JSON)
		},
	}

	timeFlags.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&isolate, "isolate", "", "Only show summaries of this isolate")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")
	return cmd
}

func runHistory(ctx context.Context, store *history.Store, filter history.Filter, w io.Writer, asJSON bool) error {
	records, err := store.Recent(ctx, filter)
	if err != nil {
		return err
	}
	if asJSON {
		if records == nil {
			records = []history.Record{}
		}
		return helpers.WriteJSON(w, records)
	}
	if len(records) == 0 {
		_, err := io.WriteString(w, helpers.HintStyle.Render("no summaries in the selected window")+"\n")
		return err
	}

	rows := make([]historyRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, historyRow{
			Time:        r.Timestamp.Local().Format(time.DateTime),
			Isolate:     r.IsolateID,
			HeapMB:      r.HeapUsedMB,
			Samples:     r.SampleCount,
			Jank:        jankCell(r),
			P95:         r.P95Millis,
			TopFunction: dash(r.TopFunction),
		})
	}
	return helpers.WriteTable(w, rows)
}

func jankCell(r history.Record) string {
	if r.TotalFrames == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", r.JankFrames, r.TotalFrames)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
