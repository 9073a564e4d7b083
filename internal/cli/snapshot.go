package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/vmlens/internal/cli/helpers"
	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/history"
)

func newSnapshotCmd(opts *helpers.GlobalOptions) *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Collect one redacted performance snapshot",
		Long: `Collect CPU, memory and frame data from the VM and print the redacted
summary. The privacy level (--privacy) decides how much of your code's
names and paths survive.

Examples:
  vmlens snapshot --vm-service-uri http://127.0.0.1:8181/abc=/
  vmlens snapshot --privacy partial --json
  vmlens snapshot --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := helpers.SignalContext(cmd)
			defer cancel()

			session, err := helpers.OpenSession(ctx, opts)
			if err != nil {
				return err
			}
			defer perrors.DeferClose(session.Logger, session, "failed to close VM connection")

			var store *history.Store
			if save {
				if store, err = session.OpenHistory(); err != nil {
					return err
				}
				defer perrors.DeferClose(session.Logger, store, "failed to close history store")
			}
			return runSnapshot(ctx, session, store, cmd.OutOrStdout(), opts.JSON)
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "Also store the summary in the history database")
	return cmd
}

// runSnapshot collects and prints one summary. store may be nil.
func runSnapshot(ctx context.Context, s *helpers.Session, store *history.Store, w io.Writer, asJSON bool) error {
	snap, err := s.Facade.CollectSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect snapshot: %w", err)
	}
	summary := s.Redactor.Summary(snap, s.Level)

	if store != nil {
		if err := store.Save(ctx, history.NewRecord(snap.ID, snap.IsolateID, summary)); err != nil {
			return err
		}
		s.Logger.Info().Str("snapshot_id", snap.ID.String()).Msg("Snapshot saved to history")
	}

	if asJSON {
		return helpers.WriteJSON(w, summary)
	}
	helpers.RenderSummary(w, summary)
	return nil
}
