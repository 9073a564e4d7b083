package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/vmlens/internal/cli/helpers"
	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/mcp"
	"github.com/coral-mesh/vmlens/pkg/version"
)

func newMCPCmd(opts *helpers.GlobalOptions) *cobra.Command {
	var (
		tools     []string
		noHistory bool
		list      bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve redacted performance data as MCP tools over stdio",
		Long: `Run a Model Context Protocol server on stdin and stdout so MCP clients
(Claude Desktop, IDE assistants) can collect snapshots and inspect classes
and functions. Every result is redacted at the configured privacy level.
Logs go to stderr.

Example client entry:
  {"command": "vmlens", "args": ["mcp", "--vm-service-uri", "http://127.0.0.1:8181/abc=/"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := helpers.SignalContext(cmd)
			defer cancel()

			session, err := helpers.OpenSession(ctx, opts)
			if err != nil {
				return err
			}
			defer perrors.DeferClose(session.Logger, session, "failed to close VM connection")

			// A nil *history.Store must not reach the interface parameter.
			var reader mcp.HistoryReader
			if !noHistory {
				store, err := session.OpenHistory()
				if err != nil {
					session.Logger.Warn().Err(err).Msg("History unavailable, vmlens_history disabled")
				} else {
					defer perrors.DeferClose(session.Logger, store, "failed to close history store")
					reader = store
				}
			}

			server, err := mcp.New(session.Facade, reader, session.Redactor, mcp.Config{
				Version:      version.Get().Version,
				DefaultLevel: session.Level,
				EnabledTools: tools,
			}, session.Logger)
			if err != nil {
				return err
			}

			if list {
				for _, name := range server.ListToolNames() {
					cmd.Println(name)
				}
				return nil
			}
			return server.ServeStdio(ctx)
		},
	}

	cmd.Flags().StringSliceVar(&tools, "tools", nil, "Only enable these tools (default: all)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not expose the history database")
	cmd.Flags().BoolVar(&list, "list-tools", false, "Print the enabled tool names and exit")
	return cmd
}
