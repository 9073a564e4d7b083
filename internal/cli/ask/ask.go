// Package ask implements `vmlens ask`.
package ask

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/vmlens/internal/advisor"
	"github.com/coral-mesh/vmlens/internal/cli/helpers"
	"github.com/coral-mesh/vmlens/internal/config"
	perrors "github.com/coral-mesh/vmlens/internal/errors"
)

// NewAskCmd creates the ask command.
func NewAskCmd(opts *helpers.GlobalOptions) *cobra.Command {
	var (
		provider    string
		model       string
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask an LLM advisor about the app's performance",
		Long: `Collect a snapshot and send its redacted summary to an LLM advisor.

Without a question the advisor reviews the whole snapshot. The advisor only
ever sees the summary at the configured privacy level; at maximum, your
class and function names are replaced by pseudonyms.

Providers: openai (default), google, anthropic. API keys are read from
OPENAI_API_KEY, GOOGLE_API_KEY or ANTHROPIC_API_KEY, or from advisor.api_key
in the config file.

Examples:
  vmlens ask
  vmlens ask "why is scrolling janky?"
  vmlens ask --provider anthropic -i`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := helpers.SignalContext(cmd)
			defer cancel()

			session, err := helpers.OpenSession(ctx, opts, func(cfg *config.Config) {
				if provider != "" {
					cfg.Advisor.Provider = provider
				}
				if model != "" {
					cfg.Advisor.Model = model
				}
			})
			if err != nil {
				return err
			}
			defer perrors.DeferClose(session.Logger, session, "failed to close VM connection")

			client, err := advisor.New(ctx, session.Config.AdvisorConfig(), session.Logger)
			if err != nil {
				return fmt.Errorf("failed to create advisor: %w", err)
			}
			defer perrors.DeferClose(session.Logger, client, "failed to close advisor")

			renderer, err := newRenderer(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			conv := newConversation(session, client, renderer, cmd.OutOrStdout())
			if err := conv.refresh(ctx); err != nil {
				return err
			}

			if interactive {
				return runInteractive(ctx, conv, fmt.Sprintf("%s/%s", client.Kind(), client.Model()))
			}
			return conv.ask(ctx, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Advisor provider: openai, google or anthropic")
	cmd.Flags().StringVar(&model, "model", "", "Model name (default per provider)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Start an interactive conversation")
	return cmd
}

// ask answers one question, or reviews the snapshot when question is
// empty.
func (c *conversation) ask(ctx context.Context, question string) error {
	var (
		answer string
		err    error
	)
	if strings.TrimSpace(question) == "" {
		answer, err = c.advisor.Analyze(ctx, c.summary)
	} else {
		answer, err = c.advisor.Chat(ctx, c.summary, c.history, question)
		if err == nil {
			c.history = append(c.history,
				advisor.Message{Role: "user", Content: question},
				advisor.Message{Role: "assistant", Content: answer})
		}
	}
	if err != nil {
		return err
	}
	return c.print(answer)
}
