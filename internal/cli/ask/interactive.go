package ask

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/coral-mesh/vmlens/internal/cli/helpers"
	"github.com/coral-mesh/vmlens/internal/config"
)

var errExit = errors.New("exit")

const helpText = `Commands:
  /refresh        Collect a new snapshot
  /summary        Show the summary the advisor sees
  /class NAME     Explain why a class holds memory
  /function [N]   Explain the N-th hottest app function (default 1)
  /clear          Forget the conversation
  /exit           Quit
Anything else is sent to the advisor as a question.`

// runInteractive runs the chat loop until /exit, Ctrl+D or ctx ends.
func runInteractive(ctx context.Context, c *conversation, modelName string) error {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, config.DefaultDir, "ask_history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "vmlens> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "/exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	fmt.Fprintf(c.out, "%s %s\n", helpers.TitleStyle.Render("vmlens ask"), helpers.HintStyle.Render(modelName))
	fmt.Fprintln(c.out, helpers.HintStyle.Render("Type /help for commands, /exit to quit."))

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		if err := c.handle(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Fprintln(c.out, helpers.ErrorStyle.Render("Error: "+err.Error()))
		}
	}
	return nil
}

// handle runs one input line. It returns errExit on /exit.
func (c *conversation) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.ask(ctx, line)
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/exit", "/quit":
		return errExit
	case "/help":
		_, err := fmt.Fprintln(c.out, helpText)
		return err
	case "/refresh":
		if err := c.refresh(ctx); err != nil {
			return err
		}
		_, err := fmt.Fprintln(c.out, helpers.HintStyle.Render("Snapshot refreshed."))
		return err
	case "/summary":
		helpers.RenderSummary(c.out, c.summary)
		return nil
	case "/class":
		if arg == "" {
			return fmt.Errorf("usage: /class NAME")
		}
		return c.explainClass(ctx, arg)
	case "/function":
		return c.explainFunction(ctx, arg)
	case "/clear":
		c.history = nil
		_, err := fmt.Fprintln(c.out, helpers.HintStyle.Render("Conversation cleared."))
		return err
	default:
		return fmt.Errorf("unknown command %s (try /help)", command)
	}
}
