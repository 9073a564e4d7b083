package ask

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/coral-mesh/vmlens/internal/advisor"
	"github.com/coral-mesh/vmlens/internal/cli/helpers"
	"github.com/coral-mesh/vmlens/internal/privacy"
)

// renderer turns markdown answers into terminal text.
type renderer interface {
	Render(in string) (string, error)
}

// newRenderer returns a glamour renderer, plain when out is not a terminal
// or NO_COLOR is set.
func newRenderer(out io.Writer) (renderer, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(80)}
	if os.Getenv("NO_COLOR") != "" || !helpers.IsTerminal(out) {
		opts = append(opts, glamour.WithStylePath("notty"))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return r, nil
}

// conversation holds the summary under discussion and the chat so far.
type conversation struct {
	session  *helpers.Session
	advisor  advisor.Advisor
	renderer renderer
	out      io.Writer

	summary privacy.Summary
	history []advisor.Message
}

func newConversation(session *helpers.Session, a advisor.Advisor, r renderer, out io.Writer) *conversation {
	return &conversation{session: session, advisor: a, renderer: r, out: out}
}

// refresh collects a new snapshot. The chat history is kept.
func (c *conversation) refresh(ctx context.Context) error {
	snap, err := c.session.Facade.CollectSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect snapshot: %w", err)
	}
	c.summary = c.session.Redactor.Summary(snap, c.session.Level)
	return nil
}

// explainClass looks up a class in the summary by its displayed name and
// asks the advisor about it, after resolving its source and retention.
func (c *conversation) explainClass(ctx context.Context, name string) error {
	snap, err := c.session.Facade.CollectSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect snapshot: %w", err)
	}
	c.summary = c.session.Redactor.Summary(snap, c.session.Level)
	if snap.Memory == nil {
		return fmt.Errorf("no memory data in the snapshot")
	}

	level := c.session.Level
	for _, a := range snap.Memory.Allocations {
		if c.session.Redactor.RedactClass(a, level).ClassName != name {
			continue
		}
		sel := c.session.Facade.BeginSelection()
		enhanced, ok := c.session.Facade.EnhanceSelectedClass(ctx, sel, a)
		if !ok {
			return fmt.Errorf("selection of %s was superseded", name)
		}
		entry := privacy.SummarizeClass(c.session.Redactor.RedactClass(enhanced, level))
		answer, err := c.advisor.AnalyzeEntity(ctx, advisor.Entity{Class: &entry})
		if err != nil {
			return err
		}
		return c.print(answer)
	}
	return fmt.Errorf("class %q not found in the snapshot", name)
}

// explainFunction asks about the n-th app function (1-based) of the
// current summary.
func (c *conversation) explainFunction(ctx context.Context, arg string) error {
	n := 1
	if arg != "" {
		var err error
		if n, err = strconv.Atoi(arg); err != nil || n < 1 {
			return fmt.Errorf("invalid function number %q", arg)
		}
	}
	if c.summary.CPU == nil || len(c.summary.CPU.AppFunctions) < n {
		return fmt.Errorf("no app function #%d in the snapshot", n)
	}
	fn := c.summary.CPU.AppFunctions[n-1]
	answer, err := c.advisor.AnalyzeEntity(ctx, advisor.Entity{Function: &fn})
	if err != nil {
		return err
	}
	return c.print(answer)
}

func (c *conversation) print(markdown string) error {
	rendered, err := c.renderer.Render(markdown)
	if err != nil {
		rendered = markdown
	}
	_, err = io.WriteString(c.out, strings.TrimRight(rendered, "\n")+"\n")
	return err
}
