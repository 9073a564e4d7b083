package helpers

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/coral-mesh/vmlens/internal/privacy"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	SectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	HintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	WarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// RenderSummary writes a human-readable view of s.
func RenderSummary(w io.Writer, s privacy.Summary) {
	fmt.Fprintf(w, "%s %s\n", TitleStyle.Render("VM snapshot"),
		HintStyle.Render(fmt.Sprintf("%s, privacy %s", s.Timestamp.Local().Format("15:04:05"), s.Level)))

	if s.CPU != nil {
		fmt.Fprintf(w, "\n%s %s\n", SectionStyle.Render("CPU"),
			HintStyle.Render(fmt.Sprintf("%d samples, %.1f ms", s.CPU.SampleCount, s.CPU.TotalCPUTimeMillis)))
		renderFunctions(w, "App", s.CPU.AppFunctions)
		renderFunctions(w, "Framework", s.CPU.FrameworkFunctions)
	}

	if s.Memory != nil {
		fmt.Fprintf(w, "\n%s %s\n", SectionStyle.Render("Memory"),
			HintStyle.Render(fmt.Sprintf("heap %.1f/%.1f MB, external %.1f MB, %d GCs",
				s.Memory.HeapUsedMB, s.Memory.HeapCapacityMB, s.Memory.ExternalMB, s.Memory.GCCount)))
		renderClasses(w, "App", s.Memory.AppClasses)
		renderClasses(w, "Framework", s.Memory.FrameworkClasses)
	}

	if s.Timeline != nil {
		tl := s.Timeline
		fmt.Fprintf(w, "\n%s\n", SectionStyle.Render("Frames"))
		if tl.TotalFrames == 0 {
			fmt.Fprintf(w, "  %s\n", HintStyle.Render("no frames in the window"))
		} else {
			jank := fmt.Sprintf("%d/%d janky (%.1f%%)", tl.JankFrames, tl.TotalFrames, tl.JankPercent)
			if tl.JankFrames > 0 {
				jank = WarnStyle.Render(jank)
			}
			fmt.Fprintf(w, "  %s  avg %.1f ms  p95 %.1f ms  p99 %.1f ms\n", jank, tl.AvgFrameMillis, tl.P95FrameMillis, tl.P99FrameMillis)
		}
		if tl.Synthetic {
			fmt.Fprintf(w, "  %s\n", HintStyle.Render("frame timings derived from raster events"))
		}
		for _, e := range tl.SlowEvents {
			fmt.Fprintf(w, "  %8.1f ms  %s %s\n", e.DurationMillis, e.Name, HintStyle.Render(e.Category))
		}
	}
}

func renderFunctions(w io.Writer, label string, fns []privacy.FunctionEntry) {
	if len(fns) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s\n", HintStyle.Render(label))
	for _, fn := range fns {
		fmt.Fprintf(w, "  %6.1f%%  %s%s\n", fn.Percentage, qualified(fn.ClassName, fn.Name), location(fn.File, fn.Line))
	}
}

func renderClasses(w io.Writer, label string, classes []privacy.ClassEntry) {
	if len(classes) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s\n", HintStyle.Render(label))
	for _, c := range classes {
		fmt.Fprintf(w, "  %9.1f KB  %7d  %s%s\n", c.LiveKB, c.Instances, c.Name, location(c.File, c.Line))
	}
}

// RenderClass writes the detail view of one class.
func RenderClass(w io.Writer, c privacy.ClassEntry) {
	fmt.Fprintf(w, "%s\n", TitleStyle.Render(c.Name))
	fmt.Fprintf(w, "  instances  %d\n", c.Instances)
	fmt.Fprintf(w, "  live       %.1f KB\n", c.LiveKB)
	if c.File != "" || c.Line > 0 {
		fmt.Fprintf(w, "  declared  %s\n", location(c.File, c.Line))
	}
	if c.UsageContext != "" {
		fmt.Fprintf(w, "\n%s\n", SectionStyle.Render("Usage"))
		for _, line := range strings.Split(c.UsageContext, "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	if c.RetentionRoot != "" || len(c.RetentionPath) > 0 {
		fmt.Fprintf(w, "\n%s %s\n", SectionStyle.Render("Retained by"), HintStyle.Render(c.RetentionRoot))
		for i, step := range c.RetentionPath {
			fmt.Fprintf(w, "  %s%s\n", strings.Repeat("  ", i), step)
		}
	}
}

// RenderFunctions writes a ranked function list.
func RenderFunctions(w io.Writer, fns []privacy.FunctionEntry) {
	if len(fns) == 0 {
		fmt.Fprintf(w, "%s\n", HintStyle.Render("no samples in the window"))
		return
	}
	for i, fn := range fns {
		fmt.Fprintf(w, "%2d. %6.1f%%  %s%s\n", i+1, fn.Percentage, qualified(fn.ClassName, fn.Name), location(fn.File, fn.Line))
		fmt.Fprintf(w, "    %s\n", HintStyle.Render(fmt.Sprintf("self %d, total %d ticks", fn.ExclusiveTicks, fn.InclusiveTicks)))
	}
}

func qualified(class, name string) string {
	if class == "" || strings.HasPrefix(name, class+".") {
		return name
	}
	return class + "." + name
}

func location(file string, line int) string {
	switch {
	case file != "" && line > 0:
		return HintStyle.Render(fmt.Sprintf("  %s:%d", file, line))
	case file != "":
		return HintStyle.Render("  " + file)
	case line > 0:
		return HintStyle.Render(fmt.Sprintf("  line %d", line))
	default:
		return ""
	}
}
