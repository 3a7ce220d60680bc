// Package ux renders pipeline events and run summaries for a terminal.
package ux

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jorge-barreto/synthflow/internal/event"
)

type styles struct {
	dim, bold, red, green, yellow, cyan lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		dim:    r.NewStyle().Faint(true),
		bold:   r.NewStyle().Bold(true),
		red:    r.NewStyle().Foreground(lipgloss.Color("1")),
		green:  r.NewStyle().Foreground(lipgloss.Color("2")),
		yellow: r.NewStyle().Foreground(lipgloss.Color("3")),
		cyan:   r.NewStyle().Foreground(lipgloss.Color("6")),
	}
}

const rule = "══════════════════════════════════════"

// Renderer prints events as timestamped lines. It implements event.Sink.
type Renderer struct {
	mu      sync.Mutex
	w       io.Writer
	st      styles
	stage   event.Stage
	now     func() time.Time
	verbose bool
}

// NewRenderer renders to w. With verbose set, reasoning is printed in full and
// final outputs are echoed.
func NewRenderer(w io.Writer, verbose bool) *Renderer {
	return &Renderer{w: w, st: newStyles(lipgloss.NewRenderer(w)), now: time.Now, verbose: verbose}
}

func (r *Renderer) timestamp() string {
	return r.st.dim.Render("[" + r.now().Format("15:04:05") + "]")
}

func (r *Renderer) Emit(_ context.Context, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.Stage != r.stage && e.Stage != event.StagePipeline {
		r.stage = e.Stage
		r.header(e.Stage)
	}

	switch p := e.Payload.(type) {
	case event.Reasoning:
		text := p.Text
		if !r.verbose {
			text = truncate(firstLine(text), 100)
		}
		fmt.Fprintf(r.w, "%s  %s\n", r.timestamp(), r.st.dim.Render("… "+text))
	case event.ToolCall:
		args, _ := json.Marshal(p.Args)
		fmt.Fprintf(r.w, "  %s %s\n", r.st.cyan.Render("⚡ "+p.Tool), truncate(string(args), 80))
	case event.ToolResult:
		rec := p.Record
		if rec.OK() {
			fmt.Fprintf(r.w, "  %s %s\n", r.st.green.Render(fmt.Sprintf("✓ #%d %s", rec.Seq, rec.Tool)),
				r.st.dim.Render(fmt.Sprintf("(%d bytes, %s)", len(rec.Output), rec.Duration.Round(time.Millisecond))))
		} else {
			fmt.Fprintf(r.w, "  %s\n", r.st.red.Render(fmt.Sprintf("✗ #%d %s failed: %s", rec.Seq, rec.Tool, rec.Failure.Error())))
		}
	case event.FinalOutput:
		r.final(e.Stage, p.Text)
	case event.RunFailed:
		fmt.Fprintf(r.w, "%s  %s\n", r.timestamp(), r.st.red.Render(fmt.Sprintf("✗ Run failed in %s stage: %s", p.Stage, p.Error)))
	}
	return nil
}

func (r *Renderer) header(stage event.Stage) {
	ts := r.timestamp()
	fmt.Fprintf(r.w, "\n%s %s\n", ts, r.st.cyan.Render(rule))
	fmt.Fprintf(r.w, "%s  %s\n", ts, r.st.bold.Render("Stage: "+stageTitle(stage)))
	fmt.Fprintf(r.w, "%s %s\n", ts, r.st.cyan.Render(rule))
}

func (r *Renderer) final(stage event.Stage, text string) {
	switch stage {
	case event.StageEvidence:
		fmt.Fprintf(r.w, "%s  %s\n", r.timestamp(), r.st.green.Render(fmt.Sprintf("✓ Evidence captured (%d lines)", countLines(text))))
	case event.StageGeneration:
		fmt.Fprintf(r.w, "%s  %s\n", r.timestamp(), r.st.green.Render(fmt.Sprintf("✓ Module accepted (%d bytes)", len(text))))
	}
	if r.verbose {
		fmt.Fprintf(r.w, "%s\n", text)
	}
}

func stageTitle(s event.Stage) string {
	switch s {
	case event.StageEvidence:
		return "evidence gathering"
	case event.StageGeneration:
		return "module generation"
	}
	return string(s)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func countLines(s string) int {
	n := 0
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
