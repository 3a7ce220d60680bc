package ux

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jorge-barreto/synthflow/internal/pipeline"
	"github.com/jorge-barreto/synthflow/internal/state"
)

// RenderResult prints the closing summary of a run: status, per-stage
// durations and, when dir is set, the files saved there.
func RenderResult(w io.Writer, res *pipeline.Result, elapsed time.Duration, dir string) {
	st := newStyles(lipgloss.NewRenderer(w))

	status := st.green.Bold(true).Render(res.Status)
	if res.Status != state.StatusCompleted {
		status = st.red.Bold(true).Render(res.Status)
	}
	fmt.Fprintf(w, "\n%s  %s\n", st.bold.Render("Run:"), res.RunID)
	fmt.Fprintf(w, "%s  %s (%s, %d tool calls)\n", st.bold.Render("State:"), status, formatDuration(elapsed), len(res.Records))
	if res.Artifact != nil {
		fmt.Fprintf(w, "%s  accepted on attempt %d, %d placeholder code(s)\n", st.bold.Render("Module:"), res.Artifact.Attempts, res.Artifact.Placeholders)
	}

	if entries := res.Timing.Snapshot(); len(entries) > 0 {
		fmt.Fprintf(w, "\n%s\n", st.bold.Render("Stages:"))
		for _, e := range entries {
			dur := e.Duration
			if dur == "" {
				dur = "unfinished"
			}
			fmt.Fprintf(w, "  %-12s %s\n", e.Stage, st.dim.Render(dur))
		}
	}

	if dir == "" {
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintf(w, "\n%s\n", st.bold.Render("Artifacts:"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(w, "  %s\n\n", st.dim.Render("(none)"))
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "  %s/%s\n", dir, e.Name())
	}
	fmt.Fprintln(w)
}

// Hint prints a follow-up suggestion in the warning color.
func Hint(w io.Writer, label, text string) {
	st := newStyles(lipgloss.NewRenderer(w))
	fmt.Fprintf(w, "%s %s\n", st.yellow.Render(label+":"), text)
}

// Error prints msg as the CLI's error line.
func Error(w io.Writer, msg string) {
	st := newStyles(lipgloss.NewRenderer(w))
	fmt.Fprintf(w, "%s %s\n", st.red.Render("error:"), msg)
}

func formatDuration(d time.Duration) string {
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %02ds", m, s)
}
