package ux

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jorge-barreto/synthflow/internal/event"
	"github.com/jorge-barreto/synthflow/internal/pipeline"
	"github.com/jorge-barreto/synthflow/internal/state"
	"github.com/jorge-barreto/synthflow/internal/tools"
)

func newTestRenderer(verbose bool) (*Renderer, *bytes.Buffer) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, verbose)
	r.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return r, &buf
}

func emitAll(t *testing.T, r *Renderer, evs ...event.Event) {
	t.Helper()
	for _, e := range evs {
		if err := r.Emit(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRenderer_Stream(t *testing.T) {
	r, buf := newTestRenderer(false)
	emitAll(t, r,
		event.Event{Stage: event.StageEvidence, Kind: event.KindReasoning, Payload: event.Reasoning{Text: "search first\nmore detail"}},
		event.Event{Stage: event.StageEvidence, Kind: event.KindToolCall, Payload: event.ToolCall{Tool: "literature-search", Args: map[string]any{"term": "asthma"}}},
		event.Event{Stage: event.StageEvidence, Kind: event.KindToolResult, Payload: event.ToolResult{Record: tools.Record{
			Seq: 1, Tool: "literature-search", Output: json.RawMessage(`{"a":1}`), Duration: 1500 * time.Millisecond}}},
		event.Event{Stage: event.StageEvidence, Kind: event.KindToolResult, Payload: event.ToolResult{Record: tools.Record{
			Seq: 2, Tool: "trial-detail", Failure: &tools.Failure{Kind: tools.KindToolFailure, Reason: "HTTP 404"}}}},
		event.Event{Stage: event.StageEvidence, Kind: event.KindFinalOutput, Payload: event.FinalOutput{Text: "1. a\n2. b\n"}},
		event.Event{Stage: event.StageGeneration, Kind: event.KindFinalOutput, Payload: event.FinalOutput{Text: `{"name":"x"}`}},
		event.Event{Stage: event.StagePipeline, Kind: event.KindRunFailed, Payload: event.RunFailed{Stage: event.StageGeneration, Error: "boom"}},
	)
	out := buf.String()

	for _, want := range []string{
		"[03:04:05]",
		"Stage: evidence gathering",
		"… search first\n",
		`⚡ literature-search {"term":"asthma"}`,
		"✓ #1 literature-search",
		"(7 bytes, 1.5s)",
		"✗ #2 trial-detail failed: tool_failure: HTTP 404",
		"✓ Evidence captured (2 lines)",
		"Stage: module generation",
		"✓ Module accepted (12 bytes)",
		"✗ Run failed in generation stage: boom",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "more detail") {
		t.Error("non-verbose output should show only the first reasoning line")
	}
	if strings.Count(out, "Stage: ") != 2 {
		t.Errorf("expected one header per stage:\n%s", out)
	}
}

func TestRenderer_VerboseEchoesFinalOutput(t *testing.T) {
	r, buf := newTestRenderer(true)
	emitAll(t, r, event.Event{Stage: event.StageEvidence, Kind: event.KindFinalOutput, Payload: event.FinalOutput{Text: "1. fact"}})
	if !strings.Contains(buf.String(), "1. fact\n") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestRenderResult(t *testing.T) {
	dir := t.TempDir()
	if _, err := state.WriteRun(dir, state.RunOutput{RunID: "r1", Status: state.StatusCompleted}); err != nil {
		t.Fatal(err)
	}
	timing := state.NewTiming()
	timing.AddStart("evidence")
	timing.AddEnd("evidence")
	res := &pipeline.Result{
		RunID:    "r1",
		Status:   state.StatusCompleted,
		Artifact: &state.Artifact{Attempts: 2, Placeholders: 3},
		Timing:   timing,
	}

	var buf bytes.Buffer
	RenderResult(&buf, res, 65*time.Second, state.RunDir(dir, "r1"))
	out := buf.String()
	for _, want := range []string{"r1", "completed", "1m 05s", "attempt 2, 3 placeholder", "evidence", "0m 00s", "audit.json", "run.json"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestError(t *testing.T) {
	var buf bytes.Buffer
	Error(&buf, "no request given")
	if !strings.Contains(buf.String(), "error:") || !strings.Contains(buf.String(), "no request given") {
		t.Fatalf("got %q", buf.String())
	}
}
