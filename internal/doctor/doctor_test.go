package doctor

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/jorge-barreto/synthflow/internal/config"
	"github.com/jorge-barreto/synthflow/internal/llm"
	"github.com/jorge-barreto/synthflow/internal/state"
	"github.com/jorge-barreto/synthflow/internal/tools"
)

func findCheck(t *testing.T, checks []Check, name string) Check {
	t.Helper()
	for _, c := range checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no check named %q", name)
	return Check{}
}

func TestChecks_MissingKeys(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("NCBI_API_KEY", "")
	cfg := config.Default()
	cfg.ArtifactsDir = filepath.Join(t.TempDir(), "artifacts")

	checks := Checks(context.Background(), cfg, "")
	if c := findCheck(t, checks, "model backend"); c.OK || !strings.Contains(c.Detail, "OPENAI_API_KEY") {
		t.Errorf("got model check %+v", c)
	}
	if c := findCheck(t, checks, "ncbi api key"); c.OK || !c.Optional {
		t.Errorf("got ncbi check %+v", c)
	}
	if c := findCheck(t, checks, "artifacts dir"); !c.OK {
		t.Errorf("got artifacts check %+v", c)
	}
	if !Failed(checks) {
		t.Error("missing model key should fail doctor")
	}
}

func TestChecks_AllGood(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("NCBI_API_KEY", "ncbi")
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.ArtifactsDir = t.TempDir()
	cfg.Tools.Cache = config.Cache{Backend: "redis", RedisAddr: mr.Addr()}

	checks := Checks(context.Background(), cfg, "/p/.synthflow/config.yaml")
	if Failed(checks) {
		t.Fatalf("got failing checks %+v", checks)
	}
	if c := findCheck(t, checks, "tool cache"); c.Detail != "redis at "+mr.Addr() {
		t.Errorf("got cache check %+v", c)
	}
	if c := findCheck(t, checks, "config"); c.Detail != "/p/.synthflow/config.yaml" {
		t.Errorf("got config check %+v", c)
	}
}

func TestCheckCache_RedisDownIsOptional(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := checkCache(context.Background(), config.Cache{Backend: "redis", RedisAddr: addr})
	if c.OK || !c.Optional || !strings.Contains(c.Detail, "fall back to memory") {
		t.Fatalf("got %+v", c)
	}
}

func writeRun(t *testing.T, dir string, status string, records []tools.Record, events string) string {
	t.Helper()
	runDir, err := state.WriteRun(dir, state.RunOutput{RunID: "run-" + status, Request: "asthma", Status: status, Records: records})
	if err != nil {
		t.Fatal(err)
	}
	if events != "" {
		if err := os.WriteFile(filepath.Join(runDir, "events.jsonl"), []byte(events), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return runDir
}

func TestDiagnose_FailedRun(t *testing.T) {
	runDir := writeRun(t, t.TempDir(), state.StatusAborted, []tools.Record{
		{Seq: 1, Tool: "trial-detail", Args: tools.Args{"id": "NCT00000000"},
			Failure: &tools.Failure{Kind: tools.KindToolFailure, Reason: "HTTP 404"}},
		{Seq: 2, Tool: "literature-search", Output: json.RawMessage(`{"results":[]}`)},
	}, `{"seq":1,"kind":"run-failed"}`+"\n")

	var prompt string
	model := llm.ModelFunc(func(_ context.Context, p llm.Prompt) (llm.Completion, error) {
		prompt = p.Messages[0].Content
		return llm.Completion{Text: "EVIDENCE problem: the trial id does not exist."}, nil
	})
	var out bytes.Buffer
	if err := Diagnose(context.Background(), model, runDir, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "EVIDENCE problem") {
		t.Fatalf("got output %q", out.String())
	}
	for _, want := range []string{
		`"status": "aborted"`,
		`#1 trial-detail {"id":"NCT00000000"} FAILED tool_failure: HTTP 404`,
		"#2 literature-search",
		"ok (14 bytes)",
		`"kind":"run-failed"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestDiagnose_CompletedRun(t *testing.T) {
	runDir := writeRun(t, t.TempDir(), state.StatusCompleted, nil, "")
	model := llm.ModelFunc(func(context.Context, llm.Prompt) (llm.Completion, error) {
		t.Fatal("model should not be called")
		return llm.Completion{}, nil
	})
	var out bytes.Buffer
	if err := Diagnose(context.Background(), model, runDir, &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "No failed run to diagnose.\n" {
		t.Fatalf("got %q", out.String())
	}
}

func TestGatherEvents_Truncates(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := 0; i < 300; i++ {
		lines = append(lines, `{"seq":1}`)
	}
	os.WriteFile(filepath.Join(dir, "events.jsonl"), []byte(strings.Join(lines, "\n")+"\n"), 0644)

	got := gatherEvents(dir)
	if !strings.HasPrefix(got, "... (truncated to last 200 lines)") {
		t.Errorf("expected truncation prefix, got %q", got[:40])
	}
	if n := len(strings.Split(got, "\n")); n != 201 {
		t.Errorf("got %d lines, want 201", n)
	}
}

func TestGatherEvents_Missing(t *testing.T) {
	if got := gatherEvents(t.TempDir()); got != "(no event log found)" {
		t.Errorf("got %q", got)
	}
}

func TestLastFailedRun(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, dir, state.StatusCompleted, nil, "")
	if got := LastFailedRun(dir); got != "" {
		t.Fatalf("got %q, want none", got)
	}
	failed := writeRun(t, dir, state.StatusAborted, nil, "")
	if got := LastFailedRun(dir); got != failed {
		t.Fatalf("got %q, want %q", got, failed)
	}
}
