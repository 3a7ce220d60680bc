package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jorge-barreto/synthflow/internal/tools"
)

func TestWriteRun_Completed(t *testing.T) {
	root := t.TempDir()
	tm := NewTiming()
	tm.AddStart("evidence")
	tm.AddEnd("evidence")

	dir, err := WriteRun(root, RunOutput{
		RunID:    "r1",
		Request:  "asthma",
		Status:   StatusCompleted,
		Evidence: "1. Prevalence 8%.",
		Module:   json.RawMessage(`{"name":"Asthma","gmf_version":2,"states":{}}`),
		Records:  []tools.Record{{Seq: 1, Tool: "literature-search", Output: json.RawMessage(`{}`)}},
		Timing:   tm,
	})
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join(root, "r1") {
		t.Fatalf("got dir %q", dir)
	}
	for _, name := range []string{"run.json", "audit.json", "evidence.md", "module.json", "timing.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not written: %v", name, err)
		}
	}

	module, _ := os.ReadFile(filepath.Join(dir, "module.json"))
	if !strings.Contains(string(module), "\n  \"name\": \"Asthma\"") {
		t.Fatalf("module should be indented, got %s", module)
	}

	var summary map[string]any
	data, _ := os.ReadFile(filepath.Join(dir, "run.json"))
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatal(err)
	}
	if summary["status"] != "completed" || summary["tool_calls"] != float64(1) {
		t.Fatalf("got %v", summary)
	}
}

func TestWriteRun_AbortedHasNoModule(t *testing.T) {
	root := t.TempDir()
	dir, err := WriteRun(root, RunOutput{RunID: "r2", Status: StatusAborted, Error: "evidence absent"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "module.json")); !os.IsNotExist(err) {
		t.Fatal("aborted run must not write module.json")
	}
	audit, _ := os.ReadFile(filepath.Join(dir, "audit.json"))
	if strings.TrimSpace(string(audit)) != "[]" {
		t.Fatalf("got audit %s", audit)
	}
}

func TestWriteRun_MissingRunID(t *testing.T) {
	if _, err := WriteRun(t.TempDir(), RunOutput{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestEventsPath(t *testing.T) {
	if got, want := EventsPath("art", "r1"), filepath.Join("art", "r1", "events.jsonl"); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
