package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/jorge-barreto/synthflow/internal/tools"
)

// RunOutput is everything a finished run leaves behind for the user.
type RunOutput struct {
	RunID    string
	Request  string
	Status   string
	Error    string
	Evidence string
	Module   json.RawMessage
	Records  []tools.Record
	Timing   *Timing
}

type runSummary struct {
	RunID   string `json:"run_id"`
	Request string `json:"request"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Tools   int    `json:"tool_calls"`
}

// RunDir returns the directory holding one run's outputs.
func RunDir(artifactsDir, runID string) string {
	return filepath.Join(artifactsDir, runID)
}

// EventsPath returns where a run's event log is written.
func EventsPath(artifactsDir, runID string) string {
	return filepath.Join(RunDir(artifactsDir, runID), "events.jsonl")
}

// WriteRun saves out under artifactsDir/<run id> and returns that directory.
// run.json and audit.json are always written; evidence.md and module.json
// only when the run got that far.
func WriteRun(artifactsDir string, out RunOutput) (string, error) {
	if out.RunID == "" {
		return "", fmt.Errorf("writing run: missing run id")
	}
	dir := RunDir(artifactsDir, out.RunID)

	summary := runSummary{
		RunID:   out.RunID,
		Request: out.Request,
		Status:  out.Status,
		Error:   out.Error,
		Tools:   len(out.Records),
	}
	if err := writeJSON(filepath.Join(dir, "run.json"), summary); err != nil {
		return "", err
	}

	records := out.Records
	if records == nil {
		records = []tools.Record{}
	}
	if err := writeJSON(filepath.Join(dir, "audit.json"), records); err != nil {
		return "", err
	}

	if out.Evidence != "" {
		if err := writeFileAtomic(filepath.Join(dir, "evidence.md"), []byte(out.Evidence+"\n"), 0644); err != nil {
			return "", err
		}
	}

	if len(out.Module) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, out.Module, "", "  "); err != nil {
			return "", fmt.Errorf("writing module: %w", err)
		}
		buf.WriteByte('\n')
		if err := writeFileAtomic(filepath.Join(dir, "module.json"), buf.Bytes(), 0644); err != nil {
			return "", err
		}
	}

	if out.Timing != nil {
		if err := writeJSON(filepath.Join(dir, "timing.json"), struct {
			Entries []TimingEntry `json:"entries"`
		}{out.Timing.Snapshot()}); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0644)
}
