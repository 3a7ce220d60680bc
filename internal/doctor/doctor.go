// Package doctor checks that a project can run and diagnoses failed runs.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jorge-barreto/synthflow/internal/config"
	"github.com/jorge-barreto/synthflow/internal/llm"
	"github.com/jorge-barreto/synthflow/internal/state"
	"github.com/jorge-barreto/synthflow/internal/tools"
)

const maxEventLines = 200

// Check is one readiness probe result.
type Check struct {
	Name   string
	OK     bool
	Detail string
	// Optional checks warn instead of failing.
	Optional bool
}

// Checks probes the configured backend, keys, cache and artifacts directory.
// configPath is reported as-is; an empty path means defaults are in use.
func Checks(ctx context.Context, cfg *config.Config, configPath string) []Check {
	var out []Check

	if configPath == "" {
		out = append(out, Check{Name: "config", OK: true, Detail: "no config file, using defaults"})
	} else {
		out = append(out, Check{Name: "config", OK: true, Detail: configPath})
	}

	if err := llm.Preflight(cfg.Model); err != nil {
		out = append(out, Check{Name: "model backend", Detail: err.Error()})
	} else {
		out = append(out, Check{Name: "model backend", OK: true, Detail: fmt.Sprintf("%s (%s)", cfg.Model.Backend, cfg.Model.Name)})
	}

	if cfg.NCBIKey() == "" {
		out = append(out, Check{Name: "ncbi api key", Optional: true,
			Detail: fmt.Sprintf("%s not set, literature tools limited to 3 requests/second", cfg.Tools.NCBIKeyEnv)})
	} else {
		out = append(out, Check{Name: "ncbi api key", OK: true, Detail: cfg.Tools.NCBIKeyEnv})
	}

	out = append(out, checkCache(ctx, cfg.Tools.Cache))
	out = append(out, checkWritable(cfg.ArtifactsDir))
	return out
}

func checkCache(ctx context.Context, c config.Cache) Check {
	if c.Backend != "redis" {
		return Check{Name: "tool cache", OK: true, Detail: c.Backend}
	}
	client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	defer client.Close()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return Check{Name: "tool cache", Optional: true,
			Detail: fmt.Sprintf("redis at %s unreachable (%v), runs fall back to memory", c.RedisAddr, err)}
	}
	return Check{Name: "tool cache", OK: true, Detail: "redis at " + c.RedisAddr}
}

func checkWritable(dir string) Check {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Check{Name: "artifacts dir", Detail: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: "artifacts dir", Detail: err.Error()}
	}
	f.Close()
	os.Remove(f.Name())
	return Check{Name: "artifacts dir", OK: true, Detail: dir}
}

// Failed reports whether any non-optional check failed.
func Failed(checks []Check) bool {
	for _, c := range checks {
		if !c.OK && !c.Optional {
			return true
		}
	}
	return false
}

const diagPrompt = `You are diagnosing a failed synthflow run. The run gathers biomedical
evidence with retrieval tools and then drafts a GMF module that must pass a
validator. Analyze the context below and provide a concise diagnosis.

## Run Summary
%s

## Tool Invocations
%s

## Event Log (last %d lines)
%s

Instructions:
1. Identify the stage that failed and why.
2. Classify it as an EVIDENCE problem (tools failed, request too vague, nothing
   retrieved), a GENERATION problem (the module kept failing validation), or an
   ENVIRONMENT problem (keys, network, backend).
3. Suggest specific fixes, such as a reworded request, a --pdf-dir, a higher
   evidence.max-tool-calls or generation.max-attempts, or a different model.

Be direct and concise. Focus on actionable advice.`

// Diagnose asks model to explain the failed run saved in runDir and writes
// the answer to w.
func Diagnose(ctx context.Context, model llm.Model, runDir string, w io.Writer) error {
	summary, err := os.ReadFile(filepath.Join(runDir, "run.json"))
	if err != nil {
		return fmt.Errorf("reading run: %w", err)
	}
	var run struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(summary, &run); err != nil {
		return fmt.Errorf("reading run: %w", err)
	}
	if run.Status != state.StatusAborted {
		fmt.Fprintln(w, "No failed run to diagnose.")
		return nil
	}

	prompt := buildPrompt(string(summary), gatherAudit(runDir), gatherEvents(runDir))
	c, err := model.Complete(ctx, llm.Prompt{Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}}})
	if err != nil {
		return fmt.Errorf("asking for a diagnosis: %w", err)
	}
	fmt.Fprintln(w, c.Text)
	return nil
}

func buildPrompt(summary, audit, events string) string {
	return fmt.Sprintf(diagPrompt, summary, audit, maxEventLines, events)
}

func gatherAudit(runDir string) string {
	data, err := os.ReadFile(filepath.Join(runDir, "audit.json"))
	if err != nil {
		return "(no audit log found)"
	}
	var records []tools.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return "(unreadable audit log)"
	}
	if len(records) == 0 {
		return "(no tools were called)"
	}
	var parts []string
	for _, r := range records {
		args, _ := json.Marshal(r.Args)
		line := fmt.Sprintf("#%d %s %s", r.Seq, r.Tool, args)
		if r.Failure != nil {
			line += " FAILED " + r.Failure.Error()
		} else {
			line += fmt.Sprintf(" ok (%d bytes)", len(r.Output))
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n")
}

func gatherEvents(runDir string) string {
	data, err := os.ReadFile(filepath.Join(runDir, "events.jsonl"))
	if err != nil {
		return "(no event log found)"
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > maxEventLines {
		lines = lines[len(lines)-maxEventLines:]
		return fmt.Sprintf("... (truncated to last %d lines)\n%s", maxEventLines, strings.Join(lines, "\n"))
	}
	return strings.Join(lines, "\n")
}

// LastFailedRun returns the most recently modified run directory under
// artifactsDir whose status is aborted, or "".
func LastFailedRun(artifactsDir string) string {
	entries, err := os.ReadDir(artifactsDir)
	if err != nil {
		return ""
	}
	var (
		best    string
		bestMod time.Time
	)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(artifactsDir, e.Name())
		data, err := os.ReadFile(filepath.Join(dir, "run.json"))
		if err != nil {
			continue
		}
		var run struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(data, &run) != nil || run.Status != state.StatusAborted {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = dir, info.ModTime()
		}
	}
	return best
}

