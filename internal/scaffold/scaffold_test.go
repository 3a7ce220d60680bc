package scaffold

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jorge-barreto/synthflow/internal/config"
)

func TestInit_CreatesDirectoryStructure(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	if err := Init(dir, "openai", &out); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	for _, path := range []string{
		".synthflow",
		filepath.Join(".synthflow", "config.yaml"),
		filepath.Join(".synthflow", ".gitignore"),
	} {
		full := filepath.Join(dir, path)
		info, err := os.Stat(full)
		if err != nil {
			t.Fatalf("%s not created: %v", path, err)
		}
		if !info.IsDir() && info.Size() == 0 {
			t.Fatalf("%s is empty", path)
		}
	}
	if !strings.Contains(out.String(), "Initialized .synthflow/") {
		t.Fatalf("got output %q", out.String())
	}
}

func TestInit_GeneratedConfigIsValid(t *testing.T) {
	for _, backend := range []string{"openai", "claude"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			if err := Init(dir, backend, &bytes.Buffer{}); err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			cfg, err := config.Load(config.Path(dir))
			if err != nil {
				t.Fatalf("config.Load failed on generated config: %v", err)
			}
			if cfg.Model.Backend != backend {
				t.Fatalf("got backend %q, want %q", cfg.Model.Backend, backend)
			}
			if cfg.Evidence.MaxToolCalls != 12 || cfg.Generation.MaxAttempts != 3 {
				t.Fatalf("got evidence %+v generation %+v", cfg.Evidence, cfg.Generation)
			}
			if backend == "claude" && cfg.Model.Name != "sonnet" {
				t.Fatalf("got model %q", cfg.Model.Name)
			}
		})
	}
}

func TestInit_UnknownBackend(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, "gemini", &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := os.Stat(filepath.Join(dir, ".synthflow")); err == nil {
		t.Fatal("directory should not be created for a bad backend")
	}
}

func TestInit_FailsIfDirExists(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".synthflow"), 0755); err != nil {
		t.Fatal(err)
	}

	err := Init(dir, "openai", &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error when .synthflow already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected error containing 'already exists', got: %s", err)
	}
}
