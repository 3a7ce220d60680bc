// Package scaffold creates a new project directory.
package scaffold

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jorge-barreto/synthflow/internal/config"
)

var configTemplate = `name: disease-modules

model:
  backend: {{backend}}
  name: {{model}}
  # base-url: ""            # OpenAI-compatible endpoint override
  {{keyline}}
  timeout: 120
  temperature: 0.2

evidence:
  max-tool-calls: 12        # the stage must finalize after this many calls
  max-observation-chars: 12000

generation:
  max-attempts: 3           # initial draft plus repairs, at least 2

tools:
  ncbi-api-key-env: NCBI_API_KEY
  timeout: 20
  max-results: 50
  cache:
    backend: memory         # memory | redis | none
    # redis-addr: localhost:6379
    ttl: 60                 # minutes

log:
  level: info
  format: console

# metrics:
#   addr: ":9090"

# tracing:
#   enabled: true
#   endpoint: localhost:4317

artifacts-dir: .synthflow/artifacts
`

const gitignore = "artifacts/\n"

// Render returns the starter config for backend.
func Render(backend string) (string, error) {
	cfg := &config.Config{Model: config.Model{Backend: backend}}
	if err := config.Validate(cfg); err != nil {
		return "", err
	}
	keyline := "# api-key-env: not used by the claude backend"
	if cfg.Model.APIKeyEnv != "" {
		keyline = "api-key-env: " + cfg.Model.APIKeyEnv
	}
	r := strings.NewReplacer("{{backend}}", cfg.Model.Backend, "{{model}}", cfg.Model.Name, "{{keyline}}", keyline)
	return r.Replace(configTemplate), nil
}

// Init creates targetDir/.synthflow with a starter config and prints what it
// made to w.
func Init(targetDir, backend string, w io.Writer) error {
	dir := filepath.Join(targetDir, config.Dir)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%s directory already exists in %s", config.Dir, targetDir)
	}
	content, err := Render(backend)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", config.Dir, err)
	}
	if err := os.WriteFile(config.Path(targetDir), []byte(content), 0644); err != nil {
		return fmt.Errorf("writing config.yaml: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	r := lipgloss.NewRenderer(w)
	ok := r.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	path := r.NewStyle().Foreground(lipgloss.Color("6"))
	fmt.Fprintf(w, "\n%s\n\n", ok.Render("✓ Initialized "+config.Dir+"/ directory"))
	fmt.Fprintf(w, "  Created:\n")
	fmt.Fprintf(w, "    %s  run configuration\n\n", path.Render(config.Dir+"/config.yaml"))
	fmt.Fprintf(w, "  Next steps:\n")
	fmt.Fprintf(w, "    1. Run %s to check keys and backends\n", path.Render("synthflow doctor"))
	fmt.Fprintf(w, "    2. Run %s\n\n", path.Render(`synthflow run "Generate a module for asthma"`))
	return nil
}
