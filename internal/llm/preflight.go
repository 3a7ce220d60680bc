package llm

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/jorge-barreto/synthflow/internal/config"
)

// Preflight checks that the configured backend can run: the claude binary
// on PATH, or the API key variable set for openai.
func Preflight(m config.Model) error {
	switch m.Backend {
	case "claude":
		if _, err := exec.LookPath("claude"); err != nil {
			return fmt.Errorf("required binary not found in PATH: claude")
		}
	case "openai":
		if m.APIKeyEnv == "" || os.Getenv(m.APIKeyEnv) == "" {
			return fmt.Errorf("environment variable %s is not set", m.APIKeyEnv)
		}
	default:
		return fmt.Errorf("unknown backend %q", m.Backend)
	}
	return nil
}
