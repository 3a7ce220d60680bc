package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Claude runs the claude CLI in print mode and parses its stream-json output.
type Claude struct {
	Model   string
	Timeout time.Duration
	// WorkDir is the child's working directory; "" inherits ours.
	WorkDir string
	// Display, when set, receives text deltas as they stream.
	Display io.Writer
	Logger  *zap.Logger
	// Binary overrides the executable name.
	Binary string
}

func (c *Claude) Complete(ctx context.Context, p Prompt) (Completion, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bin := c.Binary
	if bin == "" {
		bin = "claude"
	}

	cmd := exec.CommandContext(ctx, bin, c.args(transcript(p))...)
	cmd.Dir = c.WorkDir
	cmd.Env = BuildEnv(os.Environ())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Completion{}, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Completion{}, fmt.Errorf("claude: %w", err)
	}
	result, streamErr := processStream(ctx, stdout, c.Display)
	if streamErr != nil {
		io.Copy(io.Discard, stdout)
	}
	code, waitErr := exitCode(cmd.Wait())

	switch {
	case ctx.Err() != nil:
		return Completion{}, ctx.Err()
	case waitErr != nil:
		return Completion{}, fmt.Errorf("claude: %w", waitErr)
	case streamErr != nil:
		return Completion{}, fmt.Errorf("claude: %w", streamErr)
	case code != 0:
		return Completion{}, fmt.Errorf("claude exited with code %d: %s", code, tail(stderr.String(), 500))
	case result.IsError:
		return Completion{}, fmt.Errorf("claude reported an error: %s", tail(result.Text, 500))
	}

	logger.Debug("Completion finished",
		zap.String("model", c.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Float64("cost_usd", result.CostUSD),
		zap.Strings("tool_uses", result.ToolUses),
	)
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return Completion{}, fmt.Errorf("claude: %w", ErrEmptyCompletion)
	}
	return Completion{Text: text, Model: c.Model, CostUSD: result.CostUSD, SessionID: result.SessionID}, nil
}

func (c *Claude) args(prompt string) []string {
	args := []string{"-p", prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
	}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	return args
}

// BuildEnv returns environ without CLAUDECODE* variables, so a nested claude
// does not believe it runs inside another session.
func BuildEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, e := range environ {
		key := strings.SplitN(e, "=", 2)[0]
		if strings.HasPrefix(key, "CLAUDECODE") {
			continue
		}
		out = append(out, e)
	}
	return out
}

// exitCode extracts an exit code from a command error.
// Returns (code, nil) for ExitError, (0, err) for other errors, (0, nil) for nil.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
