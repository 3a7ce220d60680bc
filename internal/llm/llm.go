// Package llm provides the text-generation backends that drive the
// reasoning and drafting steps of a run.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jorge-barreto/synthflow/internal/config"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Prompt is one generation request.
type Prompt struct {
	System   string
	Messages []Message
}

// Completion is a backend's reply.
type Completion struct {
	Text      string
	Model     string
	CostUSD   float64
	SessionID string
}

// Model is a text-generation backend.
type Model interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, p Prompt) (Completion, error)

func (f ModelFunc) Complete(ctx context.Context, p Prompt) (Completion, error) { return f(ctx, p) }

// ErrEmptyCompletion is returned when a backend replies with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// New returns the backend selected by cfg.Model.
func New(cfg *config.Config, logger *zap.Logger) (Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Model.Backend {
	case "openai":
		key := cfg.APIKey()
		if key == "" {
			return nil, fmt.Errorf("model: %s is not set", cfg.Model.APIKeyEnv)
		}
		return NewOpenAI(OpenAIOptions{
			APIKey:      key,
			BaseURL:     cfg.Model.BaseURL,
			Model:       cfg.Model.Name,
			Temperature: cfg.Model.Temperature,
			Timeout:     cfg.ModelTimeout(),
		}), nil
	case "claude":
		return &Claude{
			Model:   cfg.Model.Name,
			Timeout: cfg.ModelTimeout(),
			Logger:  logger.Named("claude"),
		}, nil
	}
	return nil, fmt.Errorf("model: unknown backend %q", cfg.Model.Backend)
}

// transcript flattens p into a single text prompt for backends that take one.
func transcript(p Prompt) string {
	var b strings.Builder
	if p.System != "" {
		b.WriteString(p.System)
		b.WriteString("\n\n")
	}
	for _, m := range p.Messages {
		switch m.Role {
		case RoleAssistant:
			b.WriteString("ASSISTANT:\n")
		default:
			b.WriteString("USER:\n")
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
