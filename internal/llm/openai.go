package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	// NoRetry disables the client's built-in retries.
	NoRetry bool
}

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
}

func NewOpenAI(o OpenAIOptions) *OpenAI {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(o.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if o.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.BaseURL))
	}
	if o.NoRetry {
		opts = append(opts, option.WithMaxRetries(0))
	}
	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       o.Model,
		temperature: o.Temperature,
	}
}

func (m *OpenAI) Complete(ctx context.Context, p Prompt) (Completion, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if p.System != "" {
		msgs = append(msgs, openai.SystemMessage(p.System))
	}
	for _, msg := range p.Messages {
		if msg.Role == RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(msg.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(msg.Content))
		}
	}

	resp, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(m.model),
		Messages:    msgs,
		Temperature: openai.Float(m.temperature),
	})
	if err != nil {
		return Completion{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("openai: %w", ErrEmptyCompletion)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Completion{}, fmt.Errorf("openai: %w", ErrEmptyCompletion)
	}
	return Completion{Text: text, Model: resp.Model}, nil
}
