package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// StreamResult holds the parsed output of a stream-json claude invocation.
type StreamResult struct {
	Text      string
	ToolUses  []string
	CostUSD   float64
	SessionID string
	IsError   bool
}

// streamState tracks tool use accumulation across stream events.
type streamState struct {
	toolName string
	inputBuf strings.Builder
}

// processStream reads stream-json lines, copies text deltas to display, and
// extracts the final result. Malformed lines are skipped.
func processStream(ctx context.Context, stdout io.Reader, display io.Writer) (*StreamResult, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)

	var result StreamResult
	var textBuf strings.Builder
	var ss streamState
	var finalText string

	for scanner.Scan() {
		if ctx.Err() != nil {
			return &result, ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event streamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Type {
		case "stream_event":
			handleStreamEvent(&event, &textBuf, &ss, &result, display)
		case "result":
			finalText = handleResultEvent(&event, &result)
		}
	}
	if err := scanner.Err(); err != nil {
		return &result, fmt.Errorf("reading stream: %w", err)
	}

	result.Text = textBuf.String()
	if strings.TrimSpace(result.Text) == "" {
		result.Text = finalText
	}
	return &result, nil
}

// streamEvent is the top-level JSON structure of stream-json output.
type streamEvent struct {
	Type      string          `json:"type"`
	Event     json.RawMessage `json:"event"`
	SessionID string          `json:"session_id"`

	// Fields for "result" type
	Result       json.RawMessage `json:"result"`
	CostUSD      float64         `json:"cost_usd"`
	TotalCostUSD float64         `json:"total_cost_usd"`
	IsError      bool            `json:"is_error"`
}

type contentBlock struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type nestedEvent struct {
	Type         string        `json:"type"`
	ContentBlock *contentBlock `json:"content_block"`
	Delta        *deltaBlock   `json:"delta"`
}

type deltaBlock struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
}

type resultPayload struct {
	CostUSD   float64 `json:"cost_usd"`
	SessionID string  `json:"session_id"`
}

func handleStreamEvent(event *streamEvent, textBuf *strings.Builder, ss *streamState, result *StreamResult, display io.Writer) {
	if event.Event == nil {
		return
	}
	var nested nestedEvent
	if err := json.Unmarshal(event.Event, &nested); err != nil {
		return
	}

	switch nested.Type {
	case "content_block_start":
		if nested.ContentBlock != nil && nested.ContentBlock.Type == "tool_use" {
			ss.toolName = nested.ContentBlock.Name
			ss.inputBuf.Reset()
		}

	case "content_block_delta":
		if nested.Delta == nil {
			return
		}
		switch nested.Delta.Type {
		case "text_delta":
			textBuf.WriteString(nested.Delta.Text)
			if display != nil {
				fmt.Fprint(display, nested.Delta.Text)
			}
		case "input_json_delta":
			ss.inputBuf.WriteString(nested.Delta.PartialJSON)
		}

	case "content_block_stop":
		if ss.toolName != "" {
			use := ss.toolName
			if s := toolUseSummary(ss.inputBuf.String()); s != "" {
				use += "(" + s + ")"
			}
			result.ToolUses = append(result.ToolUses, use)
			ss.toolName = ""
			ss.inputBuf.Reset()
		}
	}
}

// toolUseSummary returns the first string value of the accumulated tool
// input, or the raw input when it is not an object.
func toolUseSummary(rawJSON string) string {
	if rawJSON == "" {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(rawJSON), &obj); err != nil {
		return rawJSON
	}
	for _, k := range sortedKeys(obj) {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return rawJSON
}

// handleResultEvent fills cost and session fields and returns the result
// text when the result field is a plain string.
func handleResultEvent(event *streamEvent, result *StreamResult) string {
	result.IsError = event.IsError
	if event.SessionID != "" {
		result.SessionID = event.SessionID
	}
	switch {
	case event.TotalCostUSD > 0:
		result.CostUSD = event.TotalCostUSD
	case event.CostUSD > 0:
		result.CostUSD = event.CostUSD
	}
	if event.Result == nil {
		return ""
	}

	var text string
	if err := json.Unmarshal(event.Result, &text); err == nil {
		return text
	}
	var payload resultPayload
	if err := json.Unmarshal(event.Result, &payload); err == nil {
		if payload.CostUSD > 0 {
			result.CostUSD = payload.CostUSD
		}
		if payload.SessionID != "" {
			result.SessionID = payload.SessionID
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
