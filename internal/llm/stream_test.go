package llm

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func streamLines(lines ...string) *bytes.Reader {
	return bytes.NewReader([]byte(strings.Join(lines, "\n") + "\n"))
}

func TestProcessStream_TextDeltas(t *testing.T) {
	input := streamLines(
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"{\"action\":"}}}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"\"finalize\"}"}}}`,
		`{"type":"result","result":{"cost_usd":0.01,"session_id":"sess-123"}}`,
	)

	var display bytes.Buffer
	result, err := processStream(context.Background(), input, &display)
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != `{"action":"finalize"}` {
		t.Fatalf("Text = %q", result.Text)
	}
	if display.String() != result.Text {
		t.Fatalf("display = %q", display.String())
	}
	if result.CostUSD != 0.01 {
		t.Fatalf("CostUSD = %f", result.CostUSD)
	}
	if result.SessionID != "sess-123" {
		t.Fatalf("SessionID = %q", result.SessionID)
	}
}

func TestProcessStream_ResultStringFallback(t *testing.T) {
	input := streamLines(
		`{"type":"result","result":"final answer","total_cost_usd":0.2,"session_id":"s9"}`,
	)
	result, err := processStream(context.Background(), input, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "final answer" {
		t.Fatalf("Text = %q", result.Text)
	}
	if result.CostUSD != 0.2 || result.SessionID != "s9" {
		t.Fatalf("got %+v", result)
	}
}

func TestProcessStream_ToolUse(t *testing.T) {
	input := streamLines(
		`{"type":"stream_event","event":{"type":"content_block_start","content_block":{"type":"tool_use","name":"WebSearch"}}}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"query\":"}}}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"\"asthma\"}"}}}`,
		`{"type":"stream_event","event":{"type":"content_block_stop"}}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"Done"}}}`,
	)
	result, err := processStream(context.Background(), input, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.ToolUses) != 1 || result.ToolUses[0] != "WebSearch(asthma)" {
		t.Fatalf("ToolUses = %v", result.ToolUses)
	}
	if result.Text != "Done" {
		t.Fatalf("Text = %q", result.Text)
	}
}

func TestProcessStream_SkipsMalformedLines(t *testing.T) {
	input := streamLines(
		`not json`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"ok"}}}`,
	)
	result, err := processStream(context.Background(), input, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "ok" {
		t.Fatalf("Text = %q", result.Text)
	}
}

func TestProcessStream_ErrorResult(t *testing.T) {
	input := streamLines(`{"type":"result","is_error":true,"result":"rate limited"}`)
	result, err := processStream(context.Background(), input, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("IsError should be set")
	}
}

func TestProcessStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := processStream(ctx, streamLines(`{"type":"result"}`), nil)
	if err == nil {
		t.Fatal("expected context error")
	}
}
