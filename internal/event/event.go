// Package event defines the ordered progress stream a pipeline run emits.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/jorge-barreto/synthflow/internal/tools"
)

// Kind classifies an event.
type Kind string

const (
	KindReasoning   Kind = "reasoning-fragment"
	KindToolCall    Kind = "tool-call"
	KindToolResult  Kind = "tool-result"
	KindFinalOutput Kind = "final-output"
	// KindRunFailed is terminal: nothing follows it.
	KindRunFailed Kind = "run-failed"
)

// Stage names the producer of an event.
type Stage string

const (
	StageEvidence   Stage = "evidence"
	StageGeneration Stage = "generation"
	StagePipeline   Stage = "pipeline"
)

// Event is one entry of the stream. Stages fill Stage, Kind and Payload;
// the orchestrator stamps Seq, RunID and Time when relaying.
type Event struct {
	Seq     int       `json:"seq"`
	RunID   string    `json:"run_id"`
	Stage   Stage     `json:"stage"`
	Kind    Kind      `json:"kind"`
	Payload any       `json:"payload"`
	Time    time.Time `json:"time"`
}

type Reasoning struct {
	Text string `json:"text"`
}

type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type ToolResult struct {
	Record tools.Record `json:"record"`
}

type FinalOutput struct {
	Text string `json:"text"`
}

type RunFailed struct {
	Stage Stage  `json:"stage"`
	Error string `json:"error"`
}

// Sink consumes events in emission order. An error from Emit aborts the run.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Emit(ctx context.Context, e Event) error { return f(ctx, e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the recorded event kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// JSONLines writes each event as one JSON object per line.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (j *JSONLines) Emit(_ context.Context, e Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(e)
}

// Multi fans each event out to sinks in order. Every sink sees every event;
// errors are joined.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, e Event) error {
		var errs []error
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Emit(ctx, e); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
