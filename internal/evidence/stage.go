// Package evidence implements the tool-first evidence-gathering stage.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jorge-barreto/synthflow/internal/event"
	"github.com/jorge-barreto/synthflow/internal/metrics"
	"github.com/jorge-barreto/synthflow/internal/tools"
)

// Phase is the stage's position in Idle → Reasoning → (ToolCall →
// Reasoning)* → Finalized | Exhausted.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseReasoning Phase = "reasoning"
	PhaseToolCall  Phase = "tool-call"
	PhaseFinalized Phase = "finalized"
	PhaseExhausted Phase = "exhausted"
)

// ErrEvidenceAbsent means the stage ended without usable summary text.
var ErrEvidenceAbsent = errors.New("evidence absent")

const DefaultMaxToolCalls = 12

// Limits bound one evidence session.
type Limits struct {
	// MaxToolCalls caps tool invocations; once reached, further calls are
	// refused and the planner is told to finalize.
	MaxToolCalls int
	// MaxSteps caps reasoning steps; zero means MaxToolCalls+4.
	MaxSteps int
	// MaxObservationChars truncates tool output shown to the planner.
	MaxObservationChars int
}

func (l Limits) withDefaults() Limits {
	if l.MaxToolCalls <= 0 {
		l.MaxToolCalls = DefaultMaxToolCalls
	}
	if l.MaxSteps <= 0 {
		l.MaxSteps = l.MaxToolCalls + 4
	}
	return l
}

// Summary is the finalized output of the stage.
type Summary struct {
	Text    string
	Records []tools.Record
}

// Stage is one evidence session. It is driven by calling Step until it
// reports done; it is not safe for concurrent use.
type Stage struct {
	request  string
	planner  Planner
	registry *tools.Registry
	limits   Limits
	logger   *zap.Logger

	phase   Phase
	steps   int
	history []Turn
	records []tools.Record
	pending Action
	text    string
}

// New returns an idle stage for request.
func New(request string, planner Planner, registry *tools.Registry, limits Limits, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{
		request:  request,
		planner:  planner,
		registry: registry,
		limits:   limits.withDefaults(),
		logger:   logger,
		phase:    PhaseIdle,
	}
}

func (s *Stage) Phase() Phase { return s.phase }

// Records returns the tool invocations made so far, in order.
func (s *Stage) Records() []tools.Record {
	return append([]tools.Record(nil), s.records...)
}

// Step advances the stage by one reasoning step or one tool call, emitting
// that unit's events to sink. It returns done once the stage is Finalized
// or Exhausted. Planner and sink errors are returned as is.
func (s *Stage) Step(ctx context.Context, sink event.Sink) (done bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	switch s.phase {
	case PhaseIdle:
		s.phase = PhaseReasoning
		return s.reason(ctx, sink)
	case PhaseReasoning:
		return s.reason(ctx, sink)
	case PhaseToolCall:
		return false, s.callTool(ctx, sink)
	default:
		return true, nil
	}
}

// Result returns the summary of a finalized stage, or ErrEvidenceAbsent.
func (s *Stage) Result() (Summary, error) {
	if s.phase != PhaseFinalized || strings.TrimSpace(s.text) == "" {
		return Summary{Records: s.Records()}, ErrEvidenceAbsent
	}
	return Summary{Text: s.text, Records: s.Records()}, nil
}

// Run drives the stage to completion.
func Run(ctx context.Context, s *Stage, sink event.Sink) (Summary, error) {
	for {
		done, err := s.Step(ctx, sink)
		if err != nil {
			return Summary{Records: s.Records()}, err
		}
		if done {
			return s.Result()
		}
	}
}

func (s *Stage) view() View {
	return View{
		Request:          s.request,
		Tools:            s.registry.Specs(),
		History:          append([]Turn(nil), s.history...),
		ToolCalls:        len(s.records),
		MaxToolCalls:     s.limits.MaxToolCalls,
		ObservationChars: s.limits.MaxObservationChars,
	}
}

func (s *Stage) reason(ctx context.Context, sink event.Sink) (bool, error) {
	if s.steps >= s.limits.MaxSteps {
		s.phase = PhaseExhausted
		metrics.EvidenceSteps.WithLabelValues("exhausted").Inc()
		s.logger.Warn("Evidence stage exhausted its step budget",
			zap.Int("steps", s.steps), zap.Int("tool_calls", len(s.records)))
		return true, nil
	}
	s.steps++

	action, err := s.planner.Next(ctx, s.view())
	var perr *ActionParseError
	if errors.As(err, &perr) {
		metrics.EvidenceSteps.WithLabelValues("unparseable").Inc()
		note := fmt.Sprintf("Your last reply was not a valid action (%s). Reply with exactly one JSON action.", perr.Err)
		s.history = append(s.history, Turn{Raw: perr.Raw, Note: note})
		return false, emitReasoning(ctx, sink, "Unparseable action: "+perr.Err.Error())
	}
	if err != nil {
		return false, err
	}

	if err := emitReasoning(ctx, sink, thought(action)); err != nil {
		return false, err
	}

	switch action.Kind {
	case ActionCallTool:
		if len(s.records) >= s.limits.MaxToolCalls {
			metrics.EvidenceSteps.WithLabelValues("budget_refused").Inc()
			s.history = append(s.history, Turn{Action: action, Note: fmt.Sprintf(
				"Tool-call budget of %d is used up. Finalize now with the evidence already gathered.", s.limits.MaxToolCalls)})
			return false, nil
		}
		metrics.EvidenceSteps.WithLabelValues("call_tool").Inc()
		s.pending = action
		s.phase = PhaseToolCall
		return false, nil

	case ActionFinalize:
		if !s.reachedTool() {
			metrics.EvidenceSteps.WithLabelValues("premature_finalize").Inc()
			s.history = append(s.history, Turn{Action: action,
				Note: "You must call at least one tool with valid arguments before finalizing. Choose a tool now."})
			return false, nil
		}
		metrics.EvidenceSteps.WithLabelValues("finalize").Inc()
		s.text = strings.TrimSpace(action.Summary)
		s.phase = PhaseFinalized
		if s.text == "" {
			s.logger.Warn("Evidence stage finalized without summary text")
			return true, nil
		}
		return true, sink.Emit(ctx, event.Event{
			Stage:   event.StageEvidence,
			Kind:    event.KindFinalOutput,
			Payload: event.FinalOutput{Text: s.text},
		})
	}

	metrics.EvidenceSteps.WithLabelValues("unparseable").Inc()
	s.history = append(s.history, Turn{Action: action, Note: fmt.Sprintf(
		"Unknown action %q. Use %q or %q.", action.Kind, ActionCallTool, ActionFinalize)})
	return false, nil
}

func (s *Stage) callTool(ctx context.Context, sink event.Sink) error {
	a := s.pending
	s.pending = Action{}
	s.phase = PhaseReasoning

	if err := sink.Emit(ctx, event.Event{
		Stage:   event.StageEvidence,
		Kind:    event.KindToolCall,
		Payload: event.ToolCall{Tool: a.Tool, Args: a.Args},
	}); err != nil {
		return err
	}

	rec := s.registry.Invoke(ctx, a.Tool, a.Args)
	rec.Seq = len(s.records) + 1
	s.records = append(s.records, rec)
	s.history = append(s.history, Turn{Action: a, Record: &rec})
	if err := ctx.Err(); err != nil {
		return err
	}

	s.logger.Debug("Tool result recorded",
		zap.Int("seq", rec.Seq), zap.String("tool", rec.Tool), zap.Bool("ok", rec.OK()))
	return sink.Emit(ctx, event.Event{
		Stage:   event.StageEvidence,
		Kind:    event.KindToolResult,
		Payload: event.ToolResult{Record: rec},
	})
}

// reachedTool reports whether any call got past the registry's checks. An
// unknown tool name or rejected arguments never ran a tool.
func (s *Stage) reachedTool() bool {
	for _, r := range s.records {
		if r.Failure == nil || r.Failure.Kind == tools.KindToolFailure {
			return true
		}
	}
	return false
}

func emitReasoning(ctx context.Context, sink event.Sink, text string) error {
	return sink.Emit(ctx, event.Event{
		Stage:   event.StageEvidence,
		Kind:    event.KindReasoning,
		Payload: event.Reasoning{Text: text},
	})
}

func thought(a Action) string {
	if t := strings.TrimSpace(a.Thought); t != "" {
		return t
	}
	switch a.Kind {
	case ActionCallTool:
		return "Calling " + a.Tool
	case ActionFinalize:
		return "Finalizing evidence summary"
	}
	return string(a.Kind)
}
