package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jorge-barreto/synthflow/internal/llm"
	"github.com/jorge-barreto/synthflow/internal/tools"
)

type ActionKind string

const (
	ActionCallTool ActionKind = "call_tool"
	ActionFinalize ActionKind = "finalize"
)

// Action is the decision taken at one reasoning step.
type Action struct {
	Kind    ActionKind     `json:"action"`
	Thought string         `json:"thought,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Summary string         `json:"summary,omitempty"`
}

// Turn is one entry of the session history shown to the planner: the action
// taken and either the resulting record or a corrective note.
type Turn struct {
	Action Action
	// Raw is the unparsed reply when the action could not be parsed.
	Raw    string
	Record *tools.Record
	Note   string
}

// View is what a planner sees at a reasoning step.
type View struct {
	Request          string
	Tools            []tools.Spec
	History          []Turn
	ToolCalls        int
	MaxToolCalls     int
	ObservationChars int
}

// Planner chooses the next action.
type Planner interface {
	Next(ctx context.Context, v View) (Action, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, v View) (Action, error)

func (f PlannerFunc) Next(ctx context.Context, v View) (Action, error) { return f(ctx, v) }

// ActionParseError means the planner's reply held no usable action. The
// stage absorbs it as a corrective note.
type ActionParseError struct {
	Raw string
	Err error
}

func (e *ActionParseError) Error() string {
	return fmt.Sprintf("parsing action: %v", e.Err)
}

func (e *ActionParseError) Unwrap() error { return e.Err }

// ParseAction extracts an Action from model text.
func ParseAction(text string) (Action, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return Action{}, &ActionParseError{Raw: text, Err: err}
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var a Action
	if err := dec.Decode(&a); err != nil {
		return Action{}, &ActionParseError{Raw: text, Err: err}
	}
	switch a.Kind {
	case ActionCallTool:
		if a.Tool == "" {
			return Action{}, &ActionParseError{Raw: text, Err: fmt.Errorf("call_tool without \"tool\"")}
		}
		if a.Args == nil {
			a.Args = map[string]any{}
		}
	case ActionFinalize:
	default:
		return Action{}, &ActionParseError{Raw: text, Err: fmt.Errorf("unknown action %q", a.Kind)}
	}
	return a, nil
}

// ModelPlanner asks a language model for each action.
type ModelPlanner struct {
	Model llm.Model
}

func (p *ModelPlanner) Next(ctx context.Context, v View) (Action, error) {
	c, err := p.Model.Complete(ctx, BuildPrompt(v))
	if err != nil {
		return Action{}, err
	}
	return ParseAction(c.Text)
}

// BuildPrompt renders v as a chat: the request, then each past action as an
// assistant turn followed by its observation or note.
func BuildPrompt(v View) llm.Prompt {
	p := llm.Prompt{System: systemPrompt(v)}
	p.Messages = append(p.Messages, llm.Message{Role: llm.RoleUser, Content: "REQUEST:\n" + v.Request})

	for _, t := range v.History {
		reply := t.Raw
		if reply == "" {
			data, _ := json.Marshal(t.Action)
			reply = string(data)
		}
		p.Messages = append(p.Messages, llm.Message{Role: llm.RoleAssistant, Content: reply})

		var obs strings.Builder
		if t.Record != nil {
			fmt.Fprintf(&obs, "OBSERVATION #%d from %s:\n%s", t.Record.Seq, t.Record.Tool, t.Record.Observation(v.ObservationChars))
		}
		if t.Note != "" {
			if obs.Len() > 0 {
				obs.WriteString("\n\n")
			}
			obs.WriteString("NOTE: " + t.Note)
		}
		p.Messages = append(p.Messages, llm.Message{Role: llm.RoleUser, Content: obs.String()})
	}

	left := v.MaxToolCalls - v.ToolCalls
	if left < 0 {
		left = 0
	}
	p.Messages[len(p.Messages)-1].Content += fmt.Sprintf(
		"\n\nTool calls used: %d of %d (%d left). Reply with one JSON action.", v.ToolCalls, v.MaxToolCalls, left)
	return p
}
