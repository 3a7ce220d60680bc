package tools

import (
	"errors"
	"fmt"
)

// FailureKind classifies why an invocation produced no output.
type FailureKind string

const (
	KindUnknownTool      FailureKind = "unknown_tool"
	KindInvalidArguments FailureKind = "invalid_arguments"
	KindToolFailure      FailureKind = "tool_failure"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrToolFailure      = errors.New("tool failure")
)

// Failure is the structured failure carried by a Record. It satisfies
// errors.Is against the sentinel matching its kind.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

func (f *Failure) Is(target error) bool {
	switch f.Kind {
	case KindUnknownTool:
		return target == ErrUnknownTool
	case KindInvalidArguments:
		return target == ErrInvalidArguments
	case KindToolFailure:
		return target == ErrToolFailure
	}
	return false
}

func invalidf(format string, a ...any) *Failure {
	return &Failure{Kind: KindInvalidArguments, Reason: fmt.Sprintf(format, a...)}
}
