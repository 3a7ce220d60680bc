package tools

import (
	"context"
	"regexp"
	"time"
)

// ParamType is the declared type of a tool argument.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
)

// Param declares one argument of a tool.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	// Min and Max bound integer arguments when Max > 0.
	Min, Max int
	// Pattern, when set, must match string arguments in full.
	Pattern *regexp.Regexp
	// Default is applied when an optional argument is absent.
	Default any
}

// Spec describes a tool to the reasoning step and to the registry's validator.
type Spec struct {
	Name        string
	Description string
	Params      []Param
	// Timeout bounds a single call; zero uses the registry default.
	Timeout time.Duration
}

// Tool is a stateless retrieval function.
type Tool interface {
	Spec() Spec
	Call(ctx context.Context, args Args) (any, error)
}

// Args are validated, typed tool arguments.
type Args map[string]any

// String returns the named string argument, or "".
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns the named integer argument, or 0.
func (a Args) Int(name string) int {
	n, _ := a[name].(int)
	return n
}
