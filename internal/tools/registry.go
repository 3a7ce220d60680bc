package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jorge-barreto/synthflow/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// Registry maps tool names to tools. Populate it with Register during setup;
// afterwards it is only read and may be shared by concurrent runs.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
	logger  *zap.Logger
}

// NewRegistry returns an empty registry whose calls default to timeout.
func NewRegistry(timeout time.Duration, logger *zap.Logger) *Registry {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{tools: make(map[string]Tool), timeout: timeout, logger: logger}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool) error {
	name := t.Spec().Name
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns every tool spec sorted by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Validate checks raw against the named tool's spec without calling it.
// The returned error is a *Failure.
func (r *Registry) Validate(name string, raw map[string]any) (Args, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, &Failure{Kind: KindUnknownTool, Reason: fmt.Sprintf("no tool named %q", name)}
	}
	args, f := validateArgs(t.Spec(), raw)
	if f != nil {
		return nil, f
	}
	return args, nil
}

// Invoke validates raw against the named tool's spec and calls it. It never
// returns an error: unknown tools, schema violations, adapter errors, timeouts
// and panics all come back as a Record with Failure set.
func (r *Registry) Invoke(ctx context.Context, name string, raw map[string]any) (rec Record) {
	start := time.Now()
	rec = Record{Tool: name, Args: copyArgs(raw), Time: start}

	defer func() {
		rec.Duration = time.Since(start)
		outcome := "ok"
		if rec.Failure != nil {
			outcome = string(rec.Failure.Kind)
			r.logger.Warn("Tool invocation failed",
				zap.String("tool", name),
				zap.String("kind", outcome),
				zap.String("reason", rec.Failure.Reason),
				zap.Duration("duration", rec.Duration),
			)
		} else {
			r.logger.Debug("Tool invocation succeeded",
				zap.String("tool", name),
				zap.Int("bytes", len(rec.Output)),
				zap.Duration("duration", rec.Duration),
			)
		}
		metrics.ToolCalls.WithLabelValues(name, outcome).Inc()
		metrics.ToolCallDuration.WithLabelValues(name).Observe(rec.Duration.Seconds())
	}()

	t, ok := r.Lookup(name)
	if !ok {
		rec.Failure = &Failure{Kind: KindUnknownTool, Reason: fmt.Sprintf("no tool named %q", name)}
		return rec
	}

	spec := t.Spec()
	args, f := validateArgs(spec, raw)
	if f != nil {
		rec.Failure = f
		return rec
	}
	rec.Args = args

	out, err := r.call(ctx, t, spec, args)
	if err != nil {
		rec.Failure = &Failure{Kind: KindToolFailure, Reason: err.Error()}
		return rec
	}
	data, err := json.Marshal(out)
	if err != nil {
		rec.Failure = &Failure{Kind: KindToolFailure, Reason: fmt.Sprintf("encoding output: %v", err)}
		return rec
	}
	rec.Output = data
	return rec
}

func (r *Registry) call(ctx context.Context, t Tool, spec Spec, args Args) (out any, err error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("tool panicked: %v", p)
		}
	}()

	out, err = t.Call(ctx, args)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return out, err
}

func copyArgs(raw map[string]any) Args {
	if raw == nil {
		return nil
	}
	a := make(Args, len(raw))
	for k, v := range raw {
		a[k] = v
	}
	return a
}
