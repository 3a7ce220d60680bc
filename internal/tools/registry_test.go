package tools

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"
)

type funcTool struct {
	spec  Spec
	calls atomic.Int32
	fn    func(ctx context.Context, args Args) (any, error)
}

func (f *funcTool) Spec() Spec { return f.spec }

func (f *funcTool) Call(ctx context.Context, args Args) (any, error) {
	f.calls.Add(1)
	return f.fn(ctx, args)
}

func searchTool(fn func(ctx context.Context, args Args) (any, error)) *funcTool {
	return &funcTool{
		spec: Spec{
			Name: "search",
			Params: []Param{
				{Name: "term", Type: TypeString, Required: true},
				{Name: "max_results", Type: TypeInteger, Min: 1, Max: 50, Default: 10},
				{Name: "id", Type: TypeString, Pattern: regexp.MustCompile(`^NCT\d{8}$`)},
			},
		},
		fn: fn,
	}
}

func newTestRegistry(t *testing.T, tools ...Tool) *Registry {
	t.Helper()
	reg := NewRegistry(time.Second, zaptest.NewLogger(t))
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func TestInvoke_Success(t *testing.T) {
	tool := searchTool(func(_ context.Context, args Args) (any, error) {
		return map[string]any{"term": args.String("term"), "n": args.Int("max_results")}, nil
	})
	reg := newTestRegistry(t, tool)

	rec := reg.Invoke(context.Background(), "search", map[string]any{"term": "  asthma ", "max_results": float64(5)})
	if !rec.OK() {
		t.Fatalf("unexpected failure: %v", rec.Failure)
	}
	if got, want := string(rec.Output), `{"n":5,"term":"asthma"}`; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
	if diff := cmp.Diff(Args{"term": "asthma", "max_results": 5}, rec.Args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
	if rec.Time.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestInvoke_DefaultApplied(t *testing.T) {
	var got int
	tool := searchTool(func(_ context.Context, args Args) (any, error) {
		got = args.Int("max_results")
		return "ok", nil
	})
	reg := newTestRegistry(t, tool)
	reg.Invoke(context.Background(), "search", map[string]any{"term": "copd"})
	if got != 10 {
		t.Fatalf("got %d, want default 10", got)
	}
}

func TestInvoke_UnknownTool(t *testing.T) {
	reg := newTestRegistry(t)
	rec := reg.Invoke(context.Background(), "nope", nil)
	if !errors.Is(rec.Failure, ErrUnknownTool) {
		t.Fatalf("got %v, want unknown tool", rec.Failure)
	}
}

func TestInvoke_InvalidArgumentsDoNotCallTool(t *testing.T) {
	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing term", map[string]any{}, "missing required argument"},
		{"empty term", map[string]any{"term": "   "}, "must not be empty"},
		{"wrong type", map[string]any{"term": 7}, "must be a string"},
		{"zero count", map[string]any{"term": "x", "max_results": 0}, "between 1 and 50"},
		{"too many", map[string]any{"term": "x", "max_results": 51}, "between 1 and 50"},
		{"fractional", map[string]any{"term": "x", "max_results": 2.5}, "must be an integer"},
		{"bad id", map[string]any{"term": "x", "id": "NCT123"}, "does not match"},
		{"unknown arg", map[string]any{"term": "x", "limit": 3}, "unexpected argument(s) limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tool := searchTool(func(context.Context, Args) (any, error) { return "ok", nil })
			reg := newTestRegistry(t, tool)
			rec := reg.Invoke(context.Background(), "search", tc.args)
			if !errors.Is(rec.Failure, ErrInvalidArguments) {
				t.Fatalf("got %v, want invalid arguments", rec.Failure)
			}
			if !strings.Contains(rec.Failure.Reason, tc.want) {
				t.Fatalf("reason %q does not contain %q", rec.Failure.Reason, tc.want)
			}
			if tool.calls.Load() != 0 {
				t.Fatal("tool must not be invoked on schema violation")
			}
		})
	}
}

func TestInvoke_ToolErrorBecomesFailure(t *testing.T) {
	tool := searchTool(func(context.Context, Args) (any, error) {
		return nil, errors.New("upstream 503")
	})
	reg := newTestRegistry(t, tool)
	rec := reg.Invoke(context.Background(), "search", map[string]any{"term": "x"})
	if !errors.Is(rec.Failure, ErrToolFailure) {
		t.Fatalf("got %v, want tool failure", rec.Failure)
	}
	if rec.Failure.Reason != "upstream 503" {
		t.Fatalf("got reason %q", rec.Failure.Reason)
	}
	if rec.Output != nil {
		t.Fatal("failed record must carry no output")
	}
}

func TestInvoke_PanicRecovered(t *testing.T) {
	tool := searchTool(func(context.Context, Args) (any, error) {
		panic("nil map")
	})
	reg := newTestRegistry(t, tool)
	rec := reg.Invoke(context.Background(), "search", map[string]any{"term": "x"})
	if !errors.Is(rec.Failure, ErrToolFailure) || !strings.Contains(rec.Failure.Reason, "panicked") {
		t.Fatalf("got %v", rec.Failure)
	}
}

func TestInvoke_PerToolTimeout(t *testing.T) {
	tool := searchTool(func(ctx context.Context, _ Args) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	tool.spec.Timeout = 20 * time.Millisecond
	reg := newTestRegistry(t, tool)

	start := time.Now()
	rec := reg.Invoke(context.Background(), "search", map[string]any{"term": "x"})
	if !errors.Is(rec.Failure, ErrToolFailure) {
		t.Fatalf("got %v, want tool failure", rec.Failure)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("per-tool timeout not applied")
	}
}

func TestInvoke_RecordArgsAreCopied(t *testing.T) {
	reg := newTestRegistry(t)
	raw := map[string]any{"term": "x"}
	rec := reg.Invoke(context.Background(), "missing", raw)
	raw["term"] = "changed"
	if rec.Args["term"] != "x" {
		t.Fatalf("record args mutated: %v", rec.Args)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	reg := newTestRegistry(t, searchTool(nil))
	if err := reg.Register(searchTool(nil)); err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestSpecs_Sorted(t *testing.T) {
	a := &funcTool{spec: Spec{Name: "b-tool"}}
	b := &funcTool{spec: Spec{Name: "a-tool"}}
	reg := newTestRegistry(t, a, b)
	var names []string
	for _, s := range reg.Specs() {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"a-tool", "b-tool"}, names); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestRecordObservation(t *testing.T) {
	ok := Record{Output: []byte(`"abcdefghij"`)}
	if got := ok.Observation(5); !strings.HasPrefix(got, `"abcd`) || !strings.Contains(got, "truncated 7 chars") {
		t.Fatalf("got %q", got)
	}
	failed := Record{Failure: &Failure{Kind: KindToolFailure, Reason: "boom"}}
	if got, want := failed.Observation(0), "FAILED (tool_failure): boom"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestValidate_DoesNotCallTool(t *testing.T) {
	tool := searchTool(func(context.Context, Args) (any, error) { return "ok", nil })
	reg := newTestRegistry(t, tool)

	args, err := reg.Validate("search", map[string]any{"term": "x", "max_results": "7"})
	if err != nil {
		t.Fatal(err)
	}
	if args.Int("max_results") != 7 {
		t.Fatalf("got %v", args)
	}
	if _, err := reg.Validate("search", map[string]any{}); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("got %v, want invalid arguments", err)
	}
	if _, err := reg.Validate("other", nil); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("got %v, want unknown tool", err)
	}
	if tool.calls.Load() != 0 {
		t.Fatal("Validate must not invoke the tool")
	}
}
