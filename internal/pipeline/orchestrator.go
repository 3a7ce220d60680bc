// Package pipeline runs the evidence stage and then the generation stage for
// one request, relaying every event to a caller-supplied sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jorge-barreto/synthflow/internal/event"
	"github.com/jorge-barreto/synthflow/internal/evidence"
	"github.com/jorge-barreto/synthflow/internal/generation"
	"github.com/jorge-barreto/synthflow/internal/metrics"
	"github.com/jorge-barreto/synthflow/internal/state"
	"github.com/jorge-barreto/synthflow/internal/tools"
	"github.com/jorge-barreto/synthflow/internal/tracing"
)

// Phase is the orchestrator's position in Start → RunningEvidence →
// EvidenceCaptured → RunningGeneration → Done | Aborted.
type Phase string

const (
	PhaseStart             Phase = "start"
	PhaseRunningEvidence   Phase = "running-evidence"
	PhaseEvidenceCaptured  Phase = "evidence-captured"
	PhaseRunningGeneration Phase = "running-generation"
	PhaseDone              Phase = "done"
	PhaseAborted           Phase = "aborted"
)

// Orchestrator drives runs. It holds no per-run state, so one value may run
// many requests, concurrently or not.
type Orchestrator struct {
	Registry    *tools.Registry
	Planner     evidence.Planner
	Drafter     generation.Drafter
	Limits      evidence.Limits
	MaxAttempts int
	Sink        event.Sink
	Logger      *zap.Logger

	// NewID returns run IDs; nil means a random UUID.
	NewID func() string
	// OnPhase, when set, observes every phase transition.
	OnPhase func(runID string, p Phase)
}

// Result is what a run produced. Run returns it even when the run aborts.
type Result struct {
	RunID    string
	Status   string
	Phase    Phase
	Evidence string
	Records  []tools.Record
	Artifact *state.Artifact
	Timing   *state.Timing
}

// Run executes one pipeline run for request. A run that aborts returns its
// partial Result together with the cause: evidence.ErrEvidenceAbsent,
// generation.ErrGenerationFailed, a context error, or a sink error.
func (o *Orchestrator) Run(ctx context.Context, request string) (*Result, error) {
	runID := o.newID()
	logger := o.logger().With(zap.String("run_id", runID))
	res := &Result{RunID: runID, Status: state.StatusRunning, Phase: PhaseStart, Timing: state.NewTiming()}
	relay := newRelay(runID, o.Sink)
	rc := state.NewRunContext(runID)

	ctx, span := tracing.StartSpan(ctx, "pipeline.run", attribute.String("run.id", runID))
	start := time.Now()
	var runErr error
	defer func() {
		metrics.Runs.WithLabelValues(res.Status).Inc()
		metrics.RunDuration.Observe(time.Since(start).Seconds())
		tracing.End(span, runErr)
	}()

	logger.Info("Run started", zap.String("request", request))
	o.enter(res, PhaseRunningEvidence)
	res.Timing.AddStart(string(event.StageEvidence))
	sum, err := o.runEvidence(ctx, request, relay, logger)
	res.Timing.AddEnd(string(event.StageEvidence))
	res.Records = sum.Records
	if err != nil {
		runErr = o.abort(ctx, res, relay, logger, event.StageEvidence, err)
		return res, runErr
	}

	// The only state write the orchestrator makes.
	if err := rc.Put(state.SlotEvidence, state.Evidence{Text: sum.Text, Records: sum.Records}); err != nil {
		runErr = o.abort(ctx, res, relay, logger, event.StagePipeline, err)
		return res, runErr
	}
	res.Evidence = sum.Text
	o.enter(res, PhaseEvidenceCaptured)

	o.enter(res, PhaseRunningGeneration)
	res.Timing.AddStart(string(event.StageGeneration))
	art, err := o.runGeneration(ctx, rc, relay, logger)
	res.Timing.AddEnd(string(event.StageGeneration))
	if err != nil {
		runErr = o.abort(ctx, res, relay, logger, event.StageGeneration, err)
		return res, runErr
	}

	res.Artifact = &art
	res.Status = state.StatusCompleted
	o.enter(res, PhaseDone)
	logger.Info("Run completed",
		zap.Int("tool_calls", len(res.Records)),
		zap.Int("attempts", art.Attempts),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

func (o *Orchestrator) runEvidence(ctx context.Context, request string, sink event.Sink, logger *zap.Logger) (sum evidence.Summary, err error) {
	ctx, span := tracing.StartSpan(ctx, "evidence.stage")
	defer func() {
		span.SetAttributes(attribute.Int("tool_calls", len(sum.Records)))
		tracing.End(span, err)
	}()
	s := evidence.New(request, o.Planner, o.Registry, o.Limits, logger.Named("evidence"))
	return evidence.Run(ctx, s, sink)
}

func (o *Orchestrator) runGeneration(ctx context.Context, rc *state.RunContext, sink event.Sink, logger *zap.Logger) (art state.Artifact, err error) {
	ctx, span := tracing.StartSpan(ctx, "generation.stage")
	defer func() {
		span.SetAttributes(attribute.Int("attempts", art.Attempts))
		tracing.End(span, err)
	}()
	g := &generation.Stage{Drafter: o.Drafter, MaxAttempts: o.MaxAttempts, Logger: logger.Named("generation")}
	return g.Run(ctx, rc, sink)
}

// abort records the failure, emits run-failed and returns the error wrapped
// with the stage it came from.
func (o *Orchestrator) abort(ctx context.Context, res *Result, relay *relay, logger *zap.Logger, stage event.Stage, err error) error {
	res.Status = state.StatusAborted
	o.enter(res, PhaseAborted)
	logger.Warn("Run aborted", zap.String("stage", string(stage)), zap.Error(err))

	if !errors.Is(err, errSink) {
		// cancellation must not stop the failure from being reported
		if emitErr := relay.Emit(context.WithoutCancel(ctx), event.Event{
			Stage:   event.StagePipeline,
			Kind:    event.KindRunFailed,
			Payload: event.RunFailed{Stage: stage, Error: err.Error()},
		}); emitErr != nil {
			logger.Warn("Failed to emit run-failed event", zap.Error(emitErr))
		}
	}
	return fmt.Errorf("%s stage: %w", stage, err)
}

func (o *Orchestrator) enter(res *Result, p Phase) {
	res.Phase = p
	if o.OnPhase != nil {
		o.OnPhase(res.RunID, p)
	}
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// errSink marks errors returned by the caller's sink.
var errSink = errors.New("event sink")

// relay stamps each event with the run ID, the next sequence number and the
// time, then forwards it synchronously.
type relay struct {
	mu    sync.Mutex
	runID string
	seq   int
	sink  event.Sink
	now   func() time.Time
}

func newRelay(runID string, sink event.Sink) *relay {
	if sink == nil {
		sink = event.Discard
	}
	return &relay{runID: runID, sink: sink, now: time.Now}
}

func (r *relay) Emit(ctx context.Context, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.Seq = r.seq
	e.RunID = r.runID
	e.Time = r.now()
	if err := r.sink.Emit(ctx, e); err != nil {
		return fmt.Errorf("%w: %w", errSink, err)
	}
	return nil
}
