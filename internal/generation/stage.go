// Package generation turns an evidence summary into an accepted module by
// drafting, validating and repairing.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jorge-barreto/synthflow/internal/event"
	"github.com/jorge-barreto/synthflow/internal/gmf"
	"github.com/jorge-barreto/synthflow/internal/llm"
	"github.com/jorge-barreto/synthflow/internal/metrics"
	"github.com/jorge-barreto/synthflow/internal/state"
)

const (
	DefaultMaxAttempts = 3
	// MinAttempts allows the initial proposal plus one repair.
	MinAttempts = 2
)

// ErrGenerationFailed is matched by *FailedError.
var ErrGenerationFailed = errors.New("generation failed")

// FailedError reports that no attempt produced an acceptable module.
type FailedError struct {
	Attempts int
	Last     gmf.Diagnostic
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts: %s", e.Attempts, e.Last.Reason)
}

func (e *FailedError) Is(target error) bool { return target == ErrGenerationFailed }

// Stage runs Propose → Validate → (Repair → Validate)* → Accept | Abort.
type Stage struct {
	Drafter     Drafter
	MaxAttempts int
	Logger      *zap.Logger
}

func (s *Stage) attempts() int {
	switch {
	case s.MaxAttempts <= 0:
		return DefaultMaxAttempts
	case s.MaxAttempts < MinAttempts:
		return MinAttempts
	}
	return s.MaxAttempts
}

// Run reads the evidence slot of rc, drafts until a candidate is accepted,
// and writes the artifact slot. Only an accepted module produces a
// final-output event.
func (s *Stage) Run(ctx context.Context, rc *state.RunContext, sink event.Sink) (state.Artifact, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ev, err := rc.Evidence()
	if err != nil {
		return state.Artifact{}, err
	}
	attr := gmf.AttributionFromRecords(ev.Records)

	limit := s.attempts()
	var (
		prev string
		last *gmf.Diagnostic
	)
	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return state.Artifact{}, err
		}
		if err := emitReasoning(ctx, sink, attemptNote(attempt, limit, last)); err != nil {
			return state.Artifact{}, err
		}

		d, err := s.Drafter.Draft(ctx, DraftInput{Evidence: ev.Text, Attempt: attempt, Previous: prev, Diagnostic: last})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return state.Artifact{}, ctxErr
			}
			logger.Warn("Draft failed", zap.Int("attempt", attempt), zap.Error(err))
			metrics.GenerationAttempts.WithLabelValues("draft_error").Inc()
			diag := gmf.Diagnostic{Reason: "drafting failed: " + err.Error()}
			last, prev = &diag, ""
			continue
		}

		text, err := llm.ExtractJSON(d.Text)
		if err != nil {
			text = d.Text
		}
		canon, reps, diag := check(text, attr)
		prev = text
		if !diag.Valid {
			logger.Info("Candidate rejected",
				zap.Int("attempt", attempt), zap.String("layer", string(diag.Layer)), zap.String("reason", diag.Reason))
			metrics.GenerationAttempts.WithLabelValues("invalid_" + string(diag.Layer)).Inc()
			last = &diag
			continue
		}

		if len(reps) > 0 {
			logger.Info("Replaced unattributed codes", zap.Int("count", len(reps)))
			if err := emitReasoning(ctx, sink, fmt.Sprintf(
				"Replaced %d code(s) not found in retrieved sources with placeholders", len(reps))); err != nil {
				return state.Artifact{}, err
			}
		}
		metrics.GenerationAttempts.WithLabelValues("accepted").Inc()

		name, placeholders := summarize(canon)
		art := state.Artifact{Module: json.RawMessage(canon), Attempts: attempt, Placeholders: placeholders}
		if err := rc.Put(state.SlotArtifact, art); err != nil {
			return state.Artifact{}, err
		}
		logger.Info("Module accepted", zap.String("module", name), zap.Int("attempt", attempt), zap.Int("placeholders", placeholders))
		return art, sink.Emit(ctx, event.Event{
			Stage:   event.StageGeneration,
			Kind:    event.KindFinalOutput,
			Payload: event.FinalOutput{Text: string(canon)},
		})
	}

	return state.Artifact{}, &FailedError{Attempts: limit, Last: *last}
}

// check validates text, sanitizes its codes against attr and verifies the
// sanitized module. canon is the module to accept when diag is valid.
func check(text string, attr *gmf.Attribution) (canon []byte, reps []gmf.Replacement, diag gmf.Diagnostic) {
	if diag = gmf.Validate(text); !diag.Valid {
		return nil, nil, diag
	}
	doc, err := gmf.Parse(text)
	if err != nil {
		return nil, nil, gmf.Invalid(gmf.LayerSyntax, err.Error())
	}
	reps = gmf.Sanitize(doc, attr)
	if canon, err = doc.Canonical(); err != nil {
		return nil, nil, gmf.Invalid(gmf.LayerSyntax, err.Error())
	}
	if diag = gmf.Validate(string(canon)); !diag.Valid {
		return nil, nil, diag
	}
	if problems := gmf.CheckCodes(doc, attr); len(problems) > 0 {
		return nil, nil, gmf.Invalid(gmf.LayerCodes, problems...)
	}
	return canon, reps, diag
}

// summarize returns the accepted module's name and its placeholder count.
func summarize(canon []byte) (name string, placeholders int) {
	doc, err := gmf.Parse(string(canon))
	if err != nil {
		return "", 0
	}
	for _, c := range gmf.Codes(doc) {
		if gmf.IsPlaceholder(c.System, c.Code) {
			placeholders++
		}
	}
	return doc.Name(), placeholders
}

func attemptNote(attempt, max int, last *gmf.Diagnostic) string {
	if last == nil {
		return fmt.Sprintf("Drafting module (attempt %d of %d)", attempt, max)
	}
	return fmt.Sprintf("Repairing module (attempt %d of %d) after: %s", attempt, max, last.Reason)
}

func emitReasoning(ctx context.Context, sink event.Sink, text string) error {
	return sink.Emit(ctx, event.Event{
		Stage:   event.StageGeneration,
		Kind:    event.KindReasoning,
		Payload: event.Reasoning{Text: text},
	})
}
