// Package state holds the per-run context shared by the pipeline stages and
// writes a finished run's outputs when asked to.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jorge-barreto/synthflow/internal/tools"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// Slot names a write-once value in a RunContext.
type Slot string

const (
	SlotEvidence Slot = "evidence"
	SlotArtifact Slot = "artifact"
)

var (
	ErrSlotWritten = errors.New("slot already written")
	ErrSlotEmpty   = errors.New("slot not written yet")
	ErrUnknownSlot = errors.New("unknown slot")
)

// Evidence is the value of SlotEvidence: the finalized summary text and the
// tool records it was gathered from.
type Evidence struct {
	Text    string         `json:"text"`
	Records []tools.Record `json:"records"`
}

// Artifact is the value of SlotArtifact: an accepted module.
type Artifact struct {
	Module       json.RawMessage `json:"module"`
	Attempts     int             `json:"attempts"`
	Placeholders int             `json:"placeholders"`
}

// RunContext is the state of exactly one pipeline run. Each slot may be
// written once and must be written before it is read.
type RunContext struct {
	mu     sync.Mutex
	runID  string
	values map[Slot]any
}

// NewRunContext returns an empty context for runID.
func NewRunContext(runID string) *RunContext {
	return &RunContext{runID: runID, values: make(map[Slot]any)}
}

func (c *RunContext) RunID() string { return c.runID }

// Put writes v to slot.
func (c *RunContext) Put(slot Slot, v any) error {
	if slot != SlotEvidence && slot != SlotArtifact {
		return fmt.Errorf("%w %q", ErrUnknownSlot, slot)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[slot]; ok {
		return fmt.Errorf("%s: %w", slot, ErrSlotWritten)
	}
	c.values[slot] = v
	return nil
}

// Get reads slot.
func (c *RunContext) Get(slot Slot) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[slot]
	if !ok {
		return nil, fmt.Errorf("%s: %w", slot, ErrSlotEmpty)
	}
	return v, nil
}

// Has reports whether slot has been written.
func (c *RunContext) Has(slot Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[slot]
	return ok
}

// Evidence reads SlotEvidence.
func (c *RunContext) Evidence() (Evidence, error) {
	v, err := c.Get(SlotEvidence)
	if err != nil {
		return Evidence{}, err
	}
	e, ok := v.(Evidence)
	if !ok {
		return Evidence{}, fmt.Errorf("%s: unexpected value type %T", SlotEvidence, v)
	}
	return e, nil
}

// Artifact reads SlotArtifact.
func (c *RunContext) Artifact() (Artifact, error) {
	v, err := c.Get(SlotArtifact)
	if err != nil {
		return Artifact{}, err
	}
	a, ok := v.(Artifact)
	if !ok {
		return Artifact{}, fmt.Errorf("%s: unexpected value type %T", SlotArtifact, v)
	}
	return a, nil
}
