// Package gmf validates and sanitizes clinical simulation modules written in
// a restricted subset of the Generic Module Framework JSON grammar.
package gmf

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// State types allowed in a module.
const (
	TypeInitial        = "Initial"
	TypeTerminal       = "Terminal"
	TypeGuard          = "Guard"
	TypeEncounter      = "Encounter"
	TypeEncounterEnd   = "EncounterEnd"
	TypeConditionOnset = "ConditionOnset"
	TypeMedication     = "MedicationOrder"
	TypeProcedure      = "Procedure"
	TypeObservation    = "Observation"
	TypeDeath          = "Death"
)

// AllowedTypes is the closed set of state types.
var AllowedTypes = []string{
	TypeInitial, TypeTerminal, TypeGuard, TypeEncounter, TypeEncounterEnd,
	TypeConditionOnset, TypeMedication, TypeProcedure, TypeObservation, TypeDeath,
}

// Transition is the only inter-state edge a module may use.
const Transition = "direct_transition"

// Document is a parsed module. The underlying tree is kept as decoded so
// fields this package does not model survive a round trip.
type Document struct {
	root map[string]any
}

// SyntaxError reports malformed module JSON.
type SyntaxError struct {
	Offset int64
	Msg    string
}

func (e *SyntaxError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("invalid JSON at offset %d: %s", e.Offset, e.Msg)
	}
	return "invalid JSON: " + e.Msg
}

// Parse decodes text into a Document. It checks JSON well-formedness and
// that the root is an object, nothing more.
func Parse(text string) (*Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &SyntaxError{Msg: "empty document"}
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		var se *json.SyntaxError
		if errors.As(err, &se) {
			return nil, &SyntaxError{Offset: se.Offset, Msg: se.Error()}
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &SyntaxError{Offset: int64(len(text)), Msg: "unexpected end of input (unbalanced structure)"}
		}
		return nil, &SyntaxError{Msg: err.Error()}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &SyntaxError{Offset: dec.InputOffset(), Msg: "trailing data after the module object"}
	}
	root, ok := v.(map[string]any)
	if !ok {
		return nil, &SyntaxError{Msg: "root must be a JSON object"}
	}
	return &Document{root: root}, nil
}

// Name returns the module name, or "".
func (d *Document) Name() string {
	s, _ := d.root["name"].(string)
	return s
}

// States returns the state definitions keyed by name. Non-object entries
// are omitted.
func (d *Document) States() map[string]map[string]any {
	raw, _ := d.root["states"].(map[string]any)
	out := make(map[string]map[string]any, len(raw))
	for name, v := range raw {
		if s, ok := v.(map[string]any); ok {
			out[name] = s
		}
	}
	return out
}

// Canonical returns the module as minified JSON with object keys sorted.
func (d *Document) Canonical() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d.root); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
