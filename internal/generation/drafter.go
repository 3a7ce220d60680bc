package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/jorge-barreto/synthflow/internal/gmf"
	"github.com/jorge-barreto/synthflow/internal/llm"
)

// DraftInput is what a drafter sees on one attempt. Previous and Diagnostic
// are set on repairs.
type DraftInput struct {
	Evidence   string
	Attempt    int
	Previous   string
	Diagnostic *gmf.Diagnostic
}

// Draft is one candidate module as produced, possibly wrapped in prose.
type Draft struct {
	Text string
}

// Drafter proposes a complete candidate module.
type Drafter interface {
	Draft(ctx context.Context, in DraftInput) (Draft, error)
}

// DrafterFunc adapts a function to Drafter.
type DrafterFunc func(ctx context.Context, in DraftInput) (Draft, error)

func (f DrafterFunc) Draft(ctx context.Context, in DraftInput) (Draft, error) { return f(ctx, in) }

// ModelDrafter drafts modules with a language model.
type ModelDrafter struct {
	Model llm.Model
}

func (d *ModelDrafter) Draft(ctx context.Context, in DraftInput) (Draft, error) {
	c, err := d.Model.Complete(ctx, BuildPrompt(in))
	if err != nil {
		return Draft{}, err
	}
	return Draft{Text: c.Text}, nil
}

// BuildPrompt renders in as a chat. A repair carries the rejected module and
// its diagnostic so the model can replace it wholesale.
func BuildPrompt(in DraftInput) llm.Prompt {
	p := llm.Prompt{
		System: safeMode,
		Messages: []llm.Message{{
			Role: llm.RoleUser,
			Content: "DISEASE PROFILE\n===============\n" + strings.TrimSpace(in.Evidence) +
				"\n\nTreat the profile above as your only source and output a single module.",
		}},
	}
	if in.Diagnostic == nil {
		return p
	}

	prev := in.Previous
	if prev == "" {
		prev = "(no output)"
	}
	var fb strings.Builder
	fmt.Fprintf(&fb, "Your module was rejected at the %s check: %s\n", layerName(in.Diagnostic.Layer), in.Diagnostic.Reason)
	if len(in.Diagnostic.Problems) > 1 {
		fb.WriteString("All problems:\n")
		for _, pr := range in.Diagnostic.Problems {
			fb.WriteString("- " + pr + "\n")
		}
	}
	fb.WriteString("Output a corrected, complete module. Output only the JSON object.")
	p.Messages = append(p.Messages,
		llm.Message{Role: llm.RoleAssistant, Content: prev},
		llm.Message{Role: llm.RoleUser, Content: fb.String()},
	)
	return p
}

func layerName(l gmf.Layer) string {
	if l == "" {
		return "draft"
	}
	return string(l)
}

const safeMode = `You write Synthea Generic Module Framework (GMF) modules as JSON, in a
restricted SAFE MODE that favors loading cleanly over clinical richness.

INPUT: a DISEASE PROFILE, a numbered list of facts.
OUTPUT: one minified GMF JSON object and nothing else. No backticks, no prose.

ROOT
{"name": "<Disease>_Module", "gmf_version": 2, "remarks": ["..."], "states": {...}}
- Exactly one state named "Initial" with type "Initial".
- At least one state with type "Terminal".

STATE TYPES (no others):
Initial, Terminal, Guard, Encounter, EncounterEnd, ConditionOnset,
MedicationOrder, Procedure, Observation, Death.
- Guard: "allow" condition, only when the profile states eligibility. Conditions:
  Gender {"condition_type":"Gender","gender":"M"|"F"}, Active Condition,
  And / Or (with "conditions"), Not (with "condition"), True, False.
- Encounter: "wellness": true, or "encounter_class" (ambulatory, emergency,
  inpatient, outpatient, urgentcare) with SNOMED-CT "codes".
- ConditionOnset: "target_encounter" naming an Encounter state, SNOMED-CT "codes".
- MedicationOrder: RxNorm "codes"; between an Encounter and its EncounterEnd.
- Procedure: SNOMED-CT "codes"; between an Encounter and its EncounterEnd.
- Observation: "category", LOINC "codes", qualitative "value_code" only.
- Death: transitions to a Terminal state.
- Terminal: no transition.

TRANSITIONS
Every non-terminal state has exactly one "direct_transition" naming an existing
state. Never use distributed, conditional, complex, lookup_table or
type_of_care transitions. Every state must be reachable from Initial and the
path from Initial must reach a Terminal.

FORBIDDEN KEYS ANYWHERE
exact, range, unit, quantity, value_quantity, distribution.

CODES
Use a code only if it appears verbatim in the DISEASE PROFILE. Otherwise use
the placeholder for its system and describe the concept in "display":
  {"system":"SNOMED-CT","code":"999999","display":"Placeholder ..."}
  {"system":"RxNorm","code":"999999","display":"Placeholder ..."}
  {"system":"LOINC","code":"99999-9","display":"Placeholder ..."}
Never output a real-looking code from memory, not even a generic one such as a
code for "Negative". Codes not found in the retrieved sources are replaced
with placeholders after you answer.

SUGGESTED FLOW
Initial -> (Guard) -> Diagnosis Encounter -> ConditionOnset -> (Observations)
-> (MedicationOrder / Procedure) -> EncounterEnd -> (Death) -> Terminal`
