package gmf

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Layer names which check rejected a module.
type Layer string

const (
	// LayerSyntax covers JSON well-formedness and the root shape.
	LayerSyntax Layer = "syntax"
	// LayerPolicy covers vocabulary and structure rules of the restricted grammar.
	LayerPolicy Layer = "policy"
	// LayerCodes covers terminology attribution. Validate never reports it;
	// it needs the run's tool records and is enforced by CheckCodes.
	LayerCodes Layer = "codes"
)

// Diagnostic is the result of validating one candidate module.
type Diagnostic struct {
	Valid    bool     `json:"valid"`
	Layer    Layer    `json:"layer,omitempty"`
	Reason   string   `json:"reason"`
	Problems []string `json:"problems,omitempty"`
}

// Invalid returns a failed diagnostic whose reason summarizes problems.
func Invalid(layer Layer, problems ...string) Diagnostic {
	reason := problems[0]
	if len(problems) > 1 {
		reason = fmt.Sprintf("%s (and %d more)", problems[0], len(problems)-1)
	}
	return Diagnostic{Layer: layer, Reason: reason, Problems: problems}
}

// ForbiddenKeys may not appear at any depth of a module.
var ForbiddenKeys = []string{
	"exact", "range", "unit", "quantity", "distribution",
	"distributed_transition", "conditional_transition", "complex_transition",
	"lookup_table_transition", "type_of_care_transition", "value_quantity",
}

var encounterClasses = []string{"ambulatory", "emergency", "inpatient", "outpatient", "urgentcare"}

var conditionTypes = []string{"Gender", "Active Condition", "And", "Or", "Not", "True", "False"}

// Validate checks text against the restricted module grammar. It is pure:
// no I/O, no state. The syntax layer runs first; the policy layer only runs
// on a syntactically valid module.
func Validate(text string) Diagnostic {
	doc, err := Parse(text)
	if err != nil {
		return Invalid(LayerSyntax, err.Error())
	}
	if problems := checkShape(doc.root); len(problems) > 0 {
		return Invalid(LayerSyntax, problems...)
	}
	if problems := checkPolicy(doc); len(problems) > 0 {
		return Invalid(LayerPolicy, problems...)
	}
	return Diagnostic{Valid: true, Reason: "module is valid"}
}

func checkShape(root map[string]any) []string {
	var problems []string
	if name, ok := root["name"].(string); !ok || strings.TrimSpace(name) == "" {
		problems = append(problems, `"name" must be a non-empty string`)
	}
	if n, ok := root["gmf_version"].(json.Number); !ok {
		problems = append(problems, `"gmf_version" must be an integer`)
	} else if _, err := n.Int64(); err != nil {
		problems = append(problems, `"gmf_version" must be an integer`)
	}
	if r, present := root["remarks"]; present {
		if !isStringArray(r) {
			problems = append(problems, `"remarks" must be an array of strings`)
		}
	}
	states, ok := root["states"].(map[string]any)
	if !ok {
		return append(problems, `"states" must be an object`)
	}
	if len(states) == 0 {
		return append(problems, `"states" must not be empty`)
	}
	for _, name := range sortedKeys(states) {
		s, ok := states[name].(map[string]any)
		if !ok {
			problems = append(problems, fmt.Sprintf("state %q must be an object", name))
			continue
		}
		if t, ok := s["type"].(string); !ok || t == "" {
			problems = append(problems, fmt.Sprintf("state %q must have a string \"type\"", name))
		}
	}
	return problems
}

func checkPolicy(doc *Document) []string {
	var problems []string
	walkKeys(doc.root, "", func(path, key string) {
		if slices.Contains(ForbiddenKeys, key) {
			problems = append(problems, fmt.Sprintf("%s: forbidden key %q", path, key))
		}
	})

	states := doc.States()
	var initials, terminals int
	transitionsOK := true
	for _, name := range sortedKeys(states) {
		s := states[name]
		typ := s["type"].(string)
		if !slices.Contains(AllowedTypes, typ) {
			problems = append(problems, fmt.Sprintf("state %q: type %q is not allowed", name, typ))
			transitionsOK = false
			continue
		}
		switch typ {
		case TypeInitial:
			initials++
			if name != "Initial" {
				problems = append(problems, fmt.Sprintf("state %q: the Initial state must be named \"Initial\"", name))
			}
		case TypeTerminal:
			terminals++
		}

		next, has := s[Transition]
		if typ == TypeTerminal {
			if has {
				problems = append(problems, fmt.Sprintf("state %q: Terminal states must not have a transition", name))
			}
		} else {
			target, ok := next.(string)
			switch {
			case !has || !ok || target == "":
				problems = append(problems, fmt.Sprintf("state %q: must have exactly one %q naming a state", name, Transition))
				transitionsOK = false
			case states[target] == nil:
				problems = append(problems, fmt.Sprintf("state %q: transition to unknown state %q", name, target))
				transitionsOK = false
			}
		}
		problems = append(problems, checkStateFields(name, typ, s, states)...)
	}

	if initials != 1 {
		problems = append(problems, fmt.Sprintf("module must have exactly one Initial state, found %d", initials))
	}
	if terminals == 0 {
		problems = append(problems, "module must have at least one Terminal state")
	}
	if initials == 1 && states["Initial"] != nil && transitionsOK {
		problems = append(problems, checkFlow(states)...)
	}
	return problems
}

func checkStateFields(name, typ string, s map[string]any, states map[string]map[string]any) []string {
	var problems []string
	add := func(format string, a ...any) {
		problems = append(problems, fmt.Sprintf("state %q: ", name)+fmt.Sprintf(format, a...))
	}
	requireCodes := func() {
		if msg := checkCodeList(s["codes"]); msg != "" {
			add("%s", msg)
		}
	}

	switch typ {
	case TypeEncounter:
		if w, _ := s["wellness"].(bool); w {
			break
		}
		class, _ := s["encounter_class"].(string)
		if !slices.Contains(encounterClasses, class) {
			add("Encounter needs \"wellness\": true or an \"encounter_class\" of %s", strings.Join(encounterClasses, ", "))
		}
		requireCodes()
	case TypeConditionOnset:
		target, _ := s["target_encounter"].(string)
		if enc := states[target]; enc == nil || enc["type"] != TypeEncounter {
			add("\"target_encounter\" must name an Encounter state")
		}
		requireCodes()
	case TypeMedication, TypeProcedure:
		requireCodes()
	case TypeObservation:
		if c, _ := s["category"].(string); c == "" {
			add("Observation needs a \"category\"")
		}
		requireCodes()
		if vc, present := s["value_code"]; present {
			if msg := checkCode(vc); msg != "" {
				add("value_code: %s", msg)
			}
		}
	case TypeGuard:
		allow, ok := s["allow"].(map[string]any)
		if !ok {
			add("Guard needs an \"allow\" condition object")
			break
		}
		if msg := checkCondition(allow); msg != "" {
			add("allow: %s", msg)
		}
	}
	return problems
}

func checkCodeList(v any) string {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return "\"codes\" must be a non-empty array"
	}
	for i, c := range list {
		if msg := checkCode(c); msg != "" {
			return fmt.Sprintf("codes[%d]: %s", i, msg)
		}
	}
	return ""
}

func checkCode(v any) string {
	c, ok := v.(map[string]any)
	if !ok {
		return "code must be an object"
	}
	for _, k := range []string{"system", "code", "display"} {
		if s, ok := c[k].(string); !ok || s == "" {
			return fmt.Sprintf("code needs a string %q", k)
		}
	}
	if sys := c["system"].(string); !slices.Contains(Systems, sys) {
		return fmt.Sprintf("code system %q is not allowed (use %s)", sys, strings.Join(Systems, ", "))
	}
	return ""
}

func checkCondition(c map[string]any) string {
	typ, _ := c["condition_type"].(string)
	if !slices.Contains(conditionTypes, typ) {
		return fmt.Sprintf("condition_type %q is not allowed (use %s)", typ, strings.Join(conditionTypes, ", "))
	}
	switch typ {
	case "Gender":
		if g, _ := c["gender"].(string); g != "M" && g != "F" {
			return "Gender condition needs \"gender\": \"M\" or \"F\""
		}
	case "Active Condition":
		if _, ok := c["codes"]; ok {
			return checkCodeList(c["codes"])
		}
		if a, _ := c["referenced_by_attribute"].(string); a == "" {
			return "Active Condition needs \"codes\" or \"referenced_by_attribute\""
		}
	case "And", "Or":
		list, ok := c["conditions"].([]any)
		if !ok || len(list) == 0 {
			return typ + " condition needs a non-empty \"conditions\" array"
		}
		for _, sub := range list {
			m, ok := sub.(map[string]any)
			if !ok {
				return typ + " conditions must be objects"
			}
			if msg := checkCondition(m); msg != "" {
				return msg
			}
		}
	case "Not":
		m, ok := c["condition"].(map[string]any)
		if !ok {
			return "Not condition needs a \"condition\" object"
		}
		return checkCondition(m)
	}
	return ""
}

// checkFlow follows the single edge out of every state from Initial. It
// requires every state to be reachable, the path to end in a Terminal, and
// orders and procedures to sit inside an open encounter.
func checkFlow(states map[string]map[string]any) []string {
	var problems []string
	visited := map[string]bool{}
	encounterOpen := false
	name := "Initial"
	for {
		if visited[name] {
			problems = append(problems, fmt.Sprintf("no path from Initial reaches a Terminal state (cycle at %q)", name))
			break
		}
		visited[name] = true
		s := states[name]
		typ, _ := s["type"].(string)
		switch typ {
		case TypeEncounter:
			encounterOpen = true
		case TypeEncounterEnd:
			if !encounterOpen {
				problems = append(problems, fmt.Sprintf("state %q: EncounterEnd without an open Encounter", name))
			}
			encounterOpen = false
		case TypeMedication, TypeProcedure:
			if !encounterOpen {
				problems = append(problems, fmt.Sprintf("state %q: %s must come after an Encounter and before EncounterEnd", name, typ))
			}
		}
		if typ == TypeTerminal {
			break
		}
		next, ok := s[Transition].(string)
		if !ok || states[next] == nil {
			problems = append(problems, fmt.Sprintf("state %q: path from Initial stops here", name))
			break
		}
		name = next
	}

	for _, n := range sortedKeys(states) {
		if !visited[n] {
			problems = append(problems, fmt.Sprintf("state %q is unreachable from Initial", n))
		}
	}
	return problems
}

// walkKeys calls fn for every object key in v, depth first, in sorted order.
func walkKeys(v any, path string, fn func(path, key string)) {
	switch t := v.(type) {
	case map[string]any:
		for _, k := range sortedKeys(t) {
			p := k
			if path != "" {
				p = path + "." + k
			}
			fn(p, k)
			walkKeys(t[k], p, fn)
		}
	case []any:
		for i, e := range t {
			walkKeys(e, fmt.Sprintf("%s[%d]", path, i), fn)
		}
	}
}

func isStringArray(v any) bool {
	list, ok := v.([]any)
	if !ok {
		return false
	}
	for _, e := range list {
		if _, ok := e.(string); !ok {
			return false
		}
	}
	return true
}
