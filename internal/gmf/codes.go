package gmf

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/jorge-barreto/synthflow/internal/tools"
)

// Code systems a module may reference.
const (
	SystemSNOMED = "SNOMED-CT"
	SystemRxNorm = "RxNorm"
	SystemLOINC  = "LOINC"
)

// Systems is the closed set of code systems.
var Systems = []string{SystemSNOMED, SystemRxNorm, SystemLOINC}

// Code is one terminology coding.
type Code struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

var placeholderCodes = map[string]string{
	SystemSNOMED: "999999",
	SystemRxNorm: "999999",
	SystemLOINC:  "99999-9",
}

// Placeholder returns the reserved sentinel coding for system.
func Placeholder(system string) Code {
	return Code{
		System:  system,
		Code:    placeholderCodes[system],
		Display: fmt.Sprintf("Placeholder %s Concept", system),
	}
}

// IsPlaceholder reports whether code is the sentinel for system.
func IsPlaceholder(system, code string) bool {
	p, ok := placeholderCodes[system]
	return ok && p == code
}

// Attribution answers whether a terminology code appears in the material a
// run retrieved.
type Attribution struct {
	sources []string
}

// NewAttribution indexes raw source texts.
func NewAttribution(sources ...string) *Attribution {
	return &Attribution{sources: sources}
}

// AttributionFromRecords indexes the output of every successful record.
func AttributionFromRecords(records []tools.Record) *Attribution {
	a := &Attribution{}
	for _, r := range records {
		if r.OK() && len(r.Output) > 0 {
			a.sources = append(a.sources, string(r.Output))
		}
	}
	return a
}

// Contains reports whether code occurs verbatim in a source, bounded by
// non-alphanumeric characters or the ends of the text.
func (a *Attribution) Contains(code string) bool {
	if a == nil || code == "" {
		return false
	}
	for _, src := range a.sources {
		for off := 0; ; {
			i := strings.Index(src[off:], code)
			if i < 0 {
				break
			}
			start := off + i
			end := start + len(code)
			if !alnumAt(src, start-1) && !alnumAt(src, end) {
				return true
			}
			off = start + 1
		}
	}
	return false
}

func alnumAt(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	r := rune(s[i])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Replacement records one code swapped for its placeholder.
type Replacement struct {
	Path   string `json:"path"`
	System string `json:"system"`
	Code   string `json:"code"`
}

// Sanitize replaces every coding in doc whose code is neither attributable
// nor a placeholder with the placeholder for its system. Codings in systems
// outside Systems are left for CheckCodes to report.
func Sanitize(doc *Document, attr *Attribution) []Replacement {
	var out []Replacement
	eachCode(doc.root, "", func(path string, c map[string]any) {
		system, _ := c["system"].(string)
		code, _ := c["code"].(string)
		if _, known := placeholderCodes[system]; !known {
			return
		}
		if IsPlaceholder(system, code) || attr.Contains(code) {
			return
		}
		p := Placeholder(system)
		c["code"] = p.Code
		c["display"] = p.Display
		out = append(out, Replacement{Path: path, System: system, Code: code})
	})
	return out
}

// CheckCodes reports every coding in doc that is neither attributable nor
// the placeholder for its system.
func CheckCodes(doc *Document, attr *Attribution) []string {
	var problems []string
	eachCode(doc.root, "", func(path string, c map[string]any) {
		system, _ := c["system"].(string)
		code, _ := c["code"].(string)
		if IsPlaceholder(system, code) || attr.Contains(code) {
			return
		}
		problems = append(problems, fmt.Sprintf("%s: code %s %q is not attributable to a retrieved source", path, system, code))
	})
	return problems
}

// Codes lists every coding in doc in path order.
func Codes(doc *Document) []Code {
	var out []Code
	eachCode(doc.root, "", func(_ string, c map[string]any) {
		var code Code
		code.System, _ = c["system"].(string)
		code.Code, _ = c["code"].(string)
		code.Display, _ = c["display"].(string)
		out = append(out, code)
	})
	return out
}

// eachCode visits every object carrying string "system" and "code" keys.
func eachCode(v any, path string, fn func(path string, c map[string]any)) {
	switch t := v.(type) {
	case map[string]any:
		_, hasSystem := t["system"].(string)
		_, hasCode := t["code"].(string)
		if hasSystem && hasCode {
			fn(path, t)
			return
		}
		for _, k := range sortedKeys(t) {
			p := k
			if path != "" {
				p = path + "." + k
			}
			eachCode(t[k], p, fn)
		}
	case []any:
		for i, e := range t {
			eachCode(e, fmt.Sprintf("%s[%d]", path, i), fn)
		}
	}
}
