package gmf

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jorge-barreto/synthflow/internal/tools"
)

func TestAttributionContains(t *testing.T) {
	a := NewAttribution(`{"abstract":"Asthma (SNOMED 195967001) and LOINC 2345-7 were coded."}`)
	cases := []struct {
		code string
		want bool
	}{
		{"195967001", true},
		{"2345-7", true},
		{"95967001", false},
		{"1959670", false},
		{"345-7", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := a.Contains(tc.code); got != tc.want {
			t.Errorf("Contains(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
	var nilAttr *Attribution
	if nilAttr.Contains("195967001") {
		t.Fatal("nil attribution should contain nothing")
	}
}

func TestAttributionFromRecords_SkipsFailures(t *testing.T) {
	records := []tools.Record{
		{Tool: "literature-search", Output: json.RawMessage(`{"text":"code 185345009"}`)},
		{Tool: "trial-detail", Failure: &tools.Failure{Kind: tools.KindToolFailure, Reason: "code 49727002"}},
	}
	a := AttributionFromRecords(records)
	if !a.Contains("185345009") {
		t.Fatal("successful record output should be indexed")
	}
	if a.Contains("49727002") {
		t.Fatal("failure reasons must not count as sources")
	}
}

func TestSanitize(t *testing.T) {
	doc, err := Parse(validModule)
	if err != nil {
		t.Fatal(err)
	}
	attr := NewAttribution("Asthma was coded as 195967001 in the cohort.")

	got := Sanitize(doc, attr)
	want := []Replacement{
		{Path: "states.Diagnosis_Encounter.codes[0]", System: "SNOMED-CT", Code: "185345009"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("replacements (-want +got):\n%s", diff)
	}

	enc := doc.States()["Diagnosis_Encounter"]["codes"].([]any)[0].(map[string]any)
	if enc["code"] != "999999" || enc["display"] != "Placeholder SNOMED-CT Concept" {
		t.Fatalf("got %v", enc)
	}
	onset := doc.States()["Asthma_Onset"]["codes"].([]any)[0].(map[string]any)
	if onset["code"] != "195967001" {
		t.Fatalf("attributable code was replaced: %v", onset)
	}
	if problems := CheckCodes(doc, attr); len(problems) != 0 {
		t.Fatalf("got problems after sanitize: %v", problems)
	}

	canon, err := doc.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if d := Validate(string(canon)); !d.Valid {
		t.Fatalf("sanitized module invalid: %s", d.Reason)
	}
}

func TestCheckCodes_ReportsFabricatedCode(t *testing.T) {
	doc, err := Parse(validModule)
	if err != nil {
		t.Fatal(err)
	}
	problems := CheckCodes(doc, NewAttribution())
	if len(problems) != 2 {
		t.Fatalf("got %d problems, want 2: %v", len(problems), problems)
	}
	if !strings.Contains(problems[0], `"195967001"`) || !strings.Contains(problems[1], `"185345009"`) {
		t.Fatalf("got %v", problems)
	}
}

func TestCodes(t *testing.T) {
	doc, err := Parse(validModule)
	if err != nil {
		t.Fatal(err)
	}
	codes := Codes(doc)
	if len(codes) != 5 {
		t.Fatalf("got %d codes: %v", len(codes), codes)
	}
	if codes[0] != (Code{System: "SNOMED-CT", Code: "195967001", Display: "Asthma"}) {
		t.Fatalf("got %+v", codes[0])
	}
}

func TestPlaceholder(t *testing.T) {
	if p := Placeholder(SystemLOINC); p.Code != "99999-9" || p.Display != "Placeholder LOINC Concept" {
		t.Fatalf("got %+v", p)
	}
	if !IsPlaceholder(SystemRxNorm, "999999") || IsPlaceholder(SystemLOINC, "999999") {
		t.Fatal("placeholder lookup is per system")
	}
}

func TestCanonical_PreservesNumbers(t *testing.T) {
	doc, err := Parse(`{"gmf_version": 2, "name": "x", "states": {}}`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := doc.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"gmf_version":2,"name":"x","states":{}}`; string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
