package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/tidwall/gjson"
)

const trialURL = "https://clinicaltrials.gov/study/%s"

var nctPattern = regexp.MustCompile(`^NCT\d{8}$`)

// Trial is one trial-search hit.
type Trial struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	OfficialTitle  string   `json:"official_title,omitempty"`
	Status         string   `json:"status"`
	Phases         []string `json:"phases"`
	Conditions     []string `json:"conditions"`
	StudyType      string   `json:"study_type,omitempty"`
	StartDate      string   `json:"start_date,omitempty"`
	CompletionDate string   `json:"completion_date,omitempty"`
	URL            string   `json:"url"`
}

// TrialList is the trial-search output.
type TrialList struct {
	Query   string  `json:"query"`
	Count   int     `json:"count"`
	Results []Trial `json:"results"`
}

// Eligibility summarises who a trial enrolls.
type Eligibility struct {
	Criteria          string `json:"criteria,omitempty"`
	Sex               string `json:"sex,omitempty"`
	MinimumAge        string `json:"minimum_age,omitempty"`
	MaximumAge        string `json:"maximum_age,omitempty"`
	HealthyVolunteers bool   `json:"healthy_volunteers"`
}

// Design summarises how a trial is run.
type Design struct {
	Allocation        string `json:"allocation,omitempty"`
	InterventionModel string `json:"intervention_model,omitempty"`
	Masking           string `json:"masking,omitempty"`
	PrimaryPurpose    string `json:"primary_purpose,omitempty"`
}

// Outcomes groups a trial's declared measures.
type Outcomes struct {
	Primary   json.RawMessage `json:"primary"`
	Secondary json.RawMessage `json:"secondary"`
	Other     json.RawMessage `json:"other"`
}

// TrialDetail is the trial-detail output.
type TrialDetail struct {
	Trial
	BriefSummary        string          `json:"brief_summary,omitempty"`
	DetailedDescription string          `json:"detailed_description,omitempty"`
	Eligibility         Eligibility     `json:"eligibility"`
	Design              Design          `json:"design"`
	Arms                json.RawMessage `json:"arms"`
	Interventions       json.RawMessage `json:"interventions"`
	Outcomes            Outcomes        `json:"outcomes"`
	Locations           json.RawMessage `json:"locations"`
	Raw                 json.RawMessage `json:"raw"`
}

// ClinicalTrials talks to the ClinicalTrials.gov v2 studies API.
type ClinicalTrials struct {
	fetch *fetcher
}

// NewClinicalTrials returns a client for the studies endpoint at opts.BaseURL.
func NewClinicalTrials(opts HTTPOptions) *ClinicalTrials {
	return &ClinicalTrials{fetch: newFetcher("clinicaltrials", opts)}
}

// Search lists studies matching condition.
func (c *ClinicalTrials) Search(ctx context.Context, condition string, max int) (*TrialList, error) {
	q := url.Values{}
	q.Set("query.term", condition)
	q.Set("pageSize", fmt.Sprint(max))
	body, err := c.fetch.get(ctx, "", q)
	if err != nil {
		return nil, fmt.Errorf("search studies: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("search studies: malformed response")
	}

	list := &TrialList{Query: condition, Results: []Trial{}}
	for _, study := range gjson.GetBytes(body, "studies").Array() {
		list.Results = append(list.Results, trialSummary(study.Get("protocolSection")))
	}
	list.Count = len(list.Results)
	return list, nil
}

// Detail fetches the full record for nctID.
func (c *ClinicalTrials) Detail(ctx context.Context, nctID string) (*TrialDetail, error) {
	body, err := c.fetch.get(ctx, "/"+url.PathEscape(nctID), nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, fmt.Errorf("study %s not found", nctID)
		}
		return nil, fmt.Errorf("get study %s: %w", nctID, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("get study %s: malformed response", nctID)
	}

	p := gjson.GetBytes(body, "protocolSection")
	d := &TrialDetail{Trial: trialSummary(p)}
	if d.ID == "" {
		d.ID = nctID
		d.URL = fmt.Sprintf(trialURL, nctID)
	}
	d.BriefSummary = p.Get("descriptionModule.briefSummary").String()
	d.DetailedDescription = p.Get("descriptionModule.detailedDescription").String()

	e := p.Get("eligibilityModule")
	d.Eligibility = Eligibility{
		Criteria:          e.Get("eligibilityCriteria").String(),
		Sex:               e.Get("sex").String(),
		MinimumAge:        e.Get("minimumAge").String(),
		MaximumAge:        e.Get("maximumAge").String(),
		HealthyVolunteers: e.Get("healthyVolunteers").Bool(),
	}

	dm := p.Get("designModule")
	d.Design = Design{
		Allocation:        dm.Get("designInfo.allocation").String(),
		InterventionModel: dm.Get("designInfo.interventionModel").String(),
		Masking:           dm.Get("designInfo.maskingInfo.masking").String(),
		PrimaryPurpose:    dm.Get("designInfo.primaryPurpose").String(),
	}

	d.Arms = rawArray(p.Get("armsInterventionsModule.armGroups"))
	d.Interventions = rawArray(p.Get("armsInterventionsModule.interventions"))
	d.Outcomes = Outcomes{
		Primary:   rawArray(p.Get("outcomesModule.primaryOutcomes")),
		Secondary: rawArray(p.Get("outcomesModule.secondaryOutcomes")),
		Other:     rawArray(p.Get("outcomesModule.otherOutcomes")),
	}
	d.Locations = rawArray(p.Get("contactsLocationsModule.locations"))
	d.Raw = json.RawMessage(body)
	return d, nil
}

func trialSummary(p gjson.Result) Trial {
	id := p.Get("identificationModule.nctId").String()
	t := Trial{
		ID:             id,
		Title:          p.Get("identificationModule.briefTitle").String(),
		OfficialTitle:  p.Get("identificationModule.officialTitle").String(),
		Status:         p.Get("statusModule.overallStatus").String(),
		Phases:         stringList(p.Get("designModule.phases")),
		Conditions:     stringList(p.Get("conditionsModule.conditions")),
		StudyType:      p.Get("designModule.studyType").String(),
		StartDate:      p.Get("statusModule.startDateStruct.date").String(),
		CompletionDate: p.Get("statusModule.completionDateStruct.date").String(),
	}
	if id != "" {
		t.URL = fmt.Sprintf(trialURL, id)
	}
	return t
}

func stringList(r gjson.Result) []string {
	out := []string{}
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}

func rawArray(r gjson.Result) json.RawMessage {
	if !r.Exists() || !r.IsArray() {
		return json.RawMessage("[]")
	}
	return json.RawMessage(r.Raw)
}

// TrialSearch is the trial-search tool.
type TrialSearch struct {
	Trials     *ClinicalTrials
	MaxResults int
}

func (t *TrialSearch) Spec() Spec {
	return Spec{
		Name:        "trial-search",
		Description: "Search ClinicalTrials.gov for studies of a condition. Returns NCT ids, titles, status, phases, dates and URLs.",
		Params: []Param{
			{Name: "condition", Type: TypeString, Required: true, Description: "disease or condition name"},
			{Name: "max_results", Type: TypeInteger, Min: 1, Max: t.MaxResults, Default: min(10, t.MaxResults), Description: "number of studies to return"},
		},
	}
}

func (t *TrialSearch) Call(ctx context.Context, args Args) (any, error) {
	return t.Trials.Search(ctx, args.String("condition"), args.Int("max_results"))
}

// TrialDetailTool is the trial-detail tool.
type TrialDetailTool struct {
	Trials *ClinicalTrials
}

func (t *TrialDetailTool) Spec() Spec {
	return Spec{
		Name:        "trial-detail",
		Description: "Fetch the full ClinicalTrials.gov record for one study: eligibility, design, arms, interventions, outcomes and locations.",
		Params: []Param{
			{Name: "id", Type: TypeString, Required: true, Pattern: nctPattern, Description: "NCT identifier, e.g. NCT01234567"},
		},
	}
}

func (t *TrialDetailTool) Call(ctx context.Context, args Args) (any, error) {
	return t.Trials.Detail(ctx, args.String("id"))
}
