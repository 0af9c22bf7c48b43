package chatbot

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestOrchestrator(store SearchStore, provider CompletionProvider) *Orchestrator {
	o := NewOrchestrator(DefaultConfig(), store, provider, nil)
	o.now = func() time.Time { return testToday }
	return o
}

func TestProcessQuery_SpecificCaseEndToEnd(t *testing.T) {
	store := &stubStore{cases: []Case{
		{ID: "a1", CaseNumber: 500, Summary: "refund dispute over a duplicate charge", Brand: "acme", Theme: "billing", CreatedAt: "2025-06-01T10:00:00Z"},
	}}
	o := newTestOrchestrator(store, nil)

	resp, err := o.ProcessQuery(context.Background(), "what happened in case #500", UIFilters{}, nil)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if resp.QueryType != "specific_case" {
		t.Fatalf("expected specific_case, got %s", resp.QueryType)
	}
	if resp.CasesFound != 1 {
		t.Fatalf("expected 1 case, got %d", resp.CasesFound)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].ID != "#500" {
		t.Fatalf("unexpected sources: %+v", resp.Sources)
	}
	if resp.Sources[0].Date != "2025-06-01" {
		t.Fatalf("expected 10-char date, got %q", resp.Sources[0].Date)
	}
	if resp.Plan == nil || resp.Plan.CaseNumber != 500 {
		t.Fatalf("plan not surfaced: %+v", resp.Plan)
	}
}

func TestProcessQuery_MissingCaseIsNotAnError(t *testing.T) {
	o := newTestOrchestrator(&stubStore{}, nil)
	resp, err := o.ProcessQuery(context.Background(), "show me case #999", UIFilters{}, nil)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if resp.CasesFound != 0 {
		t.Fatalf("expected 0 cases, got %d", resp.CasesFound)
	}
	if resp.Response != "No matching data found for your query." {
		t.Fatalf("unexpected response: %q", resp.Response)
	}
}

func TestProcessQuery_AggregationCountByBrand(t *testing.T) {
	store := &stubStore{
		cases:  []Case{{CaseNumber: 1}, {CaseNumber: 2}, {CaseNumber: 3}},
		counts: map[string]int{"acme": 2, "zenith": 1},
	}
	o := newTestOrchestrator(store, nil)

	resp, err := o.ProcessQuery(context.Background(), "breakdown of cases by brand", UIFilters{}, nil)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if resp.QueryType != "aggregation" {
		t.Fatalf("expected aggregation, got %s", resp.QueryType)
	}
	if store.lastGroupBy != "brand" {
		t.Fatalf("expected grouping by brand, got %q", store.lastGroupBy)
	}
	if !strings.Contains(resp.Response, "Total cases: 3") {
		t.Fatalf("total missing from response: %q", resp.Response)
	}
	// Sorted descending with percentages.
	acme := strings.Index(resp.Response, "acme: 2 (66.7%)")
	zenith := strings.Index(resp.Response, "zenith: 1 (33.3%)")
	if acme == -1 || zenith == -1 || acme > zenith {
		t.Fatalf("distribution not rendered sorted with percentages: %q", resp.Response)
	}
}

func TestProcessQuery_UIFiltersOverridePlan(t *testing.T) {
	store := &stubStore{
		themes: []string{"grief", "prayer"},
		cases: []Case{
			{CaseNumber: 1, Theme: "prayer", Summary: "prayer request", CreatedAt: "2025-06-02"},
			{CaseNumber: 2, Theme: "grief", Summary: "grief support", CreatedAt: "2025-06-03"},
		},
	}
	o := newTestOrchestrator(store, nil)

	resp, err := o.ProcessQuery(context.Background(), "grief conversations", UIFilters{Theme: "prayer"}, nil)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	// The classifier detected "grief" but the explicit UI filter wins.
	if store.lastFilters.Theme != "prayer" {
		t.Fatalf("expected UI theme to override, store saw %q", store.lastFilters.Theme)
	}
	if resp.Plan.Themes[0] != "prayer" {
		t.Fatalf("plan should reflect the override, got %v", resp.Plan.Themes)
	}
}

func TestProcessQuery_SearchFailureReturnsError(t *testing.T) {
	store := &stubStore{searchErr: errBoom}
	o := newTestOrchestrator(store, nil)
	if _, err := o.ProcessQuery(context.Background(), "delivery problems", UIFilters{}, nil); err == nil {
		t.Fatalf("expected error from failing store")
	}
}

const compoundPlanResponse = `{
	"is_compound": true,
	"synthesis_strategy": "comparative",
	"steps": [
		{"step_type": "broad_search", "purpose": "billing overview", "semantic_query": "billing complaints", "result_count": 10},
		{"step_type": "broad_search", "purpose": "shipping overview", "semantic_query": "shipping complaints", "result_count": 10}
	]
}`

func TestProcessQuery_CompoundDeduplicatesByCaseNumber(t *testing.T) {
	store := &stubStore{cases: []Case{
		{CaseNumber: 500, Summary: "late delivery", CreatedAt: "2025-06-01"},
		{CaseNumber: 0, ID: "anon-1", Summary: "untagged record", CreatedAt: "2025-06-02"},
		{CaseNumber: 0, ID: "anon-2", Summary: "another untagged record", CreatedAt: "2025-06-03"},
	}}
	// First call plans, second call synthesizes.
	provider := &stubProvider{responses: []string{compoundPlanResponse, "Here is the comparison."}}
	o := newTestOrchestrator(store, provider)

	resp, err := o.ProcessQuery(context.Background(), "compare billing and shipping complaints", UIFilters{}, nil)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if resp.QueryType != "compound" {
		t.Fatalf("expected compound, got %s", resp.QueryType)
	}
	if resp.CompoundSteps != 2 {
		t.Fatalf("expected 2 steps, got %d", resp.CompoundSteps)
	}
	// Both steps returned the same three cases; case 500 is kept once,
	// the zero-numbered records are kept every time.
	if resp.CasesFound != 5 {
		t.Fatalf("expected 5 cases after dedup, got %d", resp.CasesFound)
	}
	if resp.Response != "Here is the comparison." {
		t.Fatalf("unexpected response: %q", resp.Response)
	}
}

func TestProcessQuery_CompoundOverrideDisables(t *testing.T) {
	store := &stubStore{cases: []Case{{CaseNumber: 1, Summary: "x", CreatedAt: "2025-06-01"}}}
	o := newTestOrchestrator(store, nil)

	off := false
	resp, err := o.ProcessQuery(context.Background(), "compare billing and shipping complaints", UIFilters{}, &off)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if resp.QueryType == "compound" {
		t.Fatalf("compound should be disabled by the per-request override")
	}
}

func TestExecuteStep_DatabaseQueryWithSamples(t *testing.T) {
	store := &stubStore{
		counts: map[string]int{"billing": 4, "shipping": 2},
		cases: []Case{
			{CaseNumber: 10, Theme: "billing", Summary: "b1", CreatedAt: "2025-06-01"},
			{CaseNumber: 11, Theme: "billing", Summary: "b2", CreatedAt: "2025-06-02"},
			{CaseNumber: 12, Theme: "billing", Summary: "b3", CreatedAt: "2025-06-03"},
			{CaseNumber: 20, Theme: "shipping", Summary: "s1", CreatedAt: "2025-06-04"},
		},
	}
	o := newTestOrchestrator(store, nil)

	step := SearchStep{StepType: StepDatabaseQuery, Purpose: "top themes", GroupBy: "theme", TopN: 2, DetailLevel: DetailMetadataOnly}
	res, err := o.executeStep(context.Background(), step, "q", nil)
	if err != nil {
		t.Fatalf("executeStep: %v", err)
	}
	if res.Aggregation == nil || res.Aggregation.TotalCases != 6 {
		t.Fatalf("unexpected aggregation: %+v", res.Aggregation)
	}
	// Two sample cases per group, at most.
	var billing, shipping int
	for _, rc := range res.Cases {
		switch rc.Category {
		case "billing":
			billing++
		case "shipping":
			shipping++
		default:
			t.Fatalf("sample without category: %+v", rc)
		}
	}
	if billing != 2 || shipping != 1 {
		t.Fatalf("expected 2 billing and 1 shipping samples, got %d and %d", billing, shipping)
	}
}

func TestExecuteStep_SpecificFromPriorResults(t *testing.T) {
	store := &stubStore{cases: []Case{
		{CaseNumber: 1, Summary: "a", CreatedAt: "2025-06-01"},
		{CaseNumber: 2, Summary: "b", CreatedAt: "2025-06-02"},
		{CaseNumber: 3, Summary: "c", CreatedAt: "2025-06-03"},
		{CaseNumber: 4, Summary: "d", CreatedAt: "2025-06-04"},
	}}
	o := newTestOrchestrator(store, nil)

	prior := []stepResult{{Cases: []RetrievedCase{
		{Case: Case{CaseNumber: 4}},
		{Case: Case{CaseNumber: 2}},
		{Case: Case{CaseNumber: 4}}, // duplicate, skipped
		{Case: Case{CaseNumber: 1}},
		{Case: Case{CaseNumber: 3}}, // beyond the per-step limit
	}}}
	step := SearchStep{StepType: StepSpecificCase, Purpose: "drill down", UsePriorResults: true, DetailLevel: DetailFullConversation}
	res, err := o.executeStep(context.Background(), step, "q", prior)
	if err != nil {
		t.Fatalf("executeStep: %v", err)
	}
	if len(res.Cases) != 3 {
		t.Fatalf("expected 3 cases, got %d", len(res.Cases))
	}
	if res.Cases[0].Case.CaseNumber != 4 || res.Cases[1].Case.CaseNumber != 2 || res.Cases[2].Case.CaseNumber != 1 {
		t.Fatalf("prior order not preserved: %+v", res.Cases)
	}
}

func TestExecuteStep_IgnoresZeroCaseNumbers(t *testing.T) {
	store := &stubStore{cases: []Case{
		{ID: "anon-1", CaseNumber: 0, Summary: "unnumbered record", CreatedAt: "2025-06-01"},
		{CaseNumber: 7, Summary: "numbered record", CreatedAt: "2025-06-02"},
	}}
	o := newTestOrchestrator(store, nil)

	step := SearchStep{StepType: StepSpecificCase, Purpose: "lookup", CaseNumbers: []int{0, 7}, DetailLevel: DetailFullConversation}
	res, err := o.executeStep(context.Background(), step, "q", nil)
	if err != nil {
		t.Fatalf("executeStep: %v", err)
	}
	if len(res.Cases) != 1 || res.Cases[0].Case.CaseNumber != 7 {
		t.Fatalf("zero case numbers must not match the unnumbered bucket: %+v", res.Cases)
	}
}

func TestProcessQuery_SpecificWithoutNumberFallsBackToSearch(t *testing.T) {
	// A classification that claims specific_case but carries no case number
	// must not point-look-up the unnumbered bucket.
	store := &stubStore{cases: []Case{
		{ID: "anon-1", CaseNumber: 0, Summary: "unnumbered record", CreatedAt: "2025-06-01"},
	}}
	provider := &stubProvider{responses: []string{
		`{"query_type": "specific_case"}`,
		"here is what I found",
	}}
	o := newTestOrchestrator(store, provider)

	resp, err := o.ProcessQuery(context.Background(), "what happened in my situation", UIFilters{}, nil)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if resp.QueryType != "broad_search" {
		t.Fatalf("expected demotion to broad_search, got %s", resp.QueryType)
	}
	if store.lastQuery == "" {
		t.Fatalf("expected a ranked search, not a point lookup")
	}
	if resp.Plan == nil || resp.Plan.CaseNumber != 0 || resp.Plan.QueryType != QueryTypeBroadSearch {
		t.Fatalf("plan not normalized: %+v", resp.Plan)
	}
}

func TestProcessQuery_CompoundStepFailureIsSkipped(t *testing.T) {
	response := `{
		"is_compound": true,
		"steps": [
			{"step_type": "aggregation", "purpose": "overview", "aggregation_type": "count_by_theme"},
			{"step_type": "broad_search", "purpose": "examples", "semantic_query": "complaints"}
		]
	}`
	store := &stubStore{
		countErr: errBoom,
		cases:    []Case{{CaseNumber: 7, Summary: "x", CreatedAt: "2025-06-01"}},
	}
	provider := &stubProvider{responses: []string{response, "Partial answer."}}
	o := newTestOrchestrator(store, provider)

	resp, err := o.ProcessQuery(context.Background(), "show themes and give examples", UIFilters{}, nil)
	if err != nil {
		t.Fatalf("a failing step must not abort the run: %v", err)
	}
	if resp.CompoundSteps != 2 {
		t.Fatalf("expected 2 planned steps, got %d", resp.CompoundSteps)
	}
	if resp.CasesFound != 1 {
		t.Fatalf("surviving step results lost: %d", resp.CasesFound)
	}
	if !strings.Contains(provider.lastUser, "could not be executed") {
		t.Fatalf("gap note missing from synthesis context: %q", provider.lastUser)
	}
}

func TestDedupeByCaseNumber(t *testing.T) {
	in := []RetrievedCase{
		{Case: Case{CaseNumber: 1, Summary: "first"}},
		{Case: Case{CaseNumber: 0, ID: "a"}},
		{Case: Case{CaseNumber: 1, Summary: "second"}},
		{Case: Case{CaseNumber: 0, ID: "b"}},
	}
	out := dedupeByCaseNumber(in)
	if len(out) != 3 {
		t.Fatalf("expected 3, got %d", len(out))
	}
	if out[0].Case.Summary != "first" {
		t.Fatalf("first occurrence must win, got %q", out[0].Case.Summary)
	}
}
