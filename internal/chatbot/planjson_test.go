package chatbot

import (
	"strings"
	"testing"
)

func TestExtractJSONObject_TolerateSurroundingProse(t *testing.T) {
	response := "Sure, here is the plan:\n```json\n{\"query_type\": \"broad_search\", \"themes\": [\"billing\"]}\n```\nLet me know."
	got := extractJSONObject(response)
	if !strings.HasPrefix(got, "{") || !strings.HasSuffix(got, "}") {
		t.Fatalf("expected a balanced object, got %q", got)
	}
	if !strings.Contains(got, "broad_search") {
		t.Fatalf("object content lost: %q", got)
	}
}

func TestExtractJSONObject_NestedBraces(t *testing.T) {
	response := `{"steps": [{"filters": {"theme": "billing"}}]} trailing`
	got := extractJSONObject(response)
	want := `{"steps": [{"filters": {"theme": "billing"}}]}`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestParseQueryPlan_EnforcesInvariants(t *testing.T) {
	// case_number on a non-specific plan must be cleared, and an
	// aggregation plan always carries an aggregation type.
	plan := parseQueryPlan(`{"query_type": "aggregation", "case_number": 42}`, "how many cases", testToday)
	if plan == nil {
		t.Fatalf("expected a plan")
	}
	if plan.CaseNumber != 0 {
		t.Fatalf("case number should be cleared on aggregation plans, got %d", plan.CaseNumber)
	}
	if plan.AggregationType != AggCountByTheme {
		t.Fatalf("expected default count_by_theme, got %s", plan.AggregationType)
	}
	if plan.ResultCount != 50 || plan.DetailLevel != DetailMetadataOnly {
		t.Fatalf("unexpected defaults: count=%d detail=%s", plan.ResultCount, plan.DetailLevel)
	}
}

func TestParseQueryPlan_SpecificWithoutNumberDemotedToBroad(t *testing.T) {
	// A specific-case plan with no case number would otherwise look up the
	// unnumbered bucket and return an arbitrary record.
	for _, raw := range []string{
		`{"query_type": "specific_case"}`,
		`{"query_type": "specific_case", "case_number": 0}`,
		`{"query_type": "specific_case", "case_number": -7}`,
	} {
		plan := parseQueryPlan(raw, "what happened in my case", testToday)
		if plan.QueryType != QueryTypeBroadSearch {
			t.Fatalf("%s: expected broad_search, got %s", raw, plan.QueryType)
		}
		if plan.CaseNumber != 0 {
			t.Fatalf("%s: case number should be cleared, got %d", raw, plan.CaseNumber)
		}
	}
}

func TestParseQueryPlan_UnknownTypeDefaultsToBroad(t *testing.T) {
	plan := parseQueryPlan(`{"query_type": "telepathy"}`, "find complaints", testToday)
	if plan.QueryType != QueryTypeBroadSearch {
		t.Fatalf("expected broad_search, got %s", plan.QueryType)
	}
	if plan.SemanticQuery != "find complaints" {
		t.Fatalf("semantic query should default to the raw query, got %q", plan.SemanticQuery)
	}
	if plan.ResultCount != 100 {
		t.Fatalf("expected default count 100, got %d", plan.ResultCount)
	}
}

func TestParseQueryPlan_ResolvesPlaceholderDates(t *testing.T) {
	plan := parseQueryPlan(`{"query_type": "filtered_search", "date_start": "<30 days ago>", "date_end": "<today>"}`, "issues from the last 30 days", testToday)
	if plan.DateStart != "2025-05-16" || plan.DateEnd != "2025-06-15" {
		t.Fatalf("placeholders not resolved: %q..%q", plan.DateStart, plan.DateEnd)
	}
}

func TestParseQueryPlan_Unparseable(t *testing.T) {
	if plan := parseQueryPlan("no json here", "q", testToday); plan != nil {
		t.Fatalf("expected nil plan, got %+v", plan)
	}
	if plan := parseQueryPlan(`{"query_type": broken}`, "q", testToday); plan != nil {
		t.Fatalf("expected nil plan on invalid JSON, got %+v", plan)
	}
}

func TestParseCompoundPlan_Declined(t *testing.T) {
	if plan := parseCompoundPlan(`{"is_compound": false}`, "q", testToday); plan != nil {
		t.Fatalf("expected nil when the model declines")
	}
	if plan := parseCompoundPlan(`{"is_compound": true, "steps": []}`, "q", testToday); plan != nil {
		t.Fatalf("expected nil when no steps are produced")
	}
}

func TestParseCompoundPlan_TruncatesToFourSteps(t *testing.T) {
	response := `{"is_compound": true, "synthesis_strategy": "timeline", "steps": [
		{"step_type": "aggregation"},
		{"step_type": "broad_search"},
		{"step_type": "filtered_search"},
		{"step_type": "specific_case"},
		{"step_type": "broad_search"},
		{"step_type": "broad_search"}
	]}`
	plan := parseCompoundPlan(response, "big question", testToday)
	if plan == nil {
		t.Fatalf("expected a plan")
	}
	if len(plan.Steps) != maxCompoundSteps {
		t.Fatalf("expected %d steps, got %d", maxCompoundSteps, len(plan.Steps))
	}
	if plan.SynthesisStrategy != StrategyTimeline {
		t.Fatalf("expected timeline strategy, got %s", plan.SynthesisStrategy)
	}
	if plan.OriginalQuery != "big question" {
		t.Fatalf("original query not preserved: %q", plan.OriginalQuery)
	}
}

func TestParseCompoundPlan_StepCapsAndDefaults(t *testing.T) {
	response := `{"is_compound": true, "steps": [
		{"step_type": "broad_search", "result_count": 9999},
		{"step_type": "filtered_search", "result_count": 99},
		{"step_type": "specific_case", "result_count": 20},
		{"step_type": "levitation"}
	]}`
	plan := parseCompoundPlan(response, "q", testToday)
	if plan.Steps[0].ResultCount != broadStepCap {
		t.Fatalf("broad step: expected cap %d, got %d", broadStepCap, plan.Steps[0].ResultCount)
	}
	if plan.Steps[1].ResultCount != filteredStepCap {
		t.Fatalf("filtered step: expected cap %d, got %d", filteredStepCap, plan.Steps[1].ResultCount)
	}
	if plan.Steps[2].ResultCount != specificStepCap {
		t.Fatalf("specific step: expected cap %d, got %d", specificStepCap, plan.Steps[2].ResultCount)
	}
	if plan.Steps[3].StepType != StepBroadSearch {
		t.Fatalf("unknown step type should default to broad_search, got %s", plan.Steps[3].StepType)
	}
	if plan.Steps[3].Purpose != "step 4" {
		t.Fatalf("expected generated purpose, got %q", plan.Steps[3].Purpose)
	}
	if plan.SynthesisStrategy != StrategyHierarchical {
		t.Fatalf("expected hierarchical default, got %s", plan.SynthesisStrategy)
	}
	if plan.Steps[0].DetailLevel != DetailSummary || plan.Steps[1].DetailLevel != DetailFullConversation {
		t.Fatalf("unexpected detail defaults: %s, %s", plan.Steps[0].DetailLevel, plan.Steps[1].DetailLevel)
	}
}
