package chatbot

import (
	"context"
	"testing"
	"time"
)

// June 15 2025 is a Sunday; a fixed clock keeps date assertions stable.
var testToday = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestExtractCaseNumber_PatternPriority(t *testing.T) {
	tests := []struct {
		query string
		want  int
		ok    bool
	}{
		{"what happened in case #12345", 12345, true},
		{"what is CASE # 99 about", 99, true},
		{"show me #456", 456, true},
		{"pull up case number 789", 789, true},
		{"details on case 50012", 50012, true},
		{"details on case 123", 0, false},
		{"billing complaints in general", 0, false},
		{"what happened in case #0", 0, false},
	}
	for _, tt := range tests {
		got, ok := extractCaseNumber(tt.query)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("extractCaseNumber(%q) = (%d, %v), want (%d, %v)", tt.query, got, ok, tt.want, tt.ok)
		}
	}
}

func TestClassify_CaseNumberBeatsAggregationKeywords(t *testing.T) {
	c := NewClassifier(DefaultConfig(), nil)
	plan := c.Classify(context.Background(), "how many messages are in case #42", nil, nil, testToday, false)
	if plan.IsCompound() {
		t.Fatalf("expected simple plan")
	}
	if plan.Simple.QueryType != QueryTypeSpecificCase {
		t.Fatalf("expected specific_case, got %s", plan.Simple.QueryType)
	}
	if plan.Simple.CaseNumber != 42 {
		t.Fatalf("expected case number 42, got %d", plan.Simple.CaseNumber)
	}
	if plan.Simple.DetailLevel != DetailFullConversation {
		t.Fatalf("expected full_conversation detail, got %s", plan.Simple.DetailLevel)
	}
}

func TestClassify_AggregationKeywords(t *testing.T) {
	c := NewClassifier(DefaultConfig(), nil)
	tests := []struct {
		query string
		want  AggregationType
	}{
		{"how many complaints did we get", AggCountByTheme},
		{"give me a breakdown by brand", AggCountByBrand},
		{"what is the sentiment distribution", AggSentimentDistribution},
	}
	for _, tt := range tests {
		plan := c.Classify(context.Background(), tt.query, nil, nil, testToday, false)
		if plan.Simple.QueryType != QueryTypeAggregation {
			t.Fatalf("Classify(%q): expected aggregation, got %s", tt.query, plan.Simple.QueryType)
		}
		if plan.Simple.AggregationType != tt.want {
			t.Fatalf("Classify(%q): expected %s, got %s", tt.query, tt.want, plan.Simple.AggregationType)
		}
		if plan.Simple.DetailLevel != DetailMetadataOnly {
			t.Fatalf("Classify(%q): expected metadata_only, got %s", tt.query, plan.Simple.DetailLevel)
		}
	}
}

func TestResolveDateRange(t *testing.T) {
	tests := []struct {
		query     string
		wantStart string
		wantEnd   string
	}{
		{"complaints from the last 30 days", "2025-05-16", "2025-06-15"},
		{"issues from the past month", "2025-05-16", "2025-06-15"},
		{"what came in last week", "2025-06-08", "2025-06-15"},
		{"show me the past 7 days", "2025-06-08", "2025-06-15"},
		{"anything this week", "2025-06-09", "2025-06-15"},
		{"totals for this month", "2025-06-01", "2025-06-15"},
		{"what happened today", "2025-06-15", "2025-06-15"},
		{"cases from yesterday", "2025-06-14", "2025-06-14"},
		{"recent escalations", "2025-06-01", "2025-06-15"},
		{"billing complaints", "", ""},
	}
	for _, tt := range tests {
		start, end := resolveDateRange(tt.query, testToday)
		if start != tt.wantStart || end != tt.wantEnd {
			t.Fatalf("resolveDateRange(%q) = (%q, %q), want (%q, %q)", tt.query, start, end, tt.wantStart, tt.wantEnd)
		}
	}
}

func TestResolveDateRange_IsPure(t *testing.T) {
	s1, e1 := resolveDateRange("last week", testToday)
	s2, e2 := resolveDateRange("last week", testToday)
	if s1 != s2 || e1 != e2 {
		t.Fatalf("resolution changed between calls: (%q,%q) vs (%q,%q)", s1, e1, s2, e2)
	}
}

func TestDetectMentions_UnderscoreTolerant(t *testing.T) {
	vocab := []string{"prayer_request", "billing", "shipping_delay"}
	got := detectMentions("any Prayer Request cases about billing?", vocab)
	if len(got) != 2 {
		t.Fatalf("expected 2 mentions, got %v", got)
	}
	if got[0] != "prayer_request" || got[1] != "billing" {
		t.Fatalf("unexpected mentions: %v", got)
	}
}

func TestClassify_RuleFallbackFiltered(t *testing.T) {
	c := NewClassifier(DefaultConfig(), nil)
	plan := c.Classify(context.Background(), "grief support conversations from last week", []string{"grief"}, nil, testToday, false)
	p := plan.Simple
	if p.QueryType != QueryTypeFilteredSearch {
		t.Fatalf("expected filtered_search, got %s", p.QueryType)
	}
	if len(p.Themes) != 1 || p.Themes[0] != "grief" {
		t.Fatalf("expected theme grief, got %v", p.Themes)
	}
	if p.DateStart != "2025-06-08" || p.DateEnd != "2025-06-15" {
		t.Fatalf("unexpected dates: %q..%q", p.DateStart, p.DateEnd)
	}
	if p.ResultCount != 10 {
		t.Fatalf("expected result count 10, got %d", p.ResultCount)
	}
}

func TestClassify_RuleFallbackBroad(t *testing.T) {
	c := NewClassifier(DefaultConfig(), nil)
	plan := c.Classify(context.Background(), "tell me about delivery problems", nil, nil, testToday, false)
	p := plan.Simple
	if p.QueryType != QueryTypeBroadSearch {
		t.Fatalf("expected broad_search, got %s", p.QueryType)
	}
	if p.ResultCount != 100 || p.DetailLevel != DetailSummary {
		t.Fatalf("unexpected defaults: count=%d detail=%s", p.ResultCount, p.DetailLevel)
	}
	if p.SemanticQuery != "tell me about delivery problems" {
		t.Fatalf("semantic query should default to the raw query, got %q", p.SemanticQuery)
	}
}

func TestCompoundTriggered(t *testing.T) {
	triggers := []string{
		"show me the top themes and give examples of each",
		"compare billing and shipping complaints",
		"deep dive into refund cases",
		"break down sentiment with examples",
	}
	for _, q := range triggers {
		if !compoundTriggered(q) {
			t.Fatalf("expected compound trigger for %q", q)
		}
	}
	if compoundTriggered("what happened in case #42") {
		t.Fatalf("plain lookup should not trigger compound planning")
	}
}

func TestClassify_CompoundViaProvider(t *testing.T) {
	provider := &stubProvider{response: `{
		"is_compound": true,
		"synthesis_strategy": "comparative",
		"steps": [
			{"step_type": "aggregation", "purpose": "theme overview", "aggregation_type": "count_by_theme"},
			{"step_type": "broad_search", "purpose": "examples", "semantic_query": "complaints", "result_count": 500}
		]
	}`}
	c := NewClassifier(DefaultConfig(), provider)
	plan := c.Classify(context.Background(), "compare billing and shipping with examples", nil, nil, testToday, true)
	if !plan.IsCompound() {
		t.Fatalf("expected compound plan")
	}
	cp := plan.Compound
	if cp.SynthesisStrategy != StrategyComparative {
		t.Fatalf("expected comparative strategy, got %s", cp.SynthesisStrategy)
	}
	if len(cp.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(cp.Steps))
	}
	if cp.Steps[1].ResultCount != broadStepCap {
		t.Fatalf("expected broad step capped at %d, got %d", broadStepCap, cp.Steps[1].ResultCount)
	}
}

func TestClassify_CompoundDisabledIgnoresTriggers(t *testing.T) {
	provider := &stubProvider{response: `{"is_compound": true, "steps": [{"step_type": "broad_search"}]}`}
	c := NewClassifier(DefaultConfig(), provider)
	plan := c.Classify(context.Background(), "how many themes? show examples of each", nil, nil, testToday, false)
	if plan.IsCompound() {
		t.Fatalf("compound planning should be skipped when disabled")
	}
	if plan.Simple.QueryType != QueryTypeAggregation {
		t.Fatalf("expected aggregation fast path, got %s", plan.Simple.QueryType)
	}
}

func TestClassify_ProviderFailureFallsBack(t *testing.T) {
	provider := &stubProvider{err: errBoom}
	c := NewClassifier(DefaultConfig(), provider)
	plan := c.Classify(context.Background(), "tell me about delivery problems", nil, nil, testToday, true)
	if plan.IsCompound() {
		t.Fatalf("expected fallback to simple plan")
	}
	if plan.Simple.QueryType != QueryTypeBroadSearch {
		t.Fatalf("expected broad_search fallback, got %s", plan.Simple.QueryType)
	}
}
