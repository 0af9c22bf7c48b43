package chatbot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// extractJSONObject pulls the first balanced JSON object out of an LLM
// response, tolerating prose around it.
func extractJSONObject(response string) string {
	start := -1
	depth := 0
	for i, ch := range response {
		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return response[start : i+1]
			}
		}
	}
	return ""
}

// rawQueryPlan mirrors the JSON field schema the prompts ask for. Everything
// is optional; defaults are applied afterwards.
type rawQueryPlan struct {
	QueryType       string   `json:"query_type"`
	CaseNumber      int      `json:"case_number"`
	SemanticQuery   string   `json:"semantic_query"`
	ResultCount     int      `json:"result_count"`
	DetailLevel     string   `json:"detail_level"`
	DateStart       string   `json:"date_start"`
	DateEnd         string   `json:"date_end"`
	Themes          []string `json:"themes"`
	Brands          []string `json:"brands"`
	AggregationType string   `json:"aggregation_type"`
}

type rawSearchStep struct {
	rawQueryPlan
	StepType        string            `json:"step_type"`
	Purpose         string            `json:"purpose"`
	CaseNumbers     []int             `json:"case_numbers"`
	GroupBy         string            `json:"group_by"`
	Filters         map[string]string `json:"filters"`
	TopN            int               `json:"top_n"`
	UsePriorResults bool              `json:"use_prior_results"`
}

type rawCompoundPlan struct {
	IsCompound        bool            `json:"is_compound"`
	SynthesisStrategy string          `json:"synthesis_strategy"`
	Steps             []rawSearchStep `json:"steps"`
}

// parseQueryPlan turns an LLM classification response into a QueryPlan, or
// nil when no usable JSON can be extracted. Relative-date placeholders left
// by the model (tokens containing '<') are re-resolved deterministically
// from the query text rather than trusted verbatim.
func parseQueryPlan(response, query string, today time.Time) *QueryPlan {
	jsonStr := extractJSONObject(response)
	if jsonStr == "" {
		return nil
	}
	var raw rawQueryPlan
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil
	}

	plan := &QueryPlan{
		QueryType:       QueryType(raw.QueryType),
		CaseNumber:      raw.CaseNumber,
		SemanticQuery:   raw.SemanticQuery,
		ResultCount:     raw.ResultCount,
		DetailLevel:     DetailLevel(raw.DetailLevel),
		DateStart:       raw.DateStart,
		DateEnd:         raw.DateEnd,
		Themes:          raw.Themes,
		Brands:          raw.Brands,
		AggregationType: AggregationType(raw.AggregationType),
	}
	if plan.SemanticQuery == "" && plan.QueryType != QueryTypeAggregation {
		plan.SemanticQuery = query
	}
	resolvePlaceholderDates(&plan.DateStart, &plan.DateEnd, query, today)
	normalizeQueryPlan(plan)
	return plan
}

// parseCompoundPlan turns a compound-decomposition response into a
// CompoundQueryPlan. It returns nil when the JSON is unusable, the model
// declined (is_compound=false), or no steps survive normalization; callers
// fall through to single-plan classification in that case.
func parseCompoundPlan(response, query string, today time.Time) *CompoundQueryPlan {
	jsonStr := extractJSONObject(response)
	if jsonStr == "" {
		return nil
	}
	var raw rawCompoundPlan
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil
	}
	if !raw.IsCompound || len(raw.Steps) == 0 {
		return nil
	}
	if len(raw.Steps) > maxCompoundSteps {
		raw.Steps = raw.Steps[:maxCompoundSteps]
	}

	plan := &CompoundQueryPlan{
		IsCompound:        true,
		SynthesisStrategy: SynthesisStrategy(raw.SynthesisStrategy),
		OriginalQuery:     query,
	}
	switch plan.SynthesisStrategy {
	case StrategyHierarchical, StrategyComparative, StrategyTimeline:
	default:
		plan.SynthesisStrategy = StrategyHierarchical
	}

	for i, rs := range raw.Steps {
		step := SearchStep{
			StepType:        StepType(rs.StepType),
			Purpose:         strings.TrimSpace(rs.Purpose),
			SemanticQuery:   rs.SemanticQuery,
			ResultCount:     rs.ResultCount,
			DetailLevel:     DetailLevel(rs.DetailLevel),
			DateStart:       rs.DateStart,
			DateEnd:         rs.DateEnd,
			Themes:          rs.Themes,
			Brands:          rs.Brands,
			AggregationType: AggregationType(rs.AggregationType),
			CaseNumbers:     rs.CaseNumbers,
			GroupBy:         rs.GroupBy,
			Filters:         rs.Filters,
			TopN:            rs.TopN,
			UsePriorResults: rs.UsePriorResults,
		}
		normalizeStep(&step, i, query, today)
		plan.Steps = append(plan.Steps, step)
	}
	return plan
}

// normalizeStep applies type defaults and the per-type result caps.
func normalizeStep(step *SearchStep, index int, query string, today time.Time) {
	switch step.StepType {
	case StepAggregation, StepBroadSearch, StepFilteredSearch, StepSpecificCase, StepDatabaseQuery:
	default:
		step.StepType = StepBroadSearch
	}
	if step.Purpose == "" {
		step.Purpose = fmt.Sprintf("step %d", index+1)
	}
	if limit := capForStepType(step.StepType); step.ResultCount <= 0 || step.ResultCount > limit {
		step.ResultCount = limit
	}
	if step.DetailLevel == "" {
		switch step.StepType {
		case StepSpecificCase, StepFilteredSearch:
			step.DetailLevel = DetailFullConversation
		case StepAggregation, StepDatabaseQuery:
			step.DetailLevel = DetailMetadataOnly
		default:
			step.DetailLevel = DetailSummary
		}
	}
	resolvePlaceholderDates(&step.DateStart, &step.DateEnd, query, today)
}

// normalizeQueryPlan enforces the plan invariants and default result tiers.
func normalizeQueryPlan(plan *QueryPlan) {
	switch plan.QueryType {
	case QueryTypeSpecificCase, QueryTypeBroadSearch, QueryTypeFilteredSearch, QueryTypeAggregation:
	default:
		plan.QueryType = QueryTypeBroadSearch
	}
	// A specific-case plan without a usable case number would turn into a
	// lookup of the unnumbered bucket; demote it to a broad search instead.
	if plan.QueryType == QueryTypeSpecificCase && plan.CaseNumber <= 0 {
		plan.QueryType = QueryTypeBroadSearch
	}
	if plan.QueryType != QueryTypeSpecificCase {
		plan.CaseNumber = 0
	}
	if plan.QueryType != QueryTypeAggregation {
		plan.AggregationType = ""
	} else if plan.AggregationType == "" {
		plan.AggregationType = AggCountByTheme
	}
	if plan.ResultCount <= 0 {
		switch plan.QueryType {
		case QueryTypeSpecificCase:
			plan.ResultCount = 1
		case QueryTypeFilteredSearch:
			plan.ResultCount = 10
		case QueryTypeAggregation:
			plan.ResultCount = 50
		default:
			plan.ResultCount = 100
		}
	}
	if plan.DetailLevel == "" {
		switch plan.QueryType {
		case QueryTypeSpecificCase:
			plan.DetailLevel = DetailFullConversation
		case QueryTypeAggregation:
			plan.DetailLevel = DetailMetadataOnly
		default:
			plan.DetailLevel = DetailSummary
		}
	}
}

// resolvePlaceholderDates replaces model-emitted relative-date placeholders
// such as "<30 days ago>" with a deterministic resolution from the query.
func resolvePlaceholderDates(start, end *string, query string, today time.Time) {
	if strings.Contains(*start, "<") || strings.Contains(*end, "<") {
		s, e := resolveDateRange(query, today)
		*start = s
		if e == "" {
			e = today.Format(isoDate)
		}
		*end = e
	}
}
