package chatbot

import (
	"context"
)

// QueryType describes the retrieval action a plan intends.
type QueryType string

const (
	QueryTypeSpecificCase   QueryType = "specific_case"
	QueryTypeBroadSearch    QueryType = "broad_search"
	QueryTypeFilteredSearch QueryType = "filtered_search"
	QueryTypeAggregation    QueryType = "aggregation"
	QueryTypeCompound       QueryType = "compound"
)

// DetailLevel controls how much of a case is rendered into LLM context.
type DetailLevel string

const (
	DetailSummary          DetailLevel = "summary"
	DetailFullConversation DetailLevel = "full_conversation"
	DetailMetadataOnly     DetailLevel = "metadata_only"
)

// AggregationType selects which grouped count an aggregation plan computes.
type AggregationType string

const (
	AggCountByTheme          AggregationType = "count_by_theme"
	AggCountByBrand          AggregationType = "count_by_brand"
	AggSentimentDistribution AggregationType = "sentiment_distribution"
	AggCountByCaseType       AggregationType = "count_by_case_type"
	AggCountByCaseTopic      AggregationType = "count_by_case_topic"
)

// StepType describes one unit of work inside a compound plan.
type StepType string

const (
	StepAggregation    StepType = "aggregation"
	StepBroadSearch    StepType = "broad_search"
	StepFilteredSearch StepType = "filtered_search"
	StepSpecificCase   StepType = "specific_case"
	StepDatabaseQuery  StepType = "database_query"
)

// SynthesisStrategy selects the narrative structure for compound answers.
type SynthesisStrategy string

const (
	StrategyHierarchical SynthesisStrategy = "hierarchical"
	StrategyComparative  SynthesisStrategy = "comparative"
	StrategyTimeline     SynthesisStrategy = "timeline"
)

// Case is one ingested conversation record. It is produced by the ingestion
// pipeline and read-only here; dates are ISO-8601 strings because the store
// filters them lexically.
type Case struct {
	ID               string `json:"id"`
	CaseNumber       int    `json:"case_number"`
	Summary          string `json:"summary"`
	FullConversation string `json:"full_conversation,omitempty"`
	Subject          string `json:"subject,omitempty"`
	Description      string `json:"description,omitempty"`
	CreatedAt        string `json:"created_at"`
	Channel          string `json:"channel,omitempty"`
	Brand            string `json:"brand,omitempty"`
	Theme            string `json:"theme,omitempty"`
	Outcome          string `json:"outcome,omitempty"`
	Sentiment        string `json:"sentiment,omitempty"`
	Language         string `json:"language,omitempty"`
	Country          string `json:"country,omitempty"`
	MessageCount     int    `json:"message_count,omitempty"`
	CaseType         string `json:"case_type,omitempty"`
	CaseTopic        string `json:"case_topic,omitempty"`
}

// QueryPlan is a single intended retrieval action.
//
// Invariants: CaseNumber is set iff QueryType is specific_case, and
// AggregationType is set iff QueryType is aggregation.
type QueryPlan struct {
	QueryType       QueryType       `json:"query_type"`
	CaseNumber      int             `json:"case_number,omitempty"`
	SemanticQuery   string          `json:"semantic_query,omitempty"`
	ResultCount     int             `json:"result_count"`
	DetailLevel     DetailLevel     `json:"detail_level"`
	DateStart       string          `json:"date_start,omitempty"`
	DateEnd         string          `json:"date_end,omitempty"`
	Themes          []string        `json:"themes,omitempty"`
	Brands          []string        `json:"brands,omitempty"`
	AggregationType AggregationType `json:"aggregation_type,omitempty"`
}

// SearchStep is one unit of a compound plan. ResultCount is capped per step
// type (broad_search 50, filtered_search 10, specific_case 3) to bound
// context size.
type SearchStep struct {
	StepType        StepType          `json:"step_type"`
	Purpose         string            `json:"purpose"`
	SemanticQuery   string            `json:"semantic_query,omitempty"`
	ResultCount     int               `json:"result_count"`
	DetailLevel     DetailLevel       `json:"detail_level"`
	DateStart       string            `json:"date_start,omitempty"`
	DateEnd         string            `json:"date_end,omitempty"`
	Themes          []string          `json:"themes,omitempty"`
	Brands          []string          `json:"brands,omitempty"`
	AggregationType AggregationType   `json:"aggregation_type,omitempty"`
	CaseNumbers     []int             `json:"case_numbers,omitempty"`
	GroupBy         string            `json:"group_by,omitempty"`
	Filters         map[string]string `json:"filters,omitempty"`
	TopN            int               `json:"top_n,omitempty"`
	UsePriorResults bool              `json:"use_prior_results,omitempty"`
}

// CompoundQueryPlan is an ordered multi-step search strategy. It is built
// once per user turn, executed once, and discarded.
type CompoundQueryPlan struct {
	IsCompound        bool              `json:"is_compound"`
	Steps             []SearchStep      `json:"steps"`
	SynthesisStrategy SynthesisStrategy `json:"synthesis_strategy"`
	OriginalQuery     string            `json:"original_query"`
}

// Plan is the classifier's result: exactly one of Simple or Compound is set.
type Plan struct {
	Simple   *QueryPlan
	Compound *CompoundQueryPlan
}

// IsCompound reports whether the plan carries a multi-step strategy.
func (p Plan) IsCompound() bool { return p.Compound != nil }

// RetrievedCase pairs a case with the provenance of the step that produced
// it, instead of tagging shared case values in place.
type RetrievedCase struct {
	Case        Case
	DetailLevel DetailLevel
	StepPurpose string
	Category    string
}

// Citation is one source record derived 1:1 from a retrieved case.
type Citation struct {
	ID         string `json:"id"`
	CaseNumber int    `json:"case_number"`
	Summary    string `json:"summary"`
	Brand      string `json:"brand"`
	Theme      string `json:"theme"`
	Channel    string `json:"channel"`
	Date       string `json:"date"`
	Outcome    string `json:"outcome"`
}

// ResponseResult is the synthesizer's output.
type ResponseResult struct {
	Response   string     `json:"response"`
	CasesFound int        `json:"cases_found"`
	QueryType  string     `json:"query_type"`
	Sources    []Citation `json:"sources"`
}

// QueryResponse is the top-level contract returned to the UI/CLI layer.
type QueryResponse struct {
	Response      string             `json:"response"`
	CasesFound    int                `json:"cases_found"`
	QueryType     string             `json:"query_type"`
	Sources       []Citation         `json:"sources"`
	Plan          *QueryPlan         `json:"query_plan,omitempty"`
	CompoundPlan  *CompoundQueryPlan `json:"compound_plan,omitempty"`
	CompoundSteps int                `json:"compound_steps,omitempty"`
}

// AggregationData carries grouped counts plus the store-wide total.
type AggregationData struct {
	TotalCases    int                       `json:"total_cases"`
	Distributions map[string]map[string]int `json:"distributions,omitempty"`
}

// UIFilters are explicit filters supplied by the calling layer. They always
// win over agent-inferred plan fields.
type UIFilters struct {
	DateStart string
	DateEnd   string
	Theme     string
	Brands    []string
}

// SearchFilters narrow a semantic search.
type SearchFilters struct {
	DateStart string
	DateEnd   string
	Theme     string
	Brands    []string
}

// SearchStore is the external retrieval capability the core queries but does
// not implement. A missing case is an empty result, never an error.
type SearchStore interface {
	// ByCaseNumber returns the case with the given number, or (nil, nil)
	// when no such case exists.
	ByCaseNumber(ctx context.Context, n int) (*Case, error)

	// Search runs a ranked semantic search constrained by filters.
	Search(ctx context.Context, query string, limit int, f SearchFilters) ([]Case, error)

	// CountGroupedBy returns the number of cases per distinct value of field.
	CountGroupedBy(ctx context.Context, field string) (map[string]int, error)

	// FilterAndCount applies equality filters, groups by a field, and
	// optionally keeps only the topN largest groups (0 keeps all).
	FilterAndCount(ctx context.Context, groupBy string, filters map[string]string, topN int) (map[string]int, error)

	// FilteredCases returns up to limit cases matching equality filters.
	FilteredCases(ctx context.Context, filters map[string]string, limit int) ([]Case, error)

	CaseCount(ctx context.Context) (int, error)
	AllThemes(ctx context.Context) ([]string, error)
	AllBrands(ctx context.Context) ([]string, error)
}

// Message is one turn of a completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionProvider is the opaque text-completion capability used for
// classification, compound planning, and synthesis.
type CompletionProvider interface {
	Complete(ctx context.Context, system string, turns []Message, maxTokens int) (string, error)
}

// Step result caps per step type, bounding LLM context size.
const (
	maxCompoundSteps   = 4
	broadStepCap       = 50
	filteredStepCap    = 10
	specificStepCap    = 3
	priorCasesPerStep  = 3
	sampleCasesPerBand = 2
)

// capForStepType returns the result-count ceiling for a step type.
func capForStepType(t StepType) int {
	switch t {
	case StepBroadSearch:
		return broadStepCap
	case StepSpecificCase:
		return specificStepCap
	case StepFilteredSearch:
		return filteredStepCap
	default:
		return broadStepCap
	}
}

// distributionKey names the payload entry for an aggregation type.
func distributionKey(t AggregationType) string {
	switch t {
	case AggCountByBrand:
		return "brand_distribution"
	case AggSentimentDistribution:
		return "sentiment_distribution"
	case AggCountByCaseType:
		return "case_type_distribution"
	case AggCountByCaseTopic:
		return "case_topic_distribution"
	default:
		return "theme_distribution"
	}
}

// groupField maps an aggregation type to the store field it groups by.
func groupField(t AggregationType) string {
	switch t {
	case AggCountByBrand:
		return "brand"
	case AggSentimentDistribution:
		return "sentiment"
	case AggCountByCaseType:
		return "case_type"
	case AggCountByCaseTopic:
		return "case_topic"
	default:
		return "theme"
	}
}
