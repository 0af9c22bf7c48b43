package chatbot

import (
	"context"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Classifier turns a free-text question plus filter context into an
// executable plan. Fast deterministic pattern rules run first; the
// completion provider is consulted only for compound decomposition and for
// queries the rules cannot resolve. Classification never returns an error:
// the worst case is the default broad-search plan.
type Classifier struct {
	cfg      Config
	provider CompletionProvider
	logger   *log.Logger
}

// NewClassifier creates a classifier. provider may be nil, which disables
// the LLM-assisted paths.
func NewClassifier(cfg Config, provider CompletionProvider) *Classifier {
	return &Classifier{
		cfg:      cfg,
		provider: provider,
		logger:   log.New(log.Writer(), "[CLASSIFIER] ", log.LstdFlags),
	}
}

// Ordered: the first matching pattern wins.
var caseNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)case\s*#\s*(\d+)`),
	regexp.MustCompile(`#(\d+)`),
	regexp.MustCompile(`(?i)case\s+number\s+(\d+)`),
	regexp.MustCompile(`(?i)case\s+(\d{4,})`),
}

var aggregationKeywords = []string{
	"how many", "count", "total", "distribution", "breakdown",
	"most common", "popular", "frequent", "statistics", "stats",
	"trend", "trends", "percentage", "percent",
}

// Linguistic triggers that suggest a question needs a multi-step strategy.
var compoundTriggers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(show|give|list)\b.*\bexamples?\b`),
	regexp.MustCompile(`(?i)\bcompare\b.*\b(and|vs\.?|versus|with)\b`),
	regexp.MustCompile(`(?i)\bdeep\s+dive\b`),
	regexp.MustCompile(`(?i)\btrends?\b.*\bexamples?\b`),
	regexp.MustCompile(`(?i)\bboth\b.*\boverview\b.*\bdetail`),
	regexp.MustCompile(`(?i)\bbreak\s*down\b.*\bexamples?\b`),
}

// Classify analyzes a user query and produces a search plan.
func (c *Classifier) Classify(ctx context.Context, query string, themes, brands []string, today time.Time, enableCompound bool) Plan {
	// Compound-need detection runs first so that multi-part questions are
	// not swallowed by the single-plan fast paths.
	if enableCompound && c.provider != nil && compoundTriggered(query) {
		if plan := c.planCompound(ctx, query, themes, brands, today); plan != nil {
			return Plan{Compound: plan}
		}
	}

	// Fast path: explicit case number.
	if n, ok := extractCaseNumber(query); ok {
		return Plan{Simple: &QueryPlan{
			QueryType:   QueryTypeSpecificCase,
			CaseNumber:  n,
			ResultCount: 1,
			DetailLevel: DetailFullConversation,
		}}
	}

	// Fast path: aggregation keywords.
	if isAggregationQuery(query) {
		return Plan{Simple: c.aggregationPlan(query, today)}
	}

	dateStart, dateEnd := resolveDateRange(query, today)
	detectedThemes := detectMentions(query, themes)
	detectedBrands := detectMentions(query, brands)

	if c.provider != nil {
		if plan := c.classifyWithProvider(ctx, query, themes, brands, today); plan != nil {
			return Plan{Simple: plan}
		}
	}

	// Rule-based fallback.
	if len(detectedThemes) > 0 || len(detectedBrands) > 0 || dateStart != "" {
		return Plan{Simple: &QueryPlan{
			QueryType:     QueryTypeFilteredSearch,
			SemanticQuery: query,
			ResultCount:   10,
			DetailLevel:   DetailFullConversation,
			DateStart:     dateStart,
			DateEnd:       dateEnd,
			Themes:        detectedThemes,
			Brands:        detectedBrands,
		}}
	}
	return Plan{Simple: &QueryPlan{
		QueryType:     QueryTypeBroadSearch,
		SemanticQuery: query,
		ResultCount:   100,
		DetailLevel:   DetailSummary,
		DateStart:     dateStart,
		DateEnd:       dateEnd,
	}}
}

func (c *Classifier) aggregationPlan(query string, today time.Time) *QueryPlan {
	q := strings.ToLower(query)
	aggType := AggCountByTheme
	switch {
	case strings.Contains(q, "brand"):
		aggType = AggCountByBrand
	case strings.Contains(q, "sentiment"):
		aggType = AggSentimentDistribution
	}
	dateStart, dateEnd := resolveDateRange(query, today)
	return &QueryPlan{
		QueryType:       QueryTypeAggregation,
		SemanticQuery:   query,
		ResultCount:     50,
		DetailLevel:     DetailMetadataOnly,
		DateStart:       dateStart,
		DateEnd:         dateEnd,
		AggregationType: aggType,
	}
}

// planCompound asks the provider for a multi-step decomposition. Any
// provider or parse failure degrades to nil so the caller falls through to
// single-plan classification.
func (c *Classifier) planCompound(ctx context.Context, query string, themes, brands []string, today time.Time) *CompoundQueryPlan {
	user := classifierUserContext(query, themes, brands, today)
	response, err := c.provider.Complete(ctx, compoundPlannerPrompt, []Message{{Role: "user", Content: user}}, c.cfg.PlanningMaxTokens)
	if err != nil {
		c.logger.Printf("warning: compound planning failed: %v", err)
		return nil
	}
	plan := parseCompoundPlan(response, query, today)
	if plan == nil {
		c.logger.Printf("compound planning declined or unparseable, using single plan")
	}
	return plan
}

func (c *Classifier) classifyWithProvider(ctx context.Context, query string, themes, brands []string, today time.Time) *QueryPlan {
	user := classifierUserContext(query, themes, brands, today)
	response, err := c.provider.Complete(ctx, classifierSystemPrompt, []Message{{Role: "user", Content: user}}, c.cfg.PlanningMaxTokens)
	if err != nil {
		c.logger.Printf("warning: LLM query analysis failed: %v", err)
		return nil
	}
	plan := parseQueryPlan(response, query, today)
	if plan == nil {
		c.logger.Printf("warning: failed to parse LLM classification response")
	}
	return plan
}

func extractCaseNumber(query string) (int, bool) {
	for _, pattern := range caseNumberPatterns {
		m := pattern.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		return n, true
	}
	return 0, false
}

func isAggregationQuery(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range aggregationKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

func compoundTriggered(query string) bool {
	for _, pattern := range compoundTriggers {
		if pattern.MatchString(query) {
			return true
		}
	}
	return false
}

// detectMentions collects every vocabulary entry mentioned in the query,
// case-insensitively and tolerating underscore-vs-space spellings.
func detectMentions(query string, vocabulary []string) []string {
	q := strings.ToLower(query)
	var detected []string
	for _, entry := range vocabulary {
		lower := strings.ToLower(entry)
		spaced := strings.ReplaceAll(lower, "_", " ")
		if strings.Contains(q, lower) || strings.Contains(q, spaced) {
			detected = append(detected, entry)
		}
	}
	return detected
}
