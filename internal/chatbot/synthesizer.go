package chatbot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"
)

// Truncation budgets for case text rendered into LLM context. Detailed views
// get the most room, aggregation samples the least.
const (
	summaryBudget     = 300
	filteredBudget    = 250
	citationBudget    = 200
	sampleBudget      = 150
	excerptBudget     = 400
	citationDateWidth = 10
)

// historyTurnsInPrompt bounds how much prior conversation is replayed into
// the synthesis call.
const historyTurnsInPrompt = 3

// Synthesizer turns retrieved cases into a grounded natural-language answer.
// It never invents data: every response is built from the rendered context,
// and falls back to a deterministic summary when no provider is available.
type Synthesizer struct {
	cfg      Config
	provider CompletionProvider
	logger   *log.Logger
}

func NewSynthesizer(cfg Config, provider CompletionProvider) *Synthesizer {
	return &Synthesizer{
		cfg:      cfg,
		provider: provider,
		logger:   log.New(log.Writer(), "[SYNTH] ", log.LstdFlags),
	}
}

// Synthesize produces the answer for a simple plan. Any history turns are
// replayed ahead of the question so follow-ups stay grounded.
func (s *Synthesizer) Synthesize(ctx context.Context, plan *QueryPlan, cases []RetrievedCase, query string, agg *AggregationData, history ...Message) ResponseResult {
	if len(cases) == 0 && agg == nil {
		return ResponseResult{
			Response:   "No matching data found for your query.",
			CasesFound: 0,
			QueryType:  string(plan.QueryType),
			Sources:    []Citation{},
		}
	}

	contextText := s.buildContext(plan, cases, agg)
	sources := buildCitations(cases)
	result := ResponseResult{
		CasesFound: len(cases),
		QueryType:  string(plan.QueryType),
		Sources:    sources,
	}

	if s.provider == nil {
		result.Response = s.fallbackResponse(plan, cases, agg)
		return result
	}

	answer, err := s.complete(ctx, synthesisPromptFor(plan.QueryType), query, contextText, history)
	if err != nil {
		s.logger.Printf("warning: synthesis call failed: %v", err)
		result.Response = fmt.Sprintf("I found %d relevant cases but had trouble generating a detailed response. Error: %v", len(cases), err)
		return result
	}
	result.Response = answer
	return result
}

// SynthesizeCompound produces the answer for a compound plan. gaps describe
// steps that could not be executed; they are surfaced to the model so the
// answer acknowledges missing pieces instead of papering over them.
func (s *Synthesizer) SynthesizeCompound(ctx context.Context, plan *CompoundQueryPlan, cases []RetrievedCase, aggregations map[string]*AggregationData, query string, gaps []string, history ...Message) ResponseResult {
	if len(cases) == 0 && len(aggregations) == 0 {
		return ResponseResult{
			Response:   "No matching data found for your query.",
			CasesFound: 0,
			QueryType:  string(QueryTypeCompound),
			Sources:    []Citation{},
		}
	}

	contextText := s.buildCompoundContext(plan, cases, aggregations, gaps)
	sources := buildCitations(cases)
	result := ResponseResult{
		CasesFound: len(cases),
		QueryType:  string(QueryTypeCompound),
		Sources:    sources,
	}

	if s.provider == nil {
		result.Response = s.fallbackCompoundResponse(cases, aggregations)
		return result
	}

	answer, err := s.complete(ctx, compoundPromptFor(plan.SynthesisStrategy), query, contextText, history)
	if err != nil {
		s.logger.Printf("warning: compound synthesis call failed: %v", err)
		result.Response = fmt.Sprintf("I gathered data across %d steps but had trouble generating a detailed response. Error: %v", len(plan.Steps), err)
		return result
	}
	result.Response = answer
	return result
}

func (s *Synthesizer) complete(ctx context.Context, system, query, contextText string, history []Message) (string, error) {
	if len(history) > historyTurnsInPrompt {
		history = history[len(history)-historyTurnsInPrompt:]
	}
	turns := make([]Message, 0, len(history)+1)
	turns = append(turns, history...)
	user := fmt.Sprintf("User question: %s\n\nRetrieved data:\n%s", query, contextText)
	turns = append(turns, Message{Role: "user", Content: user})
	answer, err := s.provider.Complete(ctx, system, turns, s.cfg.SynthesisMaxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// buildContext renders cases and aggregation data into the text block the
// model answers from.
func (s *Synthesizer) buildContext(plan *QueryPlan, cases []RetrievedCase, agg *AggregationData) string {
	var b strings.Builder
	if agg != nil {
		writeAggregation(&b, agg)
		if len(cases) > 0 {
			b.WriteString("\nSample cases:\n")
			for i, rc := range cases {
				fmt.Fprintf(&b, "%d. Case #%d [%s/%s]: %s\n", i+1, rc.Case.CaseNumber, rc.Case.Brand, rc.Case.Theme, truncate(rc.Case.Summary, sampleBudget))
			}
		}
		return b.String()
	}

	for i, rc := range cases {
		switch rc.DetailLevel {
		case DetailFullConversation:
			writeDetailedCase(&b, rc.Case)
		default:
			budget := summaryBudget
			if plan.QueryType == QueryTypeFilteredSearch {
				budget = filteredBudget
			}
			fmt.Fprintf(&b, "%d. Case #%d (%s, %s, %s): %s\n", i+1, rc.Case.CaseNumber, rc.Case.Brand, rc.Case.Theme, shortDate(rc.Case.CreatedAt), truncate(rc.Case.Summary, budget))
			if rc.Case.FullConversation != "" && rc.DetailLevel == DetailSummary {
				fmt.Fprintf(&b, "   Excerpt: %s\n", truncate(rc.Case.FullConversation, excerptBudget))
			}
		}
	}
	return b.String()
}

// buildCompoundContext renders the multi-step results grouped by detail
// level, each case tagged with the purpose of the step that found it.
func (s *Synthesizer) buildCompoundContext(plan *CompoundQueryPlan, cases []RetrievedCase, aggregations map[string]*AggregationData, gaps []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Multi-step analysis for: %s\n", plan.OriginalQuery)
	fmt.Fprintf(&b, "Strategy: %s, %d steps\n\n", plan.SynthesisStrategy, len(plan.Steps))

	// Aggregations come first so numbers frame the narrative.
	for _, step := range plan.Steps {
		agg, ok := aggregations[step.Purpose]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "== %s ==\n", step.Purpose)
		writeAggregation(&b, agg)
		b.WriteString("\n")
	}

	var detailed, summarized []RetrievedCase
	for _, rc := range cases {
		if rc.DetailLevel == DetailFullConversation {
			detailed = append(detailed, rc)
		} else {
			summarized = append(summarized, rc)
		}
	}

	if len(detailed) > 0 {
		b.WriteString("Detailed cases:\n")
		for _, rc := range detailed {
			if rc.StepPurpose != "" {
				fmt.Fprintf(&b, "[from: %s]\n", rc.StepPurpose)
			}
			writeDetailedCase(&b, rc.Case)
		}
		b.WriteString("\n")
	}
	if len(summarized) > 0 {
		b.WriteString("Supporting cases:\n")
		for i, rc := range summarized {
			label := rc.StepPurpose
			if rc.Category != "" {
				label = rc.Category
			}
			fmt.Fprintf(&b, "%d. Case #%d (%s, %s, %s) [%s]: %s\n", i+1, rc.Case.CaseNumber, rc.Case.Brand, rc.Case.Theme, shortDate(rc.Case.CreatedAt), label, truncate(rc.Case.Summary, summaryBudget))
		}
	}

	if len(gaps) > 0 {
		b.WriteString("\nGaps in the gathered data:\n")
		for _, g := range gaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	return b.String()
}

// fallbackDistributionRows caps how many rows of each distribution the
// deterministic fallback prints.
const fallbackDistributionRows = 5

// fallbackResponse is the deterministic answer used when no provider is
// configured. Specific-case lookups get a key-field block, aggregations get
// the total plus the top rows of each distribution, everything else gets a
// pointer at the sources.
func (s *Synthesizer) fallbackResponse(plan *QueryPlan, cases []RetrievedCase, agg *AggregationData) string {
	if plan.QueryType == QueryTypeSpecificCase && len(cases) > 0 {
		c := cases[0].Case
		var b strings.Builder
		fmt.Fprintf(&b, "Case #%d:\n", c.CaseNumber)
		fmt.Fprintf(&b, "- Theme: %s\n", valueOrUnknown(c.Theme))
		fmt.Fprintf(&b, "- Brand: %s\n", valueOrUnknown(c.Brand))
		fmt.Fprintf(&b, "- Outcome: %s\n", valueOrUnknown(c.Outcome))
		fmt.Fprintf(&b, "- Summary: %s", valueOrUnknown(c.Summary))
		return b.String()
	}

	if agg != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d total cases.\n", agg.TotalCases)
		for name, counts := range agg.Distributions {
			fmt.Fprintf(&b, "\nTop %s:\n", strings.ReplaceAll(name, "_", " "))
			rows := sortedByCount(counts)
			if len(rows) > fallbackDistributionRows {
				rows = rows[:fallbackDistributionRows]
			}
			for _, e := range rows {
				fmt.Fprintf(&b, "  - %s: %d\n", e.Key, e.Count)
			}
		}
		return strings.TrimSpace(b.String())
	}

	return fmt.Sprintf("Found %d cases matching your query. Please review the sources for details.", len(cases))
}

func valueOrUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func (s *Synthesizer) fallbackCompoundResponse(cases []RetrievedCase, aggregations map[string]*AggregationData) string {
	var b strings.Builder
	for purpose, agg := range aggregations {
		fmt.Fprintf(&b, "%s:\n", purpose)
		writeAggregation(&b, agg)
		b.WriteString("\n")
	}
	if len(cases) > 0 {
		fmt.Fprintf(&b, "Found %d matching cases:\n", len(cases))
		for i, rc := range cases {
			fmt.Fprintf(&b, "%d. Case #%d (%s, %s): %s\n", i+1, rc.Case.CaseNumber, rc.Case.Brand, rc.Case.Theme, truncate(rc.Case.Summary, citationBudget))
		}
	}
	return strings.TrimSpace(b.String())
}

// writeDetailedCase renders a full case record including the conversation.
func writeDetailedCase(b *strings.Builder, c Case) {
	fmt.Fprintf(b, "Case #%d\n", c.CaseNumber)
	fmt.Fprintf(b, "  Date: %s  Channel: %s  Brand: %s  Theme: %s\n", shortDate(c.CreatedAt), c.Channel, c.Brand, c.Theme)
	fmt.Fprintf(b, "  Sentiment: %s  Outcome: %s\n", c.Sentiment, c.Outcome)
	if c.Subject != "" {
		fmt.Fprintf(b, "  Subject: %s\n", c.Subject)
	}
	fmt.Fprintf(b, "  Summary: %s\n", c.Summary)
	if c.FullConversation != "" {
		fmt.Fprintf(b, "  Conversation:\n%s\n", c.FullConversation)
	}
}

// writeAggregation renders the total plus each distribution sorted by count
// descending, with percentages of the total.
func writeAggregation(b *strings.Builder, agg *AggregationData) {
	fmt.Fprintf(b, "Total cases: %d\n", agg.TotalCases)
	for name, counts := range agg.Distributions {
		fmt.Fprintf(b, "%s:\n", name)
		for _, e := range sortedByCount(counts) {
			pct := 0.0
			if agg.TotalCases > 0 {
				pct = float64(e.Count) / float64(agg.TotalCases) * 100
			}
			fmt.Fprintf(b, "  %s: %d (%.1f%%)\n", e.Key, e.Count, pct)
		}
	}
}

// buildCitations derives one citation per distinct case, in retrieval order.
func buildCitations(cases []RetrievedCase) []Citation {
	out := make([]Citation, 0, len(cases))
	seen := make(map[int]bool, len(cases))
	for _, rc := range cases {
		c := rc.Case
		if c.CaseNumber != 0 {
			if seen[c.CaseNumber] {
				continue
			}
			seen[c.CaseNumber] = true
		}
		id := c.ID
		if c.CaseNumber != 0 {
			id = fmt.Sprintf("#%d", c.CaseNumber)
		}
		out = append(out, Citation{
			ID:         id,
			CaseNumber: c.CaseNumber,
			Summary:    truncate(c.Summary, citationBudget),
			Brand:      c.Brand,
			Theme:      c.Theme,
			Channel:    c.Channel,
			Date:       shortDate(c.CreatedAt),
			Outcome:    c.Outcome,
		})
	}
	return out
}

// truncate cuts s to at most n bytes, backing off to the nearest rune
// boundary so multibyte text is never split mid-sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func shortDate(iso string) string {
	if len(iso) > citationDateWidth {
		return iso[:citationDateWidth]
	}
	return iso
}
