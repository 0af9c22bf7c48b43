package chatbot

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/caseflowhq/casechat/internal/telemetry"
)

// Orchestrator drives one request end to end: classify the query, merge
// explicit UI filters over agent-inferred ones, execute the plan against the
// store, and hand the accumulated cases to the synthesizer. It holds no
// cross-request state beyond the store connection.
type Orchestrator struct {
	cfg        Config
	store      SearchStore
	classifier *Classifier
	synth      *Synthesizer
	telemetry  *telemetry.Telemetry
	logger     *log.Logger
	now        func() time.Time
}

// NewOrchestrator wires the pipeline. provider and tele may be nil.
func NewOrchestrator(cfg Config, store SearchStore, provider CompletionProvider, tele *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		classifier: NewClassifier(cfg, provider),
		synth:      NewSynthesizer(cfg, provider),
		telemetry:  tele,
		logger:     log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
		now:        time.Now,
	}
}

// stepResult is the output of one executed search step.
type stepResult struct {
	Step        SearchStep
	Cases       []RetrievedCase
	Aggregation *AggregationData
}

// ProcessQuery processes a user query through the full pipeline.
// enableCompound overrides the configured default when non-nil; history, if
// given, carries recent conversation turns into the synthesis prompt.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string, filters UIFilters, enableCompound *bool, history ...Message) (QueryResponse, error) {
	start := o.now()
	compound := o.cfg.EnableCompound
	if enableCompound != nil {
		compound = *enableCompound
	}

	// Vocabulary failures degrade classification, they do not abort the run.
	themes, err := o.store.AllThemes(ctx)
	if err != nil {
		o.logger.Printf("warning: loading themes failed: %v", err)
	}
	brands, err := o.store.AllBrands(ctx)
	if err != nil {
		o.logger.Printf("warning: loading brands failed: %v", err)
	}

	plan := o.classifier.Classify(ctx, query, themes, brands, start, compound)

	var (
		resp    QueryResponse
		runErr  error
		planTag string
	)
	if plan.IsCompound() {
		planTag = string(QueryTypeCompound)
		resp, runErr = o.processCompound(ctx, plan.Compound, query, filters, history)
	} else {
		planTag = string(plan.Simple.QueryType)
		resp, runErr = o.processSimple(ctx, plan.Simple, query, filters, history)
	}

	o.telemetry.RecordQuery(telemetry.QueryEvent{
		QueryType:  planTag,
		Duration:   o.now().Sub(start),
		CasesFound: resp.CasesFound,
		Success:    runErr == nil,
	})
	if runErr != nil {
		return QueryResponse{}, runErr
	}
	o.logger.Printf("processed %s query in %v (%d cases)", planTag, o.now().Sub(start), resp.CasesFound)
	return resp, nil
}

func (o *Orchestrator) processSimple(ctx context.Context, plan *QueryPlan, query string, filters UIFilters, history []Message) (QueryResponse, error) {
	applyUIFiltersToPlan(plan, filters)

	var (
		cases []RetrievedCase
		agg   *AggregationData
	)
	switch plan.QueryType {
	case QueryTypeSpecificCase:
		cs, err := o.store.ByCaseNumber(ctx, plan.CaseNumber)
		if err != nil {
			return QueryResponse{}, fmt.Errorf("case lookup failed: %w", err)
		}
		if cs != nil {
			cases = []RetrievedCase{{Case: *cs, DetailLevel: plan.DetailLevel}}
		}

	case QueryTypeAggregation:
		var err error
		agg, err = o.computeAggregation(ctx, plan.AggregationType)
		if err != nil {
			return QueryResponse{}, fmt.Errorf("aggregation failed: %w", err)
		}
		if plan.SemanticQuery != "" {
			// Illustrative sample only; aggregation answers come from agg.
			sample, err := o.store.Search(ctx, plan.SemanticQuery, o.cfg.AggregationSampleCap, planFilters(plan))
			if err != nil {
				return QueryResponse{}, fmt.Errorf("aggregation sample search failed: %w", err)
			}
			cases = wrapCases(sample, plan.DetailLevel, "")
		}

	default:
		q := plan.SemanticQuery
		if q == "" {
			q = query
		}
		found, err := o.store.Search(ctx, q, plan.ResultCount, planFilters(plan))
		if err != nil {
			return QueryResponse{}, fmt.Errorf("search failed: %w", err)
		}
		cases = wrapCases(found, plan.DetailLevel, "")
	}

	result := o.synth.Synthesize(ctx, plan, cases, query, agg, history...)
	return QueryResponse{
		Response:   result.Response,
		CasesFound: result.CasesFound,
		QueryType:  result.QueryType,
		Sources:    result.Sources,
		Plan:       plan,
	}, nil
}

// processCompound executes the steps strictly in order, passing accumulated
// results forward. A failing step is logged and skipped; the gap is noted in
// the synthesis context rather than aborting the run.
func (o *Orchestrator) processCompound(ctx context.Context, plan *CompoundQueryPlan, query string, filters UIFilters, history []Message) (QueryResponse, error) {
	var (
		prior     []stepResult
		collected []RetrievedCase
		gaps      []string
	)
	aggregations := make(map[string]*AggregationData)

	for i := range plan.Steps {
		step := plan.Steps[i]
		applyUIFiltersToStep(&step, filters)
		plan.Steps[i] = step

		stepStart := o.now()
		res, err := o.executeStep(ctx, step, query, prior)
		o.telemetry.RecordStep(string(step.StepType), o.now().Sub(stepStart), err == nil)
		if err != nil {
			o.logger.Printf("step %d (%s) failed, skipping: %v", i+1, step.Purpose, err)
			gaps = append(gaps, fmt.Sprintf("step %q could not be executed (%v)", step.Purpose, err))
			prior = append(prior, stepResult{Step: step})
			continue
		}
		prior = append(prior, res)
		collected = append(collected, res.Cases...)
		if res.Aggregation != nil {
			aggregations[step.Purpose] = res.Aggregation
		}
	}

	deduped := dedupeByCaseNumber(collected)
	result := o.synth.SynthesizeCompound(ctx, plan, deduped, aggregations, query, gaps, history...)
	return QueryResponse{
		Response:      result.Response,
		CasesFound:    result.CasesFound,
		QueryType:     string(QueryTypeCompound),
		Sources:       result.Sources,
		CompoundPlan:  plan,
		CompoundSteps: len(plan.Steps),
	}, nil
}

// executeStep dispatches one search step against the store.
func (o *Orchestrator) executeStep(ctx context.Context, step SearchStep, originalQuery string, prior []stepResult) (stepResult, error) {
	out := stepResult{Step: step}

	switch step.StepType {
	case StepBroadSearch, StepFilteredSearch:
		q := step.SemanticQuery
		if q == "" {
			q = originalQuery
		}
		found, err := o.store.Search(ctx, q, step.ResultCount, stepFilters(step))
		if err != nil {
			return out, err
		}
		out.Cases = wrapCases(found, step.DetailLevel, step.Purpose)

	case StepSpecificCase:
		var numbers []int
		for _, n := range step.CaseNumbers {
			if n > 0 {
				numbers = append(numbers, n)
			}
		}
		if len(numbers) == 0 && step.UsePriorResults {
			numbers = priorCaseNumbers(prior)
		}
		if len(numbers) > specificStepCap {
			numbers = numbers[:specificStepCap]
		}
		for _, n := range numbers {
			cs, err := o.store.ByCaseNumber(ctx, n)
			if err != nil {
				return out, err
			}
			if cs != nil {
				out.Cases = append(out.Cases, RetrievedCase{Case: *cs, DetailLevel: step.DetailLevel, StepPurpose: step.Purpose})
			}
		}

	case StepAggregation:
		agg, err := o.computeAggregation(ctx, step.AggregationType)
		if err != nil {
			return out, err
		}
		out.Aggregation = agg

	case StepDatabaseQuery:
		groupBy := step.GroupBy
		if groupBy == "" {
			groupBy = "theme"
		}
		counts, err := o.store.FilterAndCount(ctx, groupBy, step.Filters, step.TopN)
		if err != nil {
			return out, err
		}
		total := 0
		for _, v := range counts {
			total += v
		}
		out.Aggregation = &AggregationData{
			TotalCases:    total,
			Distributions: map[string]map[string]int{groupBy + "_distribution": counts},
		}
		// Small top-N queries also fetch a couple of concrete cases per
		// group so the synthesizer can cite examples.
		if step.TopN > 0 && step.TopN <= 5 {
			for _, group := range sortedByCount(counts) {
				filters := make(map[string]string, len(step.Filters)+1)
				for k, v := range step.Filters {
					filters[k] = v
				}
				filters[groupBy] = group.Key
				samples, err := o.store.FilteredCases(ctx, filters, sampleCasesPerBand)
				if err != nil {
					return out, err
				}
				for _, cs := range samples {
					out.Cases = append(out.Cases, RetrievedCase{
						Case:        cs,
						DetailLevel: step.DetailLevel,
						StepPurpose: step.Purpose,
						Category:    group.Key,
					})
				}
			}
		}

	default:
		return out, fmt.Errorf("unknown step type: %s", step.StepType)
	}
	return out, nil
}

// computeAggregation resolves an aggregation type to a grouped count plus
// the store-wide total. An unknown type defaults to the theme distribution.
func (o *Orchestrator) computeAggregation(ctx context.Context, t AggregationType) (*AggregationData, error) {
	total, err := o.store.CaseCount(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := o.store.CountGroupedBy(ctx, groupField(t))
	if err != nil {
		return nil, err
	}
	return &AggregationData{
		TotalCases:    total,
		Distributions: map[string]map[string]int{distributionKey(t): counts},
	}, nil
}

// AvailableFilters returns the theme/brand vocabularies for the UI layer.
func (o *Orchestrator) AvailableFilters(ctx context.Context) (themes, brands []string, err error) {
	themes, err = o.store.AllThemes(ctx)
	if err != nil {
		return nil, nil, err
	}
	brands, err = o.store.AllBrands(ctx)
	if err != nil {
		return nil, nil, err
	}
	return themes, brands, nil
}

// applyUIFiltersToPlan overwrites agent-inferred filters with explicit UI
// ones. Last write wins; this is not a union.
func applyUIFiltersToPlan(plan *QueryPlan, f UIFilters) {
	if f.Theme != "" {
		plan.Themes = []string{f.Theme}
	}
	if len(f.Brands) > 0 {
		plan.Brands = f.Brands
	}
	if f.DateStart != "" {
		plan.DateStart = f.DateStart
	}
	if f.DateEnd != "" {
		plan.DateEnd = f.DateEnd
	}
}

func applyUIFiltersToStep(step *SearchStep, f UIFilters) {
	if f.Theme != "" {
		step.Themes = []string{f.Theme}
	}
	if len(f.Brands) > 0 {
		step.Brands = f.Brands
	}
	if f.DateStart != "" {
		step.DateStart = f.DateStart
	}
	if f.DateEnd != "" {
		step.DateEnd = f.DateEnd
	}
}

// planFilters builds search filters from a plan. Only the first theme is
// honored by the store contract; multi-theme filtering is a known gap that
// callers should not rely on.
func planFilters(plan *QueryPlan) SearchFilters {
	f := SearchFilters{
		DateStart: plan.DateStart,
		DateEnd:   plan.DateEnd,
		Brands:    plan.Brands,
	}
	if len(plan.Themes) > 0 {
		f.Theme = plan.Themes[0]
	}
	return f
}

func stepFilters(step SearchStep) SearchFilters {
	f := SearchFilters{
		DateStart: step.DateStart,
		DateEnd:   step.DateEnd,
		Brands:    step.Brands,
	}
	if len(step.Themes) > 0 {
		f.Theme = step.Themes[0]
	}
	return f
}

// priorCaseNumbers collects up to three case numbers from each earlier
// step's results, preserving order and dropping duplicates.
func priorCaseNumbers(prior []stepResult) []int {
	var numbers []int
	seen := make(map[int]bool)
	for _, res := range prior {
		taken := 0
		for _, rc := range res.Cases {
			if taken >= priorCasesPerStep {
				break
			}
			n := rc.Case.CaseNumber
			if n == 0 || seen[n] {
				continue
			}
			seen[n] = true
			numbers = append(numbers, n)
			taken++
		}
	}
	return numbers
}

// dedupeByCaseNumber keeps the first occurrence of each case number. Cases
// without a number cannot be matched, so they are always kept.
func dedupeByCaseNumber(cases []RetrievedCase) []RetrievedCase {
	seen := make(map[int]bool, len(cases))
	out := cases[:0:0]
	for _, rc := range cases {
		n := rc.Case.CaseNumber
		if n != 0 {
			if seen[n] {
				continue
			}
			seen[n] = true
		}
		out = append(out, rc)
	}
	return out
}

func wrapCases(cases []Case, level DetailLevel, purpose string) []RetrievedCase {
	out := make([]RetrievedCase, 0, len(cases))
	for _, cs := range cases {
		out = append(out, RetrievedCase{Case: cs, DetailLevel: level, StepPurpose: purpose})
	}
	return out
}

// countEntry is one row of a distribution sorted for presentation.
type countEntry struct {
	Key   string
	Count int
}

// sortedByCount orders a distribution descending by count, ties broken by
// key for stable output.
func sortedByCount(counts map[string]int) []countEntry {
	entries := make([]countEntry, 0, len(counts))
	for k, v := range counts {
		entries = append(entries, countEntry{Key: k, Count: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count == entries[j].Count {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].Count > entries[j].Count
	})
	return entries
}
