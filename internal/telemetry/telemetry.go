// Package telemetry tracks pipeline counters for the stats endpoint and
// exports them to Prometheus.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueryEvent describes one completed pipeline run.
type QueryEvent struct {
	QueryType  string
	Duration   time.Duration
	CasesFound int
	Success    bool
}

// Stats is a point-in-time snapshot served by the stats endpoint.
type Stats struct {
	QueriesTotal   int64            `json:"queries_total"`
	QueriesFailed  int64            `json:"queries_failed"`
	CasesReturned  int64            `json:"cases_returned"`
	QueriesByType  map[string]int64 `json:"queries_by_type"`
	StepsTotal     int64            `json:"steps_total"`
	StepsFailed    int64            `json:"steps_failed"`
	AvgQueryMillis int64            `json:"avg_query_millis"`
	TokensIn       int64            `json:"tokens_in"`
	TokensOut      int64            `json:"tokens_out"`
	LLMCost        float64          `json:"llm_cost_dollars"`
}

// Telemetry is safe for concurrent use. All methods accept a nil receiver so
// callers never have to guard metric recording.
type Telemetry struct {
	mu            sync.Mutex
	queriesTotal  int64
	queriesFailed int64
	casesReturned int64
	queriesByType map[string]int64
	stepsTotal    int64
	stepsFailed   int64
	totalDuration time.Duration
	tokensIn      int64
	tokensOut     int64
	costTotal     float64

	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	steps         *prometheus.CounterVec
	completions   *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	cost          prometheus.Counter
}

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		queriesByType: make(map[string]int64),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casechat",
			Name:      "queries_total",
			Help:      "Processed chat queries by plan type and outcome.",
		}, []string{"query_type", "outcome"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "casechat",
			Name:      "query_duration_seconds",
			Help:      "End to end query latency by plan type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query_type"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casechat",
			Name:      "compound_steps_total",
			Help:      "Executed compound plan steps by type and outcome.",
		}, []string{"step_type", "outcome"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casechat",
			Name:      "llm_completions_total",
			Help:      "LLM completion calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casechat",
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed by direction.",
		}, []string{"direction"}),
		cost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "casechat",
			Name:      "llm_cost_dollars_total",
			Help:      "Estimated LLM spend in dollars.",
		}),
	}
	if reg != nil {
		reg.MustRegister(t.queries, t.queryDuration, t.steps, t.completions, t.tokens, t.cost)
	}
	return t
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordQuery records one completed pipeline run.
func (t *Telemetry) RecordQuery(e QueryEvent) {
	if t == nil {
		return
	}
	t.queries.WithLabelValues(e.QueryType, outcomeLabel(e.Success)).Inc()
	t.queryDuration.WithLabelValues(e.QueryType).Observe(e.Duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.queriesTotal++
	if !e.Success {
		t.queriesFailed++
	}
	t.casesReturned += int64(e.CasesFound)
	t.queriesByType[e.QueryType]++
	t.totalDuration += e.Duration
}

// RecordStep records one executed compound step.
func (t *Telemetry) RecordStep(stepType string, d time.Duration, ok bool) {
	if t == nil {
		return
	}
	t.steps.WithLabelValues(stepType, outcomeLabel(ok)).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stepsTotal++
	if !ok {
		t.stepsFailed++
	}
}

// RecordCompletion records one LLM call.
func (t *Telemetry) RecordCompletion(operation string, ok bool) {
	if t == nil {
		return
	}
	t.completions.WithLabelValues(operation, outcomeLabel(ok)).Inc()
}

// RecordUsage records token consumption and estimated cost for one LLM call.
func (t *Telemetry) RecordUsage(tokensIn, tokensOut int, cost float64) {
	if t == nil {
		return
	}
	t.tokens.WithLabelValues("input").Add(float64(tokensIn))
	t.tokens.WithLabelValues("output").Add(float64(tokensOut))
	t.cost.Add(cost)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokensIn += int64(tokensIn)
	t.tokensOut += int64(tokensOut)
	t.costTotal += cost
}

// Snapshot returns a copy of the counters.
func (t *Telemetry) Snapshot() Stats {
	if t == nil {
		return Stats{QueriesByType: map[string]int64{}}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	byType := make(map[string]int64, len(t.queriesByType))
	for k, v := range t.queriesByType {
		byType[k] = v
	}
	s := Stats{
		QueriesTotal:  t.queriesTotal,
		QueriesFailed: t.queriesFailed,
		CasesReturned: t.casesReturned,
		QueriesByType: byType,
		StepsTotal:    t.stepsTotal,
		StepsFailed:   t.stepsFailed,
		TokensIn:      t.tokensIn,
		TokensOut:     t.tokensOut,
		LLMCost:       t.costTotal,
	}
	if t.queriesTotal > 0 {
		s.AvgQueryMillis = t.totalDuration.Milliseconds() / t.queriesTotal
	}
	return s
}
