package chatbot

// Config carries the deterministic knobs of the pipeline. It is threaded
// into the constructors explicitly so tests can vary it per case.
type Config struct {
	// EnableCompound is the process-wide default for multi-step planning;
	// callers can override it per request.
	EnableCompound bool

	// AggregationSampleCap bounds the illustrative cases fetched alongside
	// an aggregation when the plan carries a semantic query.
	AggregationSampleCap int

	// Token ceilings for the two kinds of completion calls.
	PlanningMaxTokens  int
	SynthesisMaxTokens int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		EnableCompound:       true,
		AggregationSampleCap: 5,
		PlanningMaxTokens:    1000,
		SynthesisMaxTokens:   1500,
	}
}
