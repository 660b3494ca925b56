package orchestrator

// Event is one line of the deep-session stream. The stream is ordered: one
// metadata event, then a step_start/step_complete pair per executed step,
// then exactly one final_response, then one complete. Consumers must not
// assume event sizes are bounded.
type Event struct {
	Type string `json:"type"`

	// metadata / complete
	SessionID    string   `json:"session_id,omitempty"`
	Goal         string   `json:"goal,omitempty"`
	Integrations []string `json:"integrations,omitempty"`
	MaxSteps     int      `json:"max_steps,omitempty"`
	Duration     float64  `json:"duration,omitempty"`

	// step_start / step_complete
	StepNumber      int         `json:"step_number,omitempty"`
	Step            string      `json:"step,omitempty"`
	IntegrationID   string      `json:"integration_id,omitempty"`
	IntegrationName string      `json:"integration_name,omitempty"`
	Reasoning       string      `json:"reasoning,omitempty"`
	Response        interface{} `json:"response,omitempty"`
	APILatency      float64     `json:"api_latency,omitempty"`
	KramenLatency   float64     `json:"kramen_latency,omitempty"`

	ManualUsed bool `json:"manual_used,omitempty"`

	// step_complete (optional per-step prose) and final_response
	NaturalLanguageResponse string   `json:"natural_language_response,omitempty"`
	Truncated               bool     `json:"truncated,omitempty"`
	StepsExecuted           int      `json:"steps_executed,omitempty"`
	TotalSteps              int      `json:"total_steps,omitempty"`
	ExecutedSteps           []string `json:"executed_steps,omitempty"`

	Error string `json:"error,omitempty"`
}

const (
	EventMetadata      = "metadata"
	EventStepStart     = "step_start"
	EventStepComplete  = "step_complete"
	EventFinalResponse = "final_response"
	EventComplete      = "complete"
	EventError         = "error"
)

// EmitFunc receives each stream event in order. A non-nil return aborts the
// session.
type EmitFunc func(Event) error
