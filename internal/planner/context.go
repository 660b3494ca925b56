package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kramenhq/kramen/internal/extractor"
)

// Record is one executed step's outcome.
type Record struct {
	Step      string      `json:"step"`
	Namespace string      `json:"integration_id"`
	Response  interface{} `json:"response"`
	Reasoning string      `json:"reasoning,omitempty"`
}

// ExecutionContext accumulates step outcomes within one planning session.
// It is append-only and owned by a single session; it is discarded when the
// session ends and never shared across sessions.
type ExecutionContext struct {
	records []Record
}

func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{}
}

func (c *ExecutionContext) Append(r Record) {
	c.records = append(c.records, r)
}

func (c *ExecutionContext) Len() int {
	return len(c.records)
}

// Records returns the step outcomes in execution order.
func (c *ExecutionContext) Records() []Record {
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Serialize renders the context for inclusion in a planning prompt.
func (c *ExecutionContext) Serialize() string {
	if len(c.records) == 0 {
		return "No steps executed yet."
	}
	var b strings.Builder
	for i, r := range c.records {
		encoded, err := json.Marshal(r.Response)
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", r.Response))
		}
		fmt.Fprintf(&b, "Step %d: %s\nResult: %s\n", i+1, r.Step, encoded)
	}
	return b.String()
}

// ContextSteps converts the records to the extractor's context form so a
// later step can draw values from earlier responses.
func (c *ExecutionContext) ContextSteps() []extractor.ContextStep {
	steps := make([]extractor.ContextStep, 0, len(c.records))
	for _, r := range c.records {
		steps = append(steps, extractor.ContextStep{Step: r.Step, Response: r.Response})
	}
	return steps
}
