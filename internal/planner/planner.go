// Package planner decomposes a goal into executable steps, either all at
// once or one step at a time from accumulated context, and picks the
// integration each step belongs to.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kramenhq/kramen/internal/helpers"
	"github.com/kramenhq/kramen/internal/oracle"
	"github.com/kramenhq/kramen/internal/telemetry"
)

// MaxSteps is the hard cap on dynamic planning iterations. The loop stops
// here no matter what the generator keeps returning.
const MaxSteps = 7

// StepDecision is the generator's answer for one dynamic iteration.
type StepDecision struct {
	NextStep   string `json:"next_step"`
	IsComplete bool   `json:"is_complete"`
	Reasoning  string `json:"reasoning"`
}

// Planner produces steps through the oracle.
type Planner struct {
	oracle    oracle.Oracle
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func New(o oracle.Oracle, tele *telemetry.Telemetry) *Planner {
	return &Planner{
		oracle:    o,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// Decompose splits the goal into an ordered list of atomic steps in one
// call. Each step targets exactly one platform and is independently
// executable; multi-resource goals are split into one step per resource.
func (p *Planner) Decompose(ctx context.Context, goal, guidance string, model oracle.ModelConfig) ([]string, error) {
	prompt := fmt.Sprintf(`Decompose the user's goal into an ordered list of atomic steps.

RULES:
1. Each step must target exactly ONE platform and be executable on its own.
2. Each step maps to a single API operation: never ask one step to act on
   multiple resources if the platform has no bulk operation. Split such
   goals into one step per resource.
3. Steps are executed in order; a step may rely on the results of earlier
   steps.
4. Keep every step a short imperative sentence naming the platform.
%s
GOAL:
%s

OUTPUT FORMAT: a single JSON object {"steps": ["...", "..."]}.`, guidanceBlock(guidance), goal)

	start := time.Now()
	resp, err := p.oracle.Complete(ctx, oracle.Request{Prompt: prompt, Model: model, Temperature: 0.2})
	p.telemetry.RecordOracleCall("decompose", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("decomposition call: %w", err)
	}

	raw, err := helpers.ExtractJSON(resp)
	if err != nil {
		return nil, fmt.Errorf("no JSON in decomposition output: %w", err)
	}
	var out struct {
		Steps []string `json:"steps"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse decomposition output: %w", err)
	}
	steps := make([]string, 0, len(out.Steps))
	for _, s := range out.Steps {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			steps = append(steps, trimmed)
		}
	}
	return steps, nil
}

// NextStep asks the generator for the next step given the goal and all prior
// results. A decision with IsComplete set or an empty NextStep terminates
// the loop; the caller also enforces MaxSteps.
func (p *Planner) NextStep(ctx context.Context, goal string, execCtx *ExecutionContext, guidance string, model oracle.ModelConfig) (StepDecision, error) {
	prompt := fmt.Sprintf(`You are planning one step at a time toward the user's goal.

RULES:
1. Propose exactly ONE next step, or declare the goal complete.
2. Each step must target exactly ONE platform and map to a single API
   operation. Split multi-resource work into separate steps.
3. Inspect the previous results below before deciding: if they already
   satisfy the goal, declare completion instead of adding steps.
4. A step may use values from previous results.
%s
GOAL:
%s

PREVIOUS RESULTS:
%s

OUTPUT FORMAT: a single JSON object {"next_step": "..." or null, "is_complete": true/false, "reasoning": "..."}.`, guidanceBlock(guidance), goal, execCtx.Serialize())

	start := time.Now()
	resp, err := p.oracle.Complete(ctx, oracle.Request{Prompt: prompt, Model: model, Temperature: 0.2})
	p.telemetry.RecordOracleCall("next_step", time.Since(start), err)
	if err != nil {
		return StepDecision{}, fmt.Errorf("step generation call: %w", err)
	}

	raw, err := helpers.ExtractJSON(resp)
	if err != nil {
		return StepDecision{}, fmt.Errorf("no JSON in step generation output: %w", err)
	}
	var decision StepDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return StepDecision{}, fmt.Errorf("parse step generation output: %w", err)
	}
	decision.NextStep = strings.TrimSpace(decision.NextStep)
	p.logger.Printf("iteration %d: complete=%t next=%q", execCtx.Len()+1, decision.IsComplete, decision.NextStep)
	return decision, nil
}

func guidanceBlock(guidance string) string {
	if guidance == "" {
		return ""
	}
	return fmt.Sprintf("\nWORKFLOW GUIDANCE:\n%s\n", guidance)
}
