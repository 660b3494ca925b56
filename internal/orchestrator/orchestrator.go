// Package orchestrator runs sessions end to end: single-shot actions, static
// step generation, and the streamed dynamic planning loop.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kramenhq/kramen/internal/executor"
	"github.com/kramenhq/kramen/internal/extractor"
	"github.com/kramenhq/kramen/internal/helpers"
	"github.com/kramenhq/kramen/internal/manuals"
	"github.com/kramenhq/kramen/internal/oracle"
	"github.com/kramenhq/kramen/internal/planner"
	"github.com/kramenhq/kramen/internal/registry"
	"github.com/kramenhq/kramen/internal/resolver"
	"github.com/kramenhq/kramen/internal/telemetry"
)

// Orchestrator wires the pipeline: planner → selector → resolver → executor,
// with context accumulation between steps.
type Orchestrator struct {
	registry  registry.Registry
	resolver  *resolver.Resolver
	executor  *executor.Executor
	planner   *planner.Planner
	selector  *planner.Selector
	manuals   *manuals.Loader
	oracle    oracle.Oracle
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func New(reg registry.Registry, res *resolver.Resolver, exec *executor.Executor, pl *planner.Planner, sel *planner.Selector, man *manuals.Loader, o oracle.Oracle, tele *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		registry:  reg,
		resolver:  res,
		executor:  exec,
		planner:   pl,
		selector:  sel,
		manuals:   man,
		oracle:    o,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags),
	}
}

// IdentifyRequest resolves a query to an operation without executing it.
// APIBase overrides the integration's stored base address when set.
type IdentifyRequest struct {
	IntegrationID        string
	APIBase              string
	Query                string
	Rephrase             bool
	RephraseInstructions string
	Model                oracle.ModelConfig
}

// ResolveEndpoint runs retrieval + filtering for one integration. A nil
// operation means retrieval produced no candidates.
func (o *Orchestrator) ResolveEndpoint(ctx context.Context, req IdentifyRequest) (*resolver.Operation, string, error) {
	integ, err := o.registry.Get(ctx, req.IntegrationID)
	if err != nil {
		return nil, "", err
	}
	apiBase := integ.APIBase
	if req.APIBase != "" {
		apiBase = req.APIBase
	}
	return o.resolver.Resolve(ctx, resolver.Request{
		Namespace:            integ.ID,
		APIBase:              apiBase,
		Query:                req.Query,
		Rephrase:             req.Rephrase,
		RephraseInstructions: req.RephraseInstructions,
		Model:                req.Model,
	})
}

// ActionRequest is a single-step session: resolve one operation and run it.
// AdditionalContext is caller-supplied background the extraction may draw
// values from.
type ActionRequest struct {
	IntegrationID           string
	APIBase                 string
	Query                   string
	Headers                 map[string]interface{}
	Model                   oracle.ModelConfig
	Rephrase                bool
	RephraseInstructions    string
	AdditionalContext       string
	NaturalLanguageResponse bool
}

// ActionResult reports the resolved operation and its execution. Found is
// false when retrieval produced no candidates; nothing was executed then.
type ActionResult struct {
	Found          bool                `json:"found"`
	Endpoint       *resolver.Operation `json:"endpoint,omitempty"`
	RephrasedQuery string              `json:"rephrased_query,omitempty"`
	Result         *executor.Result    `json:"result,omitempty"`
}

// RunAction executes the no-planning variant: resolver → extractor →
// executor, one operation, synchronous result.
func (o *Orchestrator) RunAction(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	start := time.Now()
	integ, err := o.registry.Get(ctx, req.IntegrationID)
	if err != nil {
		return nil, err
	}
	manual, err := o.manuals.Load(integ.ID)
	if err != nil {
		return nil, err
	}
	apiBase := integ.APIBase
	if req.APIBase != "" {
		apiBase = req.APIBase
	}

	op, query, err := o.resolver.Resolve(ctx, resolver.Request{
		Namespace:            integ.ID,
		APIBase:              apiBase,
		Query:                req.Query,
		Rephrase:             req.Rephrase,
		RephraseInstructions: req.RephraseInstructions,
		Model:                req.Model,
	})
	if err != nil {
		o.telemetry.RecordSession("action", 0, err)
		return nil, err
	}
	if op == nil {
		o.telemetry.RecordSession("action", 0, nil)
		return &ActionResult{Found: false, RephrasedQuery: query}, nil
	}

	var callerContext []extractor.ContextStep
	if req.AdditionalContext != "" {
		callerContext = []extractor.ContextStep{{Step: "Caller-provided context", Response: req.AdditionalContext}}
	}

	result, err := o.executor.Execute(ctx, executor.Request{
		Operation:               *op,
		Query:                   helpers.AppendDatetime(query),
		Headers:                 req.Headers,
		Model:                   req.Model,
		Context:                 callerContext,
		Manual:                  manual,
		NaturalLanguageResponse: req.NaturalLanguageResponse,
	})
	o.telemetry.RecordSession("action", 1, err)
	if err != nil {
		return nil, err
	}
	o.logger.Printf("action on %s finished in %s", integ.Name, time.Since(start))
	return &ActionResult{Found: true, Endpoint: op, RephrasedQuery: query, Result: result}, nil
}

// StepsRequest asks for a static decomposition of a goal.
type StepsRequest struct {
	Goal           string
	IntegrationIDs []string
	Model          oracle.ModelConfig
}

// PlannedStep pairs one decomposed step with the integration it targets.
type PlannedStep struct {
	Step          string `json:"step"`
	IntegrationID string `json:"integration_id"`
}

// GenerateSteps decomposes the goal into ordered single-platform steps in
// one call, with the selected integrations' manuals as workflow guidance,
// then maps each step to its integration. Returns the steps and the
// integrations they were selected from.
func (o *Orchestrator) GenerateSteps(ctx context.Context, req StepsRequest) ([]PlannedStep, []registry.Integration, error) {
	integrations, err := o.sessionIntegrations(ctx, req.IntegrationIDs)
	if err != nil {
		return nil, nil, err
	}
	selectable := make([]planner.Integration, 0, len(integrations))
	ids := make([]string, 0, len(integrations))
	for _, in := range integrations {
		selectable = append(selectable, planner.Integration{ID: in.ID, Name: in.Name, Description: in.Description})
		ids = append(ids, in.ID)
	}
	guidance, err := o.manuals.Combined(ids)
	if err != nil {
		return nil, nil, err
	}
	steps, err := o.planner.Decompose(ctx, helpers.AppendDatetime(req.Goal), guidance, req.Model)
	if err != nil {
		return nil, nil, err
	}

	out := make([]PlannedStep, 0, len(steps))
	for _, step := range steps {
		integID, err := o.selector.Select(ctx, step, selectable, req.Model)
		if err != nil {
			return nil, nil, fmt.Errorf("select integration for step %q: %w", step, err)
		}
		out = append(out, PlannedStep{Step: step, IntegrationID: integID})
	}
	return out, integrations, nil
}

// DeepRequest is a streamed multi-step session. APIBases and
// IntegrationHeaders override the stored base address and the shared
// Headers per integration id.
type DeepRequest struct {
	Goal                    string
	IntegrationIDs          []string
	Headers                 map[string]interface{}
	IntegrationHeaders      map[string]map[string]interface{}
	APIBases                map[string]string
	Model                   oracle.ModelConfig
	Rephrase                bool
	RephraseInstructions    string
	NaturalLanguageResponse bool
}

// RunDeep drives the dynamic planning loop and reports progress through
// emit. The loop executes at most planner.MaxSteps steps; hitting the cap
// without an explicit completion marks the final response truncated.
func (o *Orchestrator) RunDeep(ctx context.Context, req DeepRequest, emit EmitFunc) error {
	start := time.Now()
	sessionID := uuid.New().String()

	integrations, err := o.sessionIntegrations(ctx, req.IntegrationIDs)
	if err != nil {
		return o.fail(emit, "deep", 0, err)
	}
	selectable := make([]planner.Integration, 0, len(integrations))
	names := make([]string, 0, len(integrations))
	ids := make([]string, 0, len(integrations))
	byID := make(map[string]registry.Integration, len(integrations))
	for _, in := range integrations {
		selectable = append(selectable, planner.Integration{ID: in.ID, Name: in.Name, Description: in.Description})
		names = append(names, in.Name)
		ids = append(ids, in.ID)
		byID[in.ID] = in
	}
	guidance, err := o.manuals.Combined(ids)
	if err != nil {
		return o.fail(emit, "deep", 0, err)
	}

	if err := emit(Event{Type: EventMetadata, SessionID: sessionID, Goal: req.Goal, Integrations: names, MaxSteps: planner.MaxSteps}); err != nil {
		return err
	}

	goal := helpers.AppendDatetime(req.Goal)
	execCtx := planner.NewExecutionContext()
	completed := false

	for i := 1; i <= planner.MaxSteps; i++ {
		decision, err := o.planner.NextStep(ctx, goal, execCtx, guidance, req.Model)
		if err != nil {
			return o.fail(emit, "deep", execCtx.Len(), err)
		}
		if decision.IsComplete || decision.NextStep == "" {
			completed = true
			break
		}

		integID, err := o.selector.Select(ctx, decision.NextStep, selectable, req.Model)
		if err != nil {
			return o.fail(emit, "deep", execCtx.Len(), err)
		}
		integ := byID[integID]

		if err := emit(Event{
			Type:            EventStepStart,
			StepNumber:      i,
			Step:            decision.NextStep,
			IntegrationID:   integID,
			IntegrationName: integ.Name,
			Reasoning:       decision.Reasoning,
		}); err != nil {
			return err
		}

		manual, err := o.manuals.Load(integID)
		if err != nil {
			return o.fail(emit, "deep", execCtx.Len(), err)
		}
		apiBase := integ.APIBase
		if v, ok := req.APIBases[integID]; ok && v != "" {
			apiBase = v
		}
		op, stepQuery, err := o.resolver.Resolve(ctx, resolver.Request{
			Namespace:            integID,
			APIBase:              apiBase,
			Query:                decision.NextStep,
			Rephrase:             req.Rephrase,
			RephraseInstructions: req.RephraseInstructions,
			Model:                req.Model,
		})
		if err != nil {
			return o.fail(emit, "deep", execCtx.Len(), err)
		}
		if op == nil {
			return o.fail(emit, "deep", execCtx.Len(), fmt.Errorf("step %d: no operation found in %s for %q", i, integ.Name, decision.NextStep))
		}

		headers := req.Headers
		if hv, ok := req.IntegrationHeaders[integID]; ok {
			headers = hv
		}

		result, err := o.executor.Execute(ctx, executor.Request{
			Operation:               *op,
			Query:                   helpers.AppendDatetime(stepQuery),
			Headers:                 headers,
			Model:                   req.Model,
			Context:                 execCtx.ContextSteps(),
			Manual:                  manual,
			NaturalLanguageResponse: req.NaturalLanguageResponse,
		})
		if err != nil {
			return o.fail(emit, "deep", execCtx.Len(), err)
		}

		if err := emit(Event{
			Type:                    EventStepComplete,
			StepNumber:              i,
			Step:                    decision.NextStep,
			IntegrationID:           integID,
			IntegrationName:         integ.Name,
			Reasoning:               decision.Reasoning,
			Response:                result.Response,
			APILatency:              result.APILatency,
			KramenLatency:           result.KramenLatency,
			ManualUsed:              manual != "",
			NaturalLanguageResponse: result.NaturalLanguageResponse,
		}); err != nil {
			return err
		}

		execCtx.Append(planner.Record{
			Step:      decision.NextStep,
			Namespace: integID,
			Response:  result.Response,
			Reasoning: decision.Reasoning,
		})
	}

	truncated := !completed

	executed := make([]string, 0, execCtx.Len())
	for _, r := range execCtx.Records() {
		executed = append(executed, r.Step)
	}

	final, err := o.synthesizeFinal(ctx, req.Goal, execCtx, req.Model)
	if err != nil {
		return o.fail(emit, "deep", execCtx.Len(), err)
	}
	if err := emit(Event{
		Type:                    EventFinalResponse,
		NaturalLanguageResponse: final,
		Truncated:               truncated,
		StepsExecuted:           execCtx.Len(),
		TotalSteps:              execCtx.Len(),
		ExecutedSteps:           executed,
	}); err != nil {
		return err
	}

	o.telemetry.RecordSession("deep", execCtx.Len(), nil)
	o.logger.Printf("deep session %s: %d steps in %s (truncated=%t)", sessionID, execCtx.Len(), time.Since(start), truncated)
	return emit(Event{Type: EventComplete, SessionID: sessionID, Duration: time.Since(start).Seconds()})
}

func (o *Orchestrator) sessionIntegrations(ctx context.Context, ids []string) ([]registry.Integration, error) {
	if len(ids) == 0 {
		return o.registry.List(ctx)
	}
	out := make([]registry.Integration, 0, len(ids))
	for _, id := range ids {
		in, err := o.registry.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("integration %s: %w", id, err)
		}
		out = append(out, in)
	}
	return out, nil
}

// synthesizeFinal answers the goal from the full accumulated context, not
// from any per-step synthesis. Every concrete value from the steps must
// survive into the prose.
func (o *Orchestrator) synthesizeFinal(ctx context.Context, goal string, execCtx *planner.ExecutionContext, model oracle.ModelConfig) (string, error) {
	records, err := json.Marshal(execCtx.Records())
	if err != nil {
		return "", fmt.Errorf("encode session context: %w", err)
	}
	prompt := fmt.Sprintf(`Answer the user's goal in natural language using the results of the executed steps.

GOAL:
%s

EXECUTED STEPS AND RESULTS:
%s

Write a well-structured, informative and concise response. It must contain all the details given to you, including every single thing: unique identifiers if provided, all attributes, every value present in the results. Respond with the prose only.`, goal, records)

	start := time.Now()
	resp, err := o.oracle.Complete(ctx, oracle.Request{Prompt: prompt, Model: model, Temperature: 0.3})
	o.telemetry.RecordOracleCall("final_response", time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("final synthesis call: %w", err)
	}
	return strings.TrimSpace(resp), nil
}

func (o *Orchestrator) fail(emit EmitFunc, mode string, steps int, err error) error {
	o.telemetry.RecordSession(mode, steps, err)
	if emitErr := emit(Event{Type: EventError, Error: err.Error()}); emitErr != nil {
		return emitErr
	}
	return err
}
