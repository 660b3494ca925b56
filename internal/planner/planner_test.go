package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kramenhq/kramen/internal/oracle"
)

type stubOracle struct {
	responses []string
	prompts   []string
}

func (s *stubOracle) Complete(_ context.Context, req oracle.Request) (string, error) {
	s.prompts = append(s.prompts, req.Prompt)
	if len(s.responses) == 0 {
		return "{}", nil
	}
	out := s.responses[0]
	s.responses = s.responses[1:]
	return out, nil
}

func (s *stubOracle) Embed(context.Context, []string) ([][]float32, error) {
	return nil, nil
}

func TestDecomposeOrderedSteps(t *testing.T) {
	o := &stubOracle{responses: []string{
		"```json\n{\"steps\": [\"Fetch failed payments from Stripe\", \" Create a Linear ticket for each failure \", \"\"]}\n```",
	}}
	p := New(o, nil)

	steps, err := p.Decompose(context.Background(), "chase failed payments", "", oracle.ModelConfig{})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %v", steps)
	}
	if steps[0] != "Fetch failed payments from Stripe" {
		t.Fatalf("step order lost: %v", steps)
	}
	if steps[1] != "Create a Linear ticket for each failure" {
		t.Fatalf("step not trimmed: %q", steps[1])
	}
}

func TestDecomposeGuidanceInPrompt(t *testing.T) {
	o := &stubOracle{responses: []string{`{"steps": ["x"]}`}}
	p := New(o, nil)
	if _, err := p.Decompose(context.Background(), "g", "Always resolve the team id first.", oracle.ModelConfig{}); err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if !strings.Contains(o.prompts[0], "Always resolve the team id first.") {
		t.Fatal("guidance missing from decomposition prompt")
	}
}

func TestNextStepCarriesContext(t *testing.T) {
	o := &stubOracle{responses: []string{
		`{"next_step": "Create the ticket in Linear", "is_complete": false, "reasoning": "payments fetched, ticket pending"}`,
	}}
	p := New(o, nil)

	execCtx := NewExecutionContext()
	execCtx.Append(Record{Step: "Fetch failed payments from Stripe", Response: map[string]interface{}{"count": 2}})

	decision, err := p.NextStep(context.Background(), "chase failed payments", execCtx, "", oracle.ModelConfig{})
	if err != nil {
		t.Fatalf("NextStep: %v", err)
	}
	if decision.IsComplete || decision.NextStep != "Create the ticket in Linear" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if !strings.Contains(o.prompts[0], "Fetch failed payments from Stripe") {
		t.Fatal("prior step missing from generation prompt")
	}
	if !strings.Contains(o.prompts[0], `"count":2`) {
		t.Fatal("prior result missing from generation prompt")
	}
}

func TestNextStepMalformedOutput(t *testing.T) {
	o := &stubOracle{responses: []string{"no structure here"}}
	p := New(o, nil)
	if _, err := p.NextStep(context.Background(), "g", NewExecutionContext(), "", oracle.ModelConfig{}); err == nil {
		t.Fatal("expected error for unparseable generator output")
	}
}

func TestExecutionContextSerialize(t *testing.T) {
	execCtx := NewExecutionContext()
	if execCtx.Serialize() != "No steps executed yet." {
		t.Fatalf("empty serialization: %q", execCtx.Serialize())
	}
	execCtx.Append(Record{Step: "first", Response: map[string]interface{}{"id": 1}})
	execCtx.Append(Record{Step: "second", Response: "ok"})

	out := execCtx.Serialize()
	if !strings.Contains(out, "Step 1: first") || !strings.Contains(out, "Step 2: second") {
		t.Fatalf("ordering lost: %q", out)
	}
	if execCtx.Len() != 2 {
		t.Fatalf("Len = %d", execCtx.Len())
	}
	steps := execCtx.ContextSteps()
	if len(steps) != 2 || steps[0].Step != "first" {
		t.Fatalf("context conversion wrong: %v", steps)
	}
}

func knownIntegrations() []Integration {
	return []Integration{
		{ID: "uuid-stripe", Name: "Stripe", Description: "payments"},
		{ID: "uuid-linear", Name: "Linear", Description: "issue tracking"},
	}
}

func TestSelectKnownIntegration(t *testing.T) {
	o := &stubOracle{responses: []string{`{"integration_id": "uuid-linear"}`}}
	s := NewSelector(o, nil)

	id, err := s.Select(context.Background(), "Create a ticket in Linear", knownIntegrations(), oracle.ModelConfig{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if id != "uuid-linear" {
		t.Fatalf("wrong integration: %s", id)
	}
	if !strings.Contains(o.prompts[0], "uuid-stripe") || !strings.Contains(o.prompts[0], "issue tracking") {
		t.Fatal("integration listing missing from prompt")
	}
}

func TestSelectUnknownIntegrationRejected(t *testing.T) {
	o := &stubOracle{responses: []string{`{"integration_id": "uuid-github"}`}}
	s := NewSelector(o, nil)

	_, err := s.Select(context.Background(), "open a pull request", knownIntegrations(), oracle.ModelConfig{})
	if !errors.Is(err, ErrUnknownIntegration) {
		t.Fatalf("expected ErrUnknownIntegration, got %v", err)
	}
}

func TestSelectNoIntegrationsConfigured(t *testing.T) {
	s := NewSelector(&stubOracle{}, nil)
	if _, err := s.Select(context.Background(), "anything", nil, oracle.ModelConfig{}); !errors.Is(err, ErrUnknownIntegration) {
		t.Fatalf("expected ErrUnknownIntegration, got %v", err)
	}
}
