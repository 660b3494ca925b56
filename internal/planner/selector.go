package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kramenhq/kramen/internal/helpers"
	"github.com/kramenhq/kramen/internal/oracle"
	"github.com/kramenhq/kramen/internal/telemetry"
)

// ErrUnknownIntegration indicates the selector answered with an identifier
// outside the known integration set.
var ErrUnknownIntegration = errors.New("unknown integration")

// Integration is one selectable catalog namespace.
type Integration struct {
	ID          string `json:"integration_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Selector maps a step to the integration it belongs to.
type Selector struct {
	oracle    oracle.Oracle
	telemetry *telemetry.Telemetry
}

func NewSelector(o oracle.Oracle, tele *telemetry.Telemetry) *Selector {
	return &Selector{oracle: o, telemetry: tele}
}

// Select returns the identifier of the integration the step targets. The
// answer is validated against the known set; an identifier outside it is an
// ErrUnknownIntegration, never passed through.
func (s *Selector) Select(ctx context.Context, step string, integrations []Integration, model oracle.ModelConfig) (string, error) {
	if len(integrations) == 0 {
		return "", fmt.Errorf("%w: no integrations configured", ErrUnknownIntegration)
	}

	var listing strings.Builder
	known := make(map[string]struct{}, len(integrations))
	for _, in := range integrations {
		known[in.ID] = struct{}{}
		fmt.Fprintf(&listing, "- id: %s, name: %s", in.ID, in.Name)
		if in.Description != "" {
			fmt.Fprintf(&listing, ", description: %s", in.Description)
		}
		listing.WriteString("\n")
	}

	prompt := fmt.Sprintf(`Choose which platform the step below belongs to.

KNOWN PLATFORMS:
%s
STEP:
%s

Pick exactly one id from the list above.

OUTPUT FORMAT: a single JSON object {"integration_id": "..."}.`, listing.String(), step)

	start := time.Now()
	resp, err := s.oracle.Complete(ctx, oracle.Request{Prompt: prompt, Model: model, Temperature: 0})
	s.telemetry.RecordOracleCall("select_integration", time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("integration selection call: %w", err)
	}

	raw, err := helpers.ExtractJSON(resp)
	if err != nil {
		return "", fmt.Errorf("no JSON in selection output: %w", err)
	}
	var out struct {
		IntegrationID string `json:"integration_id"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("parse selection output: %w", err)
	}
	id := strings.TrimSpace(out.IntegrationID)
	if _, ok := known[id]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownIntegration, id)
	}
	return id, nil
}
