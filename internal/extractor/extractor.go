// Package extractor converts free text plus a target field schema into a
// structured object that strictly conforms to the schema's top level.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/kramenhq/kramen/internal/helpers"
	"github.com/kramenhq/kramen/internal/oracle"
	"github.com/kramenhq/kramen/internal/telemetry"
)

// ContextStep is one prior step's outcome, used to enrich extraction input.
type ContextStep struct {
	Step     string      `json:"step"`
	Response interface{} `json:"response"`
}

// Request is one extraction: a schema, the (already enriched) query text,
// and which part of the operation the schema describes.
type Request struct {
	Schema Schema
	Query  string
	Kind   string // "parameters" or "body"
	Model  oracle.ModelConfig
}

// Extractor drives schema-constrained extraction through the oracle.
type Extractor struct {
	oracle    oracle.Oracle
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func New(o oracle.Oracle, tele *telemetry.Telemetry) *Extractor {
	return &Extractor{
		oracle:    o,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[EXTRACTOR] ", log.LstdFlags),
	}
}

// Extract produces a structured object for the schema. The output's
// top-level keys are always a subset of the schema's declared keys: extra
// keys from the underlying extraction are stripped and logged, never
// surfaced as an error. Nested objects and arrays are not re-validated.
// An empty schema short-circuits to an empty object without an oracle call.
func (e *Extractor) Extract(ctx context.Context, req Request) (map[string]interface{}, error) {
	if req.Schema.Empty() {
		return map[string]interface{}{}, nil
	}

	schemaJSON, err := json.MarshalIndent(req.Schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	prompt := fmt.Sprintf(`Extract structured data from a user query based on a provided schema, with zero tolerance for extra fields.

RULES:
1. ONLY include fields that are explicitly defined in the schema below.
2. NEVER add fields that are not in the schema.
3. NEVER modify field names from the schema definition.
4. Every required field must be populated.
5. Optional fields are included only when a value can be determined from the query.
6. Respect the declared field types exactly.
7. Follow platform-specific guidance from any integration manual included in the query.

SCHEMA TYPE: %s

SCHEMA:
%s

QUERY:
%s

The query may include date/time information in brackets at the beginning; use it if relevant, otherwise ignore it.

OUTPUT FORMAT: a single JSON object whose keys are drawn exclusively from the schema.`, req.Kind, schemaJSON, req.Query)

	start := time.Now()
	resp, err := e.oracle.Complete(ctx, oracle.Request{Prompt: prompt, Model: req.Model, Temperature: 0.1})
	e.telemetry.RecordOracleCall("extract", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}

	raw, err := helpers.ExtractJSON(resp)
	if err != nil {
		return nil, fmt.Errorf("no JSON in extraction output: %w", err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("parse extraction output: %w", err)
	}

	return e.enforce(req.Schema, req.Kind, data), nil
}

// enforce strips top-level keys outside the schema's contract. The
// violation is recovered locally and logged.
func (e *Extractor) enforce(schema Schema, kind string, data map[string]interface{}) map[string]interface{} {
	allowed := schema.Keys()
	var extras []string
	for key := range data {
		if _, ok := allowed[key]; !ok {
			extras = append(extras, key)
		}
	}
	if len(extras) == 0 {
		return data
	}
	sort.Strings(extras)
	e.logger.Printf("schema violation in %s extraction, stripping extra fields: %s", kind, strings.Join(extras, ", "))
	for _, key := range extras {
		delete(data, key)
	}
	return data
}

// EnrichQuery augments a query with prior step results and an optional
// integration manual so extraction can draw values from earlier responses.
func EnrichQuery(query string, steps []ContextStep, manual string) string {
	if len(steps) == 0 && manual == "" {
		return query
	}
	var b strings.Builder
	b.WriteString(query)
	if len(steps) > 0 {
		b.WriteString("\n\nPrevious steps results:\n")
		for _, step := range steps {
			fmt.Fprintf(&b, "%s: %v\n", step.Step, step.Response)
		}
	}
	if manual != "" {
		b.WriteString("\n\nIntegration Manual:\n")
		b.WriteString(manual)
	}
	return b.String()
}
