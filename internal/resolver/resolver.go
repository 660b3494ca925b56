// Package resolver narrows a natural-language query down to at most one
// API operation: optional rephrasing, hybrid retrieval, then a
// reasoning-based filter that picks the single best match.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kramenhq/kramen/internal/helpers"
	"github.com/kramenhq/kramen/internal/oracle"
	"github.com/kramenhq/kramen/internal/retrieval"
	"github.com/kramenhq/kramen/internal/telemetry"
)

// Retriever is the slice of the retrieval store the resolver needs.
type Retriever interface {
	Query(ctx context.Context, namespace, text string) ([]retrieval.Candidate, error)
}

// Operation is a fully resolved API operation, schemas included. ID keeps
// the catalog shape METHOD_<url> so results join back to their documents.
type Operation struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	Method      string          `json:"method"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Body        json.RawMessage `json:"body"`
	Response    json.RawMessage `json:"response"`
}

// Request asks for the best operation in one namespace for one query.
type Request struct {
	Namespace            string
	APIBase              string
	Query                string
	Rephrase             bool
	RephraseInstructions string
	Model                oracle.ModelConfig
}

// Resolver wires retrieval and the filter/rephrase oracle calls.
type Resolver struct {
	retriever Retriever
	oracle    oracle.Oracle
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func New(retriever Retriever, o oracle.Oracle, tele *telemetry.Telemetry) *Resolver {
	return &Resolver{
		retriever: retriever,
		oracle:    o,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[RESOLVER] ", log.LstdFlags),
	}
}

// Resolve returns the chosen operation and the (possibly rephrased) query.
// It returns a nil operation if and only if retrieval produced zero
// candidates; a missing namespace counts as zero candidates.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Operation, string, error) {
	apiBase := strings.TrimRight(req.APIBase, "/")

	query := req.Query
	if req.Rephrase {
		rephrased, err := r.rephrase(ctx, query, req.RephraseInstructions, req.Model)
		if err != nil {
			return nil, "", fmt.Errorf("rephrase query: %w", err)
		}
		query = rephrased
	}

	candidates, err := r.retriever.Query(ctx, req.Namespace, query)
	r.telemetry.RecordRetrieval(err)
	if err != nil {
		if errors.Is(err, retrieval.ErrNamespaceNotFound) {
			r.logger.Printf("namespace %s not found, treating as no candidates", req.Namespace)
			return nil, query, nil
		}
		return nil, "", fmt.Errorf("retrieve candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, query, nil
	}

	chosen, err := r.filter(ctx, query, apiBase, candidates, req.Model)
	if err != nil {
		return nil, "", fmt.Errorf("filter candidates: %w", err)
	}
	return chosen, query, nil
}

func (r *Resolver) rephrase(ctx context.Context, query, instructions string, model oracle.ModelConfig) (string, error) {
	prompt := fmt.Sprintf(`You rephrase user queries into a slightly more formal and technical form suitable for matching against API documentation.

INSTRUCTIONS TO KEEP IN MIND:
%s

QUERY:
%s

The query may include date/time information in brackets at the beginning; preserve it verbatim if present.

OUTPUT FORMAT (JSON):
{"rephrased_query": "..."}`, instructions, query)

	start := time.Now()
	resp, err := r.oracle.Complete(ctx, oracle.Request{Prompt: prompt, Model: model, Temperature: 0.2})
	r.telemetry.RecordOracleCall("rephrase", time.Since(start), err)
	if err != nil {
		return "", err
	}

	raw, err := helpers.ExtractJSON(resp)
	if err != nil {
		r.logger.Printf("rephrase output not parseable, keeping original query: %v", err)
		return query, nil
	}
	var out struct {
		RephrasedQuery string `json:"rephrased_query"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out.RephrasedQuery == "" {
		r.logger.Printf("rephrase output missing rephrased_query, keeping original query")
		return query, nil
	}
	return out.RephrasedQuery, nil
}

// filter presents the fused candidates to the oracle and maps its choice
// back to a full operation. The contract is "single best match, even under
// partial relevance, never empty when candidates exist": any unparseable or
// unmatched choice falls back to the top-ranked candidate.
func (r *Resolver) filter(ctx context.Context, query, apiBase string, candidates []retrieval.Candidate, model oracle.ModelConfig) (*Operation, error) {
	type endpointView struct {
		URL         string `json:"url"`
		Description string `json:"description"`
		Method      string `json:"method"`
	}
	views := make([]endpointView, len(candidates))
	for i, c := range candidates {
		views[i] = endpointView{
			URL:         apiBase + c.Payload["url"],
			Description: c.Payload["description"],
			Method:      c.Payload["method"],
		}
	}
	list, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal candidates: %w", err)
	}

	prompt := fmt.Sprintf(`You select the single API endpoint that best answers a user query.

QUERY:
%s

ENDPOINTS:
%s

Analyze the endpoint descriptions to determine potential matches. Absolute matches are not required; an endpoint that can potentially address the query is acceptable. You MUST select exactly one endpoint from the list above — never answer with none.

OUTPUT FORMAT (JSON):
{"url": "...", "method": "..."}`, query, list)

	start := time.Now()
	resp, err := r.oracle.Complete(ctx, oracle.Request{Prompt: prompt, Model: model, Temperature: 0.1})
	r.telemetry.RecordOracleCall("filter", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	pick := candidates[0]
	if raw, err := helpers.ExtractJSON(resp); err == nil {
		var out struct {
			URL    string `json:"url"`
			Method string `json:"method"`
		}
		if json.Unmarshal([]byte(raw), &out) == nil {
			matched := false
			for _, c := range candidates {
				if strings.EqualFold(c.Payload["method"], out.Method) && apiBase+c.Payload["url"] == out.URL {
					pick = c
					matched = true
					break
				}
			}
			if !matched {
				r.logger.Printf("filter chose %s %s which is not among candidates, using top-ranked", out.Method, out.URL)
			}
		}
	} else {
		r.logger.Printf("filter output not parseable, using top-ranked candidate: %v", err)
	}

	return operationFromCandidate(pick, apiBase), nil
}

func operationFromCandidate(c retrieval.Candidate, apiBase string) *Operation {
	fullURL := apiBase + c.Payload["url"]
	return &Operation{
		ID:          c.Payload["method"] + "_" + fullURL,
		URL:         fullURL,
		Method:      c.Payload["method"],
		Description: c.Payload["description"],
		Parameters:  schemaField(c.Payload, "parameters"),
		Body:        schemaField(c.Payload, "body"),
		Response:    schemaField(c.Payload, "response"),
	}
}

// schemaField parses a schema stored as a JSON string in the payload.
// Missing or invalid schemas degrade to an empty list.
func schemaField(payload map[string]string, key string) json.RawMessage {
	raw := payload[key]
	if raw == "" || !json.Valid([]byte(raw)) {
		return json.RawMessage("[]")
	}
	return json.RawMessage(raw)
}
