// Package executor dispatches a resolved API operation: it extracts
// parameters and body from the goal text, issues the remote call and
// optionally synthesizes a natural-language summary of the response.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kramenhq/kramen/internal/extractor"
	"github.com/kramenhq/kramen/internal/oracle"
	"github.com/kramenhq/kramen/internal/resolver"
	"github.com/kramenhq/kramen/internal/telemetry"
)

// ErrUnsupportedMethod indicates the operation declares an HTTP verb the
// executor cannot dispatch.
var ErrUnsupportedMethod = errors.New("unsupported HTTP method")

// Request is one operation execution.
type Request struct {
	Operation resolver.Operation
	Query     string
	Headers   map[string]interface{}
	Model     oracle.ModelConfig
	Context   []extractor.ContextStep
	Manual    string
	// NaturalLanguageResponse requests a prose synthesis of the result.
	NaturalLanguageResponse bool
}

// Result carries the executed call and its two latency measurements:
// api_latency is time inside the remote call, kramen_latency is everything
// else (extraction and orchestration).
type Result struct {
	Parameters              map[string]interface{} `json:"parameters"`
	Body                    map[string]interface{} `json:"body"`
	Response                interface{}            `json:"response"`
	APILatency              float64                `json:"api_latency"`
	KramenLatency           float64                `json:"kramen_latency"`
	NaturalLanguageResponse string                 `json:"natural_language_response,omitempty"`
}

// Executor runs resolved operations over HTTP.
type Executor struct {
	extractor *extractor.Extractor
	oracle    oracle.Oracle
	client    *http.Client
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func New(ex *extractor.Extractor, o oracle.Oracle, tele *telemetry.Telemetry, client *http.Client) *Executor {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Executor{
		extractor: ex,
		oracle:    o,
		client:    client,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags),
	}
}

// Execute extracts arguments, dispatches the operation and returns the raw
// response. Remote failures propagate; nothing in the pipeline retries.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	enriched := extractor.EnrichQuery(req.Query, req.Context, req.Manual)

	paramSchema, err := extractor.ParseSchema(req.Operation.Parameters)
	if err != nil {
		return nil, fmt.Errorf("parameter schema: %w", err)
	}
	bodySchema, err := extractor.ParseSchema(req.Operation.Body)
	if err != nil {
		return nil, fmt.Errorf("body schema: %w", err)
	}

	params, err := e.extractor.Extract(ctx, extractor.Request{
		Schema: paramSchema, Query: enriched, Kind: "parameters", Model: req.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("extract parameters: %w", err)
	}
	body, err := e.extractor.Extract(ctx, extractor.Request{
		Schema: bodySchema, Query: enriched, Kind: "body", Model: req.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("extract body: %w", err)
	}

	apiStart := time.Now()
	responseData, err := e.dispatch(ctx, req.Operation, params, body, req.Headers)
	apiLatency := time.Since(apiStart)
	e.telemetry.RecordOperation(strings.ToUpper(req.Operation.Method), apiLatency, err)
	if err != nil {
		return nil, err
	}

	total := time.Since(start)
	result := &Result{
		Parameters:    params,
		Body:          body,
		Response:      responseData,
		APILatency:    apiLatency.Seconds(),
		KramenLatency: (total - apiLatency).Seconds(),
	}

	if req.NaturalLanguageResponse {
		prose, err := e.synthesize(ctx, req.Query, req.Operation.Response, responseData, req.Model)
		if err != nil {
			return nil, fmt.Errorf("synthesize response: %w", err)
		}
		result.NaturalLanguageResponse = prose
	}
	return result, nil
}

// dispatch issues the HTTP request for the operation's method. The body
// transport follows the Content-Type header: form encoding for
// x-www-form-urlencoded, JSON otherwise. DELETE and HEAD send no body.
func (e *Executor) dispatch(ctx context.Context, op resolver.Operation, params, body map[string]interface{}, headers map[string]interface{}) (interface{}, error) {
	method := strings.ToUpper(op.Method)
	processed := normalizeHeaders(headers)

	var reader io.Reader
	contentType := strings.ToLower(processed["Content-Type"])
	switch method {
	case http.MethodGet, http.MethodDelete, http.MethodHead:
		// no body
	case http.MethodPost, http.MethodPut:
		if strings.Contains(contentType, "x-www-form-urlencoded") {
			form := url.Values{}
			for k, v := range body {
				form.Set(k, stringifyValue(v))
			}
			reader = strings.NewReader(form.Encode())
		} else {
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encode body: %w", err)
			}
			reader = bytes.NewReader(encoded)
			if contentType == "" {
				processed["Content-Type"] = "application/json"
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, op.Method)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, op.URL, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	query := httpReq.URL.Query()
	for k, v := range params {
		query.Set(k, stringifyValue(v))
	}
	httpReq.URL.RawQuery = query.Encode()
	for k, v := range processed {
		httpReq.Header.Set(k, v)
	}

	e.logger.Printf("%s %s params=%d body=%d", method, op.URL, len(params), len(body))
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote call %s %s: %w", method, op.URL, err)
	}
	defer resp.Body.Close()

	if method == http.MethodHead {
		return map[string]interface{}{"status": resp.StatusCode}, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", op.URL, err)
	}
	return data, nil
}

// synthesize produces a prose answer carrying every concrete value in the
// response: identifiers, attributes, nothing summarized away.
func (e *Executor) synthesize(ctx context.Context, query string, responseSchema json.RawMessage, data interface{}, model oracle.ModelConfig) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode response data: %w", err)
	}
	schema := string(responseSchema)
	if schema == "" {
		schema = "[]"
	}

	prompt := fmt.Sprintf(`Answer the user's query in natural language using the data below.

QUERY:
%s

STRUCTURE OF DATA:
%s

DATA:
%s

Write a well-structured, informative and concise response. It must contain all the details given to you, including every single thing: unique identifiers if provided, all attributes, every value present in the data. Respond with the prose only.`, query, schema, encoded)

	start := time.Now()
	resp, err := e.oracle.Complete(ctx, oracle.Request{Prompt: prompt, Model: model, Temperature: 0.3})
	e.telemetry.RecordOracleCall("synthesize", time.Since(start), err)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// normalizeHeaders serializes non-string header values to text: maps and
// slices become JSON, scalars become their string form.
func normalizeHeaders(headers map[string]interface{}) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = stringifyValue(v)
	}
	return out
}

func stringifyValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(encoded)
	default:
		return fmt.Sprint(val)
	}
}
