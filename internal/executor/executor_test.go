package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/kramenhq/kramen/internal/extractor"
	"github.com/kramenhq/kramen/internal/oracle"
	"github.com/kramenhq/kramen/internal/resolver"
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

func newExecutor(o oracle.Oracle) *Executor {
	return New(extractor.New(o, nil), o, nil, &http.Client{})
}

func TestExecuteGetSendsQueryParams(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode(map[string]interface{}{"issues": []string{"a", "b"}})
	}))
	defer srv.Close()

	o := &stubOracle{responses: []string{`{"state":"open"}`}}
	e := newExecutor(o)
	res, err := e.Execute(context.Background(), Request{
		Operation: resolver.Operation{
			ID: "GET_" + srv.URL, URL: srv.URL, Method: "GET",
			Parameters: json.RawMessage(`[{"key":"state","type":"string"}]`),
		},
		Query: "list open issues",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotQuery.Get("state") != "open" {
		t.Fatalf("query param missing: %v", gotQuery)
	}
	if res.Parameters["state"] != "open" {
		t.Fatalf("parameters not reported: %v", res.Parameters)
	}
	data, ok := res.Response.(map[string]interface{})
	if !ok || data["issues"] == nil {
		t.Fatalf("response not decoded: %v", res.Response)
	}
	if res.APILatency < 0 || res.KramenLatency < 0 {
		t.Fatalf("negative latency: api=%f kramen=%f", res.APILatency, res.KramenLatency)
	}
}

func TestExecutePostJSONBody(t *testing.T) {
	var gotBody map[string]interface{}
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": 42})
	}))
	defer srv.Close()

	o := &stubOracle{responses: []string{`{"title":"broken fuser"}`}}
	e := newExecutor(o)
	res, err := e.Execute(context.Background(), Request{
		Operation: resolver.Operation{
			ID: "POST_" + srv.URL, URL: srv.URL, Method: "POST",
			Body: json.RawMessage(`[{"key":"title","type":"string","required":true}]`),
		},
		Query: "file an issue about the broken fuser",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected JSON transport, got %q", gotContentType)
	}
	if gotBody["title"] != "broken fuser" {
		t.Fatalf("body not sent: %v", gotBody)
	}
	if data := res.Response.(map[string]interface{}); data["id"] != float64(42) {
		t.Fatalf("response lost: %v", res.Response)
	}
}

func TestExecuteFormEncodedTransport(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(raw))
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer srv.Close()

	o := &stubOracle{responses: []string{`{"grant_type":"client_credentials"}`}}
	e := newExecutor(o)
	_, err := e.Execute(context.Background(), Request{
		Operation: resolver.Operation{
			ID: "POST_" + srv.URL, URL: srv.URL, Method: "POST",
			Body: json.RawMessage(`[{"key":"grant_type","type":"string"}]`),
		},
		Query:   "fetch a token",
		Headers: map[string]interface{}{"Content-Type": "application/x-www-form-urlencoded"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotForm.Get("grant_type") != "client_credentials" {
		t.Fatalf("form body not encoded: %v", gotForm)
	}
}

func TestExecuteNormalizesStructuredHeaders(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer srv.Close()

	e := newExecutor(&stubOracle{})
	_, err := e.Execute(context.Background(), Request{
		Operation: resolver.Operation{ID: "GET_" + srv.URL, URL: srv.URL, Method: "GET"},
		Query:     "q",
		Headers: map[string]interface{}{
			"X-Meta":  map[string]interface{}{"tenant": "acme"},
			"X-Retry": 3,
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotHeaders.Get("X-Meta") != `{"tenant":"acme"}` {
		t.Fatalf("map header not JSON-encoded: %q", gotHeaders.Get("X-Meta"))
	}
	if gotHeaders.Get("X-Retry") != "3" {
		t.Fatalf("scalar header not stringified: %q", gotHeaders.Get("X-Retry"))
	}
}

func TestExecuteUnsupportedMethod(t *testing.T) {
	e := newExecutor(&stubOracle{})
	_, err := e.Execute(context.Background(), Request{
		Operation: resolver.Operation{ID: "PATCH_http://api/x", URL: "http://api/x", Method: "PATCH"},
		Query:     "q",
	})
	if !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
}

func TestExecuteNonJSONResponseFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	e := newExecutor(&stubOracle{})
	_, err := e.Execute(context.Background(), Request{
		Operation: resolver.Operation{ID: "GET_" + srv.URL, URL: srv.URL, Method: "GET"},
		Query:     "q",
	})
	if err == nil || !strings.Contains(err.Error(), "decode response") {
		t.Fatalf("expected decode failure, got %v", err)
	}
}

func TestExecuteSynthesizesProse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "ISS-7", "title": "fuser down"})
	}))
	defer srv.Close()

	o := &stubOracle{responses: []string{"Issue ISS-7 (fuser down) is open."}}
	e := newExecutor(o)
	res, err := e.Execute(context.Background(), Request{
		Operation:               resolver.Operation{ID: "GET_" + srv.URL, URL: srv.URL, Method: "GET"},
		Query:                   "what issues are open?",
		NaturalLanguageResponse: true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.NaturalLanguageResponse != "Issue ISS-7 (fuser down) is open." {
		t.Fatalf("prose missing: %q", res.NaturalLanguageResponse)
	}
	if len(o.prompts) == 0 || !strings.Contains(o.prompts[len(o.prompts)-1], "ISS-7") {
		t.Fatal("response data not included in synthesis prompt")
	}
}
