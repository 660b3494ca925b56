package extractor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kramenhq/kramen/internal/oracle"
)

type stubOracle struct {
	response string
	prompt   string
	calls    int
}

func (s *stubOracle) Complete(_ context.Context, req oracle.Request) (string, error) {
	s.calls++
	s.prompt = req.Prompt
	return s.response, nil
}

func (s *stubOracle) Embed(context.Context, []string) ([][]float32, error) {
	return nil, nil
}

func issueSchema() Schema {
	return Schema{
		{Key: "title", Type: "string", Required: true},
		{Key: "labels", Type: "array"},
	}
}

func TestExtractEmptySchemaSkipsOracle(t *testing.T) {
	o := &stubOracle{}
	e := New(o, nil)
	out, err := e.Extract(context.Background(), Request{Schema: nil, Query: "whatever", Kind: "parameters"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty object, got %v", out)
	}
	if o.calls != 0 {
		t.Fatalf("oracle called %d times for empty schema", o.calls)
	}
}

func TestExtractStripsExtraTopLevelKeys(t *testing.T) {
	o := &stubOracle{response: `{"title":"bug in fuser","labels":["bug"],"assignee":"nobody","created_at":"now"}`}
	e := New(o, nil)

	out, err := e.Extract(context.Background(), Request{Schema: issueSchema(), Query: "file a bug", Kind: "body"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	allowed := issueSchema().Keys()
	for key := range out {
		if _, ok := allowed[key]; !ok {
			t.Fatalf("extra key %s survived enforcement", key)
		}
	}
	if out["title"] != "bug in fuser" {
		t.Fatalf("declared field lost: %v", out)
	}
}

func TestExtractNestedLevelsNotValidated(t *testing.T) {
	// Top-level enforcement only: nested extras pass through untouched.
	o := &stubOracle{response: `{"title":"x","labels":[{"name":"bug","color":"red","surprise":true}]}`}
	e := New(o, nil)

	out, err := e.Extract(context.Background(), Request{Schema: issueSchema(), Query: "q", Kind: "body"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	raw, _ := json.Marshal(out["labels"])
	if !strings.Contains(string(raw), "surprise") {
		t.Fatalf("nested content should not be re-validated: %s", raw)
	}
}

func TestExtractSchemaInPrompt(t *testing.T) {
	o := &stubOracle{response: `{"title":"t"}`}
	e := New(o, nil)
	if _, err := e.Extract(context.Background(), Request{Schema: issueSchema(), Query: "make an issue", Kind: "body"}); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(o.prompt, `"title"`) || !strings.Contains(o.prompt, "make an issue") {
		t.Fatal("schema or query missing from extraction prompt")
	}
}

func TestExtractNameKeyedFields(t *testing.T) {
	schema := Schema{{Name: "id", Type: "integer", Required: true}}
	o := &stubOracle{response: `{"id": 7, "unwanted": "x"}`}
	e := New(o, nil)

	out, err := e.Extract(context.Background(), Request{Schema: schema, Query: "q", Kind: "parameters"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, ok := out["id"]; !ok {
		t.Fatal("name-keyed field dropped")
	}
	if _, ok := out["unwanted"]; ok {
		t.Fatal("extra key survived on name-keyed schema")
	}
}

func TestEnrichQuery(t *testing.T) {
	out := EnrichQuery("create ticket", []ContextStep{
		{Step: "Fetch failed payments from Stripe", Response: map[string]interface{}{"count": 2}},
	}, "Always resolve the team id first.")
	if !strings.Contains(out, "Previous steps results:") {
		t.Fatal("missing context block")
	}
	if !strings.Contains(out, "Integration Manual:") {
		t.Fatal("missing manual block")
	}
	if EnrichQuery("plain", nil, "") != "plain" {
		t.Fatal("enrichment should be a no-op without context")
	}
}

func TestParseSchemaEmptyVariants(t *testing.T) {
	for _, raw := range []string{"", "null", "[]", "{}"} {
		s, err := ParseSchema(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("ParseSchema(%q): %v", raw, err)
		}
		if !s.Empty() {
			t.Fatalf("ParseSchema(%q) not empty: %v", raw, s)
		}
	}
}
