package helpers

import (
	"strings"
	"testing"
)

func TestExtractJSONPlainObject(t *testing.T) {
	out, err := ExtractJSON(`Sure, here you go: {"a":1,"b":{"c":[1,2]}} done`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"a":1,"b":{"c":[1,2]}}` {
		t.Fatalf("unexpected extraction: %s", out)
	}
}

func TestExtractJSONFenced(t *testing.T) {
	in := "```json\n{\"steps\": [\"one\", \"two\"]}\n```"
	out, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"steps": ["one", "two"]}` {
		t.Fatalf("unexpected extraction: %s", out)
	}
}

func TestExtractJSONBracesInStrings(t *testing.T) {
	out, err := ExtractJSON(`{"text":"a { brace and \" quote"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, `{"text"`) || !strings.HasSuffix(out, `"}`) {
		t.Fatalf("unexpected extraction: %s", out)
	}
}

func TestExtractJSONNoPayload(t *testing.T) {
	if _, err := ExtractJSON("no structured data here"); err == nil {
		t.Fatal("expected error for input without JSON")
	}
}

func TestAppendDatetimePrefix(t *testing.T) {
	out := AppendDatetime("list open issues")
	if !strings.HasPrefix(out, "[Current date and time: ") {
		t.Fatalf("missing temporal prefix: %s", out)
	}
	if !strings.HasSuffix(out, "\n\nlist open issues") {
		t.Fatalf("query not preserved: %s", out)
	}
}
