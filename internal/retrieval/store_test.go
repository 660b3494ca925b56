package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"testing"
)

// hashEmbedder is a deterministic stand-in for a real embedding model:
// each text becomes a bag-of-words vector so shared vocabulary yields high
// cosine similarity.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 32)
		for _, tok := range tokenize(text) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			vec[h.Sum32()%32]++
		}
		out[i] = vec
	}
	return out, nil
}

func newTestStore() *Store {
	return NewStore(hashEmbedder{}, 20, 5)
}

func TestQueryUnknownNamespace(t *testing.T) {
	s := newTestStore()
	_, err := s.Query(context.Background(), "nope", "anything")
	if !errors.Is(err, ErrNamespaceNotFound) {
		t.Fatalf("expected ErrNamespaceNotFound, got %v", err)
	}
}

func TestUpsertQueryRoundTrip(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	meta := map[string]string{
		"url":         "/issues",
		"method":      "GET",
		"description": "Retrieve the list of open issues",
	}
	id, err := s.Upsert(ctx, "issues", "Retrieve the list of open issues from the tracker", meta)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated document id")
	}

	got, err := s.Query(ctx, "issues", "list open issues")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].ID != id {
		t.Fatalf("expected document %s, got %s", id, got[0].ID)
	}
	for k, v := range meta {
		if got[0].Payload[k] != v {
			t.Fatalf("payload field %s changed: %s", k, got[0].Payload[k])
		}
	}
	if got[0].Payload["text"] == "" {
		t.Fatal("document text not stored in payload")
	}
}

func TestQueryReturnsAtMostNForSmallNamespaces(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	texts := []string{
		"Retrieve the list of open issues",
		"Create a new issue with title and body",
		"Delete an issue by identifier",
	}
	for _, text := range texts {
		if _, err := s.Upsert(ctx, "issues", text, map[string]string{"description": text}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	got, err := s.Query(ctx, "issues", "issues")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) > len(texts) {
		t.Fatalf("got %d candidates for %d documents", len(got), len(texts))
	}
	seen := make(map[string]bool)
	for _, c := range got {
		if seen[c.ID] {
			t.Fatalf("duplicate candidate id %s", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestQueryNeverExceedsFinalLimit(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		text := "operation on issues number " + string(rune('a'+i))
		if _, err := s.Upsert(ctx, "issues", text, nil); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	got, err := s.Query(ctx, "issues", "issues operation")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) > 5 {
		t.Fatalf("expected at most 5 candidates, got %d", len(got))
	}
}

func TestAllPreservesInsertionOrder(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	first, _ := s.Upsert(ctx, "ns", "first document", nil)
	second, _ := s.Upsert(ctx, "ns", "second document", nil)

	docs, err := s.All(ctx, "ns")
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != first || docs[1].ID != second {
		t.Fatalf("unexpected order: %+v", docs)
	}
}
