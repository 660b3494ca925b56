// Package retrieval implements hybrid retrieval over per-integration
// collections of API operation documents. Every document is embedded into
// three spaces: dense semantic (cosine), sparse lexical (BM25 via bleve)
// and late-interaction (per-token vectors compared by maximum similarity).
// Ranked lists from the three spaces are merged with Reciprocal Rank Fusion.
package retrieval

import (
	"context"
	"errors"
)

// ErrNamespaceNotFound indicates a query against a namespace that has never
// been inserted into. Callers treat this as "no candidates".
var ErrNamespaceNotFound = errors.New("namespace not found")

// Document is a stored operation document: payload plus the identifier
// assigned at insert time.
type Document struct {
	ID      string            `json:"id"`
	Payload map[string]string `json:"payload"`
}

// Candidate is a retrieval result: a document payload plus its fused score.
type Candidate struct {
	ID      string            `json:"id"`
	Score   float64           `json:"score"`
	Payload map[string]string `json:"payload"`
}

// Embedder turns texts into dense vectors. The retriever derives all three
// spaces from it: document/query vectors directly, token vectors for the
// late-interaction space by embedding tokens individually.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
