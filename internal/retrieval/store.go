package retrieval

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/google/uuid"
)

// maxTokenVectors bounds the late-interaction space per text.
const maxTokenVectors = 64

// Store holds per-namespace collections. A namespace's vector configuration
// is created lazily on the first insert and is immutable afterwards; all
// three spaces are populated before a document becomes queryable. Safe for
// concurrent use.
type Store struct {
	mu            sync.RWMutex
	collections   map[string]*collection
	embedder      Embedder
	prefetchLimit int
	finalLimit    int
	logger        *log.Logger
}

type collection struct {
	index bleve.Index
	docs  map[string]*record
	ids   []string // insertion order
	dims  int      // dense dimensionality, fixed at first insert
}

type record struct {
	payload map[string]string
	dense   []float32
	tokens  [][]float32
}

// NewStore creates a store backed by the given embedder. prefetchLimit is
// the per-space candidate count, finalLimit the fused result count.
func NewStore(embedder Embedder, prefetchLimit, finalLimit int) *Store {
	if prefetchLimit <= 0 {
		prefetchLimit = 20
	}
	if finalLimit <= 0 {
		finalLimit = 5
	}
	return &Store{
		collections:   make(map[string]*collection),
		embedder:      embedder,
		prefetchLimit: prefetchLimit,
		finalLimit:    finalLimit,
		logger:        log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags),
	}
}

// Upsert embeds text into all three spaces and stores metadata as the
// document payload (the text itself is kept under the "text" key). The
// namespace collection is created on first use. Returns the new document ID.
func (s *Store) Upsert(ctx context.Context, namespace, text string, metadata map[string]string) (string, error) {
	dense, tokens, err := s.embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embed passage: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[namespace]
	if !ok {
		index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return "", fmt.Errorf("create collection %s: %w", namespace, err)
		}
		col = &collection{index: index, docs: make(map[string]*record), dims: len(dense)}
		s.collections[namespace] = col
	}

	id := uuid.New().String()
	payload := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		payload[k] = v
	}
	payload["text"] = text

	if err := col.index.Index(id, struct {
		Text string `json:"text"`
	}{Text: text}); err != nil {
		return "", fmt.Errorf("index document: %w", err)
	}
	col.docs[id] = &record{payload: payload, dense: dense, tokens: tokens}
	col.ids = append(col.ids, id)
	return id, nil
}

// Query runs the hybrid search: three independent ranked lists of at most
// prefetchLimit entries, fused with RRF, top finalLimit returned. The fused
// order is deterministic for fixed embeddings and contents.
func (s *Store) Query(ctx context.Context, namespace, text string) ([]Candidate, error) {
	dense, tokens, err := s.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[namespace]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, namespace)
	}

	denseRank := col.rankDense(dense, s.prefetchLimit)
	sparseRank, err := col.rankSparse(ctx, text, s.prefetchLimit)
	if err != nil {
		s.logger.Printf("sparse search failed for %s: %v", namespace, err)
		sparseRank = nil
	}
	lateRank := col.rankLate(tokens, s.prefetchLimit)

	hits := fuse([][]string{denseRank, sparseRank, lateRank}, s.finalLimit)

	out := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		rec := col.docs[hit.ID]
		out = append(out, Candidate{ID: hit.ID, Score: hit.Score, Payload: rec.payload})
	}
	return out, nil
}

// All returns every document in a namespace, in insertion order.
func (s *Store) All(ctx context.Context, namespace string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[namespace]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, namespace)
	}
	out := make([]Document, 0, len(col.ids))
	for _, id := range col.ids {
		out = append(out, Document{ID: id, Payload: col.docs[id].payload})
	}
	return out, nil
}

// embed produces the dense vector and the late-interaction token vectors
// for one text in a single embedder batch.
func (s *Store) embed(ctx context.Context, text string) ([]float32, [][]float32, error) {
	toks := tokenize(text)
	if len(toks) > maxTokenVectors {
		toks = toks[:maxTokenVectors]
	}
	batch := append([]string{text}, toks...)
	vecs, err := s.embedder.Embed(ctx, batch)
	if err != nil {
		return nil, nil, err
	}
	if len(vecs) != len(batch) {
		return nil, nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
	}
	return vecs[0], vecs[1:], nil
}

func (c *collection) rankDense(query []float32, limit int) []string {
	return c.rank(limit, func(rec *record) float64 {
		return cosine(query, rec.dense)
	})
}

func (c *collection) rankLate(queryTokens [][]float32, limit int) []string {
	if len(queryTokens) == 0 {
		return nil
	}
	return c.rank(limit, func(rec *record) float64 {
		return maxSim(queryTokens, rec.tokens)
	})
}

// rank scores every document and returns the top IDs, ties broken by ID so
// per-space rankings are total orders.
func (c *collection) rank(limit int, score func(*record) float64) []string {
	type scored struct {
		id    string
		score float64
	}
	all := make([]scored, 0, len(c.ids))
	for _, id := range c.ids {
		all = append(all, scored{id: id, score: score(c.docs[id])})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].id < all[j].id
	})
	if len(all) > limit {
		all = all[:limit]
	}
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.id
	}
	return ids
}

func (c *collection) rankSparse(ctx context.Context, text string, limit int) ([]string, error) {
	query := bleve.NewMatchQuery(text)
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	res, err := c.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// maxSim is the late-interaction comparator: for each query token take the
// maximum cosine against all document tokens, then sum.
func maxSim(queryTokens, docTokens [][]float32) float64 {
	var total float64
	for _, q := range queryTokens {
		best := math.Inf(-1)
		for _, d := range docTokens {
			if sim := cosine(q, d); sim > best {
				best = sim
			}
		}
		if !math.IsInf(best, -1) {
			total += best
		}
	}
	return total
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
