package retrieval

import "sort"

// rrfK is the standard Reciprocal Rank Fusion constant.
const rrfK = 60

// fuse merges ranked ID lists with RRF: each candidate scores the sum of
// 1/(k+rank) over the lists it appears in (rank is 1-based; absence
// contributes nothing). Ties are broken by ID ascending so the fused order
// is a total order, reproducible for fixed inputs.
func fuse(rankings [][]string, limit int) []fusedHit {
	scores := make(map[string]float64)
	for _, ranking := range rankings {
		for i, id := range ranking {
			scores[id] += 1.0 / float64(rrfK+i+1)
		}
	}

	hits := make([]fusedHit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, fusedHit{ID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

type fusedHit struct {
	ID    string
	Score float64
}
