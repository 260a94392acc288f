// Package similarity implements brute-force cosine top-k search over
// decoded embedding bytes, normalizing with gonum's floats helpers.
package similarity

import (
	"encoding/json"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/memori-go/memori/internal/embedding"
)

// Candidate is one (id, raw embedding) pair as stored.
type Candidate struct {
	ID        int64
	Embedding []byte
}

// Result is one scored match, in descending similarity order.
type Result struct {
	ID         int64
	Similarity float64
}

// parseEmbedding decodes a raw stored embedding in any of the three
// supported shapes: packed little-endian float32 bytes, a legacy
// JSON-encoded float array, or (for a driver that never serializes) a
// plain empty/absent value. Parse failures return nil so the caller can
// skip the candidate rather than fail the whole search.
func parseEmbedding(raw []byte) []float64 {
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '[' {
		var arr []float64
		if err := json.Unmarshal(raw, &arr); err == nil {
			return arr
		}
		return nil
	}
	if len(raw)%4 != 0 {
		return nil
	}
	v := embedding.Unpack(raw)
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// FindSimilar returns the top k = min(limit, n) candidates by cosine
// similarity to query, in non-increasing similarity order with ties
// broken by input order (stable sort). Candidates whose embedding fails
// to parse, or whose dimension disagrees with query, are dropped rather
// than failing the search.
func FindSimilar(query []float32, candidates []Candidate, limit int) []Result {
	q := make([]float64, len(query))
	for i, f := range query {
		q[i] = float64(f)
	}
	qNorm := floats.Norm(q, 2)

	type scored struct {
		id    int64
		score float64
		order int
	}
	var surviving []scored

	for i, c := range candidates {
		v := parseEmbedding(c.Embedding)
		if v == nil || len(v) != len(q) {
			continue
		}
		vNorm := floats.Norm(v, 2)
		if qNorm == 0 || vNorm == 0 {
			surviving = append(surviving, scored{id: c.ID, score: 0, order: i})
			continue
		}
		dot := floats.Dot(q, v)
		surviving = append(surviving, scored{id: c.ID, score: dot / (qNorm * vNorm), order: i})
	}

	sort.SliceStable(surviving, func(i, j int) bool {
		return surviving[i].score > surviving[j].score
	})

	if limit < 0 || limit > len(surviving) {
		limit = len(surviving)
	}

	out := make([]Result, limit)
	for i := 0; i < limit; i++ {
		out[i] = Result{ID: surviving[i].id, Similarity: surviving[i].score}
	}
	return out
}
