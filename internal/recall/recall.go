// Package recall implements the Recall Engine: turning the user's latest
// turn into a short addendum of relevant durable facts, folded into the
// outbound request before it reaches the provider.
package recall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memori-go/memori/internal/embedding"
	"github.com/memori-go/memori/internal/similarity"
	"github.com/memori-go/memori/internal/storage"
)

// maxRetries/retryBackoffBase mirror recall.py's own (tighter) retry
// window around the candidate-fetch query: 3 attempts, 0.05s * 2^attempt.
const (
	maxRetries       = 3
	retryBackoffBase = 50 * time.Millisecond
)

// Fact is one recalled durable fact, ready to render into the addendum.
type Fact struct {
	ID      int64
	Content string
}

// Engine resolves the facts relevant to a query string against one
// entity's stored fact set.
type Engine struct {
	Driver   storage.Driver
	Embed    *embedding.Service
	ModelName string

	FactsLimit         int
	EmbeddingsLimit    int
	RelevanceThreshold float64
}

// NewEngine builds an Engine with spec defaults (5 / 1000 / 0.1),
// overridable via the returned struct's fields.
func NewEngine(driver storage.Driver, embed *embedding.Service) *Engine {
	return &Engine{
		Driver:             driver,
		Embed:              embed,
		FactsLimit:         5,
		EmbeddingsLimit:    1000,
		RelevanceThreshold: 0.1,
	}
}

// SearchFacts returns the top FactsLimit facts for entityID whose cosine
// similarity to query clears RelevanceThreshold, most relevant first. An
// empty query or unset entity returns nil, nil — callers treat that as
// "nothing to inject" rather than an error.
func (e *Engine) SearchFacts(ctx context.Context, query string, entityID int64) ([]Fact, error) {
	if query == "" || entityID == 0 {
		return nil, nil
	}

	vectors := e.Embed.Encode(ctx, e.ModelName, []string{query})
	if len(vectors) == 0 {
		return nil, nil
	}
	queryVec := vectors[0]

	var rows []storage.EmbeddingRow
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		rows, err = e.Driver.EntityFactGetEmbeddings(entityID, e.EmbeddingsLimit)
		if err == nil {
			break
		}
		if !storage.IsRestartTransaction(err) || attempt == maxRetries-1 {
			return nil, fmt.Errorf("recall: fetch candidate embeddings: %w", storage.Classify(err))
		}
		time.Sleep(retryBackoffBase * (1 << attempt))
	}
	if len(rows) == 0 {
		return nil, nil
	}

	candidates := make([]similarity.Candidate, len(rows))
	for i, r := range rows {
		candidates[i] = similarity.Candidate{ID: r.ID, Embedding: r.Embedding}
	}

	ranked := similarity.FindSimilar(queryVec, candidates, e.FactsLimit)

	var survivingIDs []int64
	scoreByID := make(map[int64]float64, len(ranked))
	for _, r := range ranked {
		if r.Similarity < e.RelevanceThreshold {
			continue
		}
		survivingIDs = append(survivingIDs, r.ID)
		scoreByID[r.ID] = r.Similarity
	}
	if len(survivingIDs) == 0 {
		return nil, nil
	}

	factRows, err := e.Driver.EntityFactGetByIDs(survivingIDs)
	if err != nil {
		return nil, fmt.Errorf("recall: fetch fact content: %w", storage.Classify(err))
	}

	byID := make(map[int64]string, len(factRows))
	for _, f := range factRows {
		byID[f.ID] = f.Content
	}

	out := make([]Fact, 0, len(survivingIDs))
	for _, id := range survivingIDs {
		content, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, Fact{ID: id, Content: content})
	}
	return out, nil
}

// Addendum renders facts into the <memori_context> system-level block.
// An empty fact list renders an empty string, meaning "inject nothing".
func Addendum(facts []Fact) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<memori_context>\n")
	b.WriteString("Only use the relevant context if it is relevant to the user's query.\n")
	b.WriteString("Relevant context about the user:\n")
	for _, f := range facts {
		b.WriteString("- ")
		b.WriteString(f.Content)
		b.WriteString("\n")
	}
	b.WriteString("</memori_context>")
	return b.String()
}
