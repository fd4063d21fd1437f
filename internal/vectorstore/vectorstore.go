// Package vectorstore implements the C10 Vector Store: chunk persistence
// plus vector and keyword retrieval, pluggable across memory, pgvector,
// and Qdrant backends.
package vectorstore

import (
	"context"
	"sort"
	"strings"

	"github.com/alicit/licita/internal/opportunity"
)

// Result is one hit from a similarity or hybrid search.
type Result struct {
	Chunk opportunity.Chunk
	Score float64
}

// Store is the C10 contract every backend implements.
type Store interface {
	SaveChunks(ctx context.Context, chunks []opportunity.Chunk) error
	DeleteChunksForDocument(ctx context.Context, documentID string) error
	CountChunks(ctx context.Context, opportunityID string) (int, error)
	VectorizationStatus(ctx context.Context, opportunityID string) (Status, error)
	SimilaritySearch(ctx context.Context, vector []float32, k int, opportunityID string) ([]Result, error)
	KeywordSearch(ctx context.Context, query string, k int, opportunityID string) ([]Result, error)
}

// Status reports how much of an opportunity's documents have been chunked
// and embedded.
type Status struct {
	TotalDocuments     int
	ProcessedDocuments int
	TotalChunks        int
}

// HybridSearch fuses vector similarity and keyword matching the way §4.10
// describes: 0.7 weight on vector score (drawn from a top-2k vector pool)
// and 0.3 on keyword score, deduplicated by chunk ID and sorted descending.
func HybridSearch(ctx context.Context, store Store, queryVec []float32, queryText string, k int, opportunityID string) ([]Result, error) {
	if k <= 0 {
		k = 8
	}
	vecResults, err := store.SimilaritySearch(ctx, queryVec, k*2, opportunityID)
	if err != nil {
		return nil, err
	}
	kwResults, err := store.KeywordSearch(ctx, queryText, k*2, opportunityID)
	if err != nil {
		return nil, err
	}

	fused := make(map[string]*Result)
	for _, r := range vecResults {
		cp := r
		cp.Score = r.Score * 0.7
		fused[r.Chunk.ID] = &cp
	}
	for _, r := range kwResults {
		if existing, ok := fused[r.Chunk.ID]; ok {
			existing.Score += r.Score * 0.3
			continue
		}
		cp := r
		cp.Score = r.Score * 0.3
		fused[r.Chunk.ID] = &cp
	}

	out := make([]Result, 0, len(fused))
	for _, r := range fused {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// keywordScore is a simple substring-coverage score used by backends whose
// native engine has no full-text index: each distinct query token found in
// the chunk text contributes to the score, normalized to [0,1].
func keywordScore(text, query string) float64 {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	seen := make(map[string]bool)
	for _, tok := range tokens {
		if seen[tok] || len(tok) < 3 {
			continue
		}
		seen[tok] = true
		if strings.Contains(lower, tok) {
			hits++
		}
	}
	if len(seen) == 0 {
		return 0
	}
	return float64(hits) / float64(len(seen))
}
