// Package embedding implements the C5 Embedding Service: a multi-tier
// fallback chain (primary paid -> secondary paid -> local) in front of the
// embedding-cache, plus the cosine similarity primitive the matching
// engine and retrieval engine both depend on.
package embedding

import (
	"context"
	"errors"
	"math"

	"github.com/alicit/licita/internal/logging"
	"github.com/alicit/licita/internal/opportunity"
)

var log = logging.WithComponent("embedding")

// Embedder converts text to embedding vectors. Implementations cover one
// tier (primary/secondary/local) or a test double.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
	Ping(ctx context.Context) error

	// MaxBatchSize caps how many texts a single EmbedBatch call may
	// receive; 0 means no tier-specific cap (the caller's own batch
	// size, typically config.EmbeddingConfig.Primary.BatchSize,
	// still applies upstream in Service.EmbedTexts).
	MaxBatchSize() int
}

// localBatchSize is the batch cap spec §4.5 assigns the CPU-bound local
// fallback tier ("batch size is reduced to 16 to fit memory"), applied
// regardless of whether the local tier is a real HTTP-served model or
// the in-process deterministic stand-in.
const localBatchSize = 16

// batchCappedEmbedder overrides an Embedder's MaxBatchSize without
// changing its identity, so NewService can apply the local tier's
// memory-bound cap without a separate Embedder implementation.
type batchCappedEmbedder struct {
	Embedder
	max int
}

func (b *batchCappedEmbedder) MaxBatchSize() int { return b.max }

// ErrTierExhausted marks a tier as permanently unusable for this call
// (non-429 4xx, or all retry attempts spent) so the chain moves to the
// next tier instead of retrying the same one.
var ErrTierExhausted = errors.New("embedding: tier exhausted")

// Chain tries each tier in order, falling through to the next tier only
// on ErrTierExhausted (or any error surfaced by a tier after its own
// internal retries are spent). A tier that succeeds for part of a batch
// does not happen here: each tier call is all-or-nothing per spec §4.5,
// since embeddings must come from a single consistent model per batch.
type Chain struct {
	tiers []Embedder
}

// NewChain builds a fallback chain. Tiers with a nil/unusable client
// should be omitted by the caller (e.g. secondary tier not configured).
func NewChain(tiers ...Embedder) *Chain {
	return &Chain{tiers: tiers}
}

// EmbedBatch runs the batch through the first tier that succeeds,
// splitting texts into that tier's own MaxBatchSize groups when it
// declares one narrower than the caller's batch.
func (c *Chain) EmbedBatch(ctx context.Context, texts []string) ([][]float32, string, error) {
	var lastErr error
	for _, tier := range c.tiers {
		vecs, err := embedInTierBatches(ctx, tier, texts)
		if err == nil {
			return vecs, tier.Name(), nil
		}
		log.WithError(err).WithField("tier", tier.Name()).Warn("embedding tier failed, falling through")
		lastErr = err
	}
	return nil, "", opportunity.NewError(opportunity.ErrUpstreamPermanent, "all embedding tiers exhausted: "+lastErr.Error())
}

// embedInTierBatches calls tier.EmbedBatch directly when texts already
// fits within tier.MaxBatchSize, otherwise splits it into consecutive
// groups of that size. A tier call is still all-or-nothing: if any group
// fails, the whole attempt fails rather than returning a partial result.
func embedInTierBatches(ctx context.Context, tier Embedder, texts []string) ([][]float32, error) {
	limit := tier.MaxBatchSize()
	if limit <= 0 || len(texts) <= limit {
		return tier.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += limit {
		end := start + limit
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := tier.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// CosineSimilarity computes the cosine similarity of two vectors.
// cosine(v, v) == 1 for any non-zero v; cosine(v, 0) == 0 by convention
// (a zero vector carries no direction to compare against).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
