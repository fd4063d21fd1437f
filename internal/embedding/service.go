package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/alicit/licita/internal/config"
	"github.com/alicit/licita/internal/persistence"
)

// CacheStore is the subset of persistence.Store the embedding service
// needs, kept narrow so tests can stub it independently of the rest of
// the persistence contract.
type CacheStore interface {
	GetEmbeddingCache(ctx context.Context, textHashes []string) (map[string][]float32, error)
	PutEmbeddingCache(ctx context.Context, entries []persistence.EmbeddingCacheEntry) error
}

// Service is the cache-aware front of the embedding tier chain: callers
// ask for vectors by text, the service resolves cache hits first and only
// calls the chain for the texts that miss.
type Service struct {
	chain     *Chain
	store     CacheStore
	batchSize int
}

// NewService wires a tier chain built from configuration to a cache
// store. Primary and secondary tiers whose host is empty are omitted so
// an unconfigured paid tier never gets attempted; a local tier with an
// empty host is served by the in-process DeterministicEmbedder.
func NewService(cfg config.EmbeddingConfig, store CacheStore) *Service {
	var tiers []Embedder
	batchSize := 64
	if cfg.Primary.Host != "" {
		tiers = append(tiers, NewHTTPTier(cfg.Primary))
		if cfg.Primary.BatchSize > 0 {
			batchSize = cfg.Primary.BatchSize
		}
	}
	if cfg.Secondary.Host != "" {
		tiers = append(tiers, NewHTTPTier(cfg.Secondary))
	}
	if cfg.Local.Host != "" {
		tiers = append(tiers, &batchCappedEmbedder{Embedder: NewHTTPTier(cfg.Local), max: localBatchSize})
	} else {
		tiers = append(tiers, &batchCappedEmbedder{Embedder: NewDeterministic(cfg.Local.Dimensions, 0), max: localBatchSize})
	}
	return &Service{chain: NewChain(tiers...), store: store, batchSize: batchSize}
}

// NewServiceWithChain allows callers (and tests) to supply their own tier
// chain and batch size directly.
func NewServiceWithChain(chain *Chain, store CacheStore, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Service{chain: chain, store: store, batchSize: batchSize}
}

// TextHash returns the cache key for a piece of text: sha256 hex digest.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EmbedTexts resolves embeddings for texts, serving cache hits directly
// and calling the tier chain (in batches of batchSize) for the misses.
// The returned slice preserves the input order.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = TextHash(t)
	}

	cached, err := s.store.GetEmbeddingCache(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("embedding: cache lookup: %w", err)
	}

	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, h := range hashes {
		if v, ok := cached[h]; ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, texts[i])
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	var newEntries []persistence.EmbeddingCacheEntry
	for start := 0; start < len(missTexts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		batch := missTexts[start:end]
		vecs, modelName, err := s.chain.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			globalIdx := missIdx[start+j]
			out[globalIdx] = vec
			preview := batch[j]
			if len(preview) > 200 {
				preview = preview[:200]
			}
			newEntries = append(newEntries, persistence.EmbeddingCacheEntry{
				TextHash:    hashes[globalIdx],
				TextPreview: preview,
				Embedding:   vec,
				ModelName:   modelName,
			})
		}
	}

	if err := s.store.PutEmbeddingCache(ctx, newEntries); err != nil {
		log.WithError(err).Warn("failed to persist new embedding cache entries")
	}
	return out, nil
}
