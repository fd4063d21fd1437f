package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicit/licita/internal/persistence"
)

func TestCosineSimilarityOfVectorWithItselfIsOne(t *testing.T) {
	t.Parallel()
	v := []float32{1, 2, 3, 4}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityAgainstZeroVectorIsZero(t *testing.T) {
	t.Parallel()
	v := []float32{1, 2, 3}
	zero := []float32{0, 0, 0}
	assert.Equal(t, 0.0, CosineSimilarity(v, zero))
}

func TestDeterministicEmbedderIsStableAcrossCalls(t *testing.T) {
	t.Parallel()
	e := NewDeterministic(32, 7)
	ctx := context.Background()

	first, err := e.EmbedBatch(ctx, []string{"aquisição de material de escritório"})
	require.NoError(t, err)
	second, err := e.EmbedBatch(ctx, []string{"aquisição de material de escritório"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestChainFallsThroughToNextTierOnFailure(t *testing.T) {
	t.Parallel()
	failing := &failingEmbedder{}
	working := NewDeterministic(16, 0)
	chain := NewChain(failing, working)

	vecs, name, err := chain.EmbedBatch(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, working.Name(), name)
	require.Len(t, vecs, 1)
}

func TestChainSplitsCallsAtTierMaxBatchSize(t *testing.T) {
	t.Parallel()
	counting := &batchCountingEmbedder{max: 2}
	chain := NewChain(counting)

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, _, err := chain.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	// 5 texts capped at 2 per call means 3 calls (2, 2, 1), never one
	// call with all 5.
	assert.Equal(t, 3, counting.calls)
	for _, batch := range counting.batches {
		assert.LessOrEqual(t, len(batch), counting.max)
	}
}

func TestLocalTierIsWrappedWithMemoryBoundBatchCap(t *testing.T) {
	t.Parallel()
	wrapped := &batchCappedEmbedder{Embedder: NewDeterministic(16, 0), max: localBatchSize}
	assert.Equal(t, localBatchSize, wrapped.MaxBatchSize())
}

type batchCountingEmbedder struct {
	max     int
	calls   int
	batches [][]string
}

func (b *batchCountingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	b.calls++
	b.batches = append(b.batches, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}
func (b *batchCountingEmbedder) Name() string         { return "counting" }
func (b *batchCountingEmbedder) Dimension() int       { return 1 }
func (b *batchCountingEmbedder) Ping(_ context.Context) error { return nil }
func (b *batchCountingEmbedder) MaxBatchSize() int    { return b.max }

func TestChainReturnsErrorWhenAllTiersFail(t *testing.T) {
	t.Parallel()
	chain := NewChain(&failingEmbedder{}, &failingEmbedder{})
	_, _, err := chain.EmbedBatch(context.Background(), []string{"hello"})
	assert.Error(t, err)
}

type failingEmbedder struct{}

func (f *failingEmbedder) EmbedBatch(_ context.Context, _ []string) ([][]float32, error) {
	return nil, assertErr
}
func (f *failingEmbedder) Name() string                  { return "failing" }
func (f *failingEmbedder) Dimension() int                { return 0 }
func (f *failingEmbedder) Ping(_ context.Context) error  { return assertErr }
func (f *failingEmbedder) MaxBatchSize() int             { return 0 }

var assertErr = assertError("simulated tier failure")

type assertError string

func (e assertError) Error() string { return string(e) }

type memCacheStore struct {
	entries map[string][]float32
}

func newMemCacheStore() *memCacheStore { return &memCacheStore{entries: make(map[string][]float32)} }

func (m *memCacheStore) GetEmbeddingCache(_ context.Context, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	for _, h := range hashes {
		if v, ok := m.entries[h]; ok {
			out[h] = v
		}
	}
	return out, nil
}

func (m *memCacheStore) PutEmbeddingCache(_ context.Context, entries []persistence.EmbeddingCacheEntry) error {
	for _, e := range entries {
		if _, exists := m.entries[e.TextHash]; exists {
			continue
		}
		m.entries[e.TextHash] = e.Embedding
	}
	return nil
}

func TestServiceEmbedTextsServesCacheHitsWithoutCallingChain(t *testing.T) {
	t.Parallel()
	store := newMemCacheStore()
	cachedVec := []float32{0.5, 0.5}
	store.entries[TextHash("cached text")] = cachedVec

	svc := NewServiceWithChain(NewChain(&failingEmbedder{}), store, 10)
	out, err := svc.EmbedTexts(context.Background(), []string{"cached text"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, cachedVec, out[0])
}

func TestServiceEmbedTextsPopulatesCacheOnMiss(t *testing.T) {
	t.Parallel()
	store := newMemCacheStore()
	svc := NewServiceWithChain(NewChain(NewDeterministic(16, 0)), store, 10)

	out, err := svc.EmbedTexts(context.Background(), []string{"new text"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0])

	_, ok := store.entries[TextHash("new text")]
	assert.True(t, ok)
}
