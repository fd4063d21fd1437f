package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicit/licita/internal/opportunity"
)

func seedChunk(id, oppID, text string, vec []float32) opportunity.Chunk {
	return opportunity.Chunk{
		ID: id, OpportunityID: oppID, DocumentID: "doc-" + oppID,
		Text: text, ChunkType: opportunity.ChunkParagraph, Embedding: vec,
	}
}

func TestMemoryStoreSimilaritySearchRanksByScore(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SaveChunks(ctx, []opportunity.Chunk{
		seedChunk("a", "opp1", "papelaria escolar", []float32{1, 0, 0}),
		seedChunk("b", "opp1", "material hospitalar", []float32{0, 1, 0}),
	}))

	results, err := store.SimilaritySearch(ctx, []float32{1, 0, 0}, 2, "opp1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Chunk.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestMemoryStoreDeleteChunksForDocumentRemovesOnlyThatDocument(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SaveChunks(ctx, []opportunity.Chunk{
		{ID: "a", DocumentID: "doc-1", OpportunityID: "opp1"},
		{ID: "b", DocumentID: "doc-2", OpportunityID: "opp1"},
	}))
	require.NoError(t, store.DeleteChunksForDocument(ctx, "doc-1"))

	count, err := store.CountChunks(ctx, "opp1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestKeywordSearchMatchesOnTokenOverlap(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SaveChunks(ctx, []opportunity.Chunk{
		{ID: "a", DocumentID: "doc-1", OpportunityID: "opp1", Text: "fornecimento de papel sulfite"},
		{ID: "b", DocumentID: "doc-1", OpportunityID: "opp1", Text: "serviço de limpeza predial"},
	}))

	results, err := store.KeywordSearch(ctx, "papel sulfite", 10, "opp1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Chunk.ID)
}

func TestHybridSearchFusesVectorAndKeywordScores(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SaveChunks(ctx, []opportunity.Chunk{
		seedChunk("a", "opp1", "fornecimento de papel sulfite para escritório", []float32{1, 0}),
		seedChunk("b", "opp1", "serviço de limpeza predial", []float32{0, 1}),
	}))

	results, err := HybridSearch(ctx, store, []float32{1, 0}, "papel sulfite", 2, "opp1")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].Chunk.ID)
}
