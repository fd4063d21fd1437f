package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicit/licita/internal/mapper"
	"github.com/alicit/licita/internal/opportunity"
)

func newTestRegistry() *mapper.Registry {
	reg := mapper.NewRegistry()
	reg.Register(mapper.NewRESTMapper("rest_portal"))
	return reg
}

func TestMemoryStoreSaveIsIdempotentOnExternalID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(newTestRegistry())

	o := opportunity.Opportunity{
		ProviderName:      "rest_portal",
		ExternalID:        "1-0001/2026",
		Title:             "Aquisição de material de escritório",
		ProcuringEntityID: "12345678000190",
	}
	_, err := store.Save(ctx, o)
	require.NoError(t, err)

	o.Title = "Aquisição de material de escritório (revisado)"
	_, err = store.Save(ctx, o)
	require.NoError(t, err)

	got, err := store.Get(ctx, "rest_portal", "1-0001/2026")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Aquisição de material de escritório (revisado)", got.Title)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestMemoryStoreSaveRejectsInvalidOpportunity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(newTestRegistry())

	_, err := store.Save(ctx, opportunity.Opportunity{ProviderName: "rest_portal", ExternalID: "x", Title: "no entity id"})
	require.Error(t, err)

	var opErr *opportunity.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, opportunity.ErrValidation, opErr.Code)
}

func TestMemoryStoreSaveBatchCountsSumToInputLength(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(newTestRegistry())

	batch := []opportunity.Opportunity{
		{ProviderName: "rest_portal", ExternalID: "a", Title: "A", ProcuringEntityID: "1"},
		{ProviderName: "rest_portal", ExternalID: "b", Title: "B", ProcuringEntityID: "2"},
		{ProviderName: "unknown_provider", ExternalID: "c", Title: "C"},
		{ExternalID: "d", Title: "D"}, // no provider name at all
	}
	res, err := store.SaveBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, len(batch), res.Success+res.Failed+res.Skipped)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Skipped)
}

func TestMemoryStoreEmbeddingCacheNeverRewritesOnConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(newTestRegistry())

	err := store.PutEmbeddingCache(ctx, []EmbeddingCacheEntry{
		{TextHash: "h1", Embedding: []float32{1, 2, 3}, ModelName: "primary"},
	})
	require.NoError(t, err)

	// A later write for the same hash with a different vector must not
	// change the stored embedding; only access bookkeeping may advance.
	err = store.PutEmbeddingCache(ctx, []EmbeddingCacheEntry{
		{TextHash: "h1", Embedding: []float32{9, 9, 9}, ModelName: "secondary"},
	})
	require.NoError(t, err)

	got, err := store.GetEmbeddingCache(ctx, []string{"h1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got["h1"])
	_, ok := got["missing"]
	assert.False(t, ok)
}

func TestMemoryStoreSearchFiltersByRegionAndDate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(newTestRegistry())

	old := opportunity.Opportunity{
		ProviderName: "rest_portal", ExternalID: "old", Title: "old tender",
		ProcuringEntityID: "1", RegionCode: "SP",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	recentOtherRegion := opportunity.Opportunity{
		ProviderName: "rest_portal", ExternalID: "other-region", Title: "other region tender",
		ProcuringEntityID: "1", RegionCode: "RJ",
	}
	recentSP := opportunity.Opportunity{
		ProviderName: "rest_portal", ExternalID: "recent-sp", Title: "recent sp tender",
		ProcuringEntityID: "1", RegionCode: "SP",
	}
	for _, o := range []opportunity.Opportunity{old, recentOtherRegion, recentSP} {
		_, err := store.Save(ctx, o)
		require.NoError(t, err)
	}

	from := time.Now().Add(-time.Hour)
	results, err := store.Search(ctx, "rest_portal", SearchFilters{RegionCode: "SP", DateFrom: &from}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "recent-sp", results[0].ExternalID)
}

func TestMemoryStoreMatchLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(newTestRegistry())

	has, err := store.HasMatch(ctx, "company-1", "opp-1")
	require.NoError(t, err)
	assert.False(t, has)

	err = store.SaveMatch(ctx, opportunity.Match{CompanyID: "company-1", OpportunityID: "opp-1", SimilarityScore: 0.82})
	require.NoError(t, err)

	has, err = store.HasMatch(ctx, "company-1", "opp-1")
	require.NoError(t, err)
	assert.True(t, has)

	err = store.ClearMatches(ctx, []string{"opp-1"})
	require.NoError(t, err)

	has, err = store.HasMatch(ctx, "company-1", "opp-1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryStoreProcessedHashDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(newTestRegistry())

	_, ok, err := store.GetProcessedHash(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.MarkProcessed(ctx, "doc-1", "sha256:abc"))

	hash, ok, err := store.GetProcessedHash(ctx, "doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sha256:abc", hash)
}

func TestMemoryStoreDocumentRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(newTestRegistry())

	id, err := store.SaveDocument(ctx, opportunity.Document{
		OpportunityID: "opp-1",
		Title:         "edital.pdf",
		ContentHash:   "sha256:xyz",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.GetDocument(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "edital.pdf", got.Title)

	docs, err := store.ListDocuments(ctx, "opp-1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)
}
