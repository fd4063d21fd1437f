package matching

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicit/licita/internal/embedding"
	"github.com/alicit/licita/internal/opportunity"
	"github.com/alicit/licita/internal/persistence"
)

type fakeStore struct {
	companies []opportunity.Company
	opps      []opportunity.Opportunity
	items     map[string][]opportunity.Item
	matches   map[string]opportunity.Match
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string][]opportunity.Item), matches: make(map[string]opportunity.Match)}
}

func (f *fakeStore) ListCompanies(_ context.Context) ([]opportunity.Company, error) { return f.companies, nil }
func (f *fakeStore) Search(_ context.Context, _ string, _ persistence.SearchFilters, _, _ int) ([]opportunity.Opportunity, error) {
	return f.opps, nil
}
func (f *fakeStore) GetItems(_ context.Context, extID string) ([]opportunity.Item, error) {
	return f.items[extID], nil
}
func (f *fakeStore) SaveMatch(_ context.Context, m opportunity.Match) error {
	f.matches[m.CompanyID+"|"+m.OpportunityID] = m
	return nil
}
func (f *fakeStore) ClearMatches(_ context.Context, ids []string) error {
	wanted := make(map[string]bool)
	for _, id := range ids {
		wanted[id] = true
	}
	for k, m := range f.matches {
		if wanted[m.OpportunityID] {
			delete(f.matches, k)
		}
	}
	return nil
}
func (f *fakeStore) HasMatch(_ context.Context, companyID, oppID string) (bool, error) {
	_, ok := f.matches[companyID+"|"+oppID]
	return ok, nil
}

type passthroughCache struct{}

func (passthroughCache) GetEmbeddingCache(_ context.Context, _ []string) (map[string][]float32, error) {
	return map[string][]float32{}, nil
}
func (passthroughCache) PutEmbeddingCache(_ context.Context, _ []persistence.EmbeddingCacheEntry) error {
	return nil
}

func TestRunFullSavesMatchAboveThreshold(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.companies = []opportunity.Company{{ID: "c1", LegalName: "papelaria especializada escritório"}}
	store.opps = []opportunity.Opportunity{{ProviderName: "rest_portal", ExternalID: "opp1", Title: "papelaria especializada escritório"}}

	embSvc := embedding.NewServiceWithChain(embedding.NewChain(embedding.NewDeterministic(32, 0)), passthroughCache{}, 10)
	engine := New(store, embSvc, nil, Config{VectorThreshold: 0.99, EnableLLMValidation: false})

	summary, err := engine.RunFull(context.Background(), "rest_portal")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.MatchesSaved)
	assert.Equal(t, 1, summary.CandidatesAboveThreshold)

	has, err := store.HasMatch(context.Background(), "c1", "opp1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRunIncrementalSkipsAlreadyMatchedPairs(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.companies = []opportunity.Company{{ID: "c1", LegalName: "fornecedor de papel"}}
	store.opps = []opportunity.Opportunity{{
		ProviderName: "rest_portal", ExternalID: "opp1", Title: "fornecedor de papel",
		CreatedAt: time.Now(),
	}}
	store.matches["c1|opp1"] = opportunity.Match{CompanyID: "c1", OpportunityID: "opp1"}

	embSvc := embedding.NewServiceWithChain(embedding.NewChain(embedding.NewDeterministic(32, 0)), passthroughCache{}, 10)
	engine := New(store, embSvc, nil, Config{VectorThreshold: 0.5})

	summary, err := engine.RunIncremental(context.Background(), "rest_portal", 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.MatchesSaved)
}

func TestRunFullBelowThresholdProducesNoMatches(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.companies = []opportunity.Company{{ID: "c1", LegalName: "consultoria jurídica tributária"}}
	store.opps = []opportunity.Opportunity{{ProviderName: "rest_portal", ExternalID: "opp1", Title: "fornecimento de combustível diesel"}}

	embSvc := embedding.NewServiceWithChain(embedding.NewChain(embedding.NewDeterministic(32, 0)), passthroughCache{}, 10)
	engine := New(store, embSvc, nil, Config{VectorThreshold: 0.999999})

	summary, err := engine.RunFull(context.Background(), "rest_portal")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.MatchesSaved)
}
