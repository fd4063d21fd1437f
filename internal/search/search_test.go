package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicit/licita/internal/opportunity"
	"github.com/alicit/licita/internal/providers"
)

type fakeAdapter struct {
	name string
	opps []opportunity.Opportunity
	err  error
	meta map[string]any
}

func (a fakeAdapter) Search(_ context.Context, _ opportunity.Filters) ([]opportunity.Opportunity, error) {
	return a.opps, a.err
}
func (a fakeAdapter) GetDetails(_ context.Context, _ string) (*opportunity.Opportunity, error) {
	return nil, nil
}
func (a fakeAdapter) GetItems(_ context.Context, _ string) ([]opportunity.Item, error) {
	return nil, nil
}
func (a fakeAdapter) ProviderName() string     { return a.name }
func (a fakeAdapter) Metadata() map[string]any { return a.meta }

func date(t *testing.T, s string) *time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return &d
}

func value(v float64) *float64 { return &v }

func TestSearchAllToleratesOneProviderFailing(t *testing.T) {
	t.Parallel()
	reg := providers.NewRegistry()
	reg.Register(fakeAdapter{name: "good", opps: []opportunity.Opportunity{{ExternalID: "1"}}})
	reg.Register(fakeAdapter{name: "bad", err: errors.New("upstream down")})

	svc := New(reg, nil)
	results, err := svc.SearchAll(context.Background(), opportunity.Filters{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	byName := map[string]ProviderResult{}
	for _, r := range results {
		byName[r.Provider] = r
	}
	assert.NoError(t, byName["good"].Err)
	assert.Len(t, byName["good"].Opportunities, 1)
	assert.Error(t, byName["bad"].Err)
	assert.Empty(t, byName["bad"].Opportunities)
}

func TestSearchOneReturnsValidationErrorForUnknownProvider(t *testing.T) {
	t.Parallel()
	svc := New(providers.NewRegistry(), nil)
	_, err := svc.SearchOne(context.Background(), "missing", opportunity.Filters{})
	assert.Error(t, err)
}

func TestSearchCombinedSortsByPublicationDateThenValue(t *testing.T) {
	t.Parallel()
	reg := providers.NewRegistry()
	reg.Register(fakeAdapter{name: "a", opps: []opportunity.Opportunity{
		{ExternalID: "old", PublicationDate: date(t, "2026-01-01"), EstimatedValue: value(100)},
		{ExternalID: "tie-low", PublicationDate: date(t, "2026-03-01"), EstimatedValue: value(50)},
	}})
	reg.Register(fakeAdapter{name: "b", opps: []opportunity.Opportunity{
		{ExternalID: "new", PublicationDate: date(t, "2026-06-01"), EstimatedValue: value(10)},
		{ExternalID: "tie-high", PublicationDate: date(t, "2026-03-01"), EstimatedValue: value(500)},
	}})

	svc := New(reg, nil)
	combined, err := svc.SearchCombined(context.Background(), opportunity.Filters{})
	require.NoError(t, err)
	require.Len(t, combined, 4)

	ids := make([]string, len(combined))
	for i, o := range combined {
		ids[i] = o.ExternalID
	}
	assert.Equal(t, []string{"new", "tie-high", "tie-low", "old"}, ids)
}

func TestProviderStatusesReportsEveryRegisteredAdapter(t *testing.T) {
	t.Parallel()
	reg := providers.NewRegistry()
	reg.Register(fakeAdapter{name: "a", meta: map[string]any{"base_url": "https://example.test"}})
	svc := New(reg, nil)

	stats := svc.ProviderStatuses()
	require.Len(t, stats, 1)
	assert.Equal(t, "a", stats[0].Provider)
	assert.True(t, stats[0].Available)
	assert.Equal(t, "https://example.test", stats[0].Metadata["base_url"])
}
