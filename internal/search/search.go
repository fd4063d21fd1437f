// Package search implements the C4 Unified Search Service: fan out a
// query across every registered provider adapter, tolerating per-adapter
// failure, and combine the results into one ranked list.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alicit/licita/internal/logging"
	"github.com/alicit/licita/internal/opportunity"
	"github.com/alicit/licita/internal/providers"
	"github.com/alicit/licita/internal/synonym"
)

var log = logging.WithComponent("search")

// ProviderResult is one adapter's outcome within a fan-out search.
type ProviderResult struct {
	Provider      string
	Opportunities []opportunity.Opportunity
	Err           error
}

// ProviderStats summarizes one adapter's health for a status endpoint.
type ProviderStats struct {
	Provider  string
	Available bool
	Metadata  map[string]any
}

// Service runs cross-provider search over the registry, grounded on the
// teacher's concurrent web-fetch fan-out (errgroup with a concurrency cap,
// per-item error tolerance via a results slice rather than failing fast).
type Service struct {
	registry *providers.Registry
	synonyms *synonym.Service
	maxConc  int
}

// New constructs a Service. synonyms may be nil to disable keyword
// expansion.
func New(registry *providers.Registry, synonyms *synonym.Service) *Service {
	return &Service{registry: registry, synonyms: synonyms, maxConc: 8}
}

// SearchAll fans the same filters out to every registered provider
// concurrently, tolerating individual adapter failures: a failed adapter
// contributes an empty result and its error, not an abort of the whole
// search.
func (s *Service) SearchAll(ctx context.Context, filters opportunity.Filters) ([]ProviderResult, error) {
	filters = s.expandKeywords(ctx, filters)

	adapters := s.registry.All()
	results := make([]ProviderResult, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConc)
	for i, a := range adapters {
		i, a := i, a
		g.Go(func() error {
			opps, err := a.Search(gctx, filters)
			results[i] = ProviderResult{Provider: a.ProviderName(), Opportunities: opps, Err: err}
			if err != nil {
				log.WithError(err).WithField("provider", a.ProviderName()).Warn("provider search failed, continuing with other providers")
			}
			return nil
		})
	}
	_ = g.Wait() // errors are recorded per-result, never aborts the whole fan-out
	return results, nil
}

// SearchOne queries a single named provider.
func (s *Service) SearchOne(ctx context.Context, provider string, filters opportunity.Filters) ([]opportunity.Opportunity, error) {
	filters = s.expandKeywords(ctx, filters)
	adapter, ok := s.registry.Get(provider)
	if !ok {
		return nil, opportunity.NewError(opportunity.ErrValidation, "unknown provider: "+provider)
	}
	return adapter.Search(ctx, filters)
}

// SearchCombined runs SearchAll then flattens and sorts the union by
// publication date (newest first), breaking ties by estimated value
// (highest first).
func (s *Service) SearchCombined(ctx context.Context, filters opportunity.Filters) ([]opportunity.Opportunity, error) {
	results, err := s.SearchAll(ctx, filters)
	if err != nil {
		return nil, err
	}
	var combined []opportunity.Opportunity
	for _, r := range results {
		combined = append(combined, r.Opportunities...)
	}
	sort.Slice(combined, func(i, j int) bool {
		pi, pj := combined[i].PublicationDate, combined[j].PublicationDate
		switch {
		case pi == nil && pj == nil:
		case pi == nil:
			return false
		case pj == nil:
			return true
		case !pi.Equal(*pj):
			return pi.After(*pj)
		}
		vi, vj := valueOrZero(combined[i].EstimatedValue), valueOrZero(combined[j].EstimatedValue)
		return vi > vj
	})
	return combined, nil
}

// ProviderStatuses reports each registered adapter's metadata, useful for
// an operational status endpoint.
func (s *Service) ProviderStatuses() []ProviderStats {
	adapters := s.registry.All()
	out := make([]ProviderStats, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, ProviderStats{Provider: a.ProviderName(), Available: true, Metadata: a.Metadata()})
	}
	return out
}

// expandKeywords widens the filter's keyword term into an OR-disjunction
// of the term and its LLM-backed synonyms (§4 Supplemented Features),
// leaving filters untouched when no synonym service is wired, the term is
// empty, or expansion fails.
func (s *Service) expandKeywords(ctx context.Context, filters opportunity.Filters) opportunity.Filters {
	term := strings.TrimSpace(filters.Keywords)
	if s.synonyms == nil || term == "" {
		return filters
	}
	out := filters.Clone()
	syns, err := s.synonyms.Expand(ctx, term)
	if err != nil || len(syns) == 0 {
		return out
	}
	out.Keywords = synonym.BuildDisjunction(term, syns)
	return out
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// timeout used by callers constructing a bounded context for SearchAll;
// exported so cmd/ entrypoints share one default.
const DefaultTimeout = 45 * time.Second
