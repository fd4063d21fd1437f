// Package matching implements the C7 Matching Engine: vector-similarity
// candidate generation against a threshold, an optional LLM validation
// gate, and match persistence.
package matching

import (
	"context"
	"time"

	"github.com/alicit/licita/internal/embedding"
	"github.com/alicit/licita/internal/llm"
	"github.com/alicit/licita/internal/logging"
	"github.com/alicit/licita/internal/opportunity"
	"github.com/alicit/licita/internal/persistence"
)

var log = logging.WithComponent("matching")

// Store is the subset of persistence.Store the matching engine needs.
type Store interface {
	ListCompanies(ctx context.Context) ([]opportunity.Company, error)
	Search(ctx context.Context, provider string, filters persistence.SearchFilters, limit, offset int) ([]opportunity.Opportunity, error)
	GetItems(ctx context.Context, opportunityExternalID string) ([]opportunity.Item, error)
	SaveMatch(ctx context.Context, m opportunity.Match) error
	ClearMatches(ctx context.Context, opportunityIDs []string) error
	HasMatch(ctx context.Context, companyID, opportunityID string) (bool, error)
}

// Engine runs the vector-similarity + optional LLM-gate matching
// pipeline described in §4.7.
type Engine struct {
	store              Store
	embeddings         *embedding.Service
	validator          *llm.Validator
	vectorThreshold    float64
	enableLLMValidation bool
}

// Config configures one Engine instance.
type Config struct {
	VectorThreshold     float64
	EnableLLMValidation bool
}

// New constructs a matching Engine. validator may be nil when
// EnableLLMValidation is false.
func New(store Store, embeddings *embedding.Service, validator *llm.Validator, cfg Config) *Engine {
	return &Engine{
		store:               store,
		embeddings:          embeddings,
		validator:           validator,
		vectorThreshold:     cfg.VectorThreshold,
		enableLLMValidation: cfg.EnableLLMValidation,
	}
}

// Summary tallies one matching run's outcome.
type Summary struct {
	CompaniesEvaluated    int
	OpportunitiesEvaluated int
	CandidatesAboveThreshold int
	MatchesSaved          int
	LLMRejected           int
}

// RunFull re-evaluates every open opportunity against every company,
// clearing prior matches for those opportunities first so stale matches
// from a since-changed company profile don't linger.
func (e *Engine) RunFull(ctx context.Context, provider string) (Summary, error) {
	opportunities, err := e.store.Search(ctx, provider, persistence.SearchFilters{Status: string(opportunity.StatusOpen)}, 0, 0)
	if err != nil {
		return Summary{}, err
	}
	ids := make([]string, len(opportunities))
	for i, o := range opportunities {
		ids[i] = o.ExternalID
	}
	if err := e.store.ClearMatches(ctx, ids); err != nil {
		return Summary{}, err
	}
	return e.run(ctx, opportunities)
}

// RunIncremental evaluates only opportunities created within the given
// window (the "incremental_window" configuration, default 7 days),
// skipping pairs that already have a saved match.
func (e *Engine) RunIncremental(ctx context.Context, provider string, window time.Duration) (Summary, error) {
	since := time.Now().Add(-window)
	opportunities, err := e.store.Search(ctx, provider, persistence.SearchFilters{
		Status:   string(opportunity.StatusOpen),
		DateFrom: &since,
	}, 0, 0)
	if err != nil {
		return Summary{}, err
	}
	return e.run(ctx, opportunities)
}

func (e *Engine) run(ctx context.Context, opportunities []opportunity.Opportunity) (Summary, error) {
	var summary Summary

	companies, err := e.store.ListCompanies(ctx)
	if err != nil {
		return summary, err
	}
	summary.CompaniesEvaluated = len(companies)
	summary.OpportunitiesEvaluated = len(opportunities)

	if len(companies) == 0 || len(opportunities) == 0 {
		return summary, nil
	}

	companyTexts := make([]string, len(companies))
	for i, c := range companies {
		companyTexts[i] = c.Text()
	}
	companyVecs, err := e.embeddings.EmbedTexts(ctx, companyTexts)
	if err != nil {
		return summary, err
	}

	for _, opp := range opportunities {
		items, err := e.store.GetItems(ctx, opp.ExternalID)
		if err != nil {
			log.WithError(err).WithField("opportunity", opp.ExternalID).Warn("failed to load items for matching, proceeding without them")
		}
		oppVecs, err := e.embeddings.EmbedTexts(ctx, []string{opp.Text(items)})
		if err != nil || len(oppVecs) == 0 {
			log.WithError(err).WithField("opportunity", opp.ExternalID).Warn("failed to embed opportunity, skipping")
			continue
		}
		oppVec := oppVecs[0]

		for i, company := range companies {
			already, err := e.store.HasMatch(ctx, company.ID, opp.ExternalID)
			if err == nil && already {
				continue
			}

			score := embedding.CosineSimilarity(oppVec, companyVecs[i])
			if score < e.vectorThreshold {
				continue
			}
			summary.CandidatesAboveThreshold++

			match := opportunity.Match{
				CompanyID:       company.ID,
				OpportunityID:   opp.ExternalID,
				SimilarityScore: score,
				CreatedAt:       time.Now().UTC(),
			}

			if e.enableLLMValidation && e.validator != nil {
				result := e.validator.Validate(ctx, company, opp, items)
				approved := result.Approved
				match.LLMApproved = &approved
				match.LLMReasoning = result.Reasoning
				if !approved {
					summary.LLMRejected++
				}
				// Persist even rejected matches with their reasoning
				// (§4 Supplemented Features) so a human can audit why.
			}

			if err := e.store.SaveMatch(ctx, match); err != nil {
				log.WithError(err).WithField("opportunity", opp.ExternalID).Warn("failed to save match")
				continue
			}
			summary.MatchesSaved++
		}
	}

	return summary, nil
}
