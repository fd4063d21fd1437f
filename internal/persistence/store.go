// Package persistence implements the C3 Persistence Service: opportunity
// upserts keyed by (provider, external_id), batch writes, and filtered
// search, plus the embedding cache and RAG document/chunk tables that the
// other components share the same connection pool with.
package persistence

import (
	"context"
	"time"

	"github.com/alicit/licita/internal/mapper"
	"github.com/alicit/licita/internal/opportunity"
)

// SearchFilters is the SQL-level filter set search() accepts; per spec
// §4.3 this is intentionally narrower than the provider-level Filters.
type SearchFilters struct {
	Status       string
	RegionCode   string
	Category     string
	DateFrom     *time.Time
	DateTo       *time.Time
}

// BatchResult tallies a save_batch call's outcome; Success+Failed+Skipped
// always equals the input length.
type BatchResult struct {
	Success int
	Failed  int
	Skipped int
}

// ProviderStat is one row of Stats()'s by_provider breakdown.
type ProviderStat struct {
	Provider string
	Count    int
}

// Stats summarizes the opportunities table.
type Stats struct {
	Total      int
	ByProvider []ProviderStat
}

// Store is the C3 contract.
type Store interface {
	// Save upserts one opportunity keyed by (ProviderName, ExternalID).
	// It dispatches to the mapper registry; on update it refreshes
	// UpdatedAt and never overwrites CreatedAt.
	Save(ctx context.Context, o opportunity.Opportunity) (bool, error)

	// SaveBatch groups opportunities by provider to amortize mapper
	// lookup. An opportunity with no ProviderName is skipped, not failed.
	SaveBatch(ctx context.Context, opportunities []opportunity.Opportunity) (BatchResult, error)

	Get(ctx context.Context, provider, externalID string) (*opportunity.Opportunity, error)

	Search(ctx context.Context, provider string, filters SearchFilters, limit, offset int) ([]opportunity.Opportunity, error)

	Stats(ctx context.Context) (Stats, error)

	SaveItems(ctx context.Context, opportunityExternalID string, items []opportunity.Item) error
	GetItems(ctx context.Context, opportunityExternalID string) ([]opportunity.Item, error)

	// Companies and Matches (§3) share this store's pool.
	GetCompany(ctx context.Context, id string) (*opportunity.Company, error)
	ListCompanies(ctx context.Context) ([]opportunity.Company, error)

	SaveMatch(ctx context.Context, m opportunity.Match) error
	ClearMatches(ctx context.Context, opportunityIDs []string) error
	HasMatch(ctx context.Context, companyID, opportunityID string) (bool, error)

	// Documents (§3, used by C8/C9/C10/C14).
	SaveDocument(ctx context.Context, d opportunity.Document) (string, error)
	GetDocument(ctx context.Context, id string) (*opportunity.Document, error)
	ListDocuments(ctx context.Context, opportunityID string) ([]opportunity.Document, error)
	DeleteChunksForDocument(ctx context.Context, documentID string) error

	// Embedding cache (§3, §4.5). Rows are never rewritten on conflict:
	// only LastAccessedAt/AccessCount advance.
	GetEmbeddingCache(ctx context.Context, textHashes []string) (map[string][]float32, error)
	PutEmbeddingCache(ctx context.Context, entries []EmbeddingCacheEntry) error

	// RAG document-processed dedup table (§6, C14).
	GetProcessedHash(ctx context.Context, documentID string) (string, bool, error)
	MarkProcessed(ctx context.Context, documentID, contentHash string) error
}

// EmbeddingCacheEntry is one row of the embedding_cache table.
type EmbeddingCacheEntry struct {
	TextHash    string
	TextPreview string
	Embedding   []float32
	ModelName   string
}

// MapperLookup is the subset of mapper.Registry a Store needs; kept as an
// interface so tests can stub it.
type MapperLookup interface {
	Lookup(providerName string) (mapper.DataMapper, error)
}
