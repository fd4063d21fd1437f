package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alicit/licita/internal/mapper"
	"github.com/alicit/licita/internal/opportunity"
)

type opportunityKey struct{ provider, externalID string }

// MemoryStore is an in-process Store, used for tests and as the fallback
// when no database DSN is configured.
type MemoryStore struct {
	mu      sync.Mutex
	mappers MapperLookup

	opportunities map[opportunityKey]opportunity.Opportunity
	items         map[string][]opportunity.Item // keyed by opportunity external id
	companies     map[string]opportunity.Company
	matches       map[string]opportunity.Match // keyed by companyID+"|"+opportunityID
	documents     map[string]opportunity.Document
	docsByOpp     map[string][]string // opportunityID -> document ids
	embeddingCache map[string]cachedEmbedding
	processed     map[string]string // documentID -> content hash
}

type cachedEmbedding struct {
	entry          EmbeddingCacheEntry
	createdAt      time.Time
	lastAccessedAt time.Time
	accessCount    int
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore(mappers MapperLookup) *MemoryStore {
	return &MemoryStore{
		mappers:        mappers,
		opportunities:  make(map[opportunityKey]opportunity.Opportunity),
		items:          make(map[string][]opportunity.Item),
		companies:      make(map[string]opportunity.Company),
		matches:        make(map[string]opportunity.Match),
		documents:      make(map[string]opportunity.Document),
		docsByOpp:      make(map[string][]string),
		embeddingCache: make(map[string]cachedEmbedding),
		processed:      make(map[string]string),
	}
}

// SeedCompany is a test helper to populate a company row directly.
func (s *MemoryStore) SeedCompany(c opportunity.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[c.ID] = c
}

func matchKey(companyID, opportunityID string) string { return companyID + "|" + opportunityID }

func (s *MemoryStore) Save(ctx context.Context, o opportunity.Opportunity) (bool, error) {
	if o.ProviderName == "" {
		return false, opportunity.NewError(opportunity.ErrValidation, "opportunity missing provider_name")
	}
	m, err := s.mappers.Lookup(o.ProviderName)
	if err != nil {
		return false, err
	}
	if !m.Validate(o) {
		return false, opportunity.NewError(opportunity.ErrValidation, "opportunity failed mapper validation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := opportunityKey{o.ProviderName, o.ExternalID}
	now := time.Now().UTC()
	if existing, ok := s.opportunities[key]; ok {
		o.CreatedAt = existing.CreatedAt
		o.UpdatedAt = now
	} else {
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		o.UpdatedAt = now
	}
	s.opportunities[key] = o
	return true, nil
}

func (s *MemoryStore) SaveBatch(ctx context.Context, opportunities []opportunity.Opportunity) (BatchResult, error) {
	var res BatchResult
	// Group by provider purely to mirror the amortized-lookup contract;
	// the memory backend doesn't need the grouping itself.
	byProvider := make(map[string][]opportunity.Opportunity)
	for _, o := range opportunities {
		if o.ProviderName == "" {
			res.Skipped++
			continue
		}
		byProvider[o.ProviderName] = append(byProvider[o.ProviderName], o)
	}
	for provider, batch := range byProvider {
		if _, err := s.mappers.Lookup(provider); err != nil {
			res.Failed += len(batch)
			continue
		}
		for _, o := range batch {
			if _, err := s.Save(ctx, o); err != nil {
				res.Failed++
				continue
			}
			res.Success++
		}
	}
	return res, nil
}

func (s *MemoryStore) Get(ctx context.Context, provider, externalID string) (*opportunity.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opportunities[opportunityKey{provider, externalID}]
	if !ok {
		return nil, nil
	}
	cp := o
	return &cp, nil
}

func (s *MemoryStore) Search(ctx context.Context, provider string, filters SearchFilters, limit, offset int) ([]opportunity.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out []opportunity.Opportunity
	for k, o := range s.opportunities {
		if provider != "" && k.provider != provider {
			continue
		}
		if filters.RegionCode != "" && o.RegionCode != filters.RegionCode {
			continue
		}
		if filters.Status != "" && string(o.Status(now)) != filters.Status {
			continue
		}
		if filters.DateFrom != nil && o.CreatedAt.Before(*filters.DateFrom) {
			continue
		}
		if filters.DateTo != nil && o.CreatedAt.After(*filters.DateTo) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for k := range s.opportunities {
		counts[k.provider]++
	}
	st := Stats{Total: len(s.opportunities)}
	for p, c := range counts {
		st.ByProvider = append(st.ByProvider, ProviderStat{Provider: p, Count: c})
	}
	sort.Slice(st.ByProvider, func(i, j int) bool { return st.ByProvider[i].Provider < st.ByProvider[j].Provider })
	return st, nil
}

func (s *MemoryStore) SaveItems(ctx context.Context, opportunityExternalID string, items []opportunity.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[opportunityExternalID] = items
	return nil
}

func (s *MemoryStore) GetItems(ctx context.Context, opportunityExternalID string) ([]opportunity.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[opportunityExternalID], nil
}

func (s *MemoryStore) GetCompany(ctx context.Context, id string) (*opportunity.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MemoryStore) ListCompanies(ctx context.Context) ([]opportunity.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]opportunity.Company, 0, len(s.companies))
	for _, c := range s.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveMatch(ctx context.Context, m opportunity.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.matches[matchKey(m.CompanyID, m.OpportunityID)] = m
	return nil
}

func (s *MemoryStore) ClearMatches(ctx context.Context, opportunityIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]bool, len(opportunityIDs))
	for _, id := range opportunityIDs {
		wanted[id] = true
	}
	for k, m := range s.matches {
		if wanted[m.OpportunityID] {
			delete(s.matches, k)
		}
	}
	return nil
}

func (s *MemoryStore) HasMatch(ctx context.Context, companyID, opportunityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.matches[matchKey(companyID, opportunityID)]
	return ok, nil
}

func (s *MemoryStore) SaveDocument(ctx context.Context, d opportunity.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if _, exists := s.documents[d.ID]; !exists {
		s.docsByOpp[d.OpportunityID] = append(s.docsByOpp[d.OpportunityID], d.ID)
	}
	s.documents[d.ID] = d
	return d.ID, nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*opportunity.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, opportunityID string) ([]opportunity.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []opportunity.Document
	for _, id := range s.docsByOpp[opportunityID] {
		out = append(out, s.documents[id])
	}
	return out, nil
}

func (s *MemoryStore) DeleteChunksForDocument(ctx context.Context, documentID string) error {
	// Chunks live in the vector store; this store only owns documents and
	// clears its own dedup marker so reprocessing is forced.
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processed, documentID)
	return nil
}

func (s *MemoryStore) GetEmbeddingCache(ctx context.Context, textHashes []string) (map[string][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]float32)
	now := time.Now().UTC()
	for _, h := range textHashes {
		if ce, ok := s.embeddingCache[h]; ok {
			ce.lastAccessedAt = now
			ce.accessCount++
			s.embeddingCache[h] = ce
			out[h] = ce.entry.Embedding
		}
	}
	return out, nil
}

func (s *MemoryStore) PutEmbeddingCache(ctx context.Context, entries []EmbeddingCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, e := range entries {
		if existing, ok := s.embeddingCache[e.TextHash]; ok {
			// never rewrite; only access bookkeeping advances.
			existing.lastAccessedAt = now
			existing.accessCount++
			s.embeddingCache[e.TextHash] = existing
			continue
		}
		s.embeddingCache[e.TextHash] = cachedEmbedding{
			entry:          e,
			createdAt:      now,
			lastAccessedAt: now,
			accessCount:    1,
		}
	}
	return nil
}

func (s *MemoryStore) GetProcessedHash(ctx context.Context, documentID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.processed[documentID]
	return h, ok, nil
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, documentID, contentHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[documentID] = contentHash
	return nil
}

var _ Store = (*MemoryStore)(nil)
var _ MapperLookup = (*mapper.Registry)(nil)
