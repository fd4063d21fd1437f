package retrieve

import (
	"context"
	"fmt"

	"github.com/alicit/licita/internal/extract"
	"github.com/alicit/licita/internal/opportunity"
	"github.com/alicit/licita/internal/persistence"
	"github.com/alicit/licita/internal/providers"
)

// PersistenceStore adapts persistence.Store to retrieve.Store. Tender
// control numbers are unique across providers in practice, so
// FindOpportunity scans the registry's known provider names rather than
// requiring callers to already know which provider issued an opportunity.
type PersistenceStore struct {
	store    persistence.Store
	registry *providers.Registry
}

// NewPersistenceStore wires a persistence.Store and the provider registry
// into the Store contract the retrieval engine needs.
func NewPersistenceStore(store persistence.Store, registry *providers.Registry) *PersistenceStore {
	return &PersistenceStore{store: store, registry: registry}
}

func (p *PersistenceStore) FindOpportunity(ctx context.Context, opportunityID string) (*opportunity.Opportunity, error) {
	for _, a := range p.registry.All() {
		o, err := p.store.Get(ctx, a.ProviderName(), opportunityID)
		if err != nil {
			return nil, err
		}
		if o != nil {
			return o, nil
		}
	}
	return nil, nil
}

func (p *PersistenceStore) ListDocuments(ctx context.Context, opportunityID string) ([]opportunity.Document, error) {
	return p.store.ListDocuments(ctx, opportunityID)
}

func (p *PersistenceStore) SaveDocument(ctx context.Context, d opportunity.Document) (string, error) {
	return p.store.SaveDocument(ctx, d)
}

// ListerResolver builds an AttachmentListerResolver backed by the
// provider registry: each adapter already implements
// extract.AttachmentLister via its ListAttachments method.
func ListerResolver(registry *providers.Registry) AttachmentListerResolver {
	return func(_ context.Context, providerName string) (extract.AttachmentLister, error) {
		a, ok := registry.Get(providerName)
		if !ok {
			return nil, fmt.Errorf("resolving provider %q: unknown provider", providerName)
		}
		lister, ok := a.(extract.AttachmentLister)
		if !ok {
			return nil, fmt.Errorf("provider %q does not support attachment listing", providerName)
		}
		return lister, nil
	}
}
