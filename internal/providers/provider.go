// Package providers implements the C1 Provider Adapter abstraction: an
// explicit registry from provider name to a small interface, so new sources
// register at startup and no component switches on concrete adapter types.
package providers

import (
	"context"

	"github.com/alicit/licita/internal/opportunity"
)

// Adapter speaks one source's protocol and yields normalized opportunities.
type Adapter interface {
	// Search returns all opportunities matching the filters, across pages,
	// deduplicated by ExternalID within the call.
	Search(ctx context.Context, filters opportunity.Filters) ([]opportunity.Opportunity, error)

	// GetDetails returns the full record for one external ID, or nil if
	// not found. May be identical to the search result for some providers.
	GetDetails(ctx context.Context, externalID string) (*opportunity.Opportunity, error)

	// GetItems returns the shopping-list items for one external ID.
	GetItems(ctx context.Context, externalID string) ([]opportunity.Item, error)

	// ProviderName is the lowercase tag identifying this source, e.g.
	// "rest_portal" or "scrape_portal".
	ProviderName() string

	// Metadata reports adapter-level facts for the registry (base URL,
	// modality, etc.), display-only.
	Metadata() map[string]any
}

// Registry is the process-singleton mapping of provider name to Adapter.
// New providers register at startup and the registry is immutable
// thereafter; a lookup of an unknown name reports ok=false (see Get).
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own ProviderName. Registering the
// same name twice is a programmer error and panics, mirroring the
// fail-fast policy for broken contracts.
func (r *Registry) Register(a Adapter) {
	name := a.ProviderName()
	if name == "" {
		panic("providers: adapter reports empty provider name")
	}
	if _, exists := r.adapters[name]; exists {
		panic("providers: duplicate registration for provider " + name)
	}
	r.adapters[name] = a
}

// Get looks up an adapter by provider name. ok is false for unknown names;
// callers performing a dynamic dispatch (search_by_provider) should surface
// this as a validation error, not panic, since the name comes from an
// external caller rather than from code.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns every registered provider name.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	return out
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}
