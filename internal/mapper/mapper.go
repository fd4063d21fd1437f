// Package mapper implements the C2 Data Mapper Registry: a per-provider
// bidirectional conversion between a normalized Opportunity and the
// persisted row shape, looked up by provider name.
package mapper

import (
	"fmt"

	"github.com/alicit/licita/internal/opportunity"
)

// Row is the flat structure matching the persistence schema.
type Row struct {
	ProviderName string
	ExternalID   string

	Title       string
	Description string

	EstimatedValue *float64
	CurrencyCode   string

	CountryCode  string
	RegionCode   string
	Municipality string

	PublicationDate    *int64 // unix seconds, nullable
	SubmissionDeadline *int64
	OpeningDate        *int64

	ProcuringEntityID   string
	ProcuringEntityName string

	ProviderSpecificData map[string]any

	CreatedAt int64
	UpdatedAt int64
}

// DataMapper is the provider-specific translator between normalized
// opportunity and stored row.
type DataMapper interface {
	// Validate reports whether the opportunity carries this provider's
	// required fields.
	Validate(o opportunity.Opportunity) bool
	OpportunityToRow(o opportunity.Opportunity) Row
	RowToOpportunity(r Row) opportunity.Opportunity
	ProviderName() string
}

// Registry is the process-wide, immutable-after-startup provider-name to
// DataMapper map. New providers are added by registering a new mapper; no
// other component is modified.
type Registry struct {
	mappers map[string]DataMapper
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{mappers: make(map[string]DataMapper)}
}

// Register adds a mapper under its own ProviderName.
func (r *Registry) Register(m DataMapper) {
	name := m.ProviderName()
	if name == "" {
		panic("mapper: mapper reports empty provider name")
	}
	r.mappers[name] = m
}

// Lookup returns the mapper for a provider name, failing fast (an error,
// for callers one layer removed from a panic boundary) on unknown names
// per the registry's fail-fast contract.
func (r *Registry) Lookup(providerName string) (DataMapper, error) {
	m, ok := r.mappers[providerName]
	if !ok {
		return nil, fmt.Errorf("mapper: unknown provider %q", providerName)
	}
	return m, nil
}

// MustLookup is Lookup but panics on an unknown provider; used deep inside
// call chains where an unknown provider name indicates a broken contract
// between the caller and the registry, not user input.
func (r *Registry) MustLookup(providerName string) DataMapper {
	m, err := r.Lookup(providerName)
	if err != nil {
		panic(err)
	}
	return m
}
