package mapper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicit/licita/internal/opportunity"
)

// sampleOpportunity returns a fully populated Opportunity with all
// timestamps truncated to the second, since Row stores them as unix
// seconds and the round-trip law only needs to hold at that precision.
func sampleOpportunity() opportunity.Opportunity {
	now := time.Now().UTC().Truncate(time.Second)
	deadline := now.AddDate(0, 0, 10)
	opening := now.AddDate(0, 0, 5)
	value := 150000.50
	return opportunity.Opportunity{
		ProviderName:        "rest_portal",
		ExternalID:          "11111111000191-1-000001/2026",
		Title:               "Aquisição de notebooks",
		Description:         "Pregão eletrônico para compra de equipamentos de informática",
		EstimatedValue:      &value,
		CurrencyCode:        "BRL",
		CountryCode:         "BR",
		RegionCode:          "SP",
		Municipality:        "São Paulo",
		PublicationDate:     &now,
		SubmissionDeadline:  &deadline,
		OpeningDate:         &opening,
		ProcuringEntityID:   "11111111000191",
		ProcuringEntityName: "Prefeitura de São Paulo",
		ProviderSpecificData: map[string]any{
			"unidade_codigo": "0001",
			"unidade_nome":   "Secretaria de Administração",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TestGenericMapperRoundTripsOpportunity proves RowToOpportunity(
// OpportunityToRow(o)) == o for every field GenericMapper carries.
func TestGenericMapperRoundTripsOpportunity(t *testing.T) {
	t.Parallel()
	m := GenericMapper{Provider: "rest_portal"}
	o := sampleOpportunity()

	row := m.OpportunityToRow(o)
	back := m.RowToOpportunity(row)

	assert.Equal(t, o, back)
}

func TestRESTMapperRoundTripsOpportunity(t *testing.T) {
	t.Parallel()
	m := NewRESTMapper("rest_portal")
	o := sampleOpportunity()

	row := m.OpportunityToRow(o)
	back := m.RowToOpportunity(row)

	assert.Equal(t, o, back)
}

func TestScrapeMapperRoundTripsOpportunity(t *testing.T) {
	t.Parallel()
	m := NewScrapeMapper("scrape_portal")
	o := sampleOpportunity()
	o.ProviderName = "scrape_portal"
	o.ExternalID = "scrape_000001_1_2026"

	row := m.OpportunityToRow(o)
	back := m.RowToOpportunity(row)

	assert.Equal(t, o, back)
}

// TestGenericMapperRoundTripsNilOptionalFields proves the law still
// holds when every nullable field (EstimatedValue, the three date
// fields, ProviderSpecificData) is nil/empty.
func TestGenericMapperRoundTripsNilOptionalFields(t *testing.T) {
	t.Parallel()
	m := GenericMapper{Provider: "rest_portal"}
	now := time.Now().UTC().Truncate(time.Second)
	o := opportunity.Opportunity{
		ProviderName: "rest_portal",
		ExternalID:   "11111111000191-1-000002/2026",
		Title:        "Aquisição de papel",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	row := m.OpportunityToRow(o)
	back := m.RowToOpportunity(row)

	assert.Equal(t, o, back)
}

func TestRESTMapperValidateRequiresProcuringEntityID(t *testing.T) {
	t.Parallel()
	m := NewRESTMapper("rest_portal")
	o := sampleOpportunity()
	require.True(t, m.Validate(o))

	o.ProcuringEntityID = ""
	assert.False(t, m.Validate(o))
}
