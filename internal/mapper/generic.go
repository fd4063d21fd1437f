package mapper

import (
	"regexp"
	"time"

	"github.com/alicit/licita/internal/opportunity"
)

// GenericMapper implements DataMapper for providers whose required-field
// set is just "title and external id present". Provider-specific mappers
// (RESTMapper and ScrapeMapper below) embed this and override Validate.
type GenericMapper struct {
	Provider string
}

func (g GenericMapper) ProviderName() string { return g.Provider }

func (g GenericMapper) Validate(o opportunity.Opportunity) bool {
	return o.ExternalID != "" && o.Title != ""
}

func (g GenericMapper) OpportunityToRow(o opportunity.Opportunity) Row {
	return Row{
		ProviderName:         o.ProviderName,
		ExternalID:           o.ExternalID,
		Title:                o.Title,
		Description:          o.Description,
		EstimatedValue:       o.EstimatedValue,
		CurrencyCode:         o.CurrencyCode,
		CountryCode:          o.CountryCode,
		RegionCode:           o.RegionCode,
		Municipality:         o.Municipality,
		PublicationDate:      toUnix(o.PublicationDate),
		SubmissionDeadline:   toUnix(o.SubmissionDeadline),
		OpeningDate:          toUnix(o.OpeningDate),
		ProcuringEntityID:    o.ProcuringEntityID,
		ProcuringEntityName:  o.ProcuringEntityName,
		ProviderSpecificData: o.ProviderSpecificData,
		CreatedAt:            toUnixOr(o.CreatedAt, time.Now()),
		UpdatedAt:            toUnixOr(o.UpdatedAt, time.Now()),
	}
}

func (g GenericMapper) RowToOpportunity(r Row) opportunity.Opportunity {
	return opportunity.Opportunity{
		ProviderName:         r.ProviderName,
		ExternalID:           r.ExternalID,
		Title:                r.Title,
		Description:          r.Description,
		EstimatedValue:       r.EstimatedValue,
		CurrencyCode:         r.CurrencyCode,
		CountryCode:          r.CountryCode,
		RegionCode:           r.RegionCode,
		Municipality:         r.Municipality,
		PublicationDate:      fromUnix(r.PublicationDate),
		SubmissionDeadline:   fromUnix(r.SubmissionDeadline),
		OpeningDate:          fromUnix(r.OpeningDate),
		ProcuringEntityID:    r.ProcuringEntityID,
		ProcuringEntityName:  r.ProcuringEntityName,
		ProviderSpecificData: r.ProviderSpecificData,
		CreatedAt:            time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt:            time.Unix(r.UpdatedAt, 0).UTC(),
	}
}

func toUnix(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.Unix()
	return &v
}

func toUnixOr(t time.Time, fallback time.Time) int64 {
	if t.IsZero() {
		return fallback.Unix()
	}
	return t.Unix()
}

func fromUnix(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

// RESTMapper maps the REST-portal provider's rows. It requires a
// ProcuringEntityID (the upstream tax id) in addition to the generic
// requirements, since the REST control-number reconstruction depends on it.
type RESTMapper struct {
	GenericMapper
}

// NewRESTMapper constructs the REST portal's mapper.
func NewRESTMapper(providerName string) RESTMapper {
	return RESTMapper{GenericMapper{Provider: providerName}}
}

func (m RESTMapper) Validate(o opportunity.Opportunity) bool {
	return m.GenericMapper.Validate(o) && o.ProcuringEntityID != ""
}

// ScrapeMapper maps the HTML-scrape provider's rows. It requires the
// synthesized external id shape ("scrape_<uasg>_<num>_<year>").
type ScrapeMapper struct {
	GenericMapper
}

// NewScrapeMapper constructs the HTML-scrape portal's mapper.
func NewScrapeMapper(providerName string) ScrapeMapper {
	return ScrapeMapper{GenericMapper{Provider: providerName}}
}

var scrapeIDPattern = regexp.MustCompile(`^scrape_\d+_\d+_\d+$`)

func (m ScrapeMapper) Validate(o opportunity.Opportunity) bool {
	return m.GenericMapper.Validate(o) && scrapeIDPattern.MatchString(o.ExternalID)
}
