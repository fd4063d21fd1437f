package opportunity

import "time"

// Filters is the cross-provider search filter set (spec §4.1). All fields
// are optional; zero values mean "unconstrained".
type Filters struct {
	Keywords string // treated as a disjunction of OR-ed quoted phrases when pre-expanded

	RegionCode  string
	CountryCode string

	MinValue     *float64
	MaxValue     *float64
	CurrencyCode string

	PublicationDateFrom *time.Time
	PublicationDateTo   *time.Time

	SubmissionDeadlineFrom *time.Time
	SubmissionDeadlineTo   *time.Time

	Page     int
	PageSize int

	SortBy    string
	SortOrder string
}

// Clone returns a shallow copy, safe to mutate independently (used when a
// caller's filters are enhanced with synonym expansion before fan-out).
func (f Filters) Clone() Filters {
	return f
}
