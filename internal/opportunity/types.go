// Package opportunity defines the normalized schema shared by every
// provider adapter, mapper, and downstream component: the lingua franca
// described in the data model.
package opportunity

import (
	"strings"
	"time"
)

// Status is the derived lifecycle state of an opportunity.
type Status string

const (
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusUndefined Status = "undefined"
)

// MaterialOrService classifies an opportunity item.
type MaterialOrService string

const (
	Material MaterialOrService = "material"
	Service  MaterialOrService = "service"
)

// Opportunity is the normalized tender notice, the primary key being
// (ProviderName, ExternalID).
type Opportunity struct {
	ProviderName string
	ExternalID   string

	Title       string
	Description string

	EstimatedValue *float64 // nil => sealed/undisclosed
	CurrencyCode   string

	CountryCode  string
	RegionCode   string
	Municipality string

	PublicationDate    *time.Time
	SubmissionDeadline *time.Time
	OpeningDate        *time.Time

	ProcuringEntityID   string
	ProcuringEntityName string

	// ProviderSpecificData is preserved verbatim for display. Cross-provider
	// code must never read it — only the typed fields above.
	ProviderSpecificData map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ComputeStatus derives the opportunity's status against wall-clock time.
// A tender is considered closed starting one day before its deadline.
func ComputeStatus(deadline *time.Time, now time.Time) Status {
	if deadline == nil {
		return StatusUndefined
	}
	closesAt := deadline.AddDate(0, 0, -1)
	if now.Before(closesAt) {
		return StatusOpen
	}
	return StatusClosed
}

// Status returns this opportunity's derived status as of now.
func (o Opportunity) Status(now time.Time) Status {
	return ComputeStatus(o.SubmissionDeadline, now)
}

// Item is one line of a tender's shopping list.
type Item struct {
	OpportunityExternalID string
	ItemNumber            int
	Description           string
	Quantity               float64
	Unit                   string
	UnitEstimatedValue     *float64
	MaterialOrService      MaterialOrService
	NCMCode                string // classification code, empty if absent
	MEEPPExclusive         bool
}

// Company is a supplier candidate evaluated against opportunities by the
// matching engine.
type Company struct {
	ID          string
	LegalName   string
	TradeName   string
	TaxID       string
	Description string
	Products    []string
	Keywords    []string
	OwnerUserID string
}

// Text builds the company's matching text representation: name,
// description, products, and keywords joined, per the matching algorithm.
func (c Company) Text() string {
	parts := []string{c.LegalName, c.Description}
	parts = append(parts, c.Products...)
	parts = append(parts, c.Keywords...)
	return strings.Join(nonEmpty(parts), " ")
}

// Text builds the opportunity's matching text representation: title,
// description, and the concatenation of item descriptions.
func (o Opportunity) Text(items []Item) string {
	parts := []string{o.Title, o.Description}
	for _, it := range items {
		parts = append(parts, it.Description)
	}
	return strings.Join(nonEmpty(parts), " ")
}

func nonEmpty(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// Match records a scored (company, opportunity) pairing.
type Match struct {
	CompanyID       string
	OpportunityID   string
	SimilarityScore float64
	LLMApproved     *bool
	LLMReasoning    string
	CreatedAt       time.Time
}

// DocumentExtractionStatus tracks a document's processing lifecycle.
type DocumentExtractionStatus string

const (
	ExtractionPending    DocumentExtractionStatus = "pending"
	ExtractionProcessing DocumentExtractionStatus = "processing"
	ExtractionDone       DocumentExtractionStatus = "done"
	ExtractionFailed     DocumentExtractionStatus = "failed"
)

// Document is an attachment of a tender.
type Document struct {
	ID              string
	OpportunityID   string
	Title           string
	StorageURL      string
	SizeBytes       int64
	ContentHash     string
	MimeType        string
	ExtractionStatus DocumentExtractionStatus
	ExtractedText   string
}

// ChunkType classifies a chunk's structural role.
type ChunkType string

const (
	ChunkTitle      ChunkType = "title"
	ChunkSubtitle   ChunkType = "subtitle"
	ChunkParagraph  ChunkType = "paragraph"
	ChunkList       ChunkType = "list"
	ChunkTable      ChunkType = "table"
)

// Chunk is a bounded, overlapping text span suitable for embedding.
type Chunk struct {
	ID            string
	DocumentID    string
	OpportunityID string
	Text          string
	ChunkType     ChunkType
	PageNumber    int
	SectionTitle  string
	TokenCount    int
	CharCount     int
	Embedding     []float32
	Metadata      map[string]string
}
