package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alicit/licita/internal/logging"
	"github.com/alicit/licita/internal/mapper"
	"github.com/alicit/licita/internal/opportunity"
)

var log = logging.WithComponent("persistence")

const schemaDDL = `
CREATE TABLE IF NOT EXISTS opportunities (
	id UUID PRIMARY KEY,
	provider_name TEXT NOT NULL,
	external_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	region_code TEXT,
	country_code TEXT,
	municipality TEXT,
	estimated_value DOUBLE PRECISION,
	currency_code TEXT,
	procuring_entity_id TEXT,
	procuring_entity_name TEXT,
	publication_date TIMESTAMPTZ,
	submission_deadline TIMESTAMPTZ,
	opening_date TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (provider_name, external_id)
);
CREATE INDEX IF NOT EXISTS idx_opportunities_region ON opportunities (region_code);
CREATE INDEX IF NOT EXISTS idx_opportunities_created ON opportunities (created_at DESC);

CREATE TABLE IF NOT EXISTS opportunity_items (
	opportunity_external_id TEXT NOT NULL,
	item_number INT NOT NULL,
	description TEXT,
	quantity DOUBLE PRECISION,
	unit TEXT,
	unit_estimated_value DOUBLE PRECISION,
	material_or_service TEXT,
	ncm_code TEXT,
	me_epp_exclusive BOOLEAN,
	PRIMARY KEY (opportunity_external_id, item_number)
);

CREATE TABLE IF NOT EXISTS companies (
	id UUID PRIMARY KEY,
	legal_name TEXT NOT NULL,
	trade_name TEXT,
	tax_id TEXT,
	description TEXT,
	products TEXT[],
	keywords TEXT[],
	owner_user_id TEXT
);

CREATE TABLE IF NOT EXISTS matches (
	company_id UUID NOT NULL,
	opportunity_id UUID NOT NULL,
	similarity_score DOUBLE PRECISION NOT NULL,
	llm_approved BOOLEAN,
	llm_reasoning TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (company_id, opportunity_id)
);

CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	opportunity_id TEXT NOT NULL,
	title TEXT,
	storage_url TEXT,
	size_bytes BIGINT,
	content_hash TEXT,
	mime_type TEXT,
	extraction_status TEXT,
	extracted_text TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_opportunity ON documents (opportunity_id);

CREATE TABLE IF NOT EXISTS embedding_cache (
	text_hash TEXT PRIMARY KEY,
	text_preview TEXT,
	embedding DOUBLE PRECISION[],
	model_name TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ NOT NULL,
	access_count INT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS rag_document_processed (
	document_id TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore implements Store over pgx/pgxpool, using INSERT ... ON
// CONFLICT upserts for idempotent writes.
type PostgresStore struct {
	pool    *pgxpool.Pool
	mappers MapperLookup
}

// NewPostgresStore builds a Postgres-backed Store. A nil pool falls back
// to an in-process MemoryStore so callers never have to branch on whether
// a database was actually configured.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, mappers MapperLookup) Store {
	if pool == nil {
		log.Warn("no postgres pool configured, falling back to in-memory persistence store")
		return NewMemoryStore(mappers)
	}
	s := &PostgresStore{pool: pool, mappers: mappers}
	if err := s.init(ctx); err != nil {
		log.WithError(err).Error("persistence schema init failed, falling back to in-memory store")
		return NewMemoryStore(mappers)
	}
	return s
}

func (s *PostgresStore) init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, o opportunity.Opportunity) (bool, error) {
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

	now := time.Now().UTC()
	id := uuid.New()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO opportunities (
			id, provider_name, external_id, title, description,
			region_code, country_code, municipality, estimated_value, currency_code,
			procuring_entity_id, procuring_entity_name, publication_date,
			submission_deadline, opening_date, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)
		ON CONFLICT (provider_name, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			region_code = EXCLUDED.region_code,
			country_code = EXCLUDED.country_code,
			municipality = EXCLUDED.municipality,
			estimated_value = EXCLUDED.estimated_value,
			currency_code = EXCLUDED.currency_code,
			procuring_entity_id = EXCLUDED.procuring_entity_id,
			procuring_entity_name = EXCLUDED.procuring_entity_name,
			publication_date = EXCLUDED.publication_date,
			submission_deadline = EXCLUDED.submission_deadline,
			opening_date = EXCLUDED.opening_date,
			updated_at = EXCLUDED.updated_at
	`,
		id, o.ProviderName, o.ExternalID, o.Title, o.Description,
		o.RegionCode, o.CountryCode, o.Municipality, o.EstimatedValue, o.CurrencyCode,
		o.ProcuringEntityID, o.ProcuringEntityName, o.PublicationDate,
		o.SubmissionDeadline, o.OpeningDate, now,
	)
	if err != nil {
		return false, fmt.Errorf("persistence: save opportunity: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) SaveBatch(ctx context.Context, opportunities []opportunity.Opportunity) (BatchResult, error) {
	var res BatchResult
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

func (s *PostgresStore) Get(ctx context.Context, provider, externalID string) (*opportunity.Opportunity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT provider_name, external_id, title, description,
			region_code, country_code, municipality, estimated_value, currency_code,
			procuring_entity_id, procuring_entity_name, publication_date,
			submission_deadline, opening_date, created_at, updated_at
		FROM opportunities WHERE provider_name = $1 AND external_id = $2
	`, provider, externalID)
	o, err := scanOpportunity(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: get opportunity: %w", err)
	}
	return o, nil
}

func scanOpportunity(row pgx.Row) (*opportunity.Opportunity, error) {
	var o opportunity.Opportunity
	err := row.Scan(
		&o.ProviderName, &o.ExternalID, &o.Title, &o.Description,
		&o.RegionCode, &o.CountryCode, &o.Municipality, &o.EstimatedValue, &o.CurrencyCode,
		&o.ProcuringEntityID, &o.ProcuringEntityName, &o.PublicationDate,
		&o.SubmissionDeadline, &o.OpeningDate, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) Search(ctx context.Context, provider string, filters SearchFilters, limit, offset int) ([]opportunity.Opportunity, error) {
	query := `
		SELECT provider_name, external_id, title, description,
			region_code, country_code, municipality, estimated_value, currency_code,
			procuring_entity_id, procuring_entity_name, publication_date,
			submission_deadline, opening_date, created_at, updated_at
		FROM opportunities WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if provider != "" {
		query += " AND provider_name = " + arg(provider)
	}
	if filters.RegionCode != "" {
		query += " AND region_code = " + arg(filters.RegionCode)
	}
	if filters.DateFrom != nil {
		query += " AND created_at >= " + arg(*filters.DateFrom)
	}
	if filters.DateTo != nil {
		query += " AND created_at <= " + arg(*filters.DateTo)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT " + arg(limit)
	}
	if offset > 0 {
		query += " OFFSET " + arg(offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("persistence: search opportunities: %w", err)
	}
	defer rows.Close()

	var out []opportunity.Opportunity
	now := time.Now()
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("persistence: scan opportunity: %w", err)
		}
		if filters.Status != "" && string(o.Status(now)) != filters.Status {
			continue
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM opportunities`).Scan(&st.Total); err != nil {
		return st, fmt.Errorf("persistence: stats total: %w", err)
	}
	rows, err := s.pool.Query(ctx, `SELECT provider_name, COUNT(*) FROM opportunities GROUP BY provider_name ORDER BY provider_name`)
	if err != nil {
		return st, fmt.Errorf("persistence: stats by provider: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ps ProviderStat
		if err := rows.Scan(&ps.Provider, &ps.Count); err != nil {
			return st, err
		}
		st.ByProvider = append(st.ByProvider, ps)
	}
	return st, rows.Err()
}

func (s *PostgresStore) SaveItems(ctx context.Context, opportunityExternalID string, items []opportunity.Item) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("persistence: begin save items: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM opportunity_items WHERE opportunity_external_id = $1`, opportunityExternalID); err != nil {
		return fmt.Errorf("persistence: clear items: %w", err)
	}
	for _, it := range items {
		_, err := tx.Exec(ctx, `
			INSERT INTO opportunity_items (
				opportunity_external_id, item_number, description, quantity,
				unit, unit_estimated_value, material_or_service, ncm_code, me_epp_exclusive
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, opportunityExternalID, it.ItemNumber, it.Description, it.Quantity,
			it.Unit, it.UnitEstimatedValue, string(it.MaterialOrService), it.NCMCode, it.MEEPPExclusive)
		if err != nil {
			return fmt.Errorf("persistence: insert item: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetItems(ctx context.Context, opportunityExternalID string) ([]opportunity.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT item_number, description, quantity, unit, unit_estimated_value,
			material_or_service, ncm_code, me_epp_exclusive
		FROM opportunity_items WHERE opportunity_external_id = $1 ORDER BY item_number
	`, opportunityExternalID)
	if err != nil {
		return nil, fmt.Errorf("persistence: get items: %w", err)
	}
	defer rows.Close()

	var out []opportunity.Item
	for rows.Next() {
		var it opportunity.Item
		var mos string
		it.OpportunityExternalID = opportunityExternalID
		if err := rows.Scan(&it.ItemNumber, &it.Description, &it.Quantity, &it.Unit,
			&it.UnitEstimatedValue, &mos, &it.NCMCode, &it.MEEPPExclusive); err != nil {
			return nil, err
		}
		it.MaterialOrService = opportunity.MaterialOrService(mos)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCompany(ctx context.Context, id string) (*opportunity.Company, error) {
	var c opportunity.Company
	err := s.pool.QueryRow(ctx, `
		SELECT id, legal_name, trade_name, tax_id, description, products, keywords, owner_user_id
		FROM companies WHERE id = $1
	`, id).Scan(&c.ID, &c.LegalName, &c.TradeName, &c.TaxID, &c.Description, &c.Products, &c.Keywords, &c.OwnerUserID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: get company: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]opportunity.Company, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, legal_name, trade_name, tax_id, description, products, keywords, owner_user_id
		FROM companies ORDER BY legal_name
	`)
	if err != nil {
		return nil, fmt.Errorf("persistence: list companies: %w", err)
	}
	defer rows.Close()
	var out []opportunity.Company
	for rows.Next() {
		var c opportunity.Company
		if err := rows.Scan(&c.ID, &c.LegalName, &c.TradeName, &c.TaxID, &c.Description, &c.Products, &c.Keywords, &c.OwnerUserID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveMatch(ctx context.Context, m opportunity.Match) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO matches (company_id, opportunity_id, similarity_score, llm_approved, llm_reasoning, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (company_id, opportunity_id) DO UPDATE SET
			similarity_score = EXCLUDED.similarity_score,
			llm_approved = EXCLUDED.llm_approved,
			llm_reasoning = EXCLUDED.llm_reasoning
	`, m.CompanyID, m.OpportunityID, m.SimilarityScore, m.LLMApproved, m.LLMReasoning, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("persistence: save match: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearMatches(ctx context.Context, opportunityIDs []string) error {
	if len(opportunityIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM matches WHERE opportunity_id = ANY($1)`, opportunityIDs)
	if err != nil {
		return fmt.Errorf("persistence: clear matches: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasMatch(ctx context.Context, companyID, opportunityID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM matches WHERE company_id = $1 AND opportunity_id = $2)`,
		companyID, opportunityID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("persistence: has match: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) SaveDocument(ctx context.Context, d opportunity.Document) (string, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, opportunity_id, title, storage_url, size_bytes, content_hash, mime_type, extraction_status, extracted_text, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			extraction_status = EXCLUDED.extraction_status,
			content_hash = EXCLUDED.content_hash,
			storage_url = EXCLUDED.storage_url,
			extracted_text = EXCLUDED.extracted_text
	`, d.ID, d.OpportunityID, d.Title, d.StorageURL, d.SizeBytes, d.ContentHash, d.MimeType,
		string(d.ExtractionStatus), d.ExtractedText, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("persistence: save document: %w", err)
	}
	return d.ID, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*opportunity.Document, error) {
	var d opportunity.Document
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, opportunity_id, title, storage_url, size_bytes, content_hash, mime_type, extraction_status, extracted_text
		FROM documents WHERE id = $1
	`, id).Scan(&d.ID, &d.OpportunityID, &d.Title, &d.StorageURL, &d.SizeBytes, &d.ContentHash, &d.MimeType, &status, &d.ExtractedText)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: get document: %w", err)
	}
	d.ExtractionStatus = opportunity.DocumentExtractionStatus(status)
	return &d, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, opportunityID string) ([]opportunity.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, opportunity_id, title, storage_url, size_bytes, content_hash, mime_type, extraction_status, extracted_text
		FROM documents WHERE opportunity_id = $1 ORDER BY created_at
	`, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list documents: %w", err)
	}
	defer rows.Close()
	var out []opportunity.Document
	for rows.Next() {
		var d opportunity.Document
		var status string
		if err := rows.Scan(&d.ID, &d.OpportunityID, &d.Title, &d.StorageURL, &d.SizeBytes, &d.ContentHash, &d.MimeType, &status, &d.ExtractedText); err != nil {
			return nil, err
		}
		d.ExtractionStatus = opportunity.DocumentExtractionStatus(status)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteChunksForDocument(ctx context.Context, documentID string) error {
	// Chunk rows live in the vector store's own table; this store only
	// clears the dedup marker so a reprocess is forced.
	_, err := s.pool.Exec(ctx, `DELETE FROM rag_document_processed WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("persistence: clear processed marker: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEmbeddingCache(ctx context.Context, textHashes []string) (map[string][]float32, error) {
	if len(textHashes) == 0 {
		return map[string][]float32{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT text_hash, embedding FROM embedding_cache WHERE text_hash = ANY($1)
	`, textHashes)
	if err != nil {
		return nil, fmt.Errorf("persistence: get embedding cache: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	var hits []string
	for rows.Next() {
		var hash string
		var vec []float64
		if err := rows.Scan(&hash, &vec); err != nil {
			return nil, err
		}
		f32 := make([]float32, len(vec))
		for i, v := range vec {
			f32[i] = float32(v)
		}
		out[hash] = f32
		hits = append(hits, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		now := time.Now().UTC()
		_, _ = s.pool.Exec(ctx, `
			UPDATE embedding_cache SET last_accessed_at = $2, access_count = access_count + 1
			WHERE text_hash = ANY($1)
		`, hits, now)
	}
	return out, nil
}

func (s *PostgresStore) PutEmbeddingCache(ctx context.Context, entries []EmbeddingCacheEntry) error {
	now := time.Now().UTC()
	for _, e := range entries {
		vec := make([]float64, len(e.Embedding))
		for i, v := range e.Embedding {
			vec[i] = float64(v)
		}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO embedding_cache (text_hash, text_preview, embedding, model_name, created_at, last_accessed_at, access_count)
			VALUES ($1,$2,$3,$4,$5,$5,1)
			ON CONFLICT (text_hash) DO UPDATE SET
				last_accessed_at = EXCLUDED.last_accessed_at,
				access_count = embedding_cache.access_count + 1
		`, e.TextHash, e.TextPreview, vec, e.ModelName, now)
		if err != nil {
			return fmt.Errorf("persistence: put embedding cache: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetProcessedHash(ctx context.Context, documentID string) (string, bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `SELECT content_hash FROM rag_document_processed WHERE document_id = $1`, documentID).Scan(&hash)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("persistence: get processed hash: %w", err)
	}
	return hash, true, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, documentID, contentHash string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rag_document_processed (document_id, content_hash, processed_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (document_id) DO UPDATE SET content_hash = EXCLUDED.content_hash, processed_at = EXCLUDED.processed_at
	`, documentID, contentHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("persistence: mark processed: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
var _ mapper.DataMapper = (*mapper.GenericMapper)(nil)
