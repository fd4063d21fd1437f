package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alicit/licita/internal/opportunity"
)

// PostgresStore persists chunks and their embeddings in a pgvector column,
// grounded on the teacher's pgVector backend.
type PostgresStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPostgresStore ensures the pgvector extension and chunk table exist
// and returns a Store backed by them.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, dimensions int) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, fmt.Errorf("vectorstore: enable pgvector extension: %w", err)
	}
	vecType := "vector"
	if dimensions > 0 {
		vecType = fmt.Sprintf("vector(%d)", dimensions)
	}
	_, err := pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS rag_chunks (
  id TEXT PRIMARY KEY,
  document_id TEXT NOT NULL,
  opportunity_id TEXT NOT NULL,
  text TEXT NOT NULL,
  chunk_type TEXT NOT NULL,
  page_number INT NOT NULL DEFAULT 0,
  section_title TEXT NOT NULL DEFAULT '',
  token_count INT NOT NULL DEFAULT 0,
  char_count INT NOT NULL DEFAULT 0,
  embedding %s,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS rag_chunks_opportunity_idx ON rag_chunks(opportunity_id);
CREATE INDEX IF NOT EXISTS rag_chunks_document_idx ON rag_chunks(document_id);
`, vecType))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create rag_chunks table: %w", err)
	}
	return &PostgresStore{pool: pool, dimensions: dimensions}, nil
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}

func (p *PostgresStore) SaveChunks(ctx context.Context, chunks []opportunity.Chunk) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
INSERT INTO rag_chunks (id, document_id, opportunity_id, text, chunk_type, page_number, section_title, token_count, char_count, embedding, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::vector,$11)
ON CONFLICT (id) DO UPDATE SET
  text = EXCLUDED.text, chunk_type = EXCLUDED.chunk_type, page_number = EXCLUDED.page_number,
  section_title = EXCLUDED.section_title, token_count = EXCLUDED.token_count,
  char_count = EXCLUDED.char_count, embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata
`, c.ID, c.DocumentID, c.OpportunityID, c.Text, string(c.ChunkType), c.PageNumber, c.SectionTitle,
			c.TokenCount, c.CharCount, toVectorLiteral(c.Embedding), c.Metadata)
		if err != nil {
			return fmt.Errorf("vectorstore: save chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) DeleteChunksForDocument(ctx context.Context, documentID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM rag_chunks WHERE document_id = $1`, documentID)
	return err
}

func (p *PostgresStore) CountChunks(ctx context.Context, opportunityID string) (int, error) {
	var n int
	var err error
	if opportunityID == "" {
		err = p.pool.QueryRow(ctx, `SELECT count(*) FROM rag_chunks`).Scan(&n)
	} else {
		err = p.pool.QueryRow(ctx, `SELECT count(*) FROM rag_chunks WHERE opportunity_id = $1`, opportunityID).Scan(&n)
	}
	return n, err
}

func (p *PostgresStore) VectorizationStatus(ctx context.Context, opportunityID string) (Status, error) {
	var status Status
	err := p.pool.QueryRow(ctx, `
SELECT count(DISTINCT document_id), count(*) FROM rag_chunks WHERE opportunity_id = $1
`, opportunityID).Scan(&status.TotalDocuments, &status.TotalChunks)
	status.ProcessedDocuments = status.TotalDocuments
	return status, err
}

func (p *PostgresStore) scanChunks(rows pgx.Rows) ([]Result, error) {
	defer rows.Close()
	var out []Result
	for rows.Next() {
		var c opportunity.Chunk
		var chunkType string
		var score float64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.OpportunityID, &c.Text, &chunkType,
			&c.PageNumber, &c.SectionTitle, &c.TokenCount, &c.CharCount, &c.Metadata, &score); err != nil {
			return nil, err
		}
		c.ChunkType = opportunity.ChunkType(chunkType)
		out = append(out, Result{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

func (p *PostgresStore) SimilaritySearch(ctx context.Context, vector []float32, k int, opportunityID string) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	vecLit := toVectorLiteral(vector)
	query := `
SELECT id, document_id, opportunity_id, text, chunk_type, page_number, section_title, token_count, char_count, metadata,
       1 - (embedding <=> $1::vector) AS score
FROM rag_chunks`
	args := []any{vecLit}
	if opportunityID != "" {
		query += ` WHERE opportunity_id = $2`
		args = append(args, opportunityID)
	}
	query += ` ORDER BY embedding <=> $1::vector LIMIT ` + fmt.Sprint(k)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return p.scanChunks(rows)
}

func (p *PostgresStore) KeywordSearch(ctx context.Context, query string, k int, opportunityID string) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	sqlQuery := `
SELECT id, document_id, opportunity_id, text, chunk_type, page_number, section_title, token_count, char_count, metadata,
       ts_rank_cd(to_tsvector('portuguese', text), plainto_tsquery('portuguese', $1)) AS score
FROM rag_chunks
WHERE to_tsvector('portuguese', text) @@ plainto_tsquery('portuguese', $1)`
	args := []any{query}
	if opportunityID != "" {
		sqlQuery += ` AND opportunity_id = $2`
		args = append(args, opportunityID)
	}
	sqlQuery += ` ORDER BY score DESC LIMIT ` + fmt.Sprint(k)
	rows, err := p.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	return p.scanChunks(rows)
}

var _ Store = (*PostgresStore)(nil)
