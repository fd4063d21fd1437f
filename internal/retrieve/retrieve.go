// Package retrieve implements the C11 Retrieval & Answer Engine: an
// answer cache check, a just-in-time vectorization pipeline trigger
// (extraction → chunking → embedding → vector store), hybrid retrieval
// with an LLM-based rerank pass, and a grounded answering call.
package retrieve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alicit/licita/internal/cache"
	"github.com/alicit/licita/internal/chunk"
	"github.com/alicit/licita/internal/dedup"
	"github.com/alicit/licita/internal/embedding"
	"github.com/alicit/licita/internal/extract"
	"github.com/alicit/licita/internal/llm"
	"github.com/alicit/licita/internal/logging"
	"github.com/alicit/licita/internal/opportunity"
	"github.com/alicit/licita/internal/vectorstore"
)

var log = logging.WithComponent("retrieve")

// candidatePoolSize is how many hybrid-search hits feed the reranker;
// finalChunkCount is how many survive it, per §4.11 step 4.
const (
	candidatePoolSize = 12
	finalChunkCount   = 8
	answerCacheTTL    = time.Hour
)

// Store is the subset of persistence.Store the retrieval engine needs.
// FindOpportunity resolves by external_id alone (tender control numbers
// are unique across providers in practice); callers backed by
// persistence.Store typically implement it by scanning the provider
// registry's known provider names.
type Store interface {
	FindOpportunity(ctx context.Context, opportunityID string) (*opportunity.Opportunity, error)
	ListDocuments(ctx context.Context, opportunityID string) ([]opportunity.Document, error)
	SaveDocument(ctx context.Context, d opportunity.Document) (string, error)
}

// Source is one grounding citation accompanying an answer.
type Source struct {
	DocumentID   string
	PageNumber   int
	SectionTitle string
}

// AnswerResult is the C11 `answer` operation's success payload.
type AnswerResult struct {
	Answer     string
	Sources    []Source
	ChunksUsed int
	Cost       float64
	Cached     bool
	Latency    time.Duration
}

// AttachmentListerResolver locates the AttachmentLister for an
// opportunity's provider; cmd/ wiring supplies one backed by the
// provider registry.
type AttachmentListerResolver func(ctx context.Context, providerName string) (extract.AttachmentLister, error)

// Engine wires C11's pipeline-trigger and answering stages together.
type Engine struct {
	store        Store
	vectorStore  vectorstore.Store
	extractor    *extract.Extractor
	listers      AttachmentListerResolver
	dedup        *dedup.Service
	chunkOpts    chunk.Options
	embeddings   *embedding.Service
	reranker     *Reranker
	answerer     llm.Provider
	answerCache  cache.Cache
}

// New constructs a retrieval Engine. reranker may be nil, in which case
// the top finalChunkCount hybrid-search hits are used unranked.
func New(store Store, vectorStore vectorstore.Store, extractor *extract.Extractor, listers AttachmentListerResolver,
	dedupSvc *dedup.Service, chunkOpts chunk.Options, embeddings *embedding.Service, reranker *Reranker,
	answerer llm.Provider, answerCache cache.Cache) *Engine {
	return &Engine{
		store:        store,
		vectorStore:  vectorStore,
		extractor:    extractor,
		listers:      listers,
		dedup:        dedupSvc,
		chunkOpts:    chunkOpts,
		embeddings:   embeddings,
		reranker:     reranker,
		answerer:     answerer,
		answerCache:  answerCache,
	}
}

func answerCacheKey(opportunityID, query string) string {
	return "rag_answer:" + opportunityID + ":" + embedding.TextHash(query)
}

// Answer implements §4.11: cache check, ensure-vectorized, hybrid
// retrieve + rerank, grounded completion, cache write.
func (e *Engine) Answer(ctx context.Context, opportunityID, query string) opportunity.Result[AnswerResult] {
	start := time.Now()
	query = strings.TrimSpace(query)
	if opportunityID == "" || query == "" {
		return opportunity.Fail[AnswerResult](opportunity.ErrValidation, "opportunity_id and query are required", "invalid_request")
	}

	key := answerCacheKey(opportunityID, query)
	if e.answerCache != nil {
		if raw, ok := e.answerCache.Get(ctx, key); ok {
			var cached AnswerResult
			if err := json.Unmarshal(raw, &cached); err == nil {
				cached.Cached = true
				cached.Latency = time.Since(start)
				return opportunity.Ok(cached)
			}
		}
	}

	opp, err := e.store.FindOpportunity(ctx, opportunityID)
	if err != nil || opp == nil {
		return opportunity.Fail[AnswerResult](opportunity.ErrValidation, "opportunity not found", "opportunity_not_found")
	}

	if err := e.ensureVectorized(ctx, *opp); err != nil {
		log.WithError(err).WithField("opportunity", opportunityID).Warn("vectorization pipeline failed")
		return opportunity.Fail[AnswerResult](opportunity.ErrUpstreamTransient, err.Error(), "documents_not_found")
	}

	queryVecs, err := e.embeddings.EmbedTexts(ctx, []string{query})
	if err != nil || len(queryVecs) == 0 {
		return opportunity.Fail[AnswerResult](opportunity.ErrUpstreamTransient, "failed to embed query", "api_error")
	}

	hits, err := vectorstore.HybridSearch(ctx, e.vectorStore, queryVecs[0], query, candidatePoolSize, opportunityID)
	if err != nil {
		return opportunity.Fail[AnswerResult](opportunity.ErrUpstreamTransient, err.Error(), "api_error")
	}
	if len(hits) == 0 {
		return opportunity.Fail[AnswerResult](opportunity.ErrValidation, "no indexed content for this opportunity", "documents_not_found")
	}

	ranked := hits
	if e.reranker != nil {
		ranked, err = e.reranker.Rerank(ctx, query, hits, finalChunkCount)
		if err != nil {
			log.WithError(err).Warn("rerank failed, falling back to hybrid-search order")
			ranked = topN(hits, finalChunkCount)
		}
	} else {
		ranked = topN(hits, finalChunkCount)
	}

	answer, cost, err := e.compose(ctx, *opp, query, ranked)
	if err != nil {
		return opportunity.Fail[AnswerResult](opportunity.ErrUpstreamTransient, err.Error(), "api_error")
	}

	sources := make([]Source, 0, len(ranked))
	for _, r := range ranked {
		sources = append(sources, Source{
			DocumentID:   r.Chunk.DocumentID,
			PageNumber:   r.Chunk.PageNumber,
			SectionTitle: r.Chunk.SectionTitle,
		})
	}

	result := AnswerResult{
		Answer:     answer,
		Sources:    sources,
		ChunksUsed: len(ranked),
		Cost:       cost,
		Cached:     false,
		Latency:    time.Since(start),
	}

	if e.answerCache != nil {
		if raw, err := json.Marshal(result); err == nil {
			e.answerCache.Set(ctx, key, raw, answerCacheTTL)
		}
	}
	return opportunity.Ok(result)
}

// ensureVectorized implements §4.11 step 2: when the opportunity has no
// stored documents it lists, extracts and saves its attachments; it then
// chunks and embeds every extracted document that changed since its last
// processed hash, and saves the resulting chunks to the vector store.
func (e *Engine) ensureVectorized(ctx context.Context, opp opportunity.Opportunity) error {
	docs, err := e.store.ListDocuments(ctx, opp.ExternalID)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}

	if len(docs) == 0 {
		lister, err := e.listers(ctx, opp.ProviderName)
		if err != nil {
			return fmt.Errorf("resolving attachment lister: %w", err)
		}
		extracted, err := e.extractor.ProcessOpportunity(ctx, lister, opp.ExternalID)
		if err != nil {
			return fmt.Errorf("extracting attachments: %w", err)
		}
		for _, d := range extracted {
			if _, err := e.store.SaveDocument(ctx, d); err != nil {
				return fmt.Errorf("saving document: %w", err)
			}
		}
		docs = extracted
	}

	for _, d := range docs {
		if d.ExtractionStatus != opportunity.ExtractionDone || d.ExtractedText == "" {
			continue
		}
		needsProcessing := true
		if e.dedup != nil {
			needsProcessing, err = e.dedup.ShouldProcess(ctx, d.ID, d.ContentHash)
			if err != nil {
				log.WithError(err).WithField("document", d.ID).Warn("dedup check failed, reprocessing document")
				needsProcessing = true
			}
		}
		if !needsProcessing {
			continue
		}

		chunks := chunk.Build(d.ID, opp.ExternalID, d.ExtractedText, e.chunkOpts)
		if len(chunks) == 0 {
			continue
		}
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vecs, err := e.embeddings.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding chunks for document %s: %w", d.ID, err)
		}
		for i := range chunks {
			chunks[i].Embedding = vecs[i]
		}
		if err := e.vectorStore.DeleteChunksForDocument(ctx, d.ID); err != nil {
			log.WithError(err).WithField("document", d.ID).Warn("failed to clear stale chunks before re-save")
		}
		if err := e.vectorStore.SaveChunks(ctx, chunks); err != nil {
			return fmt.Errorf("saving chunks for document %s: %w", d.ID, err)
		}
		if e.dedup != nil {
			if err := e.dedup.MarkProcessed(ctx, d.ID, d.ContentHash); err != nil {
				log.WithError(err).WithField("document", d.ID).Warn("failed to mark document processed")
			}
		}
	}
	return nil
}

func topN(hits []vectorstore.Result, n int) []vectorstore.Result {
	if len(hits) <= n {
		return hits
	}
	return hits[:n]
}

const answerSystemPrompt = `Você responde perguntas sobre licitações públicas brasileiras usando apenas o contexto fornecido.
Cite a página e a seção de onde vem cada informação. Se o contexto não contiver a resposta, diga que não sabe.`

// compose builds the grounded prompt and calls the answering provider.
// Cost is a rough per-character estimate; providers here don't return
// token usage, so it's a conservative proxy, not a billing figure.
func (e *Engine) compose(ctx context.Context, opp opportunity.Opportunity, query string, chunks []vectorstore.Result) (string, float64, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Licitação: %s\nEntidade: %s\nObjeto: %s\n\n", opp.Title, opp.ProcuringEntityName, opp.Description)
	sb.WriteString("Trechos do edital:\n")
	for i, r := range chunks {
		fmt.Fprintf(&sb, "[%d] (página %d, seção %q) %s\n\n", i+1, r.Chunk.PageNumber, r.Chunk.SectionTitle, r.Chunk.Text)
	}
	fmt.Fprintf(&sb, "Pergunta: %s\n", query)

	answer, err := e.answerer.Complete(ctx, answerSystemPrompt, sb.String())
	if err != nil {
		return "", 0, err
	}
	cost := float64(len(sb.String())+len(answer)) * costPerChar
	return answer, cost, nil
}

const costPerChar = 0.000002
