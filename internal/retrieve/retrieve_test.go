package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicit/licita/internal/cache"
	"github.com/alicit/licita/internal/chunk"
	"github.com/alicit/licita/internal/embedding"
	"github.com/alicit/licita/internal/extract"
	"github.com/alicit/licita/internal/opportunity"
	"github.com/alicit/licita/internal/persistence"
	"github.com/alicit/licita/internal/vectorstore"
)

type fakeStore struct {
	opps      map[string]opportunity.Opportunity
	docs      map[string][]opportunity.Document
	savedDocs []opportunity.Document
}

func newFakeStore() *fakeStore {
	return &fakeStore{opps: make(map[string]opportunity.Opportunity), docs: make(map[string][]opportunity.Document)}
}

func (f *fakeStore) FindOpportunity(_ context.Context, id string) (*opportunity.Opportunity, error) {
	o, ok := f.opps[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}
func (f *fakeStore) ListDocuments(_ context.Context, opportunityID string) ([]opportunity.Document, error) {
	return f.docs[opportunityID], nil
}
func (f *fakeStore) SaveDocument(_ context.Context, d opportunity.Document) (string, error) {
	f.savedDocs = append(f.savedDocs, d)
	return d.ID, nil
}

type fakeVectorStore struct {
	chunks      []opportunity.Chunk
	saveCalls   int
	deleteCalls int
}

func (f *fakeVectorStore) SaveChunks(_ context.Context, chunks []opportunity.Chunk) error {
	f.saveCalls++
	f.chunks = append(f.chunks, chunks...)
	return nil
}
func (f *fakeVectorStore) DeleteChunksForDocument(_ context.Context, documentID string) error {
	f.deleteCalls++
	kept := f.chunks[:0]
	for _, c := range f.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	f.chunks = kept
	return nil
}
func (f *fakeVectorStore) CountChunks(_ context.Context, opportunityID string) (int, error) {
	n := 0
	for _, c := range f.chunks {
		if c.OpportunityID == opportunityID {
			n++
		}
	}
	return n, nil
}
func (f *fakeVectorStore) VectorizationStatus(_ context.Context, _ string) (vectorstore.Status, error) {
	return vectorstore.Status{}, nil
}
func (f *fakeVectorStore) SimilaritySearch(_ context.Context, _ []float32, k int, opportunityID string) ([]vectorstore.Result, error) {
	var out []vectorstore.Result
	for _, c := range f.chunks {
		if c.OpportunityID != opportunityID {
			continue
		}
		out = append(out, vectorstore.Result{Chunk: c, Score: 1})
		if len(out) == k {
			break
		}
	}
	return out, nil
}
func (f *fakeVectorStore) KeywordSearch(_ context.Context, query string, k int, opportunityID string) ([]vectorstore.Result, error) {
	var out []vectorstore.Result
	for _, c := range f.chunks {
		if c.OpportunityID != opportunityID {
			continue
		}
		out = append(out, vectorstore.Result{Chunk: c, Score: 0.5})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

type fakeEmbedCacheStore struct{ entries map[string][]float32 }

func newFakeEmbedCacheStore() *fakeEmbedCacheStore {
	return &fakeEmbedCacheStore{entries: make(map[string][]float32)}
}
func (s *fakeEmbedCacheStore) GetEmbeddingCache(_ context.Context, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	for _, h := range hashes {
		if v, ok := s.entries[h]; ok {
			out[h] = v
		}
	}
	return out, nil
}
func (s *fakeEmbedCacheStore) PutEmbeddingCache(_ context.Context, entries []persistence.EmbeddingCacheEntry) error {
	for _, e := range entries {
		s.entries[e.TextHash] = e.Embedding
	}
	return nil
}

type fakeAnswerer struct {
	response string
	calls    int
}

func (f *fakeAnswerer) Name() string { return "fake" }
func (f *fakeAnswerer) Complete(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return f.response, nil
}

func newTestEngine(t *testing.T, store *fakeStore, vs *fakeVectorStore, answerer *fakeAnswerer, c cache.Cache) *Engine {
	t.Helper()
	embeddings := embedding.NewServiceWithChain(embedding.NewChain(embedding.NewDeterministic(16, 0)), newFakeEmbedCacheStore(), 10)
	extractor := extract.New(nil, t.TempDir())
	return New(store, vs, extractor, nil, nil, chunk.DefaultOptions(), embeddings, nil, answerer, c)
}

func TestAnswerReturnsValidationErrorForUnknownOpportunity(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	vs := &fakeVectorStore{}
	answerer := &fakeAnswerer{response: "resposta"}
	engine := newTestEngine(t, store, vs, answerer, cache.NewMemory())

	result := engine.Answer(context.Background(), "missing", "qual a data de abertura?")
	assert.False(t, result.Success())
	assert.Equal(t, "opportunity_not_found", result.Action)
}

func TestAnswerRejectsEmptyQuery(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	vs := &fakeVectorStore{}
	answerer := &fakeAnswerer{response: "resposta"}
	engine := newTestEngine(t, store, vs, answerer, cache.NewMemory())

	result := engine.Answer(context.Background(), "opp-1", "   ")
	assert.False(t, result.Success())
	assert.Equal(t, "invalid_request", result.Action)
}

func TestAnswerVectorizesAndAnswersThenServesFromCache(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.opps["opp-1"] = opportunity.Opportunity{ProviderName: "rest_portal", ExternalID: "opp-1", Title: "Aquisição de papel"}
	store.docs["opp-1"] = []opportunity.Document{{
		ID: "doc-1", OpportunityID: "opp-1", ExtractionStatus: opportunity.ExtractionDone,
		ExtractedText: "Edital de aquisição de papel A4 para as secretarias municipais, conforme especificações do termo de referência.\n\nData de abertura: 20/08/2026.", ContentHash: "h1",
	}}
	vs := &fakeVectorStore{}
	answerer := &fakeAnswerer{response: "A abertura é em 20/08/2026."}
	engine := newTestEngine(t, store, vs, answerer, cache.NewMemory())

	result := engine.Answer(context.Background(), "opp-1", "qual a data de abertura?")
	require.True(t, result.Success())
	assert.Equal(t, "A abertura é em 20/08/2026.", result.Data.Answer)
	assert.False(t, result.Data.Cached)
	assert.Positive(t, result.Data.ChunksUsed)
	assert.Equal(t, 1, answerer.calls)

	second := engine.Answer(context.Background(), "opp-1", "qual a data de abertura?")
	require.True(t, second.Success())
	assert.True(t, second.Data.Cached)
	assert.Equal(t, 1, answerer.calls, "cached answer must not call the LLM again")
}

func TestAnswerFailsWithDocumentsNotFoundWhenNoContentIndexable(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.opps["opp-2"] = opportunity.Opportunity{ProviderName: "rest_portal", ExternalID: "opp-2", Title: "Sem anexos"}
	store.docs["opp-2"] = nil
	vs := &fakeVectorStore{}
	answerer := &fakeAnswerer{response: "resposta"}
	engine := newTestEngine(t, store, vs, answerer, cache.NewMemory())
	engine.listers = func(_ context.Context, _ string) (extract.AttachmentLister, error) {
		return emptyLister{}, nil
	}

	result := engine.Answer(context.Background(), "opp-2", "qual o objeto?")
	assert.False(t, result.Success())
	assert.Equal(t, "documents_not_found", result.Action)
}

type emptyLister struct{}

func (emptyLister) ListAttachments(_ context.Context, _ string) ([]extract.AttachmentRef, error) {
	return nil, nil
}
