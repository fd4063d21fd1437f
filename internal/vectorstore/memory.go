package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/alicit/licita/internal/embedding"
	"github.com/alicit/licita/internal/opportunity"
)

// MemoryStore is an in-process Store backed by a slice scan, grounded on
// the teacher's memoryVector backend.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]opportunity.Chunk // by chunk ID
}

// NewMemoryStore constructs an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]opportunity.Chunk)}
}

func (m *MemoryStore) SaveChunks(_ context.Context, chunks []opportunity.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *MemoryStore) DeleteChunksForDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.chunks {
		if c.DocumentID == documentID {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *MemoryStore) CountChunks(_ context.Context, opportunityID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.chunks {
		if opportunityID == "" || c.OpportunityID == opportunityID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) VectorizationStatus(_ context.Context, opportunityID string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make(map[string]bool)
	var status Status
	for _, c := range m.chunks {
		if c.OpportunityID != opportunityID {
			continue
		}
		docs[c.DocumentID] = true
		status.TotalChunks++
	}
	status.TotalDocuments = len(docs)
	status.ProcessedDocuments = len(docs)
	return status, nil
}

func (m *MemoryStore) SimilaritySearch(_ context.Context, vector []float32, k int, opportunityID string) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	results := make([]Result, 0, len(m.chunks))
	for _, c := range m.chunks {
		if opportunityID != "" && c.OpportunityID != opportunityID {
			continue
		}
		results = append(results, Result{Chunk: c, Score: embedding.CosineSimilarity(vector, c.Embedding)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *MemoryStore) KeywordSearch(_ context.Context, query string, k int, opportunityID string) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	results := make([]Result, 0, len(m.chunks))
	for _, c := range m.chunks {
		if opportunityID != "" && c.OpportunityID != opportunityID {
			continue
		}
		score := keywordScore(c.Text, query)
		if score <= 0 {
			continue
		}
		results = append(results, Result{Chunk: c, Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

var _ Store = (*MemoryStore)(nil)
