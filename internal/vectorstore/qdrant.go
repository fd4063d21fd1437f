package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/alicit/licita/internal/opportunity"
)

// chunkIDField stores the original chunk ID in the point payload, since
// Qdrant point IDs must be UUIDs or positive integers.
const chunkIDField = "_chunk_id"

// QdrantStore stores chunk vectors in a Qdrant collection and keeps a
// local index of full chunk bodies for keyword search and status queries,
// since Qdrant itself only serves vector search.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int

	mu     sync.RWMutex
	byID   map[string]opportunity.Chunk
	byDoc  map[string][]string
}

// NewQdrantStore connects to Qdrant over its gRPC API (default port 6334)
// and ensures the target collection exists, grounded on the teacher's
// qdrantVector backend.
func NewQdrantStore(addr string, collection string, dimensions int, metric string) (*QdrantStore, error) {
	if collection == "" {
		collection = "licita_chunks"
	}
	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse qdrant addr: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = addr
	}
	port := 6334
	if p := parsed.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create qdrant client: %w", err)
	}

	q := &QdrantStore{
		client:     client,
		collection: collection,
		dimension:  dimensions,
		byID:       make(map[string]opportunity.Chunk),
		byDoc:      make(map[string][]string),
	}
	if err := q.ensureCollection(context.Background(), metric); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *QdrantStore) ensureCollection(ctx context.Context, metric string) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("vectorstore: check qdrant collection: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	if q.dimension <= 0 {
		return fmt.Errorf("vectorstore: qdrant requires dimensions > 0")
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
}

func pointIDFor(chunkID string) string {
	if _, err := uuid.Parse(chunkID); err == nil {
		return chunkID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func (q *QdrantStore) SaveChunks(ctx context.Context, chunks []opportunity.Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		vec := make([]float32, len(c.Embedding))
		copy(vec, c.Embedding)
		payload := map[string]any{
			chunkIDField:     c.ID,
			"document_id":    c.DocumentID,
			"opportunity_id": c.OpportunityID,
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointIDFor(c.ID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	if len(points) > 0 {
		if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points}); err != nil {
			return fmt.Errorf("vectorstore: qdrant upsert: %w", err)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range chunks {
		q.byID[c.ID] = c
		q.byDoc[c.DocumentID] = append(q.byDoc[c.DocumentID], c.ID)
	}
	return nil
}

func (q *QdrantStore) DeleteChunksForDocument(ctx context.Context, documentID string) error {
	q.mu.Lock()
	ids := q.byDoc[documentID]
	delete(q.byDoc, documentID)
	for _, id := range ids {
		delete(q.byID, id)
	}
	q.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(pointIDFor(id))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	return err
}

func (q *QdrantStore) CountChunks(_ context.Context, opportunityID string) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, c := range q.byID {
		if opportunityID == "" || c.OpportunityID == opportunityID {
			n++
		}
	}
	return n, nil
}

func (q *QdrantStore) VectorizationStatus(_ context.Context, opportunityID string) (Status, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	docs := make(map[string]bool)
	var status Status
	for _, c := range q.byID {
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

func (q *QdrantStore) SimilaritySearch(ctx context.Context, vector []float32, k int, opportunityID string) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	var filter *qdrant.Filter
	if opportunityID != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("opportunity_id", opportunityID)}}
	}
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant query: %w", err)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		chunkID := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload[chunkIDField]; ok {
				chunkID = v.GetStringValue()
			}
		}
		c, ok := q.byID[chunkID]
		if !ok {
			continue
		}
		out = append(out, Result{Chunk: c, Score: float64(hit.Score)})
	}
	return out, nil
}

// KeywordSearch has no native backing in Qdrant, so it scores the local
// chunk index the same substring-coverage way the memory backend does.
func (q *QdrantStore) KeywordSearch(_ context.Context, query string, k int, opportunityID string) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []Result
	for _, c := range q.byID {
		if opportunityID != "" && c.OpportunityID != opportunityID {
			continue
		}
		score := keywordScore(c.Text, query)
		if score <= 0 {
			continue
		}
		out = append(out, Result{Chunk: c, Score: score})
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (q *QdrantStore) Close() error { return q.client.Close() }

var _ Store = (*QdrantStore)(nil)
