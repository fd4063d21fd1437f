package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/alicit/licita/internal/config"
)

// HTTPTier calls an OpenAI-compatible /v1/embeddings endpoint, the same
// request/response shape the teacher's GenerateEmbeddings/FetchEmbeddings
// helpers use against llama.cpp-style servers, generalized here with the
// retry/backoff policy this component's tiering requires.
type HTTPTier struct {
	cfg        config.EmbeddingTierConfig
	httpClient *http.Client
	maxAttempts int
}

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// NewHTTPTier constructs a tier bound to one configured embedding endpoint.
func NewHTTPTier(cfg config.EmbeddingTierConfig) *HTTPTier {
	return &HTTPTier{
		cfg:         cfg,
		httpClient:  &http.Client{},
		maxAttempts: 5,
	}
}

func (t *HTTPTier) Name() string   { return t.cfg.Model }
func (t *HTTPTier) Dimension() int { return t.cfg.Dimensions }

// MaxBatchSize returns the tier's configured batch_size, or 0 (no
// tier-specific cap) when unset.
func (t *HTTPTier) MaxBatchSize() int { return t.cfg.BatchSize }

func (t *HTTPTier) Ping(ctx context.Context) error {
	_, err := t.EmbedBatch(ctx, []string{"ping"})
	return err
}

// EmbedBatch sends the whole batch in one request (per tier's configured
// batch_size, chunked by the caller) with the attempt/backoff policy:
// each attempt's timeout grows by 30s, up to 5 attempts; 429 responses
// back off 2^(n+2) seconds; 5xx back off 2^n seconds; any other 4xx
// abandons this tier immediately so the chain falls through.
func (t *HTTPTier) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{
		Input:          texts,
		Model:          t.cfg.Model,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < t.maxAttempts; attempt++ {
		timeout := 120*time.Second + time.Duration(attempt)*30*time.Second
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		vecs, retryAfter, abandon, err := t.doRequest(attemptCtx, body, attempt)
		cancel()
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if abandon {
			return nil, fmt.Errorf("%w: %s: %v", ErrTierExhausted, t.cfg.Model, err)
		}
		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %s: attempts exhausted: %v", ErrTierExhausted, t.cfg.Model, lastErr)
}

// doRequest performs one HTTP attempt. retryAfter is the backoff to
// apply before the next attempt when err != nil and abandon is false.
func (t *HTTPTier) doRequest(ctx context.Context, body []byte, attempt int) (vecs [][]float32, retryAfter time.Duration, abandon bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Host, bytes.NewReader(body))
	if err != nil {
		return nil, 0, true, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, 2 * time.Second, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var parsed embeddingResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, 0, true, fmt.Errorf("decode embedding response: %w", err)
		}
		out := make([][]float32, len(parsed.Data))
		for _, d := range parsed.Data {
			out[d.Index] = d.Embedding
		}
		return out, 0, false, nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	statusErr := fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, string(respBody))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, backoffSeconds(attempt + 2), false, statusErr
	case resp.StatusCode >= 500:
		return nil, backoffSeconds(attempt), false, statusErr
	default:
		return nil, 0, true, statusErr
	}
}

// backoffSeconds is 2^n seconds, n being the retry policy's exponent
// (attempt+2 for 429, attempt for 5xx, per spec §4.5).
func backoffSeconds(n int) time.Duration {
	return time.Duration(math.Pow(2, float64(n))) * time.Second
}
