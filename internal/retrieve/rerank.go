package retrieve

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alicit/licita/internal/llm"
	"github.com/alicit/licita/internal/vectorstore"
)

// Reranker asks an LLM to re-score hybrid-search candidates against the
// query, the same strict-JSON-then-heuristic-fallback shape the
// matching validator uses: any error, timeout, or unparsable response
// degrades to the original hybrid-search order rather than discarding
// candidates.
type Reranker struct {
	provider llm.Provider
	timeout  time.Duration
}

// NewReranker wraps a provider with the rerank pass's timeout policy.
func NewReranker(provider llm.Provider) *Reranker {
	return &Reranker{provider: provider, timeout: 45 * time.Second}
}

const rerankSystemPrompt = `Você recebe uma pergunta e uma lista numerada de trechos de um edital de licitação.
Responda estritamente em JSON no formato {"ranking": [3, 1, 4, ...]} listando os números dos trechos
em ordem decrescente de relevância para responder à pergunta. Inclua apenas números da lista recebida.`

// Rerank reorders hits by relevance to query and returns at most limit
// of them. On any provider or parse failure it falls back to the
// original hybrid-search order, truncated to limit.
func (r *Reranker) Rerank(ctx context.Context, query string, hits []vectorstore.Result, limit int) ([]vectorstore.Result, error) {
	if len(hits) == 0 {
		return hits, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.provider.Complete(ctx, rerankSystemPrompt, buildRerankPrompt(query, hits))
	if err != nil {
		return topN(hits, limit), fmt.Errorf("rerank call failed: %w", err)
	}

	order, ok := parseRanking(raw, len(hits))
	if !ok {
		return topN(hits, limit), fmt.Errorf("rerank response unparsable")
	}

	out := make([]vectorstore.Result, 0, limit)
	seen := make(map[int]bool)
	for _, idx := range order {
		if idx < 1 || idx > len(hits) || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, hits[idx-1])
		if len(out) == limit {
			return out, nil
		}
	}
	// fill any remainder from the original order, skipping what's used.
	for i, h := range hits {
		if seen[i+1] {
			continue
		}
		out = append(out, h)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func buildRerankPrompt(query string, hits []vectorstore.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pergunta: %s\n\n", query)
	for i, h := range hits {
		fmt.Fprintf(&sb, "%d. (página %d) %s\n", i+1, h.Chunk.PageNumber, truncate(h.Chunk.Text, 400))
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type rankingJSON struct {
	Ranking []int `json:"ranking"`
}

var rerankJSONPattern = regexp.MustCompile(`(?s)\{.*\}`)

func parseRanking(raw string, n int) ([]int, bool) {
	candidate := strings.TrimSpace(raw)
	if m := rerankJSONPattern.FindString(candidate); m != "" {
		candidate = m
	}
	var parsed rankingJSON
	if err := json.Unmarshal([]byte(candidate), &parsed); err == nil && len(parsed.Ranking) > 0 {
		return parsed.Ranking, true
	}
	return heuristicRanking(raw, n)
}

var numberPattern = regexp.MustCompile(`\d+`)

// heuristicRanking degrades gracefully when the model doesn't return
// valid JSON: it pulls every integer mentioned, in the order mentioned,
// as a best-effort ranking.
func heuristicRanking(raw string, n int) ([]int, bool) {
	matches := numberPattern.FindAllString(raw, -1)
	if len(matches) == 0 {
		return nil, false
	}
	var order []int
	for _, m := range matches {
		v, err := strconv.Atoi(m)
		if err != nil || v < 1 || v > n {
			continue
		}
		order = append(order, v)
	}
	if len(order) == 0 {
		return nil, false
	}
	return order, true
}
