// Package synonym implements the C6 Synonym Service: LLM-backed term
// expansion with a per-process cache so a term that was expanded once is
// not sent to the model again.
package synonym

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/alicit/licita/internal/llm"
	"github.com/alicit/licita/internal/logging"
)

var log = logging.WithComponent("synonym")

const maxSynonyms = 5

const systemPrompt = `Você gera sinônimos e termos relacionados para busca em licitações públicas brasileiras.
Responda apenas com uma lista separada por vírgulas, sem explicações, no máximo 5 termos.`

// Service expands a keyword into related terms useful for widening a
// provider search's keyword filter.
type Service struct {
	provider llm.Provider

	mu    sync.Mutex
	cache map[string][]string
}

// New wires a synonym service to an LLM provider.
func New(provider llm.Provider) *Service {
	return &Service{provider: provider, cache: make(map[string][]string)}
}

// Expand returns up to 5 related terms for term, memoized per process by
// lowercase-trimmed term so repeated calls in the same run do not re-query
// the model once a term has been expanded; a failed call is not cached.
func (s *Service) Expand(ctx context.Context, term string) ([]string, error) {
	key := strings.ToLower(strings.TrimSpace(term))
	if key == "" {
		return nil, nil
	}

	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	raw, err := s.provider.Complete(ctx, systemPrompt, fmt.Sprintf("Termo: %s", term))
	if err != nil {
		log.WithError(err).WithField("term", term).Warn("synonym expansion failed, returning no synonyms")
		return nil, nil
	}

	terms := parseTermList(raw)

	s.mu.Lock()
	s.cache[key] = terms
	s.mu.Unlock()

	return terms, nil
}

func parseTermList(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.TrimSpace(f)
		if t == "" {
			continue
		}
		out = append(out, t)
		if len(out) == maxSynonyms {
			break
		}
	}
	return out
}

// BuildDisjunction joins term and its expansions into the quoted-OR
// keyword string providers expect, e.g. `"papel" OR "papelaria"`.
func BuildDisjunction(term string, synonyms []string) string {
	all := append([]string{term}, synonyms...)
	quoted := make([]string, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, t := range all {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		quoted = append(quoted, fmt.Sprintf("%q", t))
	}
	return strings.Join(quoted, " OR ")
}
