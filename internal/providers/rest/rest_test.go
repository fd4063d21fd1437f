package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicit/licita/internal/cache"
	"github.com/alicit/licita/internal/config"
	"github.com/alicit/licita/internal/opportunity"
)

func testConfig(baseURL string) config.RESTProviderConfig {
	return config.RESTProviderConfig{
		Name:             "rest_portal",
		BaseURL:          baseURL,
		ModalityCode:     8,
		PageSize:         2,
		MaxPages:         6,
		BatchSize:        2,
		MaxPerHost:       2,
		WindowPastDays:   14,
		WindowFutureDays: 120,
	}
}

func TestSearchStopsOnShortPageAndAppliesLocalFilters(t *testing.T) {
	t.Parallel()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		pagina := r.URL.Query().Get("pagina")
		w.Header().Set("Content-Type", "application/json")
		switch pagina {
		case "1":
			json.NewEncoder(w).Encode(page{Data: []rawItem{
				{NumeroControlePNCP: "11111111000191-1-000001/2026", ObjetoCompra: "Aquisição de papel A4"},
				{NumeroControlePNCP: "11111111000191-1-000002/2026", ObjetoCompra: "Serviço de limpeza"},
			}})
		case "2":
			// short page: fewer rows than page size, triggers stop.
			json.NewEncoder(w).Encode(page{Data: []rawItem{
				{NumeroControlePNCP: "11111111000191-1-000003/2026", ObjetoCompra: "Compra de papel sulfite"},
			}})
		default:
			json.NewEncoder(w).Encode(page{Data: nil})
		}
	}))
	defer server.Close()

	adapter := New(testConfig(server.URL), cache.NewMemory())
	results, err := adapter.Search(context.Background(), opportunity.Filters{Keywords: "papel"})
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, o := range results {
		ids[o.ExternalID] = true
		assert.Equal(t, "rest_portal", o.ProviderName)
		assert.Equal(t, "BRL", o.CurrencyCode)
	}
	assert.True(t, ids["11111111000191-1-000001/2026"])
	assert.True(t, ids["11111111000191-1-000003/2026"])
	assert.False(t, ids["11111111000191-1-000002/2026"], "cleaning service should be filtered out by the 'papel' keyword")
	// page 3+ should never be requested once a short page is seen.
	assert.LessOrEqual(t, int(atomic.LoadInt32(&hits)), 2)
}

func TestSearchMatchesAnyTermInSynonymExpandedKeywords(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pagina := r.URL.Query().Get("pagina")
		w.Header().Set("Content-Type", "application/json")
		switch pagina {
		case "1":
			json.NewEncoder(w).Encode(page{Data: []rawItem{
				{NumeroControlePNCP: "11111111000191-1-000001/2026", ObjetoCompra: "Aquisição de notebooks"},
				{NumeroControlePNCP: "11111111000191-1-000002/2026", ObjetoCompra: "Compra de computador portátil"},
				{NumeroControlePNCP: "11111111000191-1-000003/2026", ObjetoCompra: "Serviço de jardinagem"},
			}})
		default:
			json.NewEncoder(w).Encode(page{Data: nil})
		}
	}))
	defer server.Close()

	adapter := New(testConfig(server.URL), cache.NewMemory())
	results, err := adapter.Search(context.Background(), opportunity.Filters{
		Keywords: `"notebook" OR "laptop" OR "computador portátil"`,
	})
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, o := range results {
		ids[o.ExternalID] = true
	}
	assert.True(t, ids["11111111000191-1-000001/2026"], "should match the 'notebook' term")
	assert.True(t, ids["11111111000191-1-000002/2026"], "should match the 'computador portátil' term")
	assert.False(t, ids["11111111000191-1-000003/2026"], "gardening service matches no disjunction term")
}

func TestSearchCachesNationalPageSet(t *testing.T) {
	t.Parallel()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page{Data: []rawItem{
			{NumeroControlePNCP: "11111111000191-1-000001/2026", ObjetoCompra: "Aquisição de papel"},
		}})
	}))
	defer server.Close()

	c := cache.NewMemory()
	adapter := New(testConfig(server.URL), c)

	_, err := adapter.Search(context.Background(), opportunity.Filters{})
	require.NoError(t, err)
	firstHits := atomic.LoadInt32(&hits)
	assert.Positive(t, firstHits)

	_, err = adapter.Search(context.Background(), opportunity.Filters{})
	require.NoError(t, err)
	assert.Equal(t, firstHits, atomic.LoadInt32(&hits), "second search should be served from cache without new upstream calls")
}

func TestParseExternalIDSplitsControlNumber(t *testing.T) {
	t.Parallel()
	cnpj, year, seq, err := parseExternalID("11222333000181-1-000045/2026")
	require.NoError(t, err)
	assert.Equal(t, "11222333000181", cnpj)
	assert.Equal(t, "2026", year)
	assert.Equal(t, "000045", seq)

	_, _, _, err = parseExternalID("malformed")
	assert.Error(t, err)
}

func TestNormalizeKeywordStripsAccentsAndPunctuation(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "aquisicao de papel a4", normalizeKeyword("Aquisição de papel, A4!"))
}

func TestGetItemsMapsUpstreamFields(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]detailItem{
			{NumeroItem: 1, Descricao: "Papel A4", Quantidade: 100, UnidadeMedida: "CX", MaterialOuServico: "M"},
		})
	}))
	defer server.Close()

	adapter := New(testConfig(server.URL), nil)
	items, err := adapter.GetItems(context.Background(), "11222333000181-1-000045/2026")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Papel A4", items[0].Description)
	assert.Equal(t, opportunity.Material, items[0].MaterialOrService)
}
