package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicit/licita/internal/cache"
	"github.com/alicit/licita/internal/config"
	"github.com/alicit/licita/internal/opportunity"
)

const sampleListing = `<html><body>
<form>
<b>Ministério da Economia<br>Secretaria de Logística<br>Hospital Geral de Brasília</b>
Código da UASG : 123456
Pregão Eletrônico Nº 900123/2026
Objeto: Aquisição de material hospitalar
Endereço: SGAN 601 - BRASÍLIA (DF)
Telefone: (61) 3333-4444
Edital a partir de: 01/08/2026
Entrega da Proposta: 20/08/2026 às 09:00
<input type="button" onclick="verHistorico('abc123')" value="Histórico">
<input type="button" onclick="verItens('xyz789')" value="Itens">
</form>
</body></html>`

func testConfig(searchURL, itemsURL string) config.ScrapeProviderConfig {
	return config.ScrapeProviderConfig{
		Name:       "scrape_portal",
		SearchURL:  searchURL,
		ItemsURL:   itemsURL,
		MaxPerHost: 5,
	}
}

func TestSearchParsesFormBlockFields(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(sampleListing))
	}))
	defer server.Close()

	adapter := New(testConfig(server.URL, server.URL+"/itens"), cache.NewMemory())
	opps, err := adapter.Search(context.Background(), opportunity.Filters{})
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, "scrape_123456_900123_2026", opp.ExternalID)
	assert.Equal(t, "scrape_portal", opp.ProviderName)
	assert.Equal(t, "Hospital Geral de Brasília", opp.ProcuringEntityName)
	assert.Equal(t, "DF", opp.RegionCode)
	assert.Equal(t, "BRASÍLIA", opp.Municipality)
	require.NotNil(t, opp.PublicationDate)
	assert.Equal(t, 2026, opp.PublicationDate.Year())
	require.NotNil(t, opp.SubmissionDeadline)
	assert.Equal(t, 20, opp.SubmissionDeadline.Day())
	assert.Equal(t, "abc123", opp.ProviderSpecificData["history_url"])
	assert.Equal(t, "xyz789", opp.ProviderSpecificData["items_url"])
}

const listingWithoutBoldEntity = `<html><body>
<form>
Código da UASG : 654321
Pregão Eletrônico Nº 900456/2026
Objeto: Aquisição de material de escritório
Endereço: SGAN 601 - BRASÍLIA (DF)
Edital a partir de: 01/08/2026
Entrega da Proposta: 20/08/2026 às 09:00
</form>
</body></html>`

func TestSearchFallsBackToUnidentifiedEntityWithoutBoldTag(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingWithoutBoldEntity))
	}))
	defer server.Close()

	adapter := New(testConfig(server.URL, server.URL+"/itens"), cache.NewMemory())
	opps, err := adapter.Search(context.Background(), opportunity.Filters{})
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "Entidade não identificada", opps[0].ProcuringEntityName)
}

func TestSearchUsesFreshnessCacheWithinTTL(t *testing.T) {
	t.Parallel()
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(sampleListing))
	}))
	defer server.Close()

	c := cache.NewMemory()
	adapter := New(testConfig(server.URL, server.URL+"/itens"), c)

	_, err := adapter.Search(context.Background(), opportunity.Filters{})
	require.NoError(t, err)
	_, err = adapter.Search(context.Background(), opportunity.Filters{})
	require.NoError(t, err)
	assert.Equal(t, 1, hits, "second call within the freshness window should be served from cache")
}

func TestGetItemsParsesTableRows(t *testing.T) {
	t.Parallel()
	searchServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleListing))
	}))
	defer searchServer.Close()

	itemsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<table>
<tr><th>Descrição</th><th>Quantidade</th></tr>
<tr><td>Luvas cirúrgicas</td><td>500 CX</td></tr>
<tr><td>Seringas 10ml</td><td>1000 UN</td></tr>
</table>`))
	}))
	defer itemsServer.Close()

	adapter := New(testConfig(searchServer.URL, itemsServer.URL), cache.NewMemory())
	items, err := adapter.GetItems(context.Background(), "scrape_123456_900123_2026")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Luvas cirúrgicas", items[0].Description)
	assert.Equal(t, float64(500), items[0].Quantity)
	assert.Equal(t, "CX", items[0].Unit)
}

func TestExtractOnclickArgParsesQuotedArgument(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc123", extractOnclickArg(`verHistorico('abc123')`))
}
