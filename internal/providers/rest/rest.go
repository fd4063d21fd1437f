// Package rest implements the C1a REST provider adapter: a paginated
// national tender feed fetched concurrently in batches, normalized into
// the shared opportunity schema.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alicit/licita/internal/cache"
	"github.com/alicit/licita/internal/config"
	"github.com/alicit/licita/internal/extract"
	"github.com/alicit/licita/internal/httpclient"
	"github.com/alicit/licita/internal/logging"
	"github.com/alicit/licita/internal/opportunity"
)

var log = logging.WithComponent("rest_provider")

const (
	consecutiveEmptyStop = 5
	interBatchSleep      = 500 * time.Millisecond
)

// page is the upstream's paginated envelope for the proposal search
// endpoint.
type page struct {
	Data []rawItem `json:"data"`
}

// rawItem is the subset of the upstream's fields this adapter needs. Other
// upstream fields are not decoded and are not kept; ProviderSpecificData
// holds only the unit code and unit name.
type rawItem struct {
	NumeroControlePNCP string  `json:"numeroControlePNCP"`
	ObjetoCompra        string  `json:"objetoCompra"`
	ObjetoCompraDetalhado string `json:"objetoDetalhado"`
	InformacaoComplementar string `json:"informacaoComplementar"`
	ValorTotalEstimado  *float64 `json:"valorTotalEstimado"`
	DataPublicacaoPncp  string  `json:"dataPublicacaoPncp"`
	DataAberturaProposta string `json:"dataAberturaProposta"`
	DataEncerramentoProposta string `json:"dataEncerramentoProposta"`
	UnidadeOrgao struct {
		CodigoUnidade string `json:"codigoUnidade"`
		NomeUnidade   string `json:"nomeUnidade"`
		UfSigla       string `json:"ufSigla"`
		MunicipioNome string `json:"municipioNome"`
	} `json:"unidadeOrgao"`
	OrgaoEntidade struct {
		CnpjOrgao string `json:"cnpj"`
		RazaoSocial string `json:"razaoSocial"`
	} `json:"orgaoEntidade"`
}

// detailItem mirrors the shopping-list line item endpoint.
type detailItem struct {
	NumeroItem          int     `json:"numeroItem"`
	Descricao           string  `json:"descricao"`
	Quantidade          float64 `json:"quantidade"`
	UnidadeMedida       string  `json:"unidadeMedida"`
	ValorUnitarioEstimado *float64 `json:"valorUnitarioEstimado"`
	MaterialOuServico   string  `json:"materialOuServico"` // "M" | "S"
	CodigoNcm           string  `json:"codigoNcmNbs"`
	TemParticipacaoExclusiva bool `json:"aplicabilidadeMargemPreferenciaNormal"`
}

// Adapter speaks the upstream REST portal's contratacoes endpoint.
type Adapter struct {
	cfg    config.RESTProviderConfig
	client *http.Client
	cache  cache.Cache
}

// New wires a REST adapter against its config and a shared cache for the
// raw national page-set.
func New(cfg config.RESTProviderConfig, c cache.Cache) *Adapter {
	return &Adapter{
		cfg: cfg,
		client: httpclient.New(httpclient.Options{
			Timeout:             20 * time.Second,
			MaxIdleConnsPerHost: cfg.MaxPerHost,
		}),
		cache: c,
	}
}

func (a *Adapter) ProviderName() string { return a.cfg.Name }

func (a *Adapter) Metadata() map[string]any {
	return map[string]any{
		"base_url":      a.cfg.BaseURL,
		"modality_code": a.cfg.ModalityCode,
		"page_size":     a.cfg.PageSize,
	}
}

// dateWindow recomputes [today-WindowPastDays, today+WindowFutureDays] on
// every call, per the fixed rolling window policy.
func (a *Adapter) dateWindow(now time.Time) (time.Time, time.Time) {
	from := now.AddDate(0, 0, -a.cfg.WindowPastDays)
	to := now.AddDate(0, 0, a.cfg.WindowFutureDays)
	return from, to
}

func dateParam(t time.Time) string { return t.Format("20060102") }

// Search fetches the full national page set (cache permitting), then
// applies the caller's filters locally: the wire protocol can't safely
// carry region filters without risking a 422 from the upstream.
func (a *Adapter) Search(ctx context.Context, filters opportunity.Filters) ([]opportunity.Opportunity, error) {
	raw, err := a.nationalPageSet(ctx)
	if err != nil {
		return nil, err
	}

	normKeywords := normalizeKeywordTerms(filters.Keywords)
	seen := make(map[string]bool, len(raw))
	out := make([]opportunity.Opportunity, 0, len(raw))
	for _, item := range raw {
		opp := toOpportunity(a.cfg.Name, item)
		if seen[opp.ExternalID] {
			continue
		}
		if !matchesFilters(opp, item, normKeywords, filters) {
			continue
		}
		seen[opp.ExternalID] = true
		out = append(out, opp)
	}
	return out, nil
}

// nationalPageSet returns the cached national result set for the current
// date window and modality, fetching and caching it on a miss.
func (a *Adapter) nationalPageSet(ctx context.Context) ([]rawItem, error) {
	from, to := a.dateWindow(time.Now())
	key := fmt.Sprintf("rest_provider:national:%s:%s:%d", dateParam(from), dateParam(to), a.cfg.ModalityCode)

	if a.cache != nil {
		if cached, ok := a.cache.Get(ctx, key); ok {
			var items []rawItem
			if err := json.Unmarshal(cached, &items); err == nil {
				return items, nil
			}
			log.Warn("failed to decode cached national page set, refetching")
		}
	}

	items, err := a.fetchAllPages(ctx, from, to)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if encoded, err := json.Marshal(items); err == nil {
			a.cache.Set(ctx, key, encoded, 24*time.Hour)
		}
	}
	return items, nil
}

// fetchAllPages drives the batch-of-20 parallel fetch policy: pages are
// grouped into batches of cfg.BatchSize, each batch dispatched
// concurrently, with an inter-batch pause for rate control and two early
// stop conditions.
func (a *Adapter) fetchAllPages(ctx context.Context, from, to time.Time) ([]rawItem, error) {
	maxPages := a.cfg.MaxPages
	batchSize := a.cfg.BatchSize

	var (
		mu            sync.Mutex
		all           []rawItem
		consecutiveEmpty int
		shortPageSeen bool
	)

	for batchStart := 1; batchStart <= maxPages; batchStart += batchSize {
		batchEnd := batchStart + batchSize - 1
		if batchEnd > maxPages {
			batchEnd = maxPages
		}
		pageNums := make([]int, 0, batchEnd-batchStart+1)
		for p := batchStart; p <= batchEnd; p++ {
			pageNums = append(pageNums, p)
		}

		results := make([][]rawItem, len(pageNums))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.cfg.MaxPerHost)
		for i, pn := range pageNums {
			i, pn := i, pn
			g.Go(func() error {
				items, err := a.fetchPage(gctx, from, to, pn)
				if err != nil {
					log.WithError(err).WithField("page", pn).Warn("page fetch failed, treating as empty")
					return nil
				}
				results[i] = items
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		batchEmpty := true
		mu.Lock()
		for _, items := range results {
			if len(items) > 0 {
				batchEmpty = false
				all = append(all, items...)
			}
			if len(items) < a.cfg.PageSize {
				shortPageSeen = true
			}
		}
		mu.Unlock()

		if batchEmpty {
			consecutiveEmpty++
		} else {
			consecutiveEmpty = 0
		}
		if consecutiveEmpty >= consecutiveEmptyStop || shortPageSeen {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interBatchSleep):
		}
	}
	return all, nil
}

func (a *Adapter) fetchPage(ctx context.Context, from, to time.Time, pageNum int) ([]rawItem, error) {
	u, err := url.Parse(strings.TrimRight(a.cfg.BaseURL, "/") + "/contratacoes/proposta")
	if err != nil {
		return nil, fmt.Errorf("rest_provider: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("dataInicial", dateParam(from))
	q.Set("dataFinal", dateParam(to))
	q.Set("pagina", strconv.Itoa(pageNum))
	q.Set("tamanhoPagina", strconv.Itoa(a.cfg.PageSize))
	q.Set("codigoModalidadeContratacao", strconv.Itoa(a.cfg.ModalityCode))
	u.RawQuery = q.Encode()

	var result page
	err = httpclient.WithRetry(ctx, httpclient.DefaultRetryConfig(), func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("rest_provider: page %d: upstream status %d", pageNum, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("rest_provider: page %d: status %d", pageNum, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

// GetDetails parses external_id into TAX_ID-MOD-SEQ/YEAR, calls the
// detail endpoint, and falls back to a list scan on failure.
func (a *Adapter) GetDetails(ctx context.Context, externalID string) (*opportunity.Opportunity, error) {
	cnpj, year, seq, err := parseExternalID(externalID)
	if err == nil {
		u := fmt.Sprintf("%s/orgaos/%s/compras/%s/%s", strings.TrimRight(a.cfg.BaseURL, "/"), cnpj, year, seq)
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if reqErr == nil {
			resp, doErr := a.client.Do(req)
			if doErr == nil {
				defer resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					var item rawItem
					if decErr := json.NewDecoder(resp.Body).Decode(&item); decErr == nil {
						opp := toOpportunity(a.cfg.Name, item)
						return &opp, nil
					}
				}
			}
		}
		log.WithField("external_id", externalID).Debug("detail endpoint failed, falling back to list scan")
	}

	items, err := a.nationalPageSet(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		opp := toOpportunity(a.cfg.Name, item)
		if opp.ExternalID == externalID {
			return &opp, nil
		}
	}
	return nil, nil
}

// GetItems fetches the shopping-list lines for one external id.
func (a *Adapter) GetItems(ctx context.Context, externalID string) ([]opportunity.Item, error) {
	cnpj, year, seq, err := parseExternalID(externalID)
	if err != nil {
		return nil, fmt.Errorf("rest_provider: malformed external id %q: %w", externalID, err)
	}
	u := fmt.Sprintf("%s/orgaos/%s/compras/%s/%s/itens", strings.TrimRight(a.cfg.BaseURL, "/"), cnpj, year, seq)

	var raw []detailItem
	err = httpclient.WithRetry(ctx, httpclient.DefaultRetryConfig(), func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("rest_provider: items for %s: status %d", externalID, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&raw)
	})
	if err != nil {
		return nil, err
	}

	out := make([]opportunity.Item, 0, len(raw))
	for _, d := range raw {
		mos := opportunity.Material
		if d.MaterialOuServico == "S" {
			mos = opportunity.Service
		}
		out = append(out, opportunity.Item{
			OpportunityExternalID: externalID,
			ItemNumber:            d.NumeroItem,
			Description:           d.Descricao,
			Quantity:              d.Quantidade,
			Unit:                  d.UnidadeMedida,
			UnitEstimatedValue:    d.ValorUnitarioEstimado,
			MaterialOrService:     mos,
			NCMCode:               d.CodigoNcm,
			MEEPPExclusive:        d.TemParticipacaoExclusiva,
		})
	}
	return out, nil
}

// rawAttachment mirrors the upstream's file-listing entry.
type rawAttachment struct {
	URI   string `json:"uri"`
	Titulo string `json:"titulo"`
}

// ListAttachments implements extract.AttachmentLister: fetch the
// opportunity's file-listing endpoint and normalize each entry into a
// downloadable reference.
func (a *Adapter) ListAttachments(ctx context.Context, externalID string) ([]extract.AttachmentRef, error) {
	cnpj, year, seq, err := parseExternalID(externalID)
	if err != nil {
		return nil, fmt.Errorf("rest_provider: malformed external id %q: %w", externalID, err)
	}
	u := fmt.Sprintf("%s/orgaos/%s/compras/%s/%s/arquivos", strings.TrimRight(a.cfg.BaseURL, "/"), cnpj, year, seq)

	var raw []rawAttachment
	err = httpclient.WithRetry(ctx, httpclient.DefaultRetryConfig(), func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			raw = nil
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("rest_provider: attachments for %s: status %d", externalID, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&raw)
	})
	if err != nil {
		return nil, err
	}

	out := make([]extract.AttachmentRef, 0, len(raw))
	for _, r := range raw {
		out = append(out, extract.AttachmentRef{URL: r.URI, FileName: r.Titulo})
	}
	return out, nil
}

// parseExternalID splits TAX_ID-MOD-SEQ/YEAR into its detail-endpoint
// components.
func parseExternalID(externalID string) (cnpj, year, seq string, err error) {
	slashIdx := strings.LastIndex(externalID, "/")
	if slashIdx < 0 {
		return "", "", "", fmt.Errorf("missing /YEAR suffix")
	}
	year = externalID[slashIdx+1:]
	rest := externalID[:slashIdx]

	parts := strings.Split(rest, "-")
	if len(parts) < 3 {
		return "", "", "", fmt.Errorf("expected TAX_ID-MOD-SEQ, got %q", rest)
	}
	cnpj = parts[0]
	seq = parts[len(parts)-1]
	return cnpj, year, seq, nil
}

func toOpportunity(providerName string, item rawItem) opportunity.Opportunity {
	return opportunity.Opportunity{
		ProviderName:        providerName,
		ExternalID:          item.NumeroControlePNCP,
		Title:               item.ObjetoCompra,
		Description:         strings.TrimSpace(item.ObjetoCompraDetalhado + " " + item.InformacaoComplementar),
		EstimatedValue:      item.ValorTotalEstimado,
		CurrencyCode:        "BRL",
		CountryCode:         "BR",
		RegionCode:          item.UnidadeOrgao.UfSigla,
		Municipality:        item.UnidadeOrgao.MunicipioNome,
		PublicationDate:     parseUpstreamDate(item.DataPublicacaoPncp),
		SubmissionDeadline:  parseUpstreamDate(item.DataEncerramentoProposta),
		OpeningDate:         parseUpstreamDate(item.DataAberturaProposta),
		ProcuringEntityID:   item.OrgaoEntidade.CnpjOrgao,
		ProcuringEntityName: item.OrgaoEntidade.RazaoSocial,
		ProviderSpecificData: map[string]any{
			"unidade_codigo": item.UnidadeOrgao.CodigoUnidade,
			"unidade_nome":   item.UnidadeOrgao.NomeUnidade,
		},
	}
}

func parseUpstreamDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// normalizeKeywordTerms splits a keyword filter into its individual
// quoted terms and normalizes each one separately. search.Service's
// synonym expansion (internal/search) rewrites a plain keyword into a
// quoted-OR disjunction like `"notebook" OR "laptop" OR "computador
// portátil"`; substring-matching that whole literal string would almost
// never hit, so each quoted term is matched independently and OR-ed.
// A plain, unquoted keyword comes back as a single-term slice.
func normalizeKeywordTerms(raw string) []string {
	terms := splitKeywordTerms(raw)
	norm := make([]string, 0, len(terms))
	for _, t := range terms {
		if n := normalizeKeyword(t); n != "" {
			norm = append(norm, n)
		}
	}
	return norm
}

func splitKeywordTerms(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, " OR ")
	terms := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if unquoted, err := strconv.Unquote(p); err == nil {
			p = unquoted
		}
		if p != "" {
			terms = append(terms, p)
		}
	}
	return terms
}

// normalizeKeyword lowercases, strips accents, converts punctuation to
// spaces, and collapses whitespace, matching the filter keyword
// processing policy.
func normalizeKeyword(s string) string {
	s = strings.ToLower(s)
	s = stripAccents(s)
	var b strings.Builder
	lastWasSpace := false
	for _, r := range s {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			lastWasSpace = false
			continue
		}
		if !lastWasSpace {
			b.WriteRune(' ')
			lastWasSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

var accentTable = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ç': 'c', 'ñ': 'n',
}

func stripAccents(s string) string {
	var b strings.Builder
	for _, r := range s {
		if repl, ok := accentTable[r]; ok {
			b.WriteRune(repl)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// matchesFilters applies every local (non-wire) filter: keyword substring
// match against the normalized concatenation of object/detail/info
// fields (matching if any one of normKeywords is found), region, value
// bounds, and date windows.
func matchesFilters(opp opportunity.Opportunity, item rawItem, normKeywords []string, filters opportunity.Filters) bool {
	if len(normKeywords) > 0 {
		haystack := normalizeKeyword(item.ObjetoCompra + " " + item.ObjetoCompraDetalhado + " " + item.InformacaoComplementar)
		matched := false
		for _, term := range normKeywords {
			if strings.Contains(haystack, term) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if filters.RegionCode != "" && !strings.EqualFold(filters.RegionCode, opp.RegionCode) {
		return false
	}
	if filters.MinValue != nil && (opp.EstimatedValue == nil || *opp.EstimatedValue < *filters.MinValue) {
		return false
	}
	if filters.MaxValue != nil && (opp.EstimatedValue == nil || *opp.EstimatedValue > *filters.MaxValue) {
		return false
	}
	if filters.PublicationDateFrom != nil && (opp.PublicationDate == nil || opp.PublicationDate.Before(*filters.PublicationDateFrom)) {
		return false
	}
	if filters.PublicationDateTo != nil && (opp.PublicationDate == nil || opp.PublicationDate.After(*filters.PublicationDateTo)) {
		return false
	}
	return true
}

