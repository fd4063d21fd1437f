// Package scrape implements the C1b HTML-scrape provider adapter: a
// POSTed search form whose response is a listing of per-opportunity
// <form> blocks, parsed with golang.org/x/net/html and a handful of
// regexes for the fields the markup doesn't structure cleanly.
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/net/html"

	"github.com/alicit/licita/internal/cache"
	"github.com/alicit/licita/internal/config"
	"github.com/alicit/licita/internal/httpclient"
	"github.com/alicit/licita/internal/logging"
	"github.com/alicit/licita/internal/opportunity"
)

var log = logging.WithComponent("scrape_provider")

const freshnessTTL = time.Hour

var (
	uasgPattern     = regexp.MustCompile(`Código da UASG\s*:\s*(\d+)`)
	tenderNumPattern = regexp.MustCompile(`Preg[ãa]o Eletr[ôo]nico\s*N[ºo]\s*(\d+)/(\d+)`)
	cityRegionPattern = regexp.MustCompile(`-\s*([^()]+?)\s*\(([A-Z]{2})\)`)
	publicationPattern = regexp.MustCompile(`Edital a partir de:\s*(\d{2}/\d{2}/\d{4})`)
	deadlinePattern   = regexp.MustCompile(`Entrega da Proposta:\s*(\d{2}/\d{2}/\d{4})`)
	onclickArgPattern = regexp.MustCompile(`\(\s*'?([^'")]+)'?\s*\)`)
)

// Adapter speaks the HTML search-form portal.
type Adapter struct {
	cfg    config.ScrapeProviderConfig
	client *http.Client
	cache  cache.Cache
}

// New wires a scrape adapter. cacheImpl backs the 1-hour search-listing
// freshness cache, kept separate from the REST adapter's 24-hour national
// cache since the policies differ.
func New(cfg config.ScrapeProviderConfig, cacheImpl cache.Cache) *Adapter {
	return &Adapter{
		cfg: cfg,
		client: httpclient.New(httpclient.Options{
			Timeout:             30 * time.Second,
			MaxIdleConnsPerHost: cfg.MaxPerHost,
		}),
		cache: cacheImpl,
	}
}

func (a *Adapter) ProviderName() string { return a.cfg.Name }

func (a *Adapter) Metadata() map[string]any {
	return map[string]any{"search_url": a.cfg.SearchURL}
}

// opportunityBlock is one <form> block's captured provider-specific URLs,
// needed for Search to wire up later item fetches.
type opportunityBlock struct {
	opp       opportunity.Opportunity
	historyURL string
	itemsURL   string
}

// Search POSTs the search form, parses the HTML listing into one
// opportunity per <form> block, and caches the raw listing for an hour so
// repeated calls within that window don't re-hit the upstream.
func (a *Adapter) Search(ctx context.Context, filters opportunity.Filters) ([]opportunity.Opportunity, error) {
	cacheKey := "scrape_provider:listing:" + filters.Keywords
	var body []byte

	if a.cache != nil {
		if cached, ok := a.cache.Get(ctx, cacheKey); ok {
			body = cached
		}
	}

	if body == nil {
		fetched, err := a.fetchListing(ctx, filters)
		if err != nil {
			return nil, err
		}
		body = fetched
		if a.cache != nil {
			a.cache.Set(ctx, cacheKey, body, freshnessTTL)
		}
	}

	blocks, err := parseListing(a.cfg.Name, body)
	if err != nil {
		return nil, err
	}

	out := make([]opportunity.Opportunity, 0, len(blocks))
	seen := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		if seen[b.opp.ExternalID] {
			continue
		}
		seen[b.opp.ExternalID] = true
		out = append(out, b.opp)
	}
	return out, nil
}

// fetchListing issues the POST against the search form. If the response
// carries no recognizable <form> blocks (the portal increasingly renders
// the listing client-side), it falls back to a headless-browser render so
// the same parser can run against fully-hydrated markup.
func (a *Adapter) fetchListing(ctx context.Context, filters opportunity.Filters) ([]byte, error) {
	form := url.Values{}
	if filters.Keywords != "" {
		form.Set("pesquisa_palavra_chave", filters.Keywords)
	}

	var body []byte
	err := httpclient.WithRetry(ctx, httpclient.DefaultRetryConfig(), func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.SearchURL, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("scrape_provider: search status %d", resp.StatusCode)
		}
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return err
		}
		body = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !bytes.Contains(body, []byte("<form")) {
		log.Warn("search response carried no <form> blocks, falling back to headless render")
		rendered, rerr := a.fetchListingHeadless(ctx)
		if rerr == nil && bytes.Contains(rendered, []byte("<form")) {
			return rendered, nil
		}
		if rerr != nil {
			log.WithError(rerr).Warn("headless fallback failed, using original response")
		}
	}
	return body, nil
}

// fetchListingHeadless renders the search URL in a headless Chrome
// instance and returns the hydrated DOM, for portals whose opportunity
// listing is populated by client-side script after the initial POST.
func (a *Adapter) fetchListingHeadless(ctx context.Context) ([]byte, error) {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", true))...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, 20*time.Second)
	defer cancel()

	var rendered string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(a.cfg.SearchURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &rendered),
	)
	if err != nil {
		return nil, fmt.Errorf("scrape_provider: headless render: %w", err)
	}
	return []byte(rendered), nil
}

// parseListing walks the document for every <form> element and extracts
// one opportunityBlock per form, per the field-extraction rules.
func parseListing(providerName string, body []byte) ([]opportunityBlock, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scrape_provider: parse listing: %w", err)
	}

	var forms []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "form" {
			forms = append(forms, n)
			return // forms don't nest in this markup
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	out := make([]opportunityBlock, 0, len(forms))
	for _, form := range forms {
		block, ok := parseFormBlock(providerName, form)
		if ok {
			out = append(out, block)
		}
	}
	return out, nil
}

// parseFormBlock extracts one opportunity from a <form> block's rendered
// text and embedded onclick handlers.
func parseFormBlock(providerName string, form *html.Node) (opportunityBlock, bool) {
	text := renderText(form)

	uasgMatch := uasgPattern.FindStringSubmatch(text)
	tenderMatch := tenderNumPattern.FindStringSubmatch(text)
	if uasgMatch == nil || tenderMatch == nil {
		return opportunityBlock{}, false
	}
	uasg, num, year := uasgMatch[1], tenderMatch[1], tenderMatch[2]
	externalID := fmt.Sprintf("scrape_%s_%s_%s", uasg, num, year)

	entityName := lastBoldLine(form)

	municipality, region := "", ""
	if m := cityRegionPattern.FindStringSubmatch(text); m != nil {
		municipality, region = strings.TrimSpace(m[1]), m[2]
	}

	var pubDate, deadline *time.Time
	if m := publicationPattern.FindStringSubmatch(text); m != nil {
		pubDate = parseBrazilianDate(m[1])
	}
	if m := deadlinePattern.FindStringSubmatch(text); m != nil {
		deadline = parseBrazilianDate(m[1])
	}

	historyURL, itemsURL := extractActionURLs(form)

	opp := opportunity.Opportunity{
		ProviderName:        providerName,
		ExternalID:          externalID,
		Title:               fmt.Sprintf("Pregão Eletrônico Nº %s/%s", num, year),
		Description:         text,
		CountryCode:         "BR",
		RegionCode:          region,
		Municipality:        municipality,
		PublicationDate:     pubDate,
		SubmissionDeadline:  deadline,
		ProcuringEntityName: entityName,
		ProviderSpecificData: map[string]any{
			"uasg":        uasg,
			"history_url": historyURL,
			"items_url":   itemsURL,
		},
	}
	return opportunityBlock{opp: opp, historyURL: historyURL, itemsURL: itemsURL}, true
}

// unidentifiedEntity is the fallback entity name when a form block carries
// no <b> element (or none of its lines survive trimming) to read the
// organization hierarchy's leaf from.
const unidentifiedEntity = "Entidade não identificada"

// lastBoldLine returns the last <br>-separated line of the block's first
// <b> element, the organization hierarchy's leaf (entity name), or
// unidentifiedEntity when no such line exists.
func lastBoldLine(form *html.Node) string {
	var b *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if b != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "b" {
			b = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(form)
	if b == nil {
		return unidentifiedEntity
	}
	lines := strings.Split(renderText(b), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return unidentifiedEntity
}

// extractActionURLs scans every element with an onclick attribute for the
// "history" and "items" button handlers, extracting their URL-fragment
// argument.
func extractActionURLs(form *html.Node) (historyURL, itemsURL string) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if attr.Key != "onclick" {
					continue
				}
				arg := extractOnclickArg(attr.Val)
				if arg == "" {
					continue
				}
				lower := strings.ToLower(attr.Val)
				switch {
				case strings.Contains(lower, "historico") || strings.Contains(lower, "history"):
					historyURL = arg
				case strings.Contains(lower, "iten") || strings.Contains(lower, "item"):
					itemsURL = arg
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(form)
	return historyURL, itemsURL
}

func extractOnclickArg(onclick string) string {
	m := onclickArgPattern.FindStringSubmatch(onclick)
	if m == nil {
		return ""
	}
	return m[1]
}

// renderText flattens an html.Node subtree to text, turning <br> into
// newlines so multi-line blocks (like the organization hierarchy) stay
// separable.
func renderText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "br" {
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func parseBrazilianDate(s string) *time.Time {
	t, err := time.Parse("02/01/2006", s)
	if err != nil {
		return nil
	}
	return &t
}

// GetDetails re-runs Search with no filters and scans for the matching
// external id; this portal has no standalone detail endpoint.
func (a *Adapter) GetDetails(ctx context.Context, externalID string) (*opportunity.Opportunity, error) {
	opps, err := a.Search(ctx, opportunity.Filters{})
	if err != nil {
		return nil, err
	}
	for i := range opps {
		if opps[i].ExternalID == externalID {
			return &opps[i], nil
		}
	}
	return nil, nil
}

// itemRowPattern matches one table row in the raw items-table markup;
// cellPattern then picks out that row's cells.
var itemRowPattern = regexp.MustCompile(`(?s)<tr[^>]*>(.*?)</tr>`)
var cellPattern = regexp.MustCompile(`(?s)<t[dh][^>]*>(.*?)</t[dh]>`)
var tagStripPattern = regexp.MustCompile(`<[^>]+>`)

// GetItems follows the captured items URL (resolved against the
// configured items endpoint) and parses the resulting HTML table into
// Items, one row per line.
func (a *Adapter) GetItems(ctx context.Context, externalID string) ([]opportunity.Item, error) {
	opp, err := a.GetDetails(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if opp == nil {
		return nil, nil
	}
	fragment, _ := opp.ProviderSpecificData["items_url"].(string)
	if fragment == "" {
		return nil, nil
	}

	u := a.cfg.ItemsURL
	if strings.Contains(u, "?") {
		u += "&"
	} else {
		u += "?"
	}
	u += "arg=" + url.QueryEscape(fragment)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	tableHTML := buf.String()

	var items []opportunity.Item
	num := 1
	for _, rowMatch := range itemRowPattern.FindAllStringSubmatch(tableHTML, -1) {
		cells := cellPattern.FindAllStringSubmatch(rowMatch[1], -1)
		if len(cells) < 2 {
			continue
		}
		fields := make([]string, len(cells))
		for i, c := range cells {
			fields[i] = strings.TrimSpace(tagStripPattern.ReplaceAllString(c[1], ""))
		}
		description := fields[0]
		if strings.EqualFold(description, "descrição") || strings.EqualFold(description, "item") {
			continue // header row
		}
		quantity, unit := parseQuantityCell(fields, 1)
		items = append(items, opportunity.Item{
			OpportunityExternalID: externalID,
			ItemNumber:            num,
			Description:           description,
			Quantity:              quantity,
			Unit:                  unit,
			MaterialOrService:     opportunity.Material,
		})
		num++
	}
	return items, nil
}

func parseQuantityCell(fields []string, idx int) (float64, string) {
	if idx >= len(fields) {
		return 0, ""
	}
	parts := strings.Fields(fields[idx])
	if len(parts) == 0 {
		return 0, ""
	}
	qty, _ := strconv.ParseFloat(strings.ReplaceAll(parts[0], ",", "."), 64)
	unit := ""
	if len(parts) > 1 {
		unit = strings.Join(parts[1:], " ")
	}
	return qty, unit
}
