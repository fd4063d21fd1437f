package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	rscpdf "rsc.io/pdf"
)

// pageMarker matches the chunker's page-boundary convention.
func pageMarker(n int) string { return fmt.Sprintf("\n--- PAGE %d ---\n", n) }

// markdownEngine is extractor-chain priority 1: it converts HTML payloads
// (the shape a scrape-source attachment or an exported office document as
// HTML typically arrives in) to Markdown via Readability + html-to-markdown,
// grounded on the teacher's web fetcher. It reports not-applicable for any
// other content type, since this module has no generic office-to-markdown
// converter.
type markdownEngine struct{}

func (markdownEngine) Name() string { return "markdown_converter" }

func (markdownEngine) Extract(_ context.Context, data []byte, mimeType, _ string) (EngineResult, bool, error) {
	if !strings.Contains(mimeType, "html") {
		return EngineResult{}, false, nil
	}
	html := string(data)
	article, err := readability.FromReader(bytes.NewReader(data), &url.URL{})
	body := html
	title := ""
	if err == nil && strings.TrimSpace(article.Content) != "" {
		body = article.Content
		title = strings.TrimSpace(article.Title)
	}

	md, err := htmltomarkdown.ConvertString(body, converter.WithDomain(""))
	if err != nil {
		return EngineResult{}, true, fmt.Errorf("markdown conversion: %w", err)
	}
	if title != "" {
		md = "# " + title + "\n\n" + md
	}
	text := strings.TrimSpace(md)
	return EngineResult{Success: text != "", Text: text, PageCount: 1}, true, nil
}

// pdfEngineA is extractor-chain priority 2: page-by-page text extraction
// via ledongthuc/pdf, grounded on the document-processor interface of the
// tender-automation example repo (ExtractTextFromPDF).
type pdfEngineA struct{}

func (pdfEngineA) Name() string { return "pdf_engine_a" }

func (pdfEngineA) Extract(_ context.Context, data []byte, mimeType, fileName string) (EngineResult, bool, error) {
	if !looksLikePDF(data, mimeType, fileName) {
		return EngineResult{}, false, nil
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return EngineResult{}, true, fmt.Errorf("pdf_engine_a open: %w", err)
	}

	var b strings.Builder
	pages := reader.NumPage()
	extracted := 0
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		b.WriteString(pageMarker(i))
		b.WriteString(text)
		extracted++
	}
	return EngineResult{Success: extracted > 0, Text: strings.TrimSpace(b.String()), PageCount: pages}, true, nil
}

// pdfEngineB is extractor-chain priority 3: the fallback PDF reader used
// when engine A can't parse a malformed or unusually encoded file.
type pdfEngineB struct{}

func (pdfEngineB) Name() string { return "pdf_engine_b" }

func (pdfEngineB) Extract(_ context.Context, data []byte, mimeType, fileName string) (EngineResult, bool, error) {
	if !looksLikePDF(data, mimeType, fileName) {
		return EngineResult{}, false, nil
	}
	reader, err := rscpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return EngineResult{}, true, fmt.Errorf("pdf_engine_b open: %w", err)
	}

	var b strings.Builder
	pages := reader.NumPage()
	extracted := 0
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		var pageText strings.Builder
		for _, row := range page.Content().Text {
			pageText.WriteString(row.S)
		}
		text := pageText.String()
		if strings.TrimSpace(text) == "" {
			continue
		}
		b.WriteString(pageMarker(i))
		b.WriteString(text)
		extracted++
	}
	return EngineResult{Success: extracted > 0, Text: strings.TrimSpace(b.String()), PageCount: pages}, true, nil
}

func looksLikePDF(data []byte, mimeType, fileName string) bool {
	if strings.Contains(mimeType, "pdf") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(fileName), ".pdf") {
		return true
	}
	return len(data) > 4 && string(data[:4]) == "%PDF"
}
