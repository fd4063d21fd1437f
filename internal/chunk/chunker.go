// Package chunk implements the C9 Chunker: structure-aware splitting of
// extracted document text into bounded, overlapping chunks suitable for
// embedding, grouped by detected section and carrying page numbers.
package chunk

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/alicit/licita/internal/opportunity"
)

// Options configures the chunker (the teacher's chunking.* config fields
// generalized to this structure-aware algorithm).
type Options struct {
	TargetTokens int
	OverlapRatio float64 // fraction of TargetTokens to prepend as overlap
	MinChunkSize int      // chars; chunks shorter than this are dropped
	MaxSection   int       // chars; a section longer than this is split further
}

// DefaultOptions mirrors config.ChunkingConfig's defaults.
func DefaultOptions() Options {
	return Options{TargetTokens: 800, OverlapRatio: 25.0 / 800, MinChunkSize: 100, MaxSection: 4000}
}

var pageMarkerPattern = regexp.MustCompile(`\x0c|---\s*PAGE\s+(\d+)\s*---`)

// Page is one page-marker-delimited unit of extracted text.
type Page struct {
	Number int
	Text   string
}

// SplitPages splits text on form-feed characters or explicit
// "--- PAGE n ---" markers (the shape the PDF extractors emit) into
// numbered pages. Text without any marker is treated as a single page 1.
func SplitPages(text string) []Page {
	if !pageMarkerPattern.MatchString(text) {
		return []Page{{Number: 1, Text: text}}
	}
	parts := pageMarkerPattern.Split(text, -1)
	markers := pageMarkerPattern.FindAllStringSubmatch(text, -1)

	pages := make([]Page, 0, len(parts))
	for i, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		num := i + 1
		if i > 0 && i-1 < len(markers) && markers[i-1][1] != "" {
			if n := atoiOr(markers[i-1][1], num); n > 0 {
				num = n
			}
		}
		pages = append(pages, Page{Number: num, Text: p})
	}
	if len(pages) == 0 {
		return []Page{{Number: 1, Text: text}}
	}
	return pages
}

func atoiOr(s string, fallback int) int {
	n := 0
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}

var (
	numberedShortPattern = regexp.MustCompile(`^\d+(\.\d+)*[.)]?\s+\S`)
	decimalNumberPattern = regexp.MustCompile(`^\d+\.\d+(\.\d+)*\b`)
	listPattern          = regexp.MustCompile(`^\s*([-*•]|[a-z][.)]|\d+[.)])\s+`)
	tableGapPattern      = regexp.MustCompile(`\s{3,}`)
)

// isUppercase reports whether a line's letters are all uppercase (lines
// with no letters at all don't count).
func isUppercase(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

// classifyLine assigns a structural role to one line of extracted text,
// following the title/subtitle/list/table/paragraph taxonomy: title is an
// uppercase or short numbered line, subtitle ends with a colon or carries
// decimal section numbering, list starts with a bullet/ordinal marker,
// table has multiple wide gaps, tabs, or colons.
func classifyLine(line string) opportunity.ChunkType {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return opportunity.ChunkParagraph
	case listPattern.MatchString(line):
		return opportunity.ChunkList
	case strings.Count(line, "\t") >= 2 || len(tableGapPattern.FindAllString(line, -1)) >= 2 || strings.Count(line, ":") >= 2:
		return opportunity.ChunkTable
	case strings.HasSuffix(trimmed, ":") || decimalNumberPattern.MatchString(trimmed):
		return opportunity.ChunkSubtitle
	case len(trimmed) <= 80 && (isUppercase(trimmed) || numberedShortPattern.MatchString(trimmed)):
		return opportunity.ChunkTitle
	default:
		return opportunity.ChunkParagraph
	}
}

type section struct {
	title string
	typ   opportunity.ChunkType
	lines []string
	page  int
}

// groupSections walks a page's lines, starting a new section whenever a
// title/subtitle line appears (the section's own heading becomes its
// SectionTitle) and accumulating everything else underneath it.
func groupSections(page Page) []section {
	var sections []section
	var current *section

	for _, line := range strings.Split(page.Text, "\n") {
		ct := classifyLine(line)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if current != nil {
				current.lines = append(current.lines, "")
			}
			continue
		}
		if ct == opportunity.ChunkTitle || ct == opportunity.ChunkSubtitle {
			sections = append(sections, section{})
			current = &sections[len(sections)-1]
			current.title = trimmed
			current.typ = ct
			current.page = page.Number
			continue
		}
		if current == nil {
			sections = append(sections, section{typ: opportunity.ChunkParagraph, page: page.Number})
			current = &sections[len(sections)-1]
		}
		current.lines = append(current.lines, line)
		if current.typ == opportunity.ChunkParagraph {
			current.typ = ct
		}
	}
	return sections
}

var sentenceBoundary = regexp.MustCompile(`(?s)([.!?])\s+`)

// splitSentences breaks text at sentence boundaries, used when a section
// exceeds the target chunk size and must be divided further without
// losing sentence integrity.
func splitSentences(text string) []string {
	idxs := sentenceBoundary.FindAllStringIndex(text, -1)
	if len(idxs) == 0 {
		return []string{text}
	}
	var out []string
	start := 0
	for _, loc := range idxs {
		out = append(out, text[start:loc[1]])
		start = loc[1]
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func approxTokenCount(s string) int {
	return (len(s) + 3) / 4
}

// Build runs the full chunking pipeline over one document's extracted
// text: split into pages, group into sections, split oversized sections
// at sentence boundaries, prepend overlap from the previous chunk, and
// drop chunks under MinChunkSize.
func Build(documentID, opportunityID, text string, opts Options) []opportunity.Chunk {
	if opts.TargetTokens <= 0 {
		opts = DefaultOptions()
	}
	targetChars := opts.TargetTokens * 4
	overlapChars := int(float64(targetChars) * opts.OverlapRatio)

	var raw []opportunity.Chunk
	for _, page := range SplitPages(text) {
		for _, sec := range groupSections(page) {
			body := strings.Join(sec.lines, "\n")
			if strings.TrimSpace(sec.title+body) == "" {
				continue
			}
			full := body
			if sec.title != "" {
				full = sec.title + "\n" + body
			}
			for _, piece := range splitIntoBounded(full, targetChars, opts.MaxSection) {
				raw = append(raw, opportunity.Chunk{
					ID:            uuid.NewString(),
					DocumentID:    documentID,
					OpportunityID: opportunityID,
					Text:          piece,
					ChunkType:     sec.typ,
					PageNumber:    sec.page,
					SectionTitle:  sec.title,
				})
			}
		}
	}

	return applyOverlapAndMinSize(raw, overlapChars, opts.MinChunkSize)
}

// splitIntoBounded returns a section's text whole when it fits within
// target chars; otherwise it packs sentences greedily into pieces of at
// most target chars. A single sentence longer than target is not split
// and becomes a piece of its own.
func splitIntoBounded(text string, target, max int) []string {
	if len(text) <= max {
		if len(text) <= target {
			return []string{text}
		}
	}
	sentences := splitSentences(text)
	var out []string
	var buf strings.Builder
	for _, s := range sentences {
		if buf.Len() > 0 && buf.Len()+len(s) > target {
			out = append(out, buf.String())
			buf.Reset()
		}
		buf.WriteString(s)
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	if len(out) == 0 {
		out = []string{text}
	}
	return out
}

// applyOverlapAndMinSize prepends the tail of the previous chunk to each
// chunk (except the first), then drops any chunk whose resulting char
// count is still under minSize rather than merging it forward.
func applyOverlapAndMinSize(chunks []opportunity.Chunk, overlapChars, minSize int) []opportunity.Chunk {
	withOverlap := make([]opportunity.Chunk, len(chunks))
	for i := range chunks {
		c := chunks[i]
		if i > 0 && overlapChars > 0 {
			tail := chunks[i-1].Text
			if len(tail) > overlapChars {
				tail = tail[len(tail)-overlapChars:]
			}
			c.Text = tail + "\n" + c.Text
		}
		c.CharCount = len(c.Text)
		c.TokenCount = approxTokenCount(c.Text)
		withOverlap[i] = c
	}

	out := make([]opportunity.Chunk, 0, len(withOverlap))
	for _, c := range withOverlap {
		if len(strings.TrimSpace(c.Text)) < minSize {
			continue
		}
		out = append(out, c)
	}
	return out
}
