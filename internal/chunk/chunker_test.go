package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicit/licita/internal/opportunity"
)

func TestSplitPagesHandlesFormFeedMarkers(t *testing.T) {
	t.Parallel()
	text := "page one text\x0cpage two text\x0cpage three text"
	pages := SplitPages(text)
	require.Len(t, pages, 3)
	assert.Equal(t, 1, pages[0].Number)
	assert.Contains(t, pages[1].Text, "page two")
}

func TestSplitPagesHandlesExplicitPageMarkers(t *testing.T) {
	t.Parallel()
	text := "first page\n--- PAGE 2 ---\nsecond page\n--- PAGE 3 ---\nthird page"
	pages := SplitPages(text)
	require.Len(t, pages, 3)
	assert.Equal(t, 2, pages[1].Number)
	assert.Equal(t, 3, pages[2].Number)
}

func TestSplitPagesWithoutMarkersIsSinglePage(t *testing.T) {
	t.Parallel()
	pages := SplitPages("no markers here at all")
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Number)
}

func TestClassifyLineDetectsListAndTable(t *testing.T) {
	t.Parallel()
	assert.Equal(t, opportunity.ChunkList, classifyLine("- item one"))
	assert.Equal(t, opportunity.ChunkList, classifyLine("1. primeiro item"))
	assert.Equal(t, opportunity.ChunkTable, classifyLine("col a\tcol b\tcol c"))
	assert.Equal(t, opportunity.ChunkSubtitle, classifyLine("2.1 Objeto da licitação"))
}

func TestBuildProducesCharCountAndPageNumber(t *testing.T) {
	t.Parallel()
	text := "OBJETO DA LICITAÇÃO\n\n" + strings.Repeat("Fornecimento de material de escritório diverso. ", 60)
	chunks := Build("doc-1", "opp-1", text, DefaultOptions())
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, len(c.Text), c.CharCount)
		assert.Equal(t, 1, c.PageNumber)
		assert.Equal(t, "doc-1", c.DocumentID)
		assert.Equal(t, "opp-1", c.OpportunityID)
	}
}

func TestBuildEnforcesMinimumChunkSize(t *testing.T) {
	t.Parallel()
	text := "Título curto\n\nTexto."
	opts := DefaultOptions()
	opts.MinChunkSize = 500
	chunks := Build("doc-1", "opp-1", text, opts)
	// every chunk this short text produces falls under the 500-char
	// minimum, so all of them get dropped rather than merged forward.
	assert.Empty(t, chunks)
}

func TestBuildDropsOnlyUndersizedChunks(t *testing.T) {
	t.Parallel()
	text := "INTRODUÇÃO\n" + strings.Repeat("Conteúdo substancial da introdução. ", 30) +
		"\n\nOBS\ncurto"
	opts := DefaultOptions()
	opts.MinChunkSize = 100
	chunks := Build("doc-1", "opp-1", text, opts)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.GreaterOrEqual(t, len(strings.TrimSpace(c.Text)), opts.MinChunkSize)
	}
}

func TestBuildAddsOverlapBetweenConsecutiveChunks(t *testing.T) {
	t.Parallel()
	opts := Options{TargetTokens: 20, OverlapRatio: 0.5, MinChunkSize: 1, MaxSection: 10000}
	text := strings.Repeat("palavra. ", 400)
	chunks := Build("doc-1", "opp-1", text, opts)
	require.GreaterOrEqual(t, len(chunks), 2)

	prevTail := chunks[0].Text
	if len(prevTail) > 40 {
		prevTail = prevTail[len(prevTail)-40:]
	}
	assert.True(t, strings.Contains(chunks[1].Text, strings.TrimSpace(prevTail[:10])))
}

func TestBuildGroupsSectionsBySectionTitle(t *testing.T) {
	t.Parallel()
	text := "INTRODUÇÃO\nTexto introdutório do edital.\n\nOBJETO\nTexto do objeto do edital."
	opts := DefaultOptions()
	opts.MinChunkSize = 1
	chunks := Build("doc-1", "opp-1", text, opts)
	require.NotEmpty(t, chunks)
	titles := map[string]bool{}
	for _, c := range chunks {
		if c.SectionTitle != "" {
			titles[c.SectionTitle] = true
		}
	}
	assert.True(t, titles["INTRODUÇÃO"] || titles["OBJETO"])
}
