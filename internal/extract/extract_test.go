package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicit/licita/internal/objectstore"
)

type fakeLister struct {
	refs []AttachmentRef
}

func (f fakeLister) ListAttachments(_ context.Context, _ string) ([]AttachmentRef, error) {
	return f.refs, nil
}

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestIsZipDetectsLocalFileHeader(t *testing.T) {
	t.Parallel()
	zipData := buildZip(t, map[string][]byte{"a.txt": []byte("hello")})
	assert.True(t, isZip(zipData))
	assert.False(t, isZip([]byte("plain text document")))
}

func TestProcessOpportunityUnpacksZipAndPersistsLeafDocuments(t *testing.T) {
	t.Parallel()
	zipData := buildZip(t, map[string][]byte{
		"edital.html": []byte("<html><body><h1>Objeto</h1><p>Fornecimento de papel</p></body></html>"),
		"anexo.txt":   []byte("texto simples do anexo"),
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write(zipData)
	}))
	defer server.Close()

	store := objectstore.NewMemoryStore()
	extractor := New(store, t.TempDir())

	docs, err := extractor.ProcessOpportunity(context.Background(), fakeLister{
		refs: []AttachmentRef{{URL: server.URL, FileName: "anexos.zip"}},
	}, "opp-1")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, "opp-1", d.OpportunityID)
		assert.NotEmpty(t, d.ContentHash)
		assert.NotEmpty(t, d.StorageURL)
	}
}

func TestMarkdownEngineConvertsHTMLAndIsNotApplicableToOtherTypes(t *testing.T) {
	t.Parallel()
	eng := markdownEngine{}

	result, applicable, err := eng.Extract(context.Background(), []byte("<html><body><h1>Titulo</h1><p>corpo do texto</p></body></html>"), "text/html", "doc.html")
	require.NoError(t, err)
	assert.True(t, applicable)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.Text)

	_, applicable, err = eng.Extract(context.Background(), []byte("not html"), "text/plain", "doc.txt")
	require.NoError(t, err)
	assert.False(t, applicable)
}

func TestGCRemovesOldTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := objectstore.NewMemoryStore()
	extractor := New(store, dir)

	path, err := extractor.writeTemp([]byte("data"), "old.txt")
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	require.NoError(t, extractor.GC(time.Hour))

	_, statErr := os.Stat(path)
	assert.Error(t, statErr)
}
