// Package extract implements the C8 Document Extractor: attachment
// download, recursive zip unpacking, a priority-ordered text extractor
// chain, and object-storage upload of each leaf document.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alicit/licita/internal/httpclient"
	"github.com/alicit/licita/internal/logging"
	"github.com/alicit/licita/internal/objectstore"
	"github.com/alicit/licita/internal/opportunity"
)

var log = logging.WithComponent("extract")

// maxRecursionDepth bounds zip-of-zip-of-zip unpacking (§4.8 sanity bound).
const maxRecursionDepth = 5

// AttachmentRef is one entry from a provider's attachment-listing endpoint.
type AttachmentRef struct {
	URL      string
	FileName string
}

// AttachmentLister is implemented by provider adapters that expose a
// tender's attachment list.
type AttachmentLister interface {
	ListAttachments(ctx context.Context, externalID string) ([]AttachmentRef, error)
}

// EngineResult is what one extractor engine reports for a single document.
type EngineResult struct {
	Success        bool
	Text           string
	PageCount      int
	EngineUsed     string
	ExtractionTime time.Duration
}

// Engine is one entry in the priority-ordered extractor chain.
type Engine interface {
	Name() string
	// Extract attempts to pull text out of data. ok is false when this
	// engine can't handle the content at all (wrong format), distinct
	// from a handled-but-empty result.
	Extract(ctx context.Context, data []byte, mimeType, fileName string) (EngineResult, bool, error)
}

// Extractor runs the download → unpack → extract → upload pipeline for
// one opportunity's attachments.
type Extractor struct {
	httpClient *http.Client
	store      objectstore.ObjectStore
	engines    []Engine
	tempDir    string
}

// New builds an Extractor with the default engine chain: structured
// markdown conversion first, then the two PDF engines.
func New(store objectstore.ObjectStore, tempDir string) *Extractor {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Extractor{
		httpClient: httpclient.New(httpclient.Options{Timeout: 60 * time.Second}),
		store:      store,
		tempDir:    tempDir,
		engines:    []Engine{markdownEngine{}, pdfEngineA{}, pdfEngineB{}},
	}
}

// ProcessOpportunity fetches every attachment for one opportunity,
// recursively expanding zips, runs each leaf document through the
// extractor chain, uploads each leaf to object storage, and returns the
// resulting Document values. It does not write them to persistence.
func (e *Extractor) ProcessOpportunity(ctx context.Context, lister AttachmentLister, opportunityID string) ([]opportunity.Document, error) {
	refs, err := lister.ListAttachments(ctx, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("extract: list attachments for %s: %w", opportunityID, err)
	}

	var docs []opportunity.Document
	for _, ref := range refs {
		leaf, err := e.processAttachment(ctx, opportunityID, ref, 0)
		if err != nil {
			log.WithError(err).WithField("url", ref.URL).Warn("failed to process attachment, skipping")
			continue
		}
		docs = append(docs, leaf...)
	}
	return docs, nil
}

func (e *Extractor) processAttachment(ctx context.Context, opportunityID string, ref AttachmentRef, depth int) ([]opportunity.Document, error) {
	if depth > maxRecursionDepth {
		return nil, fmt.Errorf("extract: recursion depth exceeded at %s", ref.URL)
	}

	data, contentType, err := e.download(ctx, ref.URL)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(data)
	contentHash := hex.EncodeToString(hash[:])

	if isZip(data) {
		return e.unpackZip(ctx, opportunityID, ref, data, depth)
	}

	doc := opportunity.Document{
		ID:            uuid.NewString(),
		OpportunityID: opportunityID,
		Title:         ref.FileName,
		SizeBytes:     int64(len(data)),
		ContentHash:   contentHash,
		MimeType:      contentType,
	}

	result := e.runChain(ctx, data, contentType, ref.FileName)
	if result.Success {
		doc.ExtractedText = result.Text
		doc.ExtractionStatus = opportunity.ExtractionDone
	} else {
		doc.ExtractionStatus = opportunity.ExtractionFailed
	}

	key := storageKey(opportunityID, doc.ID, ref.FileName)
	if _, err := e.store.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{ContentType: contentType}); err != nil {
		return nil, fmt.Errorf("extract: upload %s: %w", key, err)
	}
	doc.StorageURL = key

	return []opportunity.Document{doc}, nil
}

func (e *Extractor) unpackZip(ctx context.Context, opportunityID string, ref AttachmentRef, data []byte, depth int) ([]opportunity.Document, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("extract: open zip %s: %w", ref.URL, err)
	}

	var docs []opportunity.Document
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			log.WithError(err).WithField("entry", f.Name).Warn("failed to open zip entry, skipping")
			continue
		}
		entryData, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			log.WithError(err).WithField("entry", f.Name).Warn("failed to read zip entry, skipping")
			continue
		}

		tmpPath, err := e.writeTemp(entryData, filepath.Base(f.Name))
		if err != nil {
			log.WithError(err).Warn("failed to write temp file for zip entry")
		} else {
			defer os.Remove(tmpPath)
		}

		nested, err := e.processBytes(ctx, opportunityID, f.Name, entryData, depth+1)
		if err != nil {
			log.WithError(err).WithField("entry", f.Name).Warn("failed to process zip entry, skipping")
			continue
		}
		docs = append(docs, nested...)
	}
	return docs, nil
}

// processBytes handles an entry already read into memory (from inside a
// zip), re-entering zip unpacking when the entry is itself a zip.
func (e *Extractor) processBytes(ctx context.Context, opportunityID, fileName string, data []byte, depth int) ([]opportunity.Document, error) {
	if depth > maxRecursionDepth {
		return nil, fmt.Errorf("extract: recursion depth exceeded at %s", fileName)
	}
	if isZip(data) {
		r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("extract: open nested zip %s: %w", fileName, err)
		}
		var docs []opportunity.Document
		for _, f := range r.File {
			if f.FileInfo().IsDir() {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				continue
			}
			entryData, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				continue
			}
			nested, err := e.processBytes(ctx, opportunityID, f.Name, entryData, depth+1)
			if err != nil {
				log.WithError(err).WithField("entry", f.Name).Warn("failed to process nested zip entry, skipping")
				continue
			}
			docs = append(docs, nested...)
		}
		return docs, nil
	}

	hash := sha256.Sum256(data)
	contentHash := hex.EncodeToString(hash[:])
	contentType := http.DetectContentType(data)

	doc := opportunity.Document{
		ID:            uuid.NewString(),
		OpportunityID: opportunityID,
		Title:         fileName,
		SizeBytes:     int64(len(data)),
		ContentHash:   contentHash,
		MimeType:      contentType,
	}

	result := e.runChain(ctx, data, contentType, fileName)
	if result.Success {
		doc.ExtractedText = result.Text
		doc.ExtractionStatus = opportunity.ExtractionDone
	} else {
		doc.ExtractionStatus = opportunity.ExtractionFailed
	}

	key := storageKey(opportunityID, doc.ID, fileName)
	if _, err := e.store.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{ContentType: contentType}); err != nil {
		return nil, fmt.Errorf("extract: upload %s: %w", key, err)
	}
	doc.StorageURL = key

	return []opportunity.Document{doc}, nil
}

// runChain tries each engine in priority order, keeping the first one
// that succeeds with non-empty text.
func (e *Extractor) runChain(ctx context.Context, data []byte, mimeType, fileName string) EngineResult {
	for _, eng := range e.engines {
		start := time.Now()
		result, applicable, err := eng.Extract(ctx, data, mimeType, fileName)
		result.ExtractionTime = time.Since(start)
		result.EngineUsed = eng.Name()
		if err != nil {
			log.WithError(err).WithField("engine", eng.Name()).Debug("extractor engine failed")
			continue
		}
		if !applicable {
			continue
		}
		if result.Success && strings.TrimSpace(result.Text) != "" {
			return result
		}
	}
	return EngineResult{Success: false}
}

func (e *Extractor) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("extract: download %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 200*1024*1024))
	if err != nil {
		return nil, "", fmt.Errorf("extract: read body %s: %w", url, err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func (e *Extractor) writeTemp(data []byte, name string) (string, error) {
	path := filepath.Join(e.tempDir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), name))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// GC removes temp files in tempDir older than maxAge, meant to run
// between ingestion cycles.
func (e *Extractor) GC(maxAge time.Duration) error {
	entries, err := os.ReadDir(e.tempDir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(e.tempDir, entry.Name()))
		}
	}
	return nil
}

func isZip(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	sig := data[:4]
	return bytes.Equal(sig, []byte{0x50, 0x4B, 0x03, 0x04}) ||
		bytes.Equal(sig, []byte{0x50, 0x4B, 0x05, 0x06}) ||
		bytes.Equal(sig, []byte{0x50, 0x4B, 0x07, 0x08})
}

func storageKey(opportunityID, documentID, fileName string) string {
	ext := filepath.Ext(fileName)
	return fmt.Sprintf("documents/%s/%s%s", opportunityID, documentID, ext)
}
