package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	hashes map[string]string
}

func newMemStore() *memStore { return &memStore{hashes: make(map[string]string)} }

func (m *memStore) GetProcessedHash(_ context.Context, documentID string) (string, bool, error) {
	h, ok := m.hashes[documentID]
	return h, ok, nil
}

func (m *memStore) MarkProcessed(_ context.Context, documentID, contentHash string) error {
	m.hashes[documentID] = contentHash
	return nil
}

func TestShouldProcessTrueForNeverSeenDocument(t *testing.T) {
	t.Parallel()
	svc := New(newMemStore())
	should, err := svc.ShouldProcess(context.Background(), "doc-1", "hash-a")
	require.NoError(t, err)
	assert.True(t, should)
}

func TestShouldProcessFalseWhenHashUnchanged(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := New(store)
	require.NoError(t, svc.MarkProcessed(context.Background(), "doc-1", "hash-a"))

	should, err := svc.ShouldProcess(context.Background(), "doc-1", "hash-a")
	require.NoError(t, err)
	assert.False(t, should)
}

func TestShouldProcessTrueWhenHashChanged(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := New(store)
	require.NoError(t, svc.MarkProcessed(context.Background(), "doc-1", "hash-a"))

	should, err := svc.ShouldProcess(context.Background(), "doc-1", "hash-b")
	require.NoError(t, err)
	assert.True(t, should)
}
