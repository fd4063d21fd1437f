// Package dedup implements the C14 Dedup Service: skip re-processing a
// document whose content hash hasn't changed since the last run.
package dedup

import "context"

// Store is the subset of persistence.Store the dedup service needs.
type Store interface {
	GetProcessedHash(ctx context.Context, documentID string) (string, bool, error)
	MarkProcessed(ctx context.Context, documentID, contentHash string) error
}

// Service answers "has this exact document content already been
// processed" and records a content hash once processing succeeds.
type Service struct {
	store Store
}

// New wires the dedup service to its persistence backend.
func New(store Store) *Service {
	return &Service{store: store}
}

// ShouldProcess reports whether documentID with contentHash needs
// (re)processing: true when never processed, or when the content hash
// has changed since the last successful run.
func (s *Service) ShouldProcess(ctx context.Context, documentID, contentHash string) (bool, error) {
	existing, ok, err := s.store.GetProcessedHash(ctx, documentID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return existing != contentHash, nil
}

// MarkProcessed records contentHash as the last successfully processed
// version of documentID.
func (s *Service) MarkProcessed(ctx context.Context, documentID, contentHash string) error {
	return s.store.MarkProcessed(ctx, documentID, contentHash)
}
