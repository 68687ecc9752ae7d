package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
)

// BatchStore keeps batch snapshots for status polling.
type BatchStore struct {
	mu      sync.RWMutex
	batches map[string]extraction.Batch
}

// NewBatchStore constructs a BatchStore.
func NewBatchStore() *BatchStore {
	return &BatchStore{batches: make(map[string]extraction.Batch)}
}

// SaveBatch stores a deep copy of the batch.
func (s *BatchStore) SaveBatch(_ context.Context, batch extraction.Batch) error {
	if batch.ID == "" {
		return fmt.Errorf("batch id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = batch.Clone()
	return nil
}

// GetBatch fetches a batch by ID.
func (s *BatchStore) GetBatch(_ context.Context, batchID string) (extraction.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return extraction.Batch{}, extraction.ErrNotFound
	}
	return batch.Clone(), nil
}
