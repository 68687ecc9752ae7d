package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/arb-appeal-extractor/internal/store"
)

// BatchRunStore is an in-memory store.BatchRunRepository used when no
// database is configured.
type BatchRunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.BatchRun
}

// NewBatchRunStore constructs a BatchRunStore.
func NewBatchRunStore() *BatchRunStore {
	return &BatchRunStore{runs: make(map[uuid.UUID]store.BatchRun)}
}

// UpsertBatchStart records a running batch. Repeated starts keep the first timestamp.
func (s *BatchRunStore) UpsertBatchStart(_ context.Context, batchID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[batchID]; ok {
		run.Status = store.RunRunning
		run.LastUpdate = startedAt
		s.runs[batchID] = run
		return nil
	}
	s.runs[batchID] = store.BatchRun{
		BatchID:    batchID,
		StartedAt:  startedAt,
		Status:     store.RunRunning,
		LastUpdate: startedAt,
	}
	return nil
}

// CompleteBatch marks the run finished.
func (s *BatchRunStore) CompleteBatch(
	_ context.Context,
	batchID uuid.UUID,
	finishedAt time.Time,
	status store.BatchRunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[batchID]
	if !ok {
		return store.ErrNotFound
	}
	ts := finishedAt
	run.FinishedAt = &ts
	run.Status = status
	run.ErrorMessage = errMsg
	run.LastUpdate = finishedAt
	s.runs[batchID] = run
	return nil
}

// AddItemCounts applies an outcome delta to the run counters.
func (s *BatchRunStore) AddItemCounts(_ context.Context, batchID uuid.UUID, delta store.ItemCounts, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[batchID]
	if !ok {
		return store.ErrNotFound
	}
	run.Succeeded += delta.Succeeded
	run.NoRecords += delta.NoRecords
	run.Failed += delta.Failed
	if at.After(run.LastUpdate) {
		run.LastUpdate = at
	}
	s.runs[batchID] = run
	return nil
}

// GetBatchRun returns a run or store.ErrNotFound.
func (s *BatchRunStore) GetBatchRun(_ context.Context, batchID uuid.UUID) (store.BatchRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[batchID]
	if !ok {
		return store.BatchRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListBatchRuns returns runs newest first filtered by an optional status.
func (s *BatchRunStore) ListBatchRuns(
	_ context.Context,
	status *store.BatchRunStatus,
	limit,
	offset int,
) ([]store.BatchRun, error) {
	s.mu.RLock()
	runs := make([]store.BatchRun, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if offset < 0 {
		offset = 0
	}
	if offset >= len(runs) {
		return []store.BatchRun{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}
