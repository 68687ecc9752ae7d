package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("batch run not found")

// BatchRunStatus mirrors the batch_runs status column.
type BatchRunStatus string

// Batch run statuses persisted in batch_runs.status.
const (
	RunRunning   BatchRunStatus = "running"
	RunCompleted BatchRunStatus = "completed"
	RunCancelled BatchRunStatus = "cancelled"
	RunFailed    BatchRunStatus = "failed"
)

// BatchRun models the batch_runs table for API responses.
type BatchRun struct {
	BatchID    uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     BatchRunStatus
	// Item counters accumulate as ITEM_DONE / ITEM_ERROR events arrive.
	Succeeded    int64
	NoRecords    int64
	Failed       int64
	ErrorMessage *string
	LastUpdate   time.Time
}

// ItemCounts is a delta applied to a batch run's counters.
type ItemCounts struct {
	Succeeded int64
	NoRecords int64
	Failed    int64
}

// IsZero reports whether the delta changes nothing.
func (c ItemCounts) IsZero() bool {
	return c.Succeeded == 0 && c.NoRecords == 0 && c.Failed == 0
}

// BatchRunRepository persists incremental batch progress.
type BatchRunRepository interface {
	// UpsertBatchStart inserts (or idempotently updates) the started_at timestamp.
	UpsertBatchStart(ctx context.Context, batchID uuid.UUID, startedAt time.Time) error
	// CompleteBatch marks the run finished with the provided status and error.
	CompleteBatch(ctx context.Context, batchID uuid.UUID, finishedAt time.Time, status BatchRunStatus, errMsg *string) error
	// AddItemCounts applies item outcome deltas.
	AddItemCounts(ctx context.Context, batchID uuid.UUID, delta ItemCounts, at time.Time) error

	// GetBatchRun loads a single run or returns ErrNotFound.
	GetBatchRun(ctx context.Context, batchID uuid.UUID) (BatchRun, error)
	// ListBatchRuns returns runs filtered by optional status plus limit/offset.
	ListBatchRuns(ctx context.Context, status *BatchRunStatus, limit, offset int) ([]BatchRun, error)
}
