package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/arb-appeal-extractor/internal/store"
)

// BatchRunStore implements store.BatchRunRepository using Postgres.
type BatchRunStore struct {
	db DB
}

// NewBatchRunStore wraps an open pool (or pgxmock in tests).
func NewBatchRunStore(db DB) (*BatchRunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &BatchRunStore{db: db}, nil
}

// UpsertBatchStart inserts a running batch or resets its status to running.
func (s *BatchRunStore) UpsertBatchStart(ctx context.Context, batchID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO batch_runs (batch_id, started_at, status, last_update)
		VALUES ($1, $2, $3, $2)
		ON CONFLICT (batch_id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE batch_runs.status <> EXCLUDED.status;
	`
	if _, err := s.db.Exec(ctx, query, batchID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to upsert batch start: %w", err)
	}
	return nil
}

// CompleteBatch marks a batch as finished with a status and optional error message.
func (s *BatchRunStore) CompleteBatch(
	ctx context.Context,
	batchID uuid.UUID,
	finishedAt time.Time,
	status store.BatchRunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE batch_runs
		SET finished_at = $1, status = $2, error_message = $3, last_update = $1
		WHERE batch_id = $4;
	`
	tag, err := s.db.Exec(ctx, query, finishedAt, status, errMsg, batchID)
	if err != nil {
		return fmt.Errorf("failed to complete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddItemCounts applies an outcome delta to the batch counters.
func (s *BatchRunStore) AddItemCounts(ctx context.Context, batchID uuid.UUID, delta store.ItemCounts, at time.Time) error {
	query := `
		UPDATE batch_runs
		SET succeeded = succeeded + $1,
			no_records = no_records + $2,
			failed = failed + $3,
			last_update = GREATEST(last_update, $4)
		WHERE batch_id = $5;
	`
	tag, err := s.db.Exec(ctx, query, delta.Succeeded, delta.NoRecords, delta.Failed, at, batchID)
	if err != nil {
		return fmt.Errorf("failed to add item counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const selectBatchRunColumns = `
	SELECT batch_id, started_at, finished_at, status, succeeded, no_records, failed, error_message, last_update
	FROM batch_runs`

// GetBatchRun retrieves a single run by batch ID.
func (s *BatchRunStore) GetBatchRun(ctx context.Context, batchID uuid.UUID) (store.BatchRun, error) {
	run, err := scanBatchRun(s.db.QueryRow(ctx, selectBatchRunColumns+` WHERE batch_id = $1;`, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.BatchRun{}, store.ErrNotFound
		}
		return store.BatchRun{}, fmt.Errorf("failed to get batch run: %w", err)
	}
	return run, nil
}

// ListBatchRuns retrieves runs newest first with optional status filtering.
func (s *BatchRunStore) ListBatchRuns(
	ctx context.Context,
	status *store.BatchRunStatus,
	limit,
	offset int,
) ([]store.BatchRun, error) {
	query := selectBatchRunColumns + `
	WHERE ($1::text IS NULL OR status = $1)
	ORDER BY started_at DESC
	LIMIT $2 OFFSET $3;`
	rows, err := s.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch runs: %w", err)
	}
	defer rows.Close()

	runs := []store.BatchRun{}
	for rows.Next() {
		run, err := scanBatchRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batch runs: %w", err)
	}
	return runs, nil
}

func scanBatchRun(row pgx.Row) (store.BatchRun, error) {
	var run store.BatchRun
	err := row.Scan(
		&run.BatchID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Succeeded,
		&run.NoRecords,
		&run.Failed,
		&run.ErrorMessage,
		&run.LastUpdate,
	)
	return run, err
}
