package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arb-appeal-extractor/internal/progress"
	"github.com/JakeFAU/arb-appeal-extractor/internal/store"
)

// TestStoreSinkPersistsEvents ensures item outcomes are collapsed per batch before persisting.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeBatchRunRepo{}
	sink := NewStoreSink(repo, nil)
	batchUUID := uuid.New()
	batchID := progress.UUIDToBytes(batchUUID)
	now := time.Now()

	batch := []progress.Event{
		{BatchID: batchID, Stage: progress.StageBatchStart, TS: now},
		{BatchID: batchID, Stage: progress.StageItemStart, RollNumber: "a", TS: now},
		{BatchID: batchID, Stage: progress.StageItemDone, RollNumber: "a", Outcome: "success", TS: now.Add(time.Second)},
		{BatchID: batchID, Stage: progress.StageItemDone, RollNumber: "b", Outcome: "no_records_found", TS: now.Add(2 * time.Second)},
		{BatchID: batchID, Stage: progress.StageItemError, RollNumber: "c", Outcome: "failed", TS: now.Add(3 * time.Second)},
		{BatchID: batchID, Stage: progress.StageBatchDone, TS: now.Add(4 * time.Second), Dur: 4 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []uuid.UUID{batchUUID}, repo.starts)
	require.Equal(t, []string{"counts", "complete"}, repo.order)
	require.Len(t, repo.counts, 1)
	require.Equal(t, store.ItemCounts{Succeeded: 1, NoRecords: 1, Failed: 1}, repo.counts[0].delta)
	require.Equal(t, now.Add(3*time.Second), repo.counts[0].at)
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunCompleted, repo.completes[0].status)
	require.Nil(t, repo.completes[0].errMsg)
}

func TestStoreSinkRecordsCancellationNote(t *testing.T) {
	t.Parallel()

	repo := &fakeBatchRunRepo{}
	sink := NewStoreSink(repo, nil)
	batchID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: batchID, Stage: progress.StageBatchError, TS: time.Now(), Note: "browser session launch_failed"},
	}))
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunFailed, repo.completes[0].status)
	require.Equal(t, "browser session launch_failed", *repo.completes[0].errMsg)
	require.Empty(t, repo.counts)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeBatchRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	batchID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{BatchID: batchID, Stage: progress.StageBatchStart, TS: time.Now()},
	})
	require.Error(t, err)
}

func TestStoreSinkNilRepo(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(nil, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageBatchStart}}))
}

type fakeBatchRunRepo struct {
	fail      bool
	order     []string
	starts    []uuid.UUID
	counts    []countsCall
	completes []completeCall
}

type countsCall struct {
	batchID uuid.UUID
	delta   store.ItemCounts
	at      time.Time
}

type completeCall struct {
	batchID uuid.UUID
	status  store.BatchRunStatus
	errMsg  *string
}

func (f *fakeBatchRunRepo) UpsertBatchStart(_ context.Context, batchID uuid.UUID, _ time.Time) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, batchID)
	return nil
}

func (f *fakeBatchRunRepo) CompleteBatch(
	_ context.Context,
	batchID uuid.UUID,
	_ time.Time,
	status store.BatchRunStatus,
	errMsg *string,
) error {
	if f.fail {
		return assertErr("complete")
	}
	f.order = append(f.order, "complete")
	f.completes = append(f.completes, completeCall{batchID: batchID, status: status, errMsg: errMsg})
	return nil
}

func (f *fakeBatchRunRepo) AddItemCounts(_ context.Context, batchID uuid.UUID, delta store.ItemCounts, at time.Time) error {
	if f.fail {
		return assertErr("counts")
	}
	f.order = append(f.order, "counts")
	f.counts = append(f.counts, countsCall{batchID: batchID, delta: delta, at: at})
	return nil
}

func (f *fakeBatchRunRepo) GetBatchRun(context.Context, uuid.UUID) (store.BatchRun, error) {
	return store.BatchRun{}, assertErr("read")
}

func (f *fakeBatchRunRepo) ListBatchRuns(context.Context, *store.BatchRunStatus, int, int) ([]store.BatchRun, error) {
	return nil, assertErr("list")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
