package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/store"
)

func TestBatchRunHandlerList(t *testing.T) {
	t.Parallel()

	repo := &mockBatchRunRepo{
		runs: []store.BatchRun{
			{
				BatchID:   uuid.New(),
				Status:    store.RunCompleted,
				StartedAt: time.Now().Add(-time.Hour),
				Succeeded: 3,
				Failed:    1,
			},
		},
	}
	handler := NewBatchRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/batch-runs?status=completed&limit=10", nil)
	rec := httptest.NewRecorder()

	handler.ListBatchRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, repo.lastStatus)
	require.Equal(t, store.RunCompleted, *repo.lastStatus)
	require.Equal(t, 10, repo.lastLimit)

	var body struct {
		Runs []batchRunDTO `json:"batch_runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, int64(3), body.Runs[0].Succeeded)
	require.Equal(t, "completed", body.Runs[0].Status)
}

func TestBatchRunHandlerListInvalidFilters(t *testing.T) {
	t.Parallel()

	handler := NewBatchRunHandler(&mockBatchRunRepo{}, zap.NewNop())
	for _, target := range []string{
		"/api/batch-runs?status=bogus",
		"/api/batch-runs?limit=-1",
		"/api/batch-runs?offset=x",
	} {
		rec := httptest.NewRecorder()
		handler.ListBatchRuns(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestBatchRunHandlerGetNotFound(t *testing.T) {
	t.Parallel()

	repo := &mockBatchRunRepo{err: store.ErrNotFound}
	handler := NewBatchRunHandler(repo, zap.NewNop())

	batchID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/batch-runs/"+batchID.String(), nil)
	req = withURLParam(req, "batch_id", batchID.String())
	rec := httptest.NewRecorder()

	handler.GetBatchRun(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchRunHandlerGetInvalidID(t *testing.T) {
	t.Parallel()

	handler := NewBatchRunHandler(&mockBatchRunRepo{}, zap.NewNop())
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/batch-runs/nope", nil), "batch_id", "nope")
	rec := httptest.NewRecorder()

	handler.GetBatchRun(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchRunHandlerNilRepo(t *testing.T) {
	t.Parallel()

	handler := NewBatchRunHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.ListBatchRuns(rec, httptest.NewRequest(http.MethodGet, "/api/batch-runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type mockBatchRunRepo struct {
	runs       []store.BatchRun
	err        error
	lastStatus *store.BatchRunStatus
	lastLimit  int
}

func (m *mockBatchRunRepo) UpsertBatchStart(context.Context, uuid.UUID, time.Time) error {
	return m.err
}

func (m *mockBatchRunRepo) CompleteBatch(context.Context, uuid.UUID, time.Time, store.BatchRunStatus, *string) error {
	return m.err
}

func (m *mockBatchRunRepo) AddItemCounts(context.Context, uuid.UUID, store.ItemCounts, time.Time) error {
	return m.err
}

func (m *mockBatchRunRepo) GetBatchRun(context.Context, uuid.UUID) (store.BatchRun, error) {
	if len(m.runs) > 0 {
		return m.runs[0], nil
	}
	return store.BatchRun{}, m.err
}

func (m *mockBatchRunRepo) ListBatchRuns(_ context.Context, status *store.BatchRunStatus, limit, _ int) ([]store.BatchRun, error) {
	m.lastStatus = status
	m.lastLimit = limit
	return m.runs, m.err
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
