package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/store"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	progressTimeout = 3 * time.Second
)

// BatchRunHandler exposes the persisted batch run history.
type BatchRunHandler struct {
	repo    store.BatchRunRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewBatchRunHandler wires the repository and logger.
func NewBatchRunHandler(repo store.BatchRunRepository, logger *zap.Logger) *BatchRunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchRunHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListBatchRuns handles GET /api/batch-runs?status=&limit=&offset=. It returns
// {"batch_runs": [...]} on success, 400 for invalid filters, 503 when the repo
// is unavailable, or 500 if the repository call fails.
func (h *BatchRunHandler) ListBatchRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "batch run repository unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.BatchRunStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}
	runs, err := h.repo.ListBatchRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list batch runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list batch runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_runs": toBatchRunDTOs(runs),
	})
}

// GetBatchRun handles GET /api/batch-runs/{batch_id}. It returns
// {"batch_run": {...}} on success, 400 for malformed IDs, 404 when the
// repository reports store.ErrNotFound, 503 if the repo is not initialized,
// or 500 otherwise.
func (h *BatchRunHandler) GetBatchRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "batch run repository unavailable")
		return
	}
	batchID, err := parseBatchID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetBatchRun(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch run not found")
			return
		}
		h.logger.Error("get batch run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load batch run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_run": toBatchRunDTO(run)})
}

func parseBatchID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "batch_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("batch_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid batch_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.BatchRunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "completed", "done":
		return store.RunCompleted, nil
	case "cancelled", "canceled":
		return store.RunCancelled, nil
	case "failed", "error":
		return store.RunFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toBatchRunDTOs(in []store.BatchRun) []batchRunDTO {
	out := make([]batchRunDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toBatchRunDTO(run))
	}
	return out
}

func toBatchRunDTO(run store.BatchRun) batchRunDTO {
	return batchRunDTO{
		BatchID:    run.BatchID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Succeeded:  run.Succeeded,
		NoRecords:  run.NoRecords,
		Failed:     run.Failed,
		Error:      run.ErrorMessage,
		LastUpdate: run.LastUpdate,
	}
}

type batchRunDTO struct {
	BatchID    string     `json:"batch_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Succeeded  int64      `json:"succeeded"`
	NoRecords  int64      `json:"no_records_found"`
	Failed     int64      `json:"failed"`
	Error      *string    `json:"error,omitempty"`
	LastUpdate time.Time  `json:"last_update"`
}
