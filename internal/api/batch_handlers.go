package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/batch"
	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/ingest"
	"github.com/JakeFAU/arb-appeal-extractor/internal/metrics"
	"github.com/JakeFAU/arb-appeal-extractor/internal/progress"
)

const (
	maxUploadBytes  = 10 << 20
	eventBufferSize = 256
)

type submitBatchRequest struct {
	RollNumbers []string `json:"roll_numbers"`
	// Mode is "lenient" (default) or "strict".
	Mode string `json:"mode"`
}

type submitBatchResponse struct {
	BatchID  string             `json:"batch_id"`
	Batch    extraction.Batch   `json:"batch"`
	Rejected []ingest.Rejection `json:"rejected"`
	Lossy    []string           `json:"lossy"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.RollNumbers) == 0 {
		writeError(w, http.StatusBadRequest, "roll_numbers required")
		return
	}
	mode, err := ingest.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.startBatch(w, r, req.RollNumbers, mode)
}

// uploadBatch accepts a CSV either as the "file" field of a multipart form or
// as the raw request body. Uploads validate strictly unless ?mode= says
// otherwise.
func (s *Server) uploadBatch(w http.ResponseWriter, r *http.Request) {
	mode := ingest.Strict
	if q := r.URL.Query().Get("mode"); q != "" {
		parsed, err := ingest.ParseMode(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = parsed
	}

	body, closeBody, err := uploadReader(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeBody()

	raw, err := ingest.ReadCSV(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.startBatch(w, r, raw, mode)
}

func uploadReader(w http.ResponseWriter, r *http.Request) (io.Reader, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, func() {}, nil
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, nil, fmt.Errorf("read upload: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

func (s *Server) startBatch(w http.ResponseWriter, r *http.Request, raw []string, mode ingest.Mode) {
	sub, err := s.deps.Batches.Submit(r.Context(), raw, mode)
	if err != nil {
		switch {
		case errors.Is(err, extraction.ErrNoValidIdentifiers):
			metrics.ObserveSubmission("invalid")
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":    err.Error(),
				"rejected": rejectedOrEmpty(sub.Rejected),
			})
		case errors.Is(err, extraction.ErrBusy):
			metrics.ObserveSubmission("busy")
			body := map[string]any{"error": err.Error()}
			if id, ok := s.deps.Batches.Running(); ok {
				body["running_batch_id"] = id
			}
			writeJSON(w, http.StatusConflict, body)
		case errors.Is(err, batch.ErrShuttingDown):
			metrics.ObserveSubmission("error")
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			metrics.ObserveSubmission("error")
			s.logger.Error("submit batch failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to start batch")
		}
		return
	}
	metrics.ObserveSubmission("accepted")
	lossy := sub.Lossy
	if lossy == nil {
		lossy = []string{}
	}
	writeJSON(w, http.StatusAccepted, submitBatchResponse{
		BatchID:  sub.Batch.ID,
		Batch:    sub.Batch,
		Rejected: rejectedOrEmpty(sub.Rejected),
		Lossy:    lossy,
	})
}

func rejectedOrEmpty(in []ingest.Rejection) []ingest.Rejection {
	if in == nil {
		return []ingest.Rejection{}
	}
	return in
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	b, err := s.deps.Batches.Get(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, extraction.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		s.logger.Error("get batch failed", zap.String("batch_id", batchID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load batch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": b})
}

func (s *Server) cancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	err := s.deps.Batches.Cancel(r.Context(), batchID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID, "status": "cancelling"})
	case errors.Is(err, extraction.ErrNotFound):
		writeError(w, http.StatusNotFound, "batch not found")
	case errors.Is(err, batch.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("cancel batch failed", zap.String("batch_id", batchID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel batch")
	}
}

type eventDTO struct {
	BatchID    string    `json:"batch_id"`
	Stage      string    `json:"stage"`
	TS         time.Time `json:"ts"`
	RollNumber string    `json:"roll_number,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Appeals    int       `json:"appeals,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Note       string    `json:"note,omitempty"`
}

func toEventDTO(evt progress.Event) eventDTO {
	return eventDTO{
		BatchID:    evt.BatchUUID().String(),
		Stage:      string(evt.Stage),
		TS:         evt.TS,
		RollNumber: evt.RollNumber,
		Outcome:    evt.Outcome,
		Appeals:    evt.Appeals,
		DurationMs: evt.Dur.Milliseconds(),
		Note:       evt.Note,
	}
}

// streamBatchEvents serves progress for one batch as server-sent events. The
// first event is a snapshot of the batch; the stream ends after the batch's
// terminal event or when the client goes away.
func (s *Server) streamBatchEvents(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	parsed, err := uuid.Parse(batchID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch_id")
		return
	}
	if s.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "progress stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the snapshot so no event falls between the two.
	events, unsubscribe := s.deps.Events.Subscribe(eventBufferSize)
	defer unsubscribe()

	snapshot, err := s.deps.Batches.Get(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, extraction.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load batch")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := writeSSE(w, "snapshot", snapshot); err != nil {
		return
	}
	flusher.Flush()
	if snapshot.State.Terminal() {
		return
	}

	want := progress.UUIDToBytes(parsed)
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-events:
			if !open {
				return
			}
			if evt.BatchID != want {
				continue
			}
			if err := writeSSE(w, string(evt.Stage), toEventDTO(evt)); err != nil {
				s.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
			if evt.Stage.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	event = strings.ReplaceAll(event, "\n", "")
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
