package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/batch"
	"github.com/JakeFAU/arb-appeal-extractor/internal/config"
	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/ingest"
	"github.com/JakeFAU/arb-appeal-extractor/internal/metrics"
	"github.com/JakeFAU/arb-appeal-extractor/internal/progress"
	"github.com/JakeFAU/arb-appeal-extractor/internal/store"
)

// BatchService is the batch manager surface the handlers need.
type BatchService interface {
	Submit(ctx context.Context, raw []string, mode ingest.Mode) (batch.Submission, error)
	Cancel(ctx context.Context, batchID string) error
	Get(ctx context.Context, batchID string) (extraction.Batch, error)
	Running() (string, bool)
	ShuttingDown() bool
}

// Prober checks that the appeals site is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Deps wires a Server. Batches and Results are required; the rest are
// optional and their routes degrade to 503 when missing.
type Deps struct {
	Batches BatchService
	Results extraction.ResultStore
	Runs    store.BatchRunRepository
	Events  *progress.Broadcaster
	Prober  Prober
	Logger  *zap.Logger
}

// Server wires HTTP handlers to the batch manager and stores.
type Server struct {
	router  chi.Router
	deps    Deps
	cfg     config.Config
	logger  *zap.Logger
	timeout time.Duration
}

const requestTimeout = 60 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.Named("api"),
		timeout: requestTimeout,
	}
	runs := NewBatchRunHandler(deps.Runs, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(s.timeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
		r.Get("/api/batch-runs", runs.ListBatchRuns)
		r.Get("/api/batch-runs/{batch_id}", runs.GetBatchRun)
	})

	r.Route("/v1", func(r chi.Router) {
		// The event stream stays outside http.TimeoutHandler, which buffers
		// the response and hides http.Flusher.
		r.Get("/batches/{batch_id}/events", s.streamBatchEvents)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(s.timeout))
			r.Post("/batches", s.submitBatch)
			r.Post("/batches/upload", s.uploadBatch)
			r.Get("/batches/{batch_id}", s.getBatch)
			r.Post("/batches/{batch_id}/cancel", s.cancelBatch)
			r.Get("/results", s.listResults)
			r.Get("/results/export", s.exportResults)
			r.Get("/results/{roll_number}", s.getResult)
			r.Get("/stats", s.stats)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok", "batch_running": false, "shutting_down": false}
	if s.deps.Batches != nil {
		id, running := s.deps.Batches.Running()
		body["batch_running"] = running
		if running {
			body["running_batch_id"] = id
		}
		body["shutting_down"] = s.deps.Batches.ShuttingDown()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Batches != nil && s.deps.Batches.ShuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if s.deps.Prober == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	err := s.deps.Prober.Probe(r.Context())
	metrics.ObserveProbe(s.cfg.Site.URL, err)
	if err != nil {
		s.logger.Warn("site probe failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "site_unreachable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
