package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/ingest"
)

var (
	// ErrNotRunning is returned when cancelling a batch that is not in flight.
	ErrNotRunning = errors.New("batch is not running")
	// ErrShuttingDown rejects submissions once shutdown has begun.
	ErrShuttingDown = errors.New("service is shutting down")
)

// Submission is the synchronous answer to Submit.
type Submission struct {
	Batch    extraction.Batch   `json:"batch"`
	Rejected []ingest.Rejection `json:"rejected,omitempty"`
	// Lossy lists accepted inputs that were padded or truncated.
	Lossy []string `json:"lossy,omitempty"`
}

type activeBatch struct {
	id    string
	token *extraction.CancelToken
	done  chan struct{}
}

// Manager owns the runner, the in-flight guard and the active batch's
// cancel token. It is the only entry point for starting batches.
type Manager struct {
	runner  *Runner
	batches extraction.BatchStore
	ids     extraction.IDGenerator
	clock   extraction.Clock
	logger  *zap.Logger

	guard        Guard
	shuttingDown atomic.Bool
	wg           sync.WaitGroup

	mu     sync.Mutex
	active *activeBatch

	runCtx  context.Context
	stopRun context.CancelFunc
}

// NewManager builds a Manager.
func NewManager(
	runner *Runner,
	batches extraction.BatchStore,
	ids extraction.IDGenerator,
	clock extraction.Clock,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		runner:  runner,
		batches: batches,
		ids:     ids,
		clock:   clock,
		logger:  logger.Named("batch_manager"),
		runCtx:  ctx,
		stopRun: cancel,
	}
}

func (m *Manager) now() time.Time {
	if m.clock != nil {
		return m.clock.Now()
	}
	return time.Now().UTC()
}

// Submit validates raw identifiers and starts a batch in the background. It
// fails with extraction.ErrNoValidIdentifiers when nothing is valid and with
// extraction.ErrBusy when another batch is in flight. The returned
// Submission carries rejected rows in both cases.
func (m *Manager) Submit(ctx context.Context, raw []string, mode ingest.Mode) (Submission, error) {
	if m.shuttingDown.Load() {
		return Submission{}, ErrShuttingDown
	}
	accepted, rejected := ingest.Validate(raw, mode)
	sub := Submission{Rejected: rejected}
	numbers, err := ingest.Numbers(accepted)
	if err != nil {
		return sub, err
	}
	for _, a := range accepted {
		if a.Lossy {
			sub.Lossy = append(sub.Lossy, a.Input)
		}
	}

	if !m.guard.TryAcquire() {
		return sub, extraction.ErrBusy
	}
	release := true
	defer func() {
		if release {
			m.guard.Release()
		}
	}()

	id, err := m.ids.NewID()
	if err != nil {
		return sub, fmt.Errorf("new batch id: %w", err)
	}
	keys := make([]string, len(numbers))
	for i, n := range numbers {
		keys[i] = n.Key()
	}
	b := extraction.NewBatch(id, keys, m.now())

	// Shutdown takes mu to flip the flag, so a batch registered here is
	// either refused or visible to it for cancellation and waiting.
	m.mu.Lock()
	if m.shuttingDown.Load() {
		m.mu.Unlock()
		return sub, ErrShuttingDown
	}
	if err := m.batches.SaveBatch(ctx, b.Clone()); err != nil {
		m.mu.Unlock()
		return sub, fmt.Errorf("save batch: %w", err)
	}
	active := &activeBatch{id: id, token: extraction.NewCancelToken(), done: make(chan struct{})}
	m.active = active
	m.wg.Add(1)
	m.mu.Unlock()

	release = false
	go m.run(b, active)

	m.logger.Info("batch submitted",
		zap.String("batch_id", id),
		zap.Int("accepted", len(keys)),
		zap.Int("rejected", len(rejected)),
		zap.Int("lossy", len(sub.Lossy)),
	)
	sub.Batch = b
	return sub, nil
}

func (m *Manager) run(b extraction.Batch, active *activeBatch) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("batch panicked", zap.String("batch_id", b.ID), zap.Any("panic", rec))
			now := m.now()
			b.State = extraction.BatchFailed
			b.Finished = &now
			b.Error = fmt.Sprintf("internal error: %v", rec)
			b.Summary = extraction.Summarize(b.Items)
			if err := m.batches.SaveBatch(context.Background(), b.Clone()); err != nil {
				m.logger.Warn("save failed batch", zap.Error(err))
			}
		}
		m.mu.Lock()
		if m.active == active {
			m.active = nil
		}
		m.mu.Unlock()
		m.guard.Release()
		close(active.done)
		m.wg.Done()
	}()

	err := m.runner.Run(m.runCtx, &b, active.token)
	if err != nil && !errors.Is(err, extraction.ErrCancelled) {
		m.logger.Warn("batch ended with error", zap.String("batch_id", b.ID), zap.Error(err))
	}
}

// Cancel signals the running batch. The in-flight item finishes its current
// step first.
func (m *Manager) Cancel(ctx context.Context, batchID string) error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active != nil && active.id == batchID {
		active.token.Cancel()
		m.logger.Info("batch cancellation requested", zap.String("batch_id", batchID))
		return nil
	}
	if _, err := m.batches.GetBatch(ctx, batchID); err != nil {
		return err
	}
	return ErrNotRunning
}

// Get returns the latest snapshot of a batch.
func (m *Manager) Get(ctx context.Context, batchID string) (extraction.Batch, error) {
	b, err := m.batches.GetBatch(ctx, batchID)
	if err != nil {
		return extraction.Batch{}, err
	}
	return b, nil
}

// Running returns the ID of the in-flight batch, if any.
func (m *Manager) Running() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", false
	}
	return m.active.id, true
}

// Done returns a channel closed when batchID finishes, or nil when it is not
// the running batch.
func (m *Manager) Done(batchID string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.id != batchID {
		return nil
	}
	return m.active.done
}

// ShuttingDown reports whether Shutdown has been called.
func (m *Manager) ShuttingDown() bool {
	return m.shuttingDown.Load()
}

// Shutdown stops accepting batches, cancels the running one and waits for it
// to wind down. When ctx expires first, in-flight browser calls are aborted.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shuttingDown.Store(true)
	if m.active != nil {
		m.active.token.Cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.stopRun()
		return nil
	case <-ctx.Done():
		m.stopRun()
		<-done
		return fmt.Errorf("wait for running batch: %w", ctx.Err())
	}
}
