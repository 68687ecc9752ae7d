// Package batch runs ordered batches of roll-number lookups through one
// browser session, with cooperative cancellation and per-item failure
// isolation.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/browser"
	"github.com/JakeFAU/arb-appeal-extractor/internal/extract"
	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/interaction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/output"
	"github.com/JakeFAU/arb-appeal-extractor/internal/policy/ratelimit"
	"github.com/JakeFAU/arb-appeal-extractor/internal/publisher"
	"github.com/JakeFAU/arb-appeal-extractor/internal/rollnumber"
)

// Deps wires a Runner. Engine, Extractor, Results and Batches are required.
type Deps struct {
	Engine    browser.Engine
	Session   browser.Config
	Selectors interaction.Selectors
	Driver    interaction.Config
	Extractor *extract.Extractor

	Results extraction.ResultStore
	Batches extraction.BatchStore
	// Output and Publisher are optional side channels; their failures are
	// logged and never fail an item.
	Output    *output.Writer
	Publisher extraction.Publisher
	Topic     string

	Reporter extraction.Reporter
	// Pacer spaces consecutive searches. Nil disables pacing.
	Pacer  *ratelimit.Limiter
	Clock  extraction.Clock
	Logger *zap.Logger
}

// Runner executes one batch at a time. It holds no per-batch state.
type Runner struct {
	deps   Deps
	logger *zap.Logger
}

// NewRunner validates deps and builds a Runner.
func NewRunner(deps Deps) (*Runner, error) {
	switch {
	case deps.Engine == nil:
		return nil, fmt.Errorf("browser engine is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Results == nil:
		return nil, fmt.Errorf("result store is required")
	case deps.Batches == nil:
		return nil, fmt.Errorf("batch store is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Runner{deps: deps, logger: deps.Logger.Named("batch")}, nil
}

func (r *Runner) now() time.Time {
	if r.deps.Clock != nil {
		return r.deps.Clock.Now()
	}
	return time.Now().UTC()
}

// Run processes b in input order and leaves it in a terminal state. It
// returns nil when the batch completed, extraction.ErrCancelled when it was
// cancelled, and the SessionError when the browser became unusable. Item
// failures are recorded on the item and never returned.
func (r *Runner) Run(ctx context.Context, b *extraction.Batch, token *extraction.CancelToken) error {
	logger := r.logger.With(zap.String("batch_id", b.ID), zap.Int("items", len(b.Items)))
	started := r.now()
	b.State = extraction.BatchRunning
	b.Started = &started
	b.Message = "starting browser"
	r.save(ctx, b)
	r.report(extraction.ProgressUpdate{BatchID: b.ID, BatchState: extraction.BatchRunning, Message: b.Message, At: started})
	logger.Info("batch started")

	if token.Cancelled() {
		return r.finish(ctx, b, extraction.ErrCancelled)
	}

	sess := browser.NewSession(r.deps.Engine, r.deps.Session, token, r.deps.Logger)
	defer sess.Close()

	if err := sess.Start(ctx); err != nil {
		return r.finish(ctx, b, err)
	}
	if err := sess.Navigate(ctx); err != nil {
		return r.finish(ctx, b, err)
	}
	page := sess.Page()
	driver := interaction.New(page, r.deps.Selectors, r.deps.Driver, token, r.deps.Logger)

	for i := range b.Items {
		if err := token.Check(); err != nil {
			return r.finish(ctx, b, err)
		}
		if i > 0 {
			// Return to a clean search form.
			if err := sess.Navigate(ctx); err != nil {
				return r.finish(ctx, b, err)
			}
		}
		if err := r.pace(ctx, token); err != nil {
			return r.finish(ctx, b, err)
		}
		if err := r.processItem(ctx, b, i, page, driver, token); err != nil {
			return r.finish(ctx, b, err)
		}
	}
	return r.finish(ctx, b, nil)
}

// processItem runs one lookup. It returns an error only when the batch must
// stop: cancellation or a session failure. Everything else fails the item.
func (r *Runner) processItem(
	ctx context.Context,
	b *extraction.Batch,
	i int,
	page browser.Page,
	driver *interaction.Driver,
	token *extraction.CancelToken,
) error {
	item := &b.Items[i]
	logger := r.logger.With(zap.String("batch_id", b.ID), zap.String("roll_number", item.RollNumber))

	started := r.now()
	item.Status = extraction.ItemProcessing
	item.StartedAt = &started
	item.Message = fmt.Sprintf("searching (%d of %d)", i+1, len(b.Items))
	b.Message = item.Message
	r.save(ctx, b)
	r.report(extraction.ProgressUpdate{
		BatchID:    b.ID,
		RollNumber: item.RollNumber,
		ItemStatus: extraction.ItemProcessing,
		Message:    item.Message,
		At:         started,
	})

	result, err := r.lookup(ctx, page, driver, token, item.RollNumber)
	if err != nil {
		if stop := r.stopError(ctx, err); stop != nil {
			if errors.Is(stop, extraction.ErrCancelled) {
				// The in-flight item never finished; it goes back to the queue.
				item.Status = extraction.ItemQueued
				item.StartedAt = nil
				item.Message = ""
			}
			return stop
		}
		logger.Warn("lookup failed", zap.Error(err))
		result = extraction.FailedResult(item.RollNumber, r.now(), err)
	}

	if err := r.deps.Results.UpsertResult(context.WithoutCancel(ctx), result); err != nil {
		logger.Error("persist result failed", zap.Error(err))
		result = extraction.FailedResult(item.RollNumber, result.ExtractedAt, fmt.Errorf("persist result: %w", err))
	}
	uri := r.writeOutput(ctx, b.ID, result, logger)
	r.publish(ctx, b.ID, result, uri, logger)

	finished := r.now()
	item.FinishedAt = &finished
	item.Outcome = result.Outcome
	item.Appeals = len(result.Appeals)
	switch result.Outcome {
	case extraction.OutcomeFailed:
		item.Status = extraction.ItemFailed
		item.Error = result.Error
		item.Message = "failed"
	case extraction.OutcomeNoRecords:
		item.Status = extraction.ItemCompleted
		item.Message = "no records found"
	default:
		item.Status = extraction.ItemCompleted
		item.Message = fmt.Sprintf("%d appeals extracted", item.Appeals)
	}
	b.Summary = extraction.Summarize(b.Items)
	r.save(ctx, b)
	r.report(extraction.ProgressUpdate{
		BatchID:    b.ID,
		RollNumber: item.RollNumber,
		ItemStatus: item.Status,
		Outcome:    item.Outcome,
		Appeals:    item.Appeals,
		Message:    item.Message,
		Duration:   finished.Sub(started),
		At:         finished,
	})
	logger.Info("roll number processed",
		zap.String("outcome", string(item.Outcome)),
		zap.Int("appeals", item.Appeals),
		zap.Duration("duration", finished.Sub(started)),
	)
	return nil
}

func (r *Runner) lookup(
	ctx context.Context,
	page browser.Page,
	driver *interaction.Driver,
	token *extraction.CancelToken,
	key string,
) (extraction.Result, error) {
	number, err := rollnumber.Parse(key)
	if err != nil {
		return extraction.Result{}, err
	}
	if err := driver.EnterIdentifier(ctx, rollnumber.NormalizeForEntry(key)); err != nil {
		return extraction.Result{}, fmt.Errorf("enter roll number: %w", err)
	}
	state, err := driver.Submit(ctx)
	if err != nil {
		return extraction.Result{}, fmt.Errorf("submit search: %w", err)
	}
	if err := token.Check(); err != nil {
		return extraction.Result{}, err
	}
	if state == interaction.NoRecords {
		title, err := page.Title(ctx)
		if err != nil {
			r.logger.Debug("read title", zap.String("roll_number", key), zap.Error(err))
		}
		return r.deps.Extractor.NoRecords(number, title), nil
	}
	return r.deps.Extractor.Extract(ctx, page, number)
}

// stopError reports whether err ends the batch rather than the item.
func (r *Runner) stopError(ctx context.Context, err error) error {
	var serr *extraction.SessionError
	switch {
	case errors.Is(err, extraction.ErrCancelled), ctx.Err() != nil:
		return extraction.ErrCancelled
	case errors.As(err, &serr):
		return serr
	default:
		return nil
	}
}

func (r *Runner) pace(ctx context.Context, token *extraction.CancelToken) error {
	if r.deps.Pacer == nil {
		return nil
	}
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-token.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()
	if err := r.deps.Pacer.Wait(waitCtx); err != nil {
		if token.Cancelled() || ctx.Err() != nil {
			return extraction.ErrCancelled
		}
		return fmt.Errorf("pace search: %w", err)
	}
	return nil
}

func (r *Runner) writeOutput(ctx context.Context, batchID string, result extraction.Result, logger *zap.Logger) string {
	if r.deps.Output == nil {
		return ""
	}
	uri, err := r.deps.Output.Write(context.WithoutCancel(ctx), batchID, result)
	if err != nil {
		logger.Warn("write output failed", zap.Error(err))
		return ""
	}
	return uri
}

func (r *Runner) publish(ctx context.Context, batchID string, result extraction.Result, uri string, logger *zap.Logger) {
	if r.deps.Publisher == nil {
		return
	}
	id, err := r.deps.Publisher.Publish(context.WithoutCancel(ctx), r.deps.Topic, publisher.NewNotice(batchID, result, uri))
	if err != nil {
		logger.Warn("publish result failed", zap.Error(err))
		return
	}
	logger.Debug("result published", zap.String("message_id", id))
}

// finish moves b into its terminal state. cause nil means completed.
func (r *Runner) finish(ctx context.Context, b *extraction.Batch, cause error) error {
	finished := r.now()
	b.Finished = &finished
	b.Summary = extraction.Summarize(b.Items)

	var ret error
	switch {
	case cause == nil:
		b.State = extraction.BatchCompleted
		b.Message = fmt.Sprintf("completed: %d succeeded, %d no records, %d failed",
			b.Summary.Succeeded, b.Summary.NoRecords, b.Summary.Failed)
	case errors.Is(cause, extraction.ErrCancelled) || ctx.Err() != nil:
		b.State = extraction.BatchCancelled
		b.Message = fmt.Sprintf("cancelled with %d roll numbers not processed", b.Summary.Pending)
		ret = extraction.ErrCancelled
	default:
		b.State = extraction.BatchFailed
		b.Error = cause.Error()
		b.Message = "browser session failed"
		ret = cause
	}
	r.save(ctx, b)

	var dur time.Duration
	if b.Started != nil {
		dur = finished.Sub(*b.Started)
	}
	note := b.Message
	if b.Error != "" {
		note = b.Error
	}
	r.report(extraction.ProgressUpdate{
		BatchID:    b.ID,
		BatchState: b.State,
		Message:    note,
		Duration:   dur,
		At:         finished,
	})

	fields := []zap.Field{
		zap.String("batch_id", b.ID),
		zap.String("state", string(b.State)),
		zap.Int("succeeded", b.Summary.Succeeded),
		zap.Int("no_records", b.Summary.NoRecords),
		zap.Int("failed", b.Summary.Failed),
		zap.Int("pending", b.Summary.Pending),
		zap.Duration("duration", dur),
	}
	if b.State == extraction.BatchFailed {
		r.logger.Error("batch failed", append(fields, zap.Error(cause))...)
	} else {
		r.logger.Info("batch finished", fields...)
	}
	return ret
}

func (r *Runner) save(ctx context.Context, b *extraction.Batch) {
	if err := r.deps.Batches.SaveBatch(context.WithoutCancel(ctx), b.Clone()); err != nil {
		r.logger.Warn("save batch snapshot failed", zap.String("batch_id", b.ID), zap.Error(err))
	}
}

func (r *Runner) report(update extraction.ProgressUpdate) {
	if r.deps.Reporter != nil {
		r.deps.Reporter.Report(update)
	}
}
