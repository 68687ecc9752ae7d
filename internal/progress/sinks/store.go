package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/progress"
	"github.com/JakeFAU/arb-appeal-extractor/internal/store"
)

// StoreSink persists batch progress via a store.BatchRunRepository. Item
// outcomes are collapsed into one counter delta per batch per flush.
type StoreSink struct {
	repo   store.BatchRunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.BatchRunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type countsDelta struct {
	counts store.ItemCounts
	at     time.Time
}

// Consume forwards batch lifecycle events and collapsed item counters to the
// repository. Counters are written before the terminal status so a finished
// run always carries its final counts.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*countsDelta)
	var terminal []progress.Event

	for _, evt := range batch {
		batchID := evt.BatchUUID()
		switch evt.Stage {
		case progress.StageBatchStart:
			if err := s.repo.UpsertBatchStart(ctx, batchID, evt.TS); err != nil {
				return fmt.Errorf("upsert batch start: %w", err)
			}
		case progress.StageItemDone, progress.StageItemError:
			recordOutcome(deltas, batchID, evt)
		case progress.StageBatchDone, progress.StageBatchCancelled, progress.StageBatchError:
			terminal = append(terminal, evt)
		}
	}

	for batchID, delta := range deltas {
		if delta.counts.IsZero() {
			continue
		}
		if err := s.repo.AddItemCounts(ctx, batchID, delta.counts, delta.at); err != nil {
			return fmt.Errorf("add item counts: %w", err)
		}
	}

	for _, evt := range terminal {
		status, errMsg := terminalStatus(evt)
		if err := s.repo.CompleteBatch(ctx, evt.BatchUUID(), evt.TS, status, errMsg); err != nil {
			return fmt.Errorf("complete batch: %w", err)
		}
	}
	return nil
}

func recordOutcome(deltas map[uuid.UUID]*countsDelta, batchID uuid.UUID, evt progress.Event) {
	delta := deltas[batchID]
	if delta == nil {
		delta = &countsDelta{}
		deltas[batchID] = delta
	}
	switch extraction.Outcome(evt.Outcome) {
	case extraction.OutcomeSuccess:
		delta.counts.Succeeded++
	case extraction.OutcomeNoRecords:
		delta.counts.NoRecords++
	default:
		delta.counts.Failed++
	}
	if evt.TS.After(delta.at) {
		delta.at = evt.TS
	}
}

func terminalStatus(evt progress.Event) (store.BatchRunStatus, *string) {
	var note *string
	if evt.Note != "" {
		n := evt.Note
		note = &n
	}
	switch evt.Stage {
	case progress.StageBatchCancelled:
		return store.RunCancelled, note
	case progress.StageBatchError:
		return store.RunFailed, note
	default:
		return store.RunCompleted, nil
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
