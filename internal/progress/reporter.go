package progress

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
)

// Reporter adapts extraction.ProgressUpdate calls into hub events.
type Reporter struct {
	emitter Emitter
	logger  *zap.Logger
}

// NewReporter wraps emitter. A nil emitter makes Report a no-op.
func NewReporter(emitter Emitter, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{emitter: emitter, logger: logger}
}

// Report converts update into an Event and emits it without blocking.
func (r *Reporter) Report(update extraction.ProgressUpdate) {
	if r == nil || r.emitter == nil {
		return
	}
	evt, ok := ToEvent(update)
	if !ok {
		r.logger.Debug("ignoring progress update",
			zap.String("batch_id", update.BatchID),
			zap.String("roll_number", update.RollNumber),
			zap.String("item_status", string(update.ItemStatus)),
			zap.String("batch_state", string(update.BatchState)),
		)
		return
	}
	r.emitter.Emit(evt)
}

// ToEvent maps an update to an Event. Updates with a non-UUID batch ID or a
// status that has no matching stage are rejected.
func ToEvent(update extraction.ProgressUpdate) (Event, bool) {
	id, err := uuid.Parse(update.BatchID)
	if err != nil {
		return Event{}, false
	}
	ts := update.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	evt := Event{
		BatchID:    UUIDToBytes(id),
		TS:         ts,
		RollNumber: update.RollNumber,
		Outcome:    string(update.Outcome),
		Appeals:    update.Appeals,
		Dur:        update.Duration,
		Note:       update.Message,
	}

	if update.RollNumber != "" {
		switch update.ItemStatus {
		case extraction.ItemProcessing:
			evt.Stage = StageItemStart
		case extraction.ItemCompleted:
			evt.Stage = StageItemDone
		case extraction.ItemFailed:
			evt.Stage = StageItemError
		default:
			return Event{}, false
		}
		return evt, true
	}

	switch update.BatchState {
	case extraction.BatchRunning:
		evt.Stage = StageBatchStart
	case extraction.BatchCompleted:
		evt.Stage = StageBatchDone
	case extraction.BatchCancelled:
		evt.Stage = StageBatchCancelled
	case extraction.BatchFailed:
		evt.Stage = StageBatchError
	default:
		return Event{}, false
	}
	return evt, true
}
