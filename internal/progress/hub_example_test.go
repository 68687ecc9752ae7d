package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
)

// stageRecorder keeps the stages it consumes, in order.
type stageRecorder struct {
	mu     sync.Mutex
	stages []string
}

func (s *stageRecorder) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		line := string(evt.Stage)
		if evt.RollNumber != "" {
			line += " " + evt.RollNumber
		}
		if evt.Outcome != "" {
			line += " " + evt.Outcome
		}
		s.stages = append(s.stages, line)
	}
	return nil
}

func (s *stageRecorder) Close(context.Context) error {
	return nil
}

// ExampleReporter shows batch runner updates flowing through a Reporter into
// the hub. Updates without a matching stage are dropped.
func ExampleReporter() {
	recorder := &stageRecorder{}
	hub := NewHub(Config{
		BufferSize:     16,
		MaxBatchEvents: 4,
		MaxBatchWait:   time.Second,
	}, recorder)
	reporter := NewReporter(hub, nil)

	batchID := "00000000-0000-0000-0000-000000000001"
	roll := "38-08-293-000-12104-0000"
	at := time.Unix(0, 0).UTC()
	for _, update := range []extraction.ProgressUpdate{
		{BatchID: batchID, BatchState: extraction.BatchRunning, At: at},
		{BatchID: batchID, RollNumber: roll, ItemStatus: extraction.ItemProcessing, At: at},
		{BatchID: batchID, RollNumber: roll, ItemStatus: extraction.ItemQueued, At: at},
		{BatchID: batchID, RollNumber: roll, ItemStatus: extraction.ItemCompleted,
			Outcome: extraction.OutcomeSuccess, Appeals: 2, At: at},
		{BatchID: batchID, BatchState: extraction.BatchCompleted, At: at},
	} {
		reporter.Report(update)
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	for _, line := range recorder.stages {
		fmt.Println(line)
	}
	// Output:
	// BATCH_START
	// ITEM_START 38-08-293-000-12104-0000
	// ITEM_DONE 38-08-293-000-12104-0000 success
	// BATCH_DONE
}

// ExampleBroadcaster streams hub events to a subscriber, as the event stream
// endpoint does.
func ExampleBroadcaster() {
	broadcaster := NewBroadcaster()
	events, unsubscribe := broadcaster.Subscribe(4)
	defer unsubscribe()

	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, broadcaster)
	NewReporter(hub, nil).Report(extraction.ProgressUpdate{
		BatchID:    "00000000-0000-0000-0000-000000000002",
		BatchState: extraction.BatchCancelled,
		Message:    "cancelled by request",
		At:         time.Unix(0, 0).UTC(),
	})

	evt := <-events
	fmt.Println(evt.Stage, evt.Stage.Terminal(), evt.Note)
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}
	// Output:
	// BATCH_CANCELLED true cancelled by request
}
