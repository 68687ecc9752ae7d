package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageBatchStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageBatchStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageBatchStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageBatchStart))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.closed)

	hub.Emit(sampleEvent(StageBatchDone))
	require.Len(t, sink.Batches(), 1)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)

	hub.Emit(Event{Stage: StageBatchStart, TS: time.Now()})
	hub.Emit(Event{BatchID: UUIDToBytes(uuid.New()), TS: time.Now(), Stage: StageItemStart})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	id := UUIDToBytes(uuid.New())
	now := time.Now()
	tests := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{name: "batch start", evt: Event{BatchID: id, TS: now, Stage: StageBatchStart}},
		{name: "item done", evt: Event{BatchID: id, TS: now, Stage: StageItemDone, RollNumber: "r", Outcome: "success"}},
		{name: "missing id", evt: Event{TS: now, Stage: StageBatchStart}, wantErr: true},
		{name: "missing ts", evt: Event{BatchID: id, Stage: StageBatchStart}, wantErr: true},
		{name: "item without roll", evt: Event{BatchID: id, TS: now, Stage: StageItemStart}, wantErr: true},
		{name: "done without outcome", evt: Event{BatchID: id, TS: now, Stage: StageItemDone, RollNumber: "r"}, wantErr: true},
		{name: "unknown stage", evt: Event{BatchID: id, TS: now, Stage: "NOPE"}, wantErr: true},
		{name: "negative dur", evt: Event{BatchID: id, TS: now, Stage: StageBatchDone, Dur: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.evt.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestReporterMapsUpdates(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	emitter := &recordingEmitter{}
	r := NewReporter(emitter, nil)

	r.Report(extraction.ProgressUpdate{BatchID: id.String(), BatchState: extraction.BatchRunning})
	r.Report(extraction.ProgressUpdate{BatchID: id.String(), RollNumber: "38-08", ItemStatus: extraction.ItemProcessing})
	r.Report(extraction.ProgressUpdate{
		BatchID: id.String(), RollNumber: "38-08", ItemStatus: extraction.ItemCompleted,
		Outcome: extraction.OutcomeSuccess, Appeals: 2, Duration: time.Second,
	})
	r.Report(extraction.ProgressUpdate{
		BatchID: id.String(), RollNumber: "00-00", ItemStatus: extraction.ItemFailed,
		Outcome: extraction.OutcomeFailed, Message: "timeout",
	})
	r.Report(extraction.ProgressUpdate{BatchID: id.String(), BatchState: extraction.BatchCancelled})
	r.Report(extraction.ProgressUpdate{BatchID: "not-a-uuid", BatchState: extraction.BatchRunning})
	r.Report(extraction.ProgressUpdate{BatchID: id.String(), RollNumber: "x", ItemStatus: extraction.ItemQueued})

	var stages []Stage
	for _, evt := range emitter.events {
		require.Equal(t, id, evt.BatchUUID())
		require.False(t, evt.TS.IsZero())
		stages = append(stages, evt.Stage)
	}
	require.Equal(t, []Stage{StageBatchStart, StageItemStart, StageItemDone, StageItemError, StageBatchCancelled}, stages)
	require.Equal(t, 2, emitter.events[2].Appeals)
	require.Equal(t, "timeout", emitter.events[3].Note)
}

func TestBroadcasterFansOut(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)
	require.Equal(t, 2, b.Subscribers())

	evt := sampleEvent(StageBatchStart)
	require.NoError(t, b.Consume(context.Background(), []Event{evt}))
	require.Equal(t, evt, <-a)
	require.Equal(t, evt, <-c)

	cancelA()
	cancelA()
	_, open := <-a
	require.False(t, open)
	require.Equal(t, 1, b.Subscribers())

	require.NoError(t, b.Close(context.Background()))
	_, open = <-c
	require.False(t, open)
	cancelC()

	late, _ := b.Subscribe(1)
	_, open = <-late
	require.False(t, open)
}

func TestBroadcasterDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	batch := []Event{sampleEvent(StageBatchStart), sampleEvent(StageBatchDone)}
	require.NoError(t, b.Consume(context.Background(), batch))
	require.Equal(t, StageBatchStart, (<-ch).Stage)
	select {
	case <-ch:
		t.Fatal("expected second event to be dropped")
	default:
	}
}

type recordingEmitter struct {
	events []Event
}

func (r *recordingEmitter) Emit(evt Event) { r.events = append(r.events, evt) }

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		BatchID: UUIDToBytes(uuid.New()),
		TS:      time.Now(),
		Stage:   stage,
	}
}
