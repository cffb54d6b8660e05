package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHubDeliversInOrder verifies sinks see every event in emission order.
func TestHubDeliversInOrder(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 16}, sink)

	runID := uuid.New()
	hub.Emit(sampleEvent(runID, StageRunStart, 0))
	for page := 1; page <= 3; page++ {
		hub.Emit(sampleEvent(runID, StagePageDone, page))
	}
	hub.Emit(sampleEvent(runID, StageRunDone, 0))
	require.NoError(t, hub.Close(context.Background()))

	events := sink.Events()
	require.Len(t, events, 5)
	require.Equal(t, StageRunStart, events[0].Stage)
	for i := 1; i <= 3; i++ {
		require.Equal(t, i, events[i].Page)
	}
	require.Equal(t, StageRunDone, events[4].Stage)
	require.True(t, sink.closed)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(uuid.New(), StageRunStart, 0))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.Dropped())
}

// TestHubDiscardsInvalidEvents ensures malformed events never reach sinks.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)
	hub.Emit(Event{Stage: StageRunStart, TS: time.Now()})
	hub.Emit(sampleEvent(uuid.New(), StagePageDone, 0))
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Events())
}

// TestHubSinkErrorDoesNotStopDelivery keeps other sinks fed when one fails.
func TestHubSinkErrorDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	bad := newStubSink()
	bad.err = errors.New("sink down")
	good := newStubSink()
	hub := NewHub(Config{}, bad, good)
	hub.Emit(sampleEvent(uuid.New(), StageRunStart, 0))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, good.Events(), 1)
}

// TestHubCloseIdempotent allows repeated Close calls and ignores late events.
func TestHubCloseIdempotent(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(sampleEvent(uuid.New(), StageRunStart, 0))
	require.Empty(t, sink.Events())

	var nilHub *Hub
	require.NoError(t, nilHub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	require.NoError(t, sampleEvent(id, StagePageDone, 2).Validate())
	require.Error(t, sampleEvent(id, StagePageDone, 0).Validate())
	require.Error(t, sampleEvent(id, Stage("BOGUS"), 0).Validate())
	bad := sampleEvent(id, StageRunDone, 0)
	bad.Elapsed = -time.Second
	require.Error(t, bad.Validate())
}

func sampleEvent(runID uuid.UUID, stage Stage, page int) Event {
	return Event{RunID: runID, Job: "crawl-names", TS: time.Now(), Stage: stage, Page: page}
}

type stubSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, batch...)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
