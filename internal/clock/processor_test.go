package clock

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamforge/agentrt/internal/codemode"
	"github.com/streamforge/agentrt/internal/eventlog"
	"github.com/streamforge/agentrt/internal/eventstream"
	"github.com/streamforge/agentrt/internal/processor"
)

func newTestStream() (*eventstream.Stream, eventlog.StreamStorage) {
	store := eventlog.NewMemStore()
	hub := eventstream.NewMemHub()
	return eventstream.New("agent/a", store, hub), store
}

func appendDeferredBlockAdded(t *testing.T, stream *eventstream.Stream) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"code": "return null;", "checkIntervalSeconds": 1, "maxAttempts": 5})
	require.NoError(t, err)
	_, err = stream.Append(context.Background(), eventlog.EventInput{Type: codemode.EventDeferredBlockAdded, Payload: payload}, eventlog.Trace{TraceID: "t", SpanID: "s"})
	require.NoError(t, err)
}

func appendDeferredCompleted(t *testing.T, stream *eventstream.Stream) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"blockOffset": "x", "result": "done"})
	require.NoError(t, err)
	_, err = stream.Append(context.Background(), eventlog.EventInput{Type: codemode.EventDeferredCompleted, Payload: payload}, eventlog.Trace{TraceID: "t", SpanID: "s"})
	require.NoError(t, err)
}

func countTicks(t *testing.T, store eventlog.StreamStorage) int {
	t.Helper()
	events, err := store.Read(context.Background(), "agent/a", "", "")
	require.NoError(t, err)
	var n int
	for _, ev := range events {
		if ev.Type == EventTimeTick {
			n++
		}
	}
	return n
}

func TestClock_TicksOnlyWhileDeferredBlockOutstanding(t *testing.T) {
	stream, store := newTestStream()
	def := New(Config{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = processor.Run(ctx, stream, def) }()

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 0, countTicks(t, store), "no deferred blocks yet, no ticks expected")

	appendDeferredBlockAdded(t, stream)
	time.Sleep(150 * time.Millisecond)
	require.Greater(t, countTicks(t, store), 0, "expected ticks once a deferred block is outstanding")
}

func TestClock_StopsTickingOnceLastDeferredBlockClears(t *testing.T) {
	stream, store := newTestStream()
	def := New(Config{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = processor.Run(ctx, stream, def) }()

	appendDeferredBlockAdded(t, stream)
	time.Sleep(80 * time.Millisecond)
	appendDeferredCompleted(t, stream)

	countAfterClear := countTicks(t, store)
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, countAfterClear, countTicks(t, store), "ticking should have stopped once outstanding dropped to zero")
}

func TestReduce_TracksOutstandingCount(t *testing.T) {
	state := State{}
	ev := eventlog.Event{Type: codemode.EventDeferredBlockAdded, Offset: "1"}
	state = Reduce(state, ev)
	require.Equal(t, 1, state.Outstanding)

	state = Reduce(state, eventlog.Event{Type: codemode.EventDeferredBlockAdded, Offset: "2"})
	require.Equal(t, 2, state.Outstanding)

	state = Reduce(state, eventlog.Event{Type: codemode.EventDeferredTimedOut, Offset: "3"})
	require.Equal(t, 1, state.Outstanding)

	state = Reduce(state, eventlog.Event{Type: codemode.EventDeferredFailed, Offset: "4"})
	require.Equal(t, 0, state.Outstanding)

	state = Reduce(state, eventlog.Event{Type: codemode.EventDeferredFailed, Offset: "5"})
	require.Equal(t, 0, state.Outstanding, "outstanding never goes negative")
}
