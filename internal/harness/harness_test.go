package harness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamforge/agentrt/internal/eventlog"
)

func TestHarness_AppendAndWaitForEventType(t *testing.T) {
	h := New(t, "agent/a")
	h.AppendEvent("greeting", map[string]string{"content": "hi"}, eventlog.Trace{TraceID: "t", SpanID: "s"})

	ev := h.WaitForEventType("greeting", DefaultTimeout)
	require.Equal(t, "greeting", ev.Type)
	require.Equal(t, 1, h.CountEventType("greeting"))
}

func TestHarness_CountEventTypeTracksMultipleAppends(t *testing.T) {
	h := New(t, "agent/a")
	require.Equal(t, 0, h.CountEventType("ping"))

	h.AppendEvent("ping", map[string]any{}, eventlog.Trace{TraceID: "t", SpanID: "s"})
	h.AppendEvent("ping", map[string]any{}, eventlog.Trace{TraceID: "t", SpanID: "s"})
	h.AppendEvent("pong", map[string]any{}, eventlog.Trace{TraceID: "t", SpanID: "s"})

	require.Equal(t, 2, h.CountEventType("ping"))
	require.Equal(t, 1, h.CountEventType("pong"))
}

func TestHarness_WaitForSubscribeDeliversHistoryThenLiveEvents(t *testing.T) {
	h := New(t, "agent/a")
	h.AppendEvent("before", map[string]any{}, eventlog.Trace{TraceID: "t", SpanID: "s"})

	out, _, cancel := h.WaitForSubscribe("")
	defer cancel()

	events := h.DrainEvents(out, 1, DefaultTimeout)
	require.Equal(t, "before", events[0].Type)

	h.AppendEvent("after", map[string]any{}, eventlog.Trace{TraceID: "t", SpanID: "s"})
	events = h.DrainEvents(out, 1, DefaultTimeout)
	require.Equal(t, "after", events[0].Type)
}
