// Package harness provides a small in-memory test fixture wrapping a single
// eventstream.Stream, used across this repository's processor and
// end-to-end tests. It is grounded on the repeated append/poll-until-seen
// pattern each processor package's own tests hand-roll (e.g.
// internal/llmloop's waitForEventType), hoisted into one reusable helper.
package harness

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamforge/agentrt/internal/eventlog"
	"github.com/streamforge/agentrt/internal/eventstream"
)

// DefaultPollInterval is how often WaitForEvent re-reads the store while
// polling for a predicate to match.
const DefaultPollInterval = 5 * time.Millisecond

// DefaultTimeout bounds how long WaitForEvent and WaitForSubscribe will
// wait before failing the test.
const DefaultTimeout = 2 * time.Second

// Harness pins a path's Stream, its MemStore, and its Hub together for easy
// construction in tests.
type Harness struct {
	t      *testing.T
	Path   eventlog.StreamPath
	Store  *eventlog.MemStore
	Hub    *eventstream.MemHub
	Stream *eventstream.Stream
}

// New builds a Harness over a fresh in-memory store and hub for path.
func New(t *testing.T, path eventlog.StreamPath) *Harness {
	t.Helper()
	store := eventlog.NewMemStore()
	hub := eventstream.NewMemHub()
	return &Harness{
		t:      t,
		Path:   path,
		Store:  store,
		Hub:    hub,
		Stream: eventstream.New(path, store, hub),
	}
}

// AppendEvent appends a JSON-marshaled payload of the given type and
// returns the durably assigned event.
func (h *Harness) AppendEvent(eventType string, payload any, trace eventlog.Trace) eventlog.Event {
	h.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(h.t, err)
	ev, err := h.Stream.Append(context.Background(), eventlog.EventInput{Type: eventType, Payload: raw}, trace)
	require.NoError(h.t, err)
	return ev
}

// History returns every event currently durable on the harness's path.
func (h *Harness) History() []eventlog.Event {
	h.t.Helper()
	events, err := h.Store.Read(context.Background(), h.Path, "", "")
	require.NoError(h.t, err)
	return events
}

// WaitForEvent polls the durable log until an event satisfying match is
// found, or fails the test after timeout.
func (h *Harness) WaitForEvent(match func(eventlog.Event) bool, timeout time.Duration) eventlog.Event {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, ev := range h.History() {
			if match(ev) {
				return ev
			}
		}
		time.Sleep(DefaultPollInterval)
	}
	h.t.Fatalf("harness: timed out waiting for matching event on %s", h.Path)
	return eventlog.Event{}
}

// WaitForEventType is the common case of WaitForEvent: match by exact type.
func (h *Harness) WaitForEventType(eventType string, timeout time.Duration) eventlog.Event {
	h.t.Helper()
	return h.WaitForEvent(func(ev eventlog.Event) bool { return ev.Type == eventType }, timeout)
}

// CountEventType returns how many durable events of eventType exist.
func (h *Harness) CountEventType(eventType string) int {
	h.t.Helper()
	var n int
	for _, ev := range h.History() {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// WaitForSubscribe subscribes from "from" and returns the event channel,
// error channel and cancel func for the caller to keep draining. The
// underlying Stream.Subscribe registers with the hub and reads the history
// snapshot before it returns (spec.md §4.2 step 1), so a test may append
// immediately after WaitForSubscribe returns without racing the hub
// registration; the historical events are delivered on the channel
// asynchronously.
func (h *Harness) WaitForSubscribe(from eventlog.Offset) (<-chan eventlog.Event, <-chan error, context.CancelFunc) {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	out, errCh, subCancel, err := h.Stream.Subscribe(ctx, from)
	require.NoError(h.t, err)
	return out, errCh, func() {
		subCancel()
		cancel()
	}
}

// DrainEvents reads n events off ch, failing the test if timeout elapses
// first.
func (h *Harness) DrainEvents(ch <-chan eventlog.Event, n int, timeout time.Duration) []eventlog.Event {
	h.t.Helper()
	out := make([]eventlog.Event, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				h.t.Fatalf("harness: channel closed after %d/%d events", len(out), n)
				return out
			}
			out = append(out, ev)
		case <-deadline:
			h.t.Fatalf("harness: timed out after %d/%d events", len(out), n)
			return out
		}
	}
	return out
}
