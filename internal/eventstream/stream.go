package eventstream

import (
	"context"
	"fmt"

	"github.com/streamforge/agentrt/internal/eventlog"
)

// Stream couples a single path's durable storage with the live hub,
// presenting Append/Read/Subscribe as one unit so callers never have to
// reason about the two separately (spec §4.2).
type Stream struct {
	path    eventlog.StreamPath
	storage eventlog.StreamStorage
	hub     Hub
}

// New constructs a Stream for path backed by storage and fanning live
// events out through hub.
func New(path eventlog.StreamPath, storage eventlog.StreamStorage, hub Hub) *Stream {
	return &Stream{path: path, storage: storage, hub: hub}
}

// Path returns the stream's path.
func (s *Stream) Path() eventlog.StreamPath {
	return s.path
}

// Append persists input and publishes the resulting event to live
// subscribers. Publication happens only after the append durably succeeds,
// so a subscriber never observes an event that a concurrent crash could
// erase from history (spec §4.2, "Durability before fan-out").
func (s *Stream) Append(ctx context.Context, input eventlog.EventInput, trace eventlog.Trace) (eventlog.Event, error) {
	ev, err := s.storage.Append(ctx, s.path, input, trace)
	if err != nil {
		return eventlog.Event{}, err
	}
	s.hub.Publish(ev)
	return ev, nil
}

// Read returns the persisted events in (from, to] without touching the hub.
func (s *Stream) Read(ctx context.Context, from, to eventlog.Offset) ([]eventlog.Event, error) {
	return s.storage.Read(ctx, s.path, from, to)
}

// Subscribe implements the hydrate-then-tail protocol (spec §4.2): a new
// subscriber must see every event after `from`, exactly once, in order,
// with no gap between the historical read and the live tail even though
// events may be appended concurrently with the history read.
//
// The algorithm, in the order it actually executes:
//  1. Register with the hub FIRST, before reading history. Any event
//     appended from this point forward is buffered in our queue even
//     though we haven't asked for it yet.
//  2. Read the historical snapshot (from, latest-at-call-time].
//  3. Emit the historical events in order, tracking the last offset we
//     emitted as a watermark.
//  4. Drain the live queue, emitting only events whose offset is after
//     the watermark — events already covered by the historical read are
//     silently dropped rather than double-delivered.
//
// Subscribe returns immediately; all of the above happens in a goroutine
// feeding the returned channel. The caller stops the subscription by
// calling the returned cancel function or cancelling ctx.
func (s *Stream) Subscribe(ctx context.Context, from eventlog.Offset) (<-chan eventlog.Event, <-chan error, context.CancelFunc, error) {
	liveCh, release := s.hub.Register(s.path)

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan eventlog.Event, queueCapacity)
	errCh := make(chan error, 1)

	history, err := s.storage.Read(ctx, s.path, from, "")
	if err != nil {
		release()
		cancel()
		return nil, nil, nil, fmt.Errorf("eventstream: hydrate history: %w", err)
	}

	go func() {
		defer release()
		defer close(out)

		watermark := from
		for _, ev := range history {
			select {
			case out <- ev:
				watermark = ev.Offset
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case ev, ok := <-liveCh:
				if !ok {
					errCh <- fmt.Errorf("eventstream: subscription to %s terminated by backpressure", s.path)
					return
				}
				if !eventlog.After(ev.Offset, watermark) {
					continue
				}
				select {
				case out <- ev:
					watermark = ev.Offset
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh, cancel, nil
}
