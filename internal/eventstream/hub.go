// Package eventstream couples eventlog.StreamStorage with an in-memory
// publish/subscribe hub for live fan-out, and implements the hydrate-then-tail
// subscription protocol (spec §4.2) that the processor framework and the
// HTTP transport both depend on.
package eventstream

import (
	"sync"

	"github.com/streamforge/agentrt/internal/eventlog"
)

// Hub is the live fan-out contract an EventStream publishes through. The
// in-memory implementation below and internal/redishub both satisfy it, so
// a Stream can be constructed with either backing a cross-process
// deployment or a single-process one (spec §9, "Pub/sub hub ownership
// cycle").
type Hub interface {
	// Register opens a new subscriber queue for path and returns it along
	// with a function that releases it. Publish calls made after Register
	// returns are guaranteed to be observed by the returned channel unless
	// it overflows (backpressure-drop) or Release is called.
	Register(path eventlog.StreamPath) (ch <-chan eventlog.Event, release func())

	// Publish fans out ev to every live subscriber of ev.Path. Publish
	// never blocks on a slow consumer: a full queue drops that consumer
	// (spec §4.2, "Failure model").
	Publish(ev eventlog.Event)
}

// queueCapacity bounds each subscriber's buffered channel. A subscriber
// that falls this far behind the live stream is terminated rather than
// allowed to stall the publisher (spec §4.2, backpressure-drop).
const queueCapacity = 256

// MemHub is the default in-process Hub: an intrusive set of subscriber
// queues keyed by a monotonically increasing subscription id, scoped to the
// lifetime of the Register call (spec §9).
type MemHub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[eventlog.StreamPath]map[uint64]chan eventlog.Event
	// dropped records the subscription ids of queues terminated by
	// backpressure.
	dropped map[uint64]bool
}

// NewMemHub constructs an empty in-process hub.
func NewMemHub() *MemHub {
	return &MemHub{
		subs:    make(map[eventlog.StreamPath]map[uint64]chan eventlog.Event),
		dropped: make(map[uint64]bool),
	}
}

// Register implements Hub.
func (h *MemHub) Register(path eventlog.StreamPath) (<-chan eventlog.Event, func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	ch := make(chan eventlog.Event, queueCapacity)
	if h.subs[path] == nil {
		h.subs[path] = make(map[uint64]chan eventlog.Event)
	}
	h.subs[path][id] = ch
	h.mu.Unlock()

	release := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if m, ok := h.subs[path]; ok {
			if c, ok := m[id]; ok {
				delete(m, id)
				close(c)
			}
			if len(m) == 0 {
				delete(h.subs, path)
			}
		}
	}
	return ch, release
}

// Publish implements Hub. A subscriber whose queue is full is dropped
// immediately (its channel is closed so the reader observes termination)
// rather than blocking the publisher or the path's other subscribers.
func (h *MemHub) Publish(ev eventlog.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m := h.subs[ev.Path]
	for id, ch := range m {
		select {
		case ch <- ev:
		default:
			delete(m, id)
			close(ch)
			h.dropped[id] = true
		}
	}
}
