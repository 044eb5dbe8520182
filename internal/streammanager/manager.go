// Package streammanager is the registry of per-path eventstream.Stream
// instances (spec.md §4.3): StreamPath -> EventStream, created lazily on
// first reference, with processors spawned pinned to each newly created
// path and a cross-path merge for read/subscribe with no path specified.
package streammanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/streamforge/agentrt/internal/eventlog"
	"github.com/streamforge/agentrt/internal/eventstream"
)

// ProcessorFactory spawns one processor instance pinned to a newly created
// stream. It is invoked once per path, at the moment that path's Stream is
// first created, and must return once the processor's own run loop is
// underway (typically by launching a goroutine internally).
type ProcessorFactory func(ctx context.Context, s *eventstream.Stream)

// Manager owns the StreamPath -> *eventstream.Stream registry. It is safe
// for concurrent use: Get may race across goroutines discovering the same
// new path and only one Stream (and one set of processors) is ever created
// for it.
type Manager struct {
	storage    eventlog.StreamStorage
	hub        eventstream.Hub
	factories  []ProcessorFactory
	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu      sync.RWMutex
	streams map[eventlog.StreamPath]*eventstream.Stream
}

// New constructs a Manager. ctx bounds the lifetime of every processor the
// manager spawns: cancelling it cooperatively shuts every processor down
// (spec.md §4.4, "Shutdown").
func New(ctx context.Context, storage eventlog.StreamStorage, hub eventstream.Hub, factories ...ProcessorFactory) *Manager {
	rootCtx, cancel := context.WithCancel(ctx)
	return &Manager{
		storage:    storage,
		hub:        hub,
		factories:  factories,
		rootCtx:    rootCtx,
		rootCancel: cancel,
		streams:    make(map[eventlog.StreamPath]*eventstream.Stream),
	}
}

// Shutdown cancels every processor spawned by this manager.
func (m *Manager) Shutdown() {
	m.rootCancel()
}

// Get returns the Stream for path, creating it (and spawning one instance
// of every registered processor pinned to it) on first reference.
func (m *Manager) Get(path eventlog.StreamPath) *eventstream.Stream {
	m.mu.RLock()
	s, ok := m.streams[path]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[path]; ok {
		return s
	}
	s = eventstream.New(path, m.storage, m.hub)
	m.streams[path] = s
	for _, f := range m.factories {
		f(m.rootCtx, s)
	}
	return s
}

// Paths returns every path the manager has created a Stream for, plus any
// additional paths known to the backing storage but not yet referenced in
// this process.
func (m *Manager) Paths(ctx context.Context) ([]eventlog.StreamPath, error) {
	stored, err := m.storage.ListPaths(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[eventlog.StreamPath]bool, len(stored))
	out := make([]eventlog.StreamPath, 0, len(stored))
	for _, p := range stored {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for p := range m.streams {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// Read returns the merged, per-path-ordered events across every known path
// in (from, latest]. Interleaving between paths is unspecified but
// monotone within a path (spec.md §4.3).
func (m *Manager) Read(ctx context.Context, from eventlog.Offset) ([]eventlog.Event, error) {
	paths, err := m.Paths(ctx)
	if err != nil {
		return nil, err
	}
	var out []eventlog.Event
	for _, p := range paths {
		evs, err := m.Get(p).Read(ctx, from, "")
		if err != nil {
			return nil, fmt.Errorf("streammanager: read %s: %w", p, err)
		}
		out = append(out, evs...)
	}
	return out, nil
}

// Subscribe merges the live hydrate-then-tail subscriptions of every known
// path into a single channel (spec.md §4.3). The returned cancel function
// stops every underlying per-path subscription.
func (m *Manager) Subscribe(ctx context.Context, from eventlog.Offset) (<-chan eventlog.Event, <-chan error, context.CancelFunc, error) {
	paths, err := m.Paths(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan eventlog.Event, queueCapacity)
	errCh := make(chan error, len(paths))

	var wg sync.WaitGroup
	for _, p := range paths {
		ch, perPathErrs, _, err := m.Get(p).Subscribe(ctx, from)
		if err != nil {
			cancel()
			return nil, nil, nil, fmt.Errorf("streammanager: subscribe %s: %w", p, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				case err, ok := <-perPathErrs:
					if ok {
						errCh <- err
					}
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, errCh, cancel, nil
}

const queueCapacity = 256
