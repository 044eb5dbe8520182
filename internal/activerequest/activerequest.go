// Package activerequest implements the single-slot generation owner the
// LLM Loop processor uses to interrupt a previous streaming generation
// cooperatively when a new one is triggered (spec.md §4.5, "ActiveRequest
// slot").
//
// Adapted from runtime/agent/interrupt/controller.go's pause/resume signal
// plumbing: that controller drains Temporal signal channels to pause and
// resume a workflow. ActiveRequest solves the same "tell the in-flight work
// to stop" problem without a workflow engine underneath it, so the signal
// channel becomes a plain cancel func guarded by a mutex.
package activerequest

import (
	"context"
	"sync"

	"github.com/streamforge/agentrt/internal/eventlog"
)

// Slot holds at most one active generation's offset and cancellation
// handle at a time.
type Slot struct {
	mu     sync.Mutex
	offset eventlog.Offset
	cancel context.CancelFunc
	active bool
}

// New constructs an empty slot.
func New() *Slot {
	return &Slot{}
}

// Replace atomically installs (offset, cancel) as the new occupant of the
// slot, cancelling whatever request previously occupied it. It returns the
// previous occupant's offset and whether one existed — the caller uses
// this to decide whether to append a request-interrupted event
// (spec.md §4.5, step 2).
//
// Replace calls the previous occupant's cancel func before releasing its
// own lock so interrupt propagation is prompt: by the time Replace
// returns, the previous generation has already been asked to stop.
func (s *Slot) Replace(offset eventlog.Offset, cancel context.CancelFunc) (previous eventlog.Offset, hadPrevious bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		previous, hadPrevious = s.offset, true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.offset = offset
	s.cancel = cancel
	s.active = true
	return previous, hadPrevious
}

// Clear empties the slot iff it still holds offset — a request that has
// already been superseded by a newer Replace call must not clear the
// newer occupant out from under it (spec.md §4.5, step 6).
func (s *Slot) Clear(offset eventlog.Offset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && s.offset == offset {
		s.active = false
		s.cancel = nil
		s.offset = ""
	}
}

// Current returns the offset currently occupying the slot, if any.
func (s *Slot) Current() (eventlog.Offset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset, s.active
}
