// Package processor implements the generic hydrate -> subscribe -> reduce ->
// react loop every concrete processor (LLM Loop, Codemode, Clock) is built
// from (spec.md §4.4).
package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/streamforge/agentrt/internal/eventlog"
	"github.com/streamforge/agentrt/internal/eventstream"
)

// State is the per-processor fold accumulator. Every concrete state type
// must track its own last folded offset so the live phase can subscribe
// from exactly where hydrate left off.
type State interface {
	// LastOffset returns the offset of the most recently folded event, or
	// "" if no event has been folded yet.
	LastOffset() eventlog.Offset
}

// Reducer folds a single event into state. It must be pure and
// deterministic over the log prefix (spec.md Invariant 3): given the same
// state and event, it always produces the same next state, with no side
// effects of its own. Side effects belong in Reactor.
type Reducer[S State] func(state S, ev eventlog.Event) S

// Reactor runs after a reducer has applied an event, observing the state
// before and after the fold, and may append new events to stream as a
// side effect. A Reactor returns no error, so the framework neither logs
// nor acts on a failed reaction, and the processor keeps running. Run only ever invokes React for events observed on the
// live subscription, never for events folded during hydrate, so a restart
// can never cause a Reactor to repeat an effect it already performed
// against the same durable event (spec.md §4.4, "Idempotence-via-replay").
type Reactor[S State] func(ctx context.Context, stream *eventstream.Stream, before, after S, ev eventlog.Event)

// Definition is the immutable description of a concrete processor: its
// name (used in logs and restart diagnostics), its zero state, its
// reducer, and its reactor.
type Definition[S State] struct {
	Name   string
	Zero   S
	Reduce Reducer[S]
	React  Reactor[S]
	Logger *zap.Logger
}

// Run executes one instance of the processor pinned to stream. The hydrate
// phase folds history with Reduce only, no reactions; the live phase folds
// and reacts to every live event until ctx is cancelled or the subscription
// terminates with an error (spec.md §4.4, steps 1-2: hydrate folds, live
// reacts). A reactor only ever observes events it is live for, so it never
// needs its own restart-idempotence bookkeeping for effects already folded
// into durable state.
//
// Run returns nil on clean cancellation and a non-nil error on abnormal
// subscription termination (e.g. backpressure-drop), which the caller
// (typically Supervise) uses to decide whether to restart.
func Run[S State](ctx context.Context, stream *eventstream.Stream, def Definition[S]) error {
	logger := def.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	history, err := stream.Read(ctx, "", "")
	if err != nil {
		return fmt.Errorf("processor %s: hydrate: %w", def.Name, err)
	}

	state := def.Zero
	for _, ev := range history {
		state = def.Reduce(state, ev)
	}

	out, errCh, cancel, err := stream.Subscribe(ctx, state.LastOffset())
	if err != nil {
		return fmt.Errorf("processor %s: subscribe: %w", def.Name, err)
	}
	defer cancel()

	for {
		select {
		case ev, ok := <-out:
			if !ok {
				return nil
			}
			next := def.Reduce(state, ev)
			if def.React != nil {
				def.React(ctx, stream, state, next, ev)
			}
			state = next
		case err, ok := <-errCh:
			if ok && err != nil {
				return fmt.Errorf("processor %s: subscription: %w", def.Name, err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
