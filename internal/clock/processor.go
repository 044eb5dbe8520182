// Package clock implements the Clock processor: while a path has any
// outstanding deferred codemode block, it emits clock:time-tick events at a
// fixed cadence; once the last outstanding block clears, ticking stops
// until another deferred block is registered (spec.md §4.8).
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/streamforge/agentrt/internal/codemode"
	"github.com/streamforge/agentrt/internal/eventlog"
	"github.com/streamforge/agentrt/internal/eventstream"
	"github.com/streamforge/agentrt/internal/processor"
	"github.com/streamforge/agentrt/internal/tracing"
)

const EventTimeTick = codemode.EventTimeTick

// State tracks how many deferred blocks are currently outstanding on a
// path. It mirrors the codemode processor's own bookkeeping by folding the
// same lifecycle events, rather than reading codemode's State directly,
// since processors only ever communicate through the log (spec.md §4.4).
type State struct {
	Last        eventlog.Offset
	Outstanding int
}

func (s State) LastOffset() eventlog.Offset { return s.Last }

// Reduce folds deferred-block lifecycle events into an outstanding count.
func Reduce(state State, ev eventlog.Event) State {
	next := state
	next.Last = ev.Offset

	switch ev.Type {
	case codemode.EventDeferredBlockAdded:
		next.Outstanding++
	case codemode.EventDeferredCancelled, codemode.EventDeferredCompleted,
		codemode.EventDeferredFailed, codemode.EventDeferredTimedOut:
		if next.Outstanding > 0 {
			next.Outstanding--
		}
	}
	return next
}

// Config configures the Clock processor.
type Config struct {
	// Interval is the tick cadence, e.g. 1s (spec.md §4.8, "e.g. 1s").
	Interval time.Duration
	Logger   *zap.Logger
}

const DefaultInterval = time.Second

// New builds the Clock processor.Definition for one path.
func New(cfg Config) processor.Definition[State] {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &runner{interval: interval, logger: logger}

	return processor.Definition[State]{
		Name:   "clock",
		Zero:   State{},
		Reduce: Reduce,
		React:  r.react,
		Logger: logger,
	}
}

type runner struct {
	interval time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	outstanding int
	elapsed     float64
	ctx         context.Context
	stream      *eventstream.Stream
	started     bool
	cronJob     *cron.Cron
}

func (r *runner) react(ctx context.Context, stream *eventstream.Stream, before, after State, ev eventlog.Event) {
	r.mu.Lock()
	r.ctx = ctx
	r.stream = stream
	r.outstanding = after.Outstanding
	started := r.started
	if !started {
		r.started = true
	}
	r.mu.Unlock()

	if started {
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.interval), r.tick); err != nil {
		r.logger.Error("clock: schedule tick", zap.Error(err))
		return
	}
	c.Start()
	r.mu.Lock()
	r.cronJob = c
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
}

func (r *runner) tick() {
	r.mu.Lock()
	if r.outstanding <= 0 {
		r.mu.Unlock()
		return
	}
	r.elapsed += r.interval.Seconds()
	elapsed := r.elapsed
	ctx := r.ctx
	stream := r.stream
	r.mu.Unlock()

	if ctx == nil || stream == nil {
		return
	}

	payload, err := json.Marshal(map[string]float64{"elapsedSeconds": elapsed})
	if err != nil {
		r.logger.Error("clock: marshal time-tick", zap.Error(err))
		return
	}
	if _, err := stream.Append(ctx, eventlog.EventInput{
		Type:    EventTimeTick,
		Payload: payload,
	}, tracing.Root()); err != nil {
		r.logger.Error("clock: append time-tick", zap.Error(err))
	}
}
