package processor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/streamforge/agentrt/internal/eventstream"
)

// resetAfter is how long a processor must run without error before the
// backoff policy is considered recovered and restarts from its initial
// interval again, rather than continuing to back off from a transient
// blip that happened long ago.
const resetAfter = 2 * time.Minute

// Supervise runs def against stream, restarting it with exponential
// backoff whenever Run returns a non-nil error (spec.md §4.4, step 3:
// "if run fails, the framework logs and restarts it; restart replays
// hydrate from the durable log, achieving self-recovery"). Supervise
// blocks until ctx is cancelled.
func Supervise[S State](ctx context.Context, stream *eventstream.Stream, def Definition[S]) {
	logger := def.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry indefinitely; only ctx cancellation stops us

	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		err := Run(ctx, stream, def)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}

		if time.Since(start) >= resetAfter {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		logger.Error("processor crashed, restarting",
			zap.String("processor", def.Name),
			zap.Error(err),
			zap.Duration("backoff", wait))

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}
