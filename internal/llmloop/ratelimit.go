package llmloop

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// ErrRateLimited is the sentinel a LanguageModel implementation should wrap
// into its Stream error to signal the provider itself rejected the request
// for rate-limiting reasons, distinct from an adapter-error of any other
// kind (spec.md §7, "adapter-error").
var ErrRateLimited = errors.New("llmloop: rate limited by provider")

// RateLimiter applies an AIMD-style adaptive token bucket in front of a
// LanguageModel. It estimates the token cost of a request, blocks until
// budget is available, and adjusts its effective tokens-per-minute rate in
// response to ErrRateLimited signals from the wrapped model.
//
// Grounded on features/model/middleware/ratelimit.go's AdaptiveRateLimiter,
// with its Pulse/rmap cluster-coordination layer dropped: that layer
// synchronizes the TPM budget across a fleet of processes sharing one
// provider quota, which is out of scope here (rmap is not part of this
// module's dependency stack). The core AIMD logic — token-bucket sizing,
// backoff-on-limit, linear recovery, and the char-count token estimate —
// carries over unchanged, just process-local.
type RateLimiter struct {
	next LanguageModel

	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewRateLimiter wraps next with an adaptive limiter budgeted at initialTPM
// tokens per minute, growing back towards maxTPM after a backoff. When
// maxTPM is zero or less than initialTPM, it is clamped to initialTPM.
func NewRateLimiter(next LanguageModel, initialTPM, maxTPM float64) *RateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}

	return &RateLimiter{
		next:         next,
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Stream implements LanguageModel: it waits for budget, delegates to the
// wrapped model, and adjusts the budget based on whether the stream ended
// in ErrRateLimited.
func (l *RateLimiter) Stream(ctx context.Context, systemPrompt string, history []Message) (<-chan Part, <-chan error, error) {
	tokens := estimateTokens(systemPrompt, history)
	if err := l.limiter.WaitN(ctx, tokens); err != nil {
		return nil, nil, err
	}

	partsCh, upstreamErrCh, err := l.next.Stream(ctx, systemPrompt, history)
	if err != nil {
		l.observe(err)
		return nil, nil, err
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		e, ok := <-upstreamErrCh
		l.observe(e)
		if ok && e != nil {
			errCh <- e
		}
	}()

	return partsCh, errCh, nil
}

func (l *RateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, ErrRateLimited) {
		l.backoff()
	}
}

func (l *RateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()

	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setTPMLocked(newTPM)
}

func (l *RateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()

	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setTPMLocked(newTPM)
}

func (l *RateLimiter) setTPMLocked(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// estimateTokens is a cheap heuristic for the token cost of a request:
// character count divided by ~3, plus a fixed buffer for the system prompt
// and provider framing (features/model/middleware/ratelimit.go's
// estimateTokens, adapted to this package's systemPrompt/history shape).
func estimateTokens(systemPrompt string, history []Message) int {
	charCount := len(systemPrompt)
	for _, m := range history {
		charCount += len(m.Content)
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
