package codemode

import (
	"encoding/json"
	"sort"

	"github.com/streamforge/agentrt/internal/eventlog"
)

// DeferredBlock is a codemode block scheduled for repeated polling rather
// than one-shot evaluation (spec.md §4.6.4). BlockOffset, the offset of the
// deferred-block-added event that created it, is its identity.
type DeferredBlock struct {
	BlockOffset            eventlog.Offset `json:"blockOffset"`
	Code                   string          `json:"code"`
	CheckIntervalSeconds   float64         `json:"checkIntervalSeconds"`
	MaxAttempts            int             `json:"maxAttempts"`
	Description            string          `json:"description,omitempty"`
	AttemptCount           int             `json:"attemptCount"`
	LastPollElapsedSeconds float64         `json:"lastPollElapsedSeconds"`
}

// DueBlocks returns blocks, in deterministic order by BlockOffset, whose
// next poll is due at elapsedSeconds (spec.md §4.6.4: "elapsedSeconds >=
// lastPollElapsedSeconds + checkIntervalSeconds").
func DueBlocks(blocks map[string]DeferredBlock, elapsedSeconds float64) []DeferredBlock {
	var due []DeferredBlock
	for _, b := range blocks {
		if elapsedSeconds >= b.LastPollElapsedSeconds+b.CheckIntervalSeconds {
			due = append(due, b)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].BlockOffset < due[j].BlockOffset
	})
	return due
}

// PollOutcome classifies what a single poll attempt against a deferred
// block produced (spec.md §4.6.4).
type PollOutcome int

const (
	PollPending PollOutcome = iota
	PollCompleted
	PollFailed
	PollTimedOut
)

// ClassifyPoll decides the outcome of one poll attempt, given the raw
// sandbox result (nil if the evaluation threw, in which case evalErr is
// non-nil) and the block's maxAttempts (spec.md §4.6.4 steps c-f).
func ClassifyPoll(result json.RawMessage, evalErr error, attemptNumber, maxAttempts int) PollOutcome {
	if evalErr != nil {
		return PollFailed
	}
	if isTruthy(result) {
		return PollCompleted
	}
	if attemptNumber >= maxAttempts {
		return PollTimedOut
	}
	return PollPending
}

// isTruthy implements the JSON truthiness rule used to decide whether a
// deferred block's result counts as "done" (spec.md §4.6.4): null, false,
// 0, "", [] and {} are falsy, everything else is truthy.
func isTruthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
