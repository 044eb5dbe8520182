// Package llmloop implements the LLM Loop processor: it maintains
// conversation history and drives a language model, debouncing triggers and
// interrupting an in-flight generation when a newer one supersedes it
// (spec.md §4.5).
package llmloop

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/streamforge/agentrt/internal/activerequest"
	"github.com/streamforge/agentrt/internal/debounce"
	"github.com/streamforge/agentrt/internal/eventlog"
	"github.com/streamforge/agentrt/internal/eventstream"
	"github.com/streamforge/agentrt/internal/processor"
	"github.com/streamforge/agentrt/internal/tracing"
)

// Wire event types (spec.md §6).
const (
	EventConfigSet          = "agent:config:set"
	EventUserMessage        = "agent:action:send-user-message:called"
	EventDeveloperMessage   = "developer-message"
	EventSystemPromptEdit   = "llm-loop:system-prompt-edit"
	EventRequestStarted     = "llm-loop:request-started"
	EventResponseSSE        = "llm-loop:response:sse"
	EventRequestEnded       = "llm-loop:request-ended"
	EventRequestCancelled   = "llm-loop:request-cancelled"
	EventRequestInterrupted = "llm-loop:request-interrupted"
)

// DefaultQuiet and DefaultMaxWait are the debounce defaults (spec.md §4.5,
// "Debounce"; §6, "llmDebounce").
const (
	DefaultQuiet   = 200 * time.Millisecond
	DefaultMaxWait = 2 * time.Second
)

// State is the LLM Loop processor's fold accumulator (spec.md §4.5,
// "State"). LLMRequestRequiredFrom and LLMLastRespondedAt are offsets held
// as options: the empty string means None ("minus infinity"), distinct
// from eventlog.NoOffset, which is a real (if reserved) offset value never
// produced here.
type State struct {
	Enabled                bool
	History                History
	LLMRequestRequiredFrom eventlog.Offset
	LLMLastRespondedAt     eventlog.Offset
	Last                   eventlog.Offset
}

// LastOffset implements processor.State.
func (s State) LastOffset() eventlog.Offset { return s.Last }

// optionAfter reports whether a is after b under the "None is minus
// infinity" ordering spec.md §4.5's trigger rule requires. This differs
// from eventlog.After, whose sentinel is NoOffset rather than "": here ""
// means "no such message/request has ever occurred", which is strictly
// older than every real offset including NoOffset.
func optionAfter(a, b eventlog.Offset) bool {
	if a == "" {
		return false
	}
	if b == "" {
		return true
	}
	return eventlog.After(a, b)
}

// Reduce folds one event into state. modelName selects which
// agent:config:set events enable this processor instance (spec.md §4.5,
// "enabled").
func Reduce(modelName string) processor.Reducer[State] {
	return func(s State, ev eventlog.Event) State {
		next := s
		next.Last = ev.Offset

		switch ev.Type {
		case EventConfigSet:
			var p struct {
				Model string `json:"model"`
			}
			if err := json.Unmarshal(ev.Payload, &p); err == nil {
				next.Enabled = p.Model == modelName
			}

		case EventUserMessage:
			var p struct {
				Content string `json:"content"`
			}
			_ = json.Unmarshal(ev.Payload, &p)
			next.History = next.History.WithUser(p.Content)
			next.LLMRequestRequiredFrom = ev.Offset

		case EventDeveloperMessage:
			var p struct {
				Content string `json:"content"`
			}
			_ = json.Unmarshal(ev.Payload, &p)
			next.History = next.History.WithDeveloper(p.Content)
			next.LLMRequestRequiredFrom = ev.Offset

		case EventSystemPromptEdit:
			var p struct {
				Mode    string `json:"mode"`
				Content string `json:"content"`
			}
			_ = json.Unmarshal(ev.Payload, &p)
			next.History = next.History.WithSystemPromptEdit(p.Mode, p.Content)

		case EventResponseSSE:
			var p struct {
				Part          json.RawMessage `json:"part"`
				RequestOffset string          `json:"requestOffset"`
			}
			_ = json.Unmarshal(ev.Payload, &p)
			if delta, ok := parseTextDelta(p.Part); ok {
				next.History = next.History.WithTextDelta(p.RequestOffset, delta)
			}

		case EventRequestStarted:
			// This event's own offset is requestOffset (spec.md §4.5:
			// "the offset of the most recent request-started event").
			next.LLMLastRespondedAt = ev.Offset

		case EventRequestEnded:
			var p struct {
				RequestOffset string `json:"requestOffset"`
			}
			_ = json.Unmarshal(ev.Payload, &p)
			next.History = next.History.WithFinalizedRequest(p.RequestOffset)

		case EventRequestCancelled, EventRequestInterrupted:
			var p struct {
				RequestOffset string `json:"requestOffset"`
			}
			_ = json.Unmarshal(ev.Payload, &p)
			next.History = next.History.WithDiscardedRequest(p.RequestOffset)
		}

		return next
	}
}

// trigger is what a debounced burst carries through to startRequest: the
// history snapshot at the moment the burst settled, and the trace of the
// event that most recently re-armed the trigger (for child-span
// propagation, spec.md §5).
type trigger struct {
	systemPrompt string
	history      []Message
	cause        eventlog.Trace
}

// runner owns the side-effecting apparatus a pure Reducer cannot: the
// debouncer and the ActiveRequest slot. One runner is constructed per
// stream instance and its react method is wired in as the processor's
// Reactor.
type runner struct {
	modelName string
	model     LanguageModel
	logger    *zap.Logger
	quiet     time.Duration
	maxWait   time.Duration

	slot *activerequest.Slot

	mu     sync.Mutex
	deb    *debounce.Debouncer[trigger]
	ctx    context.Context
	stream *eventstream.Stream
}

func (r *runner) react(ctx context.Context, stream *eventstream.Stream, before, after State, ev eventlog.Event) {
	r.mu.Lock()
	r.ctx = ctx
	r.stream = stream
	if r.deb == nil {
		r.deb = debounce.New(r.quiet, r.maxWait, r.onSettled)
	}
	deb := r.deb
	r.mu.Unlock()

	if after.Enabled && optionAfter(after.LLMRequestRequiredFrom, after.LLMLastRespondedAt) {
		deb.Trigger(trigger{
			systemPrompt: after.History.SystemPrompt(),
			history:      after.History.Messages(),
			cause:        ev.Trace,
		})
	}
}

// onSettled runs on the debouncer's own goroutine once a burst of triggers
// has quieted down or hit maxWait (spec.md §4.5, "Debounce").
func (r *runner) onSettled(t trigger) {
	r.mu.Lock()
	ctx := r.ctx
	stream := r.stream
	r.mu.Unlock()
	if ctx == nil || stream == nil {
		return
	}
	r.startRequest(ctx, stream, t)
}

// startRequest implements spec.md §4.5's six-step per-request protocol.
func (r *runner) startRequest(ctx context.Context, stream *eventstream.Stream, t trigger) {
	logger := r.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	childTrace := tracing.Child(t.cause)

	startedEv, err := stream.Append(ctx, eventlog.EventInput{Type: EventRequestStarted}, childTrace)
	if err != nil {
		logger.Error("llm-loop: append request-started failed", zap.Error(err))
		return
	}
	requestOffset := string(startedEv.Offset)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if previous, had := r.slot.Replace(startedEv.Offset, cancel); had {
		r.appendJSON(ctx, stream, EventRequestInterrupted, childTrace, map[string]any{
			"requestOffset": string(previous),
		})
	}

	partsCh, errCh, err := r.model.Stream(reqCtx, t.systemPrompt, t.history)
	if err != nil {
		r.endWithFailure(ctx, stream, childTrace, requestOffset, reqCtx, err)
		r.slot.Clear(startedEv.Offset)
		return
	}

	var finalErr error
	for partsCh != nil || errCh != nil {
		select {
		case part, ok := <-partsCh:
			if !ok {
				partsCh = nil
				continue
			}
			r.appendPart(ctx, stream, childTrace, requestOffset, part)
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			finalErr = e
		}
	}

	if finalErr != nil {
		r.endWithFailure(ctx, stream, childTrace, requestOffset, reqCtx, finalErr)
	} else {
		r.appendJSON(ctx, stream, EventRequestEnded, childTrace, map[string]any{
			"requestOffset": requestOffset,
		})
	}

	r.slot.Clear(startedEv.Offset)
}

func (r *runner) endWithFailure(ctx context.Context, stream *eventstream.Stream, trace eventlog.Trace, requestOffset string, reqCtx context.Context, cause error) {
	reason := "error"
	if reqCtx.Err() != nil {
		reason = "interrupted"
	}
	r.appendJSON(ctx, stream, EventRequestCancelled, trace, map[string]any{
		"requestOffset": requestOffset,
		"reason":        reason,
		"message":       cause.Error(),
	})
}

func (r *runner) appendPart(ctx context.Context, stream *eventstream.Stream, trace eventlog.Trace, requestOffset string, part Part) {
	r.appendJSON(ctx, stream, EventResponseSSE, trace, map[string]any{
		"part":          part,
		"requestOffset": requestOffset,
	})
}

func (r *runner) appendJSON(ctx context.Context, stream *eventstream.Stream, eventType string, trace eventlog.Trace, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	logger := r.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := stream.Append(ctx, eventlog.EventInput{Type: eventType, Payload: raw}, trace); err != nil {
		logger.Error("llm-loop: append failed", zap.String("type", eventType), zap.Error(err))
	}
}

// Config parameterizes one LLM Loop processor instance.
type Config struct {
	// ModelName is compared against agent:config:set's model field to
	// determine Enabled (spec.md §4.5).
	ModelName string
	Model     LanguageModel
	Quiet     time.Duration
	MaxWait   time.Duration
	Logger    *zap.Logger
}

// New builds a processor.Definition wiring Reduce, the debounced
// trigger-and-stream-generation Reactor, and the ActiveRequest slot
// together for one model (spec.md §4.5).
func New(cfg Config) processor.Definition[State] {
	quiet := cfg.Quiet
	if quiet == 0 {
		quiet = DefaultQuiet
	}
	maxWait := cfg.MaxWait
	if maxWait == 0 {
		maxWait = DefaultMaxWait
	}

	r := &runner{
		modelName: cfg.ModelName,
		model:     cfg.Model,
		logger:    cfg.Logger,
		quiet:     quiet,
		maxWait:   maxWait,
		slot:      activerequest.New(),
	}

	return processor.Definition[State]{
		Name:   "llm-loop:" + cfg.ModelName,
		Zero:   State{},
		Reduce: Reduce(cfg.ModelName),
		React:  r.react,
		Logger: cfg.Logger,
	}
}
