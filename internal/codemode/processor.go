package codemode

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/streamforge/agentrt/internal/eventlog"
	"github.com/streamforge/agentrt/internal/eventstream"
	"github.com/streamforge/agentrt/internal/processor"
	"github.com/streamforge/agentrt/internal/tracing"
)

// Wire event types (spec.md §4.6, §6).
const (
	EventResponseSSE        = "llm-loop:response:sse"
	EventRequestEnded       = "llm-loop:request-ended"
	EventRequestCancelled   = "llm-loop:request-cancelled"
	EventRequestInterrupted = "llm-loop:request-interrupted"
	EventSystemPromptEdit   = "llm-loop:system-prompt-edit"

	EventToolRegistered   = "codemode:tool-registered"
	EventToolUnregistered = "codemode:tool-unregistered"

	EventCodeBlockAdded  = "codemode:code-block-added"
	EventCodeEvalStarted = "codemode:code-eval-started"
	EventCodeEvalDone    = "codemode:code-eval-done"
	EventCodeEvalFailed  = "codemode:code-eval-failed"

	EventDeferredBlockAdded    = "codemode:deferred-block-added"
	EventDeferredCancelled     = "codemode:deferred-cancelled"
	EventDeferredPollAttempted = "codemode:deferred-poll-attempted"
	EventDeferredCompleted     = "codemode:deferred-completed"
	EventDeferredFailed        = "codemode:deferred-failed"
	EventDeferredTimedOut      = "codemode:deferred-timed-out"

	EventDeveloperMessage = "developer-message"
	EventTimeTick         = "clock:time-tick"
)

// State is the Codemode processor's fold accumulator (spec.md §4.6).
type State struct {
	Last eventlog.Offset

	Tools              map[string]RegisteredTool
	ToolPromptsEmitted map[string]bool
	BasePromptEmitted  bool

	// Pending accumulates response:sse text-delta content per requestOffset
	// until request-ended folds it into extractable assistant text.
	Pending map[string]string

	// ProcessedBlockCount tracks, per requestOffset, how many <codemode>
	// blocks have already become code-block-added events. Re-deriving this
	// from ExtractBlocks on every request-ended fold makes the count
	// idempotent under replay (spec.md §8.8).
	ProcessedBlockCount map[string]int

	Deferred       map[string]DeferredBlock
	ElapsedSeconds float64
}

func (s State) LastOffset() eventlog.Offset { return s.Last }

func zero() State {
	return State{
		Tools:               map[string]RegisteredTool{},
		ToolPromptsEmitted:  map[string]bool{},
		Pending:             map[string]string{},
		ProcessedBlockCount: map[string]int{},
		Deferred:            map[string]DeferredBlock{},
	}
}

// clone returns a value copy of s with every map defensively copied, so a
// caller holding an earlier State value never observes a later mutation
// (spec.md Invariant 3).
func (s State) clone() State {
	next := s
	next.Tools = make(map[string]RegisteredTool, len(s.Tools))
	for k, v := range s.Tools {
		next.Tools[k] = v
	}
	next.ToolPromptsEmitted = make(map[string]bool, len(s.ToolPromptsEmitted))
	for k, v := range s.ToolPromptsEmitted {
		next.ToolPromptsEmitted[k] = v
	}
	next.Pending = make(map[string]string, len(s.Pending))
	for k, v := range s.Pending {
		next.Pending[k] = v
	}
	next.ProcessedBlockCount = make(map[string]int, len(s.ProcessedBlockCount))
	for k, v := range s.ProcessedBlockCount {
		next.ProcessedBlockCount[k] = v
	}
	next.Deferred = make(map[string]DeferredBlock, len(s.Deferred))
	for k, v := range s.Deferred {
		next.Deferred[k] = v
	}
	return next
}

type ssePayload struct {
	Part          json.RawMessage `json:"part"`
	RequestOffset string          `json:"requestOffset"`
}

type textDeltaPart struct {
	Kind  string `json:"kind"`
	Delta string `json:"delta"`
}

type requestOffsetPayload struct {
	RequestOffset string `json:"requestOffset"`
}

type systemPromptEditPayload struct {
	Mode    string `json:"mode"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

type toolRegisteredPayload struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	ParametersSchema  json.RawMessage `json:"parametersJsonSchema,omitempty"`
	ReturnDescription string          `json:"returnDescription,omitempty"`
	Implementation    string          `json:"implementation"`
}

type toolUnregisteredPayload struct {
	Name string `json:"name"`
}

type deferredBlockAddedPayload struct {
	Code                 string  `json:"code"`
	CheckIntervalSeconds float64 `json:"checkIntervalSeconds"`
	MaxAttempts          int     `json:"maxAttempts"`
	Description          string  `json:"description,omitempty"`
}

type deferredCancelledPayload struct {
	BlockOffset string `json:"blockOffset"`
}

type deferredPollAttemptedPayload struct {
	BlockOffset string `json:"blockOffset"`
}

type timeTickPayload struct {
	ElapsedSeconds float64 `json:"elapsedSeconds"`
}

// Reduce folds one event into State (spec.md §4.6.1-§4.6.4).
func Reduce(state State, ev eventlog.Event) State {
	next := state.clone()
	next.Last = ev.Offset

	switch ev.Type {
	case EventResponseSSE:
		var p ssePayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			if delta, ok := parseTextDelta(p.Part); ok {
				next.Pending[p.RequestOffset] += delta
			}
		}

	case EventRequestEnded:
		var p requestOffsetPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			text := state.Pending[p.RequestOffset]
			blocks := ExtractBlocks(text)
			next.ProcessedBlockCount[p.RequestOffset] = len(blocks)
			delete(next.Pending, p.RequestOffset)
		}

	case EventRequestCancelled, EventRequestInterrupted:
		var p requestOffsetPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			delete(next.Pending, p.RequestOffset)
		}

	case EventSystemPromptEdit:
		var p systemPromptEditPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			if p.Source == basePromptSource {
				next.BasePromptEmitted = true
			} else if name, ok := strings.CutPrefix(p.Source, "codemode:tool:"); ok {
				next.ToolPromptsEmitted[name] = true
			}
		}

	case EventToolRegistered:
		var p toolRegisteredPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			next.Tools[p.Name] = RegisteredTool{
				Name:              p.Name,
				Description:       p.Description,
				ParametersSchema:  p.ParametersSchema,
				ReturnDescription: p.ReturnDescription,
				Implementation:    p.Implementation,
			}
		}

	case EventToolUnregistered:
		var p toolUnregisteredPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			delete(next.Tools, p.Name)
		}

	case EventDeferredBlockAdded:
		var p deferredBlockAddedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			next.Deferred[string(ev.Offset)] = DeferredBlock{
				BlockOffset:            ev.Offset,
				Code:                   p.Code,
				CheckIntervalSeconds:   p.CheckIntervalSeconds,
				MaxAttempts:            p.MaxAttempts,
				Description:            p.Description,
				LastPollElapsedSeconds: next.ElapsedSeconds,
			}
		}

	case EventDeferredCancelled:
		var p deferredCancelledPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			delete(next.Deferred, p.BlockOffset)
		}

	case EventDeferredCompleted, EventDeferredFailed, EventDeferredTimedOut:
		var p deferredCancelledPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			delete(next.Deferred, p.BlockOffset)
		}

	case EventDeferredPollAttempted:
		var p deferredPollAttemptedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			if b, ok := next.Deferred[p.BlockOffset]; ok {
				b.AttemptCount++
				b.LastPollElapsedSeconds = next.ElapsedSeconds
				next.Deferred[p.BlockOffset] = b
			}
		}

	case EventTimeTick:
		var p timeTickPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			next.ElapsedSeconds = p.ElapsedSeconds
		}
	}

	return next
}

func parseTextDelta(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var p textDeltaPart
	if err := json.Unmarshal(raw, &p); err != nil || p.Kind != "text-delta" {
		return "", false
	}
	return p.Delta, true
}

// Config wires a Codemode Definition to its capabilities (spec.md §4.6.3).
type Config struct {
	Capabilities func() Capabilities
	Logger       *zap.Logger
}

// New builds the Codemode processor.Definition (spec.md §4.6).
func New(cfg Config) processor.Definition[State] {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	caps := cfg.Capabilities
	if caps == nil {
		caps = func() Capabilities { return Capabilities{} }
	}
	r := &reactor{caps: caps, logger: logger}

	return processor.Definition[State]{
		Name:   "codemode",
		Zero:   zero(),
		Reduce: Reduce,
		React:  r.react,
		Logger: logger,
	}
}

type reactor struct {
	caps   func() Capabilities
	logger *zap.Logger
}

func (r *reactor) react(ctx context.Context, stream *eventstream.Stream, before, after State, ev eventlog.Event) {
	cause := tracing.Child(ev.Trace)

	// Base system prompt addendum, once per path, triggered on the first
	// live event of any kind (spec.md §4.6.2). React only ever observes
	// live events (processor.Run folds history with no reactions), so
	// before.BasePromptEmitted reflects the path's full history on every
	// restart and this never re-fires for an already-handled path.
	if !before.BasePromptEmitted && !after.BasePromptEmitted {
		r.appendSystemPromptEdit(ctx, stream, cause, BasePrompt, basePromptSource)
	}

	switch ev.Type {
	case EventToolRegistered:
		var p toolRegisteredPayload
		if json.Unmarshal(ev.Payload, &p) == nil && !before.ToolPromptsEmitted[p.Name] {
			tool := after.Tools[p.Name]
			r.appendSystemPromptEdit(ctx, stream, cause, ToolPromptAddendum(tool), toolPromptSource(p.Name))
		}

	case EventRequestEnded:
		var p requestOffsetPayload
		if json.Unmarshal(ev.Payload, &p) != nil {
			return
		}
		text := before.Pending[p.RequestOffset]
		blocks := ExtractBlocks(text)
		already := before.ProcessedBlockCount[p.RequestOffset]
		for i := already; i < len(blocks); i++ {
			requestID := fmt.Sprintf("%s.%d", p.RequestOffset, i)
			code := blocks[i]
			if _, err := stream.Append(ctx, eventlog.EventInput{
				Type:    EventCodeBlockAdded,
				Payload: mustMarshal(map[string]any{"requestId": requestID, "code": code}),
			}, cause); err != nil {
				r.logger.Error("codemode: append code-block-added", zap.Error(err))
			}
		}

	case EventCodeBlockAdded:
		var payload struct {
			RequestID string `json:"requestId"`
			Code      string `json:"code"`
		}
		if json.Unmarshal(ev.Payload, &payload) != nil {
			return
		}
		tools := after.Tools
		env := r.caps()
		go r.evalBlock(ctx, stream, cause, payload.RequestID, payload.Code, tools, env)

	case EventTimeTick:
		due := DueBlocks(after.Deferred, after.ElapsedSeconds)
		if len(due) == 0 {
			return
		}
		tools := after.Tools
		env := r.caps()
		go r.pollDue(ctx, stream, cause, due, after.ElapsedSeconds, tools, env)
	}
}

func (r *reactor) appendSystemPromptEdit(ctx context.Context, stream *eventstream.Stream, trace eventlog.Trace, content, source string) {
	_, err := stream.Append(ctx, eventlog.EventInput{
		Type: EventSystemPromptEdit,
		Payload: mustMarshal(systemPromptEditPayload{
			Mode:    "append",
			Content: content,
			Source:  source,
		}),
	}, trace)
	if err != nil {
		r.logger.Error("codemode: append system-prompt-edit", zap.Error(err), zap.String("source", source))
	}
}

// evalBlock runs one code-block-added evaluation to completion off the
// processor's event loop (spec.md §4.6.1, §4.6.5: "run on a separate task").
func (r *reactor) evalBlock(ctx context.Context, stream *eventstream.Stream, cause eventlog.Trace, requestID, code string, tools map[string]RegisteredTool, caps Capabilities) {
	if _, err := stream.Append(ctx, eventlog.EventInput{
		Type:    EventCodeEvalStarted,
		Payload: mustMarshal(map[string]any{"requestId": requestID}),
	}, cause); err != nil {
		r.logger.Error("codemode: append code-eval-started", zap.Error(err))
		return
	}

	sb := NewSandbox(caps, tools)
	result, logs, emitted, evalErr := sb.RunBlock(ctx, code)

	for _, raw := range emitted {
		var input eventlog.EventInput
		if json.Unmarshal(raw, &input) != nil {
			continue
		}
		if _, err := stream.Append(ctx, input, cause); err != nil {
			r.logger.Error("codemode: append emitted event", zap.Error(err))
		}
	}

	if evalErr != nil {
		r.appendAndLog(ctx, stream, cause, EventCodeEvalFailed, map[string]any{
			"requestId": requestID,
			"error":     evalErr.Error(),
			"logs":      logs,
		})
		r.appendDeveloperMessage(ctx, stream, cause, fmt.Sprintf("codemode block failed: %s", evalErr.Error()))
		return
	}

	r.appendAndLog(ctx, stream, cause, EventCodeEvalDone, map[string]any{
		"requestId": requestID,
		"data":      string(result),
		"logs":      logs,
	})
	r.appendDeveloperMessage(ctx, stream, cause, fmt.Sprintf("codemode block completed with result: %s", result))
}

// pollDue evaluates every due deferred block, in blockOffset order, off the
// processor's event loop (spec.md §4.6.4).
func (r *reactor) pollDue(ctx context.Context, stream *eventstream.Stream, cause eventlog.Trace, due []DeferredBlock, elapsedSeconds float64, tools map[string]RegisteredTool, caps Capabilities) {
	sort.Slice(due, func(i, j int) bool { return due[i].BlockOffset < due[j].BlockOffset })

	for _, block := range due {
		attemptNumber := block.AttemptCount + 1

		sb := NewSandbox(caps, tools)
		result, logs, emitted, evalErr := sb.RunBlock(ctx, block.Code)

		for _, raw := range emitted {
			var input eventlog.EventInput
			if json.Unmarshal(raw, &input) != nil {
				continue
			}
			if _, err := stream.Append(ctx, input, cause); err != nil {
				r.logger.Error("codemode: append emitted event", zap.Error(err))
			}
		}

		outcome := ClassifyPoll(result, evalErr, attemptNumber, block.MaxAttempts)

		var pollResult any
		if outcome == PollCompleted {
			pollResult = string(result)
		}
		r.appendAndLog(ctx, stream, cause, EventDeferredPollAttempted, map[string]any{
			"blockOffset":    string(block.BlockOffset),
			"attemptNumber":  attemptNumber,
			"elapsedSeconds": elapsedSeconds,
			"result":         pollResult,
			"logs":           logs,
		})

		switch outcome {
		case PollFailed:
			r.appendAndLog(ctx, stream, cause, EventDeferredFailed, map[string]any{
				"blockOffset": string(block.BlockOffset),
				"error":       evalErr.Error(),
			})
			r.appendDeveloperMessage(ctx, stream, cause, fmt.Sprintf("deferred block failed: %s", evalErr.Error()))

		case PollCompleted:
			r.appendAndLog(ctx, stream, cause, EventDeferredCompleted, map[string]any{
				"blockOffset": string(block.BlockOffset),
				"result":      string(result),
			})
			r.appendDeveloperMessage(ctx, stream, cause, fmt.Sprintf("deferred block completed with result: %s", result))

		case PollTimedOut:
			r.appendAndLog(ctx, stream, cause, EventDeferredTimedOut, map[string]any{
				"blockOffset": string(block.BlockOffset),
				"attempts":    attemptNumber,
			})
			r.appendDeveloperMessage(ctx, stream, cause, "deferred block timed out without a result")

		default:
			r.appendDeveloperMessage(ctx, stream, cause, "deferred block still pending; do not re-issue codemode in response")
		}
	}
}

func (r *reactor) appendAndLog(ctx context.Context, stream *eventstream.Stream, trace eventlog.Trace, eventType string, payload map[string]any) {
	if _, err := stream.Append(ctx, eventlog.EventInput{
		Type:    eventType,
		Payload: mustMarshal(payload),
	}, trace); err != nil {
		r.logger.Error("codemode: append", zap.String("type", eventType), zap.Error(err))
	}
}

func (r *reactor) appendDeveloperMessage(ctx context.Context, stream *eventstream.Stream, trace eventlog.Trace, content string) {
	if _, err := stream.Append(ctx, eventlog.EventInput{
		Type:    EventDeveloperMessage,
		Payload: mustMarshal(map[string]any{"content": content}),
	}, trace); err != nil {
		r.logger.Error("codemode: append developer-message", zap.Error(err))
	}
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
