package codemode

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamforge/agentrt/internal/eventlog"
	"github.com/streamforge/agentrt/internal/eventstream"
	"github.com/streamforge/agentrt/internal/processor"
)

func newTestStream() (*eventstream.Stream, eventlog.StreamStorage) {
	store := eventlog.NewMemStore()
	hub := eventstream.NewMemHub()
	return eventstream.New("agent/a", store, hub), store
}

func appendSSE(t *testing.T, stream *eventstream.Stream, requestOffset, delta string) {
	t.Helper()
	part, err := json.Marshal(textDeltaPart{Kind: "text-delta", Delta: delta})
	require.NoError(t, err)
	payload, err := json.Marshal(ssePayload{Part: part, RequestOffset: requestOffset})
	require.NoError(t, err)
	_, err = stream.Append(context.Background(), eventlog.EventInput{Type: EventResponseSSE, Payload: payload}, eventlog.Trace{TraceID: "t", SpanID: "s"})
	require.NoError(t, err)
}

func appendRequestEnded(t *testing.T, stream *eventstream.Stream, requestOffset string) {
	t.Helper()
	payload, err := json.Marshal(requestOffsetPayload{RequestOffset: requestOffset})
	require.NoError(t, err)
	_, err = stream.Append(context.Background(), eventlog.EventInput{Type: EventRequestEnded, Payload: payload}, eventlog.Trace{TraceID: "t", SpanID: "s"})
	require.NoError(t, err)
}

func appendToolRegistered(t *testing.T, stream *eventstream.Stream, tool toolRegisteredPayload) {
	t.Helper()
	payload, err := json.Marshal(tool)
	require.NoError(t, err)
	_, err = stream.Append(context.Background(), eventlog.EventInput{Type: EventToolRegistered, Payload: payload}, eventlog.Trace{TraceID: "t", SpanID: "s"})
	require.NoError(t, err)
}

func appendTick(t *testing.T, stream *eventstream.Stream, elapsedSeconds float64) {
	t.Helper()
	payload, err := json.Marshal(timeTickPayload{ElapsedSeconds: elapsedSeconds})
	require.NoError(t, err)
	_, err = stream.Append(context.Background(), eventlog.EventInput{Type: EventTimeTick, Payload: payload}, eventlog.Trace{TraceID: "t", SpanID: "s"})
	require.NoError(t, err)
}

func waitForEventType(t *testing.T, store eventlog.StreamStorage, path eventlog.StreamPath, eventType string, timeout time.Duration) eventlog.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		events, err := store.Read(context.Background(), path, "", "")
		require.NoError(t, err)
		for _, ev := range events {
			if ev.Type == eventType {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event type %q", eventType)
	return eventlog.Event{}
}

func countEventType(t *testing.T, store eventlog.StreamStorage, path eventlog.StreamPath, eventType string) int {
	t.Helper()
	events, err := store.Read(context.Background(), path, "", "")
	require.NoError(t, err)
	var n int
	for _, ev := range events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func TestCodemode_ToolRegistrationAppendsSystemPromptEditOnce(t *testing.T) {
	stream, store := newTestStream()
	def := New(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = processor.Run(ctx, stream, def) }()

	appendToolRegistered(t, stream, toolRegisteredPayload{Name: "fetchWeather", Description: "gets the weather", Implementation: "return 1;"})

	waitForEventType(t, store, "agent/a", EventSystemPromptEdit, 2*time.Second)
	time.Sleep(50 * time.Millisecond)

	events, err := store.Read(context.Background(), "agent/a", "", "")
	require.NoError(t, err)
	var toolPromptCount int
	for _, ev := range events {
		if ev.Type != EventSystemPromptEdit {
			continue
		}
		var p systemPromptEditPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		if p.Source == toolPromptSource("fetchWeather") {
			toolPromptCount++
		}
	}
	require.Equal(t, 1, toolPromptCount)
}

func TestCodemode_RequestEndedEmitsOneBlockPerCodemodeTag(t *testing.T) {
	stream, store := newTestStream()
	def := New(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = processor.Run(ctx, stream, def) }()

	appendSSE(t, stream, "0000000000000001", "before <codemode>one</codemode> middle <codemode>two</codemode> after")
	appendRequestEnded(t, stream, "0000000000000001")

	// "one" and "two" do not define codemode(), so each evaluation fails;
	// both code-block-added events are appended before either evaluation.
	waitForEventType(t, store, "agent/a", EventCodeEvalFailed, 2*time.Second)

	events, err := store.Read(context.Background(), "agent/a", "", "")
	require.NoError(t, err)

	var blockCount int
	var ids []string
	for _, ev := range events {
		if ev.Type == EventCodeBlockAdded {
			blockCount++
			var p struct {
				RequestID string `json:"requestId"`
			}
			require.NoError(t, json.Unmarshal(ev.Payload, &p))
			ids = append(ids, p.RequestID)
		}
	}
	require.Equal(t, 2, blockCount)
	require.Equal(t, []string{"0000000000000001.0", "0000000000000001.1"}, ids)
}

func TestCodemode_EvalSuccessCallsRegisteredToolAndAppendsDone(t *testing.T) {
	stream, store := newTestStream()
	def := New(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = processor.Run(ctx, stream, def) }()

	appendToolRegistered(t, stream, toolRegisteredPayload{
		Name:           "fetchWeather",
		Description:    "gets the weather for a city",
		Implementation: `return { city: params.city, temperature: 18, condition: "cloudy" };`,
	})
	waitForEventType(t, store, "agent/a", EventSystemPromptEdit, 2*time.Second)

	code := `async function codemode() { return await fetchWeather({city: "london"}); }`
	appendSSE(t, stream, "0000000000000002", "<codemode>"+code+"</codemode>")
	appendRequestEnded(t, stream, "0000000000000002")

	done := waitForEventType(t, store, "agent/a", EventCodeEvalDone, 2*time.Second)

	var p struct {
		Data string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(done.Payload, &p))
	require.Contains(t, p.Data, `"temperature":18`)
	require.Contains(t, p.Data, `"london"`)

	require.Equal(t, 1, countEventType(t, store, "agent/a", EventCodeEvalDone))
	require.Equal(t, 1, countEventType(t, store, "agent/a", EventDeveloperMessage))
}

func TestCodemode_EvalFailureAppendsCodeEvalFailed(t *testing.T) {
	stream, store := newTestStream()
	def := New(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = processor.Run(ctx, stream, def) }()

	code := `async function codemode() { throw new Error("boom"); }`
	appendSSE(t, stream, "0000000000000003", "<codemode>"+code+"</codemode>")
	appendRequestEnded(t, stream, "0000000000000003")

	waitForEventType(t, store, "agent/a", EventCodeEvalFailed, 2*time.Second)
	require.Equal(t, 0, countEventType(t, store, "agent/a", EventCodeEvalDone))
}

func TestCodemode_DeferredBlockPollsAcrossTicksUntilTimedOut(t *testing.T) {
	stream, store := newTestStream()
	def := New(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = processor.Run(ctx, stream, def) }()

	code := `async function codemode() { return null; }`
	payload, err := json.Marshal(deferredBlockAddedPayload{Code: code, CheckIntervalSeconds: 10, MaxAttempts: 3})
	require.NoError(t, err)
	added, err := stream.Append(context.Background(), eventlog.EventInput{Type: EventDeferredBlockAdded, Payload: payload}, eventlog.Trace{TraceID: "t", SpanID: "s"})
	require.NoError(t, err)
	_ = added

	appendTick(t, stream, 10)
	time.Sleep(50 * time.Millisecond)
	appendTick(t, stream, 20)
	time.Sleep(50 * time.Millisecond)
	appendTick(t, stream, 30)

	waitForEventType(t, store, "agent/a", EventDeferredTimedOut, 2*time.Second)
	// The mock sandbox environment here cannot branch on attempt number
	// (no per-call context plumbing), so attempts 1-3 all return null;
	// this asserts polling continues until maxAttempts is exhausted.
	require.Equal(t, 3, countEventType(t, store, "agent/a", EventDeferredPollAttempted))
}
