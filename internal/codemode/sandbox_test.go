package codemode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSandbox_ReturnsPlainValue(t *testing.T) {
	sb := NewSandbox(Capabilities{}, nil)
	result, _, _, err := sb.RunBlock(context.Background(), `async function codemode() { return 42; }`)
	require.NoError(t, err)
	require.JSONEq(t, `42`, string(result))
}

func TestSandbox_CapturesConsoleLogs(t *testing.T) {
	sb := NewSandbox(Capabilities{}, nil)
	_, logs, _, err := sb.RunBlock(context.Background(), `async function codemode() { console.log("hello", 1); return null; }`)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "log", logs[0].Level)
}

func TestSandbox_EmitBuffersEventsUntilAfterEvaluation(t *testing.T) {
	sb := NewSandbox(Capabilities{}, nil)
	_, _, emitted, err := sb.RunBlock(context.Background(), `async function codemode() { emit({type: "custom", payload: {a: 1}}); return "ok"; }`)
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	require.JSONEq(t, `{"type":"custom","payload":{"a":1}}`, string(emitted[0]))
}

func TestSandbox_ThrowSurfacesAsError(t *testing.T) {
	sb := NewSandbox(Capabilities{}, nil)
	_, _, _, err := sb.RunBlock(context.Background(), `async function codemode() { throw new Error("broken"); }`)
	require.Error(t, err)
}

func TestSandbox_CallsRegisteredTool(t *testing.T) {
	tools := map[string]RegisteredTool{
		"double": {Name: "double", Implementation: "return params.n * 2;"},
	}
	sb := NewSandbox(Capabilities{}, tools)
	result, _, _, err := sb.RunBlock(context.Background(), `async function codemode() { return await double({n: 21}); }`)
	require.NoError(t, err)
	require.JSONEq(t, `42`, string(result))
}

func TestSandbox_FetchMockIsCalledWithURL(t *testing.T) {
	var seenURL string
	caps := Capabilities{
		Fetch: func(ctx context.Context, url string, opts map[string]any) (map[string]any, error) {
			seenURL = url
			return map[string]any{"city": "london", "temperature": 18, "condition": "cloudy"}, nil
		},
	}
	tools := map[string]RegisteredTool{
		"fetchWeather": {Name: "fetchWeather", Implementation: `return await fetch("https://api.weather.com/v1/" + params.city, {});`},
	}
	sb := NewSandbox(caps, tools)
	result, _, _, err := sb.RunBlock(context.Background(), `async function codemode() { return await fetchWeather({city: "london"}); }`)
	require.NoError(t, err)
	require.Equal(t, "https://api.weather.com/v1/london", seenURL)
	require.JSONEq(t, `{"city":"london","temperature":18,"condition":"cloudy"}`, string(result))
}
