package codemode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCapabilities_FetchHitsRealHTTPServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	}))
	defer ts.Close()

	caps := DefaultCapabilities(nil)
	result, err := caps.Fetch(context.Background(), ts.URL, nil)
	require.NoError(t, err)
	require.Equal(t, true, result["ok"])
	require.Equal(t, "pong", result["body"])
}

func TestDefaultCapabilities_ExecRunsCommand(t *testing.T) {
	caps := DefaultCapabilities(nil)
	result, err := caps.Exec(context.Background(), "echo", []string{"hi"})
	require.NoError(t, err)
	require.Contains(t, result["output"], "hi")
	require.Equal(t, 0, result["exitCode"])
}

func TestDefaultCapabilities_RequireAlwaysErrors(t *testing.T) {
	caps := DefaultCapabilities(nil)
	_, err := caps.Require("fs")
	require.Error(t, err)
}
