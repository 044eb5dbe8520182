package codemode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// DefaultCapabilities wires the sandbox's fetch/exec bindings to net/http
// and os/exec respectively, as sandbox.go's own doc comment anticipates
// ("production wiring wraps net/http"). env is passed through verbatim;
// require always errors, since this runtime has no module resolution
// story beyond registered tools.
func DefaultCapabilities(env map[string]string) Capabilities {
	client := &http.Client{Timeout: 30 * time.Second}
	return Capabilities{
		Fetch:   httpFetch(client),
		Exec:    shellExec,
		Env:     env,
		Require: func(module string) (any, error) { return nil, fmt.Errorf("codemode: require(%q) unsupported", module) },
		Now:     time.Now,
	}
}

func httpFetch(client *http.Client) FetchFunc {
	return func(ctx context.Context, url string, opts map[string]any) (map[string]any, error) {
		method := http.MethodGet
		if m, ok := opts["method"].(string); ok && m != "" {
			method = m
		}

		var body io.Reader
		if b, ok := opts["body"].(string); ok {
			body = strings.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, fmt.Errorf("codemode: fetch: build request: %w", err)
		}
		if headers, ok := opts["headers"].(map[string]any); ok {
			for k, v := range headers {
				if sv, ok := v.(string); ok {
					req.Header.Set(k, sv)
				}
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("codemode: fetch: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("codemode: fetch: read body: %w", err)
		}

		return map[string]any{
			"status": resp.StatusCode,
			"ok":     resp.StatusCode >= 200 && resp.StatusCode < 300,
			"body":   string(data),
		}, nil
	}
}

func shellExec(ctx context.Context, command string, args []string) (map[string]any, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	out, err := cmd.CombinedOutput()
	result := map[string]any{
		"output":   string(out),
		"exitCode": cmd.ProcessState.ExitCode(),
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, fmt.Errorf("codemode: exec %s: %w", command, err)
		}
	}
	return result, nil
}
