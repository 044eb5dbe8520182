package codemode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// LogEntry is one console.* call captured during a block evaluation
// (spec.md §4.6.3).
type LogEntry struct {
	Level     string    `json:"level"`
	Args      []any     `json:"args"`
	Timestamp time.Time `json:"timestamp"`
}

// FetchFunc backs the sandbox's fetch() binding. Mockable per spec.md
// §4.6.3; production wiring wraps net/http.
type FetchFunc func(ctx context.Context, url string, opts map[string]any) (map[string]any, error)

// ExecFunc backs the sandbox's exec() binding.
type ExecFunc func(ctx context.Context, command string, args []string) (map[string]any, error)

// RequireFunc backs the sandbox's require() binding, resolving a module
// name to a value exposed to sandboxed code.
type RequireFunc func(module string) (any, error)

// Capabilities are the host-provided bindings exposed to every sandbox
// evaluation (spec.md §4.6.3: fetch, exec, env, require).
type Capabilities struct {
	Fetch   FetchFunc
	Exec    ExecFunc
	Env     map[string]string
	Require RequireFunc
	Now     func() time.Time
}

// Sandbox is a single-evaluation goja runtime. A fresh Sandbox is built for
// every code-block evaluation and deferred-block poll: tool implementations
// are compiled into it directly rather than cached, since a compiled goja
// value is bound to the Runtime that produced it (spec.md §4.6.3).
type Sandbox struct {
	vm      *goja.Runtime
	caps    Capabilities
	logs    []LogEntry
	emitted []json.RawMessage
	emitErr error
}

// NewSandbox builds a Sandbox with the given capabilities and registered
// tools bound as top-level async functions of one argument (spec.md
// §4.6.2, §4.6.3).
func NewSandbox(caps Capabilities, tools map[string]RegisteredTool) *Sandbox {
	if caps.Now == nil {
		caps.Now = time.Now
	}
	vm := goja.New()
	sb := &Sandbox{vm: vm, caps: caps}

	vm.Set("console", sb.buildConsole())
	vm.Set("fetch", sb.buildFetch())
	vm.Set("exec", sb.buildExec())
	vm.Set("env", envView(caps.Env))
	vm.Set("require", sb.buildRequire())
	vm.Set("emit", sb.buildEmit())

	for name, tool := range tools {
		vm.Set(name, sb.bindTool(tool))
	}

	return sb
}

func envView(env map[string]string) map[string]string {
	view := make(map[string]string, len(env))
	for k, v := range env {
		view[k] = v
	}
	return view
}

func (s *Sandbox) buildConsole() map[string]func(goja.FunctionCall) goja.Value {
	logAt := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = a.Export()
			}
			s.logs = append(s.logs, LogEntry{Level: level, Args: args, Timestamp: s.caps.Now()})
			return goja.Undefined()
		}
	}
	return map[string]func(goja.FunctionCall) goja.Value{
		"log":   logAt("log"),
		"error": logAt("error"),
		"warn":  logAt("warn"),
		"info":  logAt("info"),
		"debug": logAt("debug"),
	}
}

func (s *Sandbox) buildFetch() func(url string, opts map[string]any) (map[string]any, error) {
	return func(url string, opts map[string]any) (map[string]any, error) {
		if s.caps.Fetch == nil {
			return nil, fmt.Errorf("codemode: fetch is not available")
		}
		return s.caps.Fetch(context.Background(), url, opts)
	}
}

func (s *Sandbox) buildExec() func(command string, args []string) (map[string]any, error) {
	return func(command string, args []string) (map[string]any, error) {
		if s.caps.Exec == nil {
			return nil, fmt.Errorf("codemode: exec is not available")
		}
		return s.caps.Exec(context.Background(), command, args)
	}
}

func (s *Sandbox) buildRequire() func(module string) (any, error) {
	return func(module string) (any, error) {
		if s.caps.Require == nil {
			return nil, fmt.Errorf("codemode: module %q is not available", module)
		}
		return s.caps.Require(module)
	}
}

// buildEmit returns the emit() binding. Emitted events are buffered, not
// appended immediately: the caller drains EmittedEvents after the block
// finishes so emitted events carry offsets strictly higher than the
// triggering code-block-added event (spec.md §4.6.3).
func (s *Sandbox) buildEmit() func(ev goja.Value) {
	return func(ev goja.Value) {
		raw, err := json.Marshal(ev.Export())
		if err != nil {
			s.emitErr = fmt.Errorf("codemode: emit: %w", err)
			return
		}
		s.emitted = append(s.emitted, raw)
	}
}

// bindTool compiles tool's implementation as `(async function(params,
// context) { <implementation> })` and exposes it as a callable bound to
// this sandbox's capabilities. Compilation failures are deferred to call
// time (spec.md §4.6.2: "compilation failures deferred to call time").
func (s *Sandbox) bindTool(tool RegisteredTool) func(goja.FunctionCall) goja.Value {
	src := "(async function(params, context) {\n" + tool.Implementation + "\n})"
	prog, compileErr := goja.Compile(tool.Name, src, true)

	return func(call goja.FunctionCall) goja.Value {
		if compileErr != nil {
			panic(s.vm.NewGoError(fmt.Errorf("codemode: tool %q failed to compile: %w", tool.Name, compileErr)))
		}
		fnVal, err := s.vm.RunProgram(prog)
		if err != nil {
			panic(s.vm.NewGoError(fmt.Errorf("codemode: tool %q: %w", tool.Name, err)))
		}
		fn, ok := goja.AssertFunction(fnVal)
		if !ok {
			panic(s.vm.NewGoError(fmt.Errorf("codemode: tool %q did not compile to a function", tool.Name)))
		}
		var params goja.Value = goja.Undefined()
		if len(call.Arguments) > 0 {
			params = call.Arguments[0]
		}
		result, err := fn(goja.Undefined(), params, s.vm.ToValue(map[string]any{
			"env":   envView(s.caps.Env),
			"fetch": s.buildFetch(),
			"exec":  s.buildExec(),
		}))
		if err != nil {
			panic(s.vm.NewGoError(fmt.Errorf("codemode: tool %q: %w", tool.Name, err)))
		}
		return result
	}
}

// RunBlock evaluates code's codemode() function to completion. Because
// this runtime's capabilities are synchronous Go calls rather than real
// asynchronous I/O, any Promise codemode() returns settles by the time
// RunProgram returns: goja drains its job queue before yielding control
// back to the host once the top-level call stack empties.
func (s *Sandbox) RunBlock(ctx context.Context, code string) (result json.RawMessage, logs []LogEntry, emitted []json.RawMessage, err error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	src := "(function() {\n" + code + "\nreturn codemode();\n})()"
	prog, compileErr := goja.Compile("codemode-block", src, true)
	if compileErr != nil {
		return nil, s.logs, s.emitted, fmt.Errorf("codemode: compile block: %w", compileErr)
	}

	value, runErr := s.vm.RunProgram(prog)
	if runErr != nil {
		return nil, s.logs, s.emitted, fmt.Errorf("codemode: %w", runErr)
	}
	if s.emitErr != nil {
		return nil, s.logs, s.emitted, s.emitErr
	}

	settled, settleErr := awaitPromise(value)
	if settleErr != nil {
		return nil, s.logs, s.emitted, settleErr
	}

	raw, marshalErr := json.Marshal(settled)
	if marshalErr != nil {
		return json.RawMessage(`"[non-serializable result]"`), s.logs, s.emitted, nil
	}
	return raw, s.logs, s.emitted, nil
}

func awaitPromise(value goja.Value) (any, error) {
	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		return value.Export(), nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result().Export(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("codemode: %v", promise.Result().Export())
	default:
		return nil, fmt.Errorf("codemode: codemode() did not settle synchronously")
	}
}
