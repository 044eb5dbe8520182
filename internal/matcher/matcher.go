// Package matcher compiles and evaluates JSON-path-style predicates
// against an event's {type, payload} view, caching compiled expressions by
// their source text (spec.md §4.7). It sits in the hot append path for
// every interceptor registered alongside a processor, so repeated
// evaluation of the same expression must not re-parse it.
package matcher

import (
	"encoding/json"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/streamforge/agentrt/internal/eventlog"
)

// Expr is a compiled predicate. It is safe for concurrent use.
type Expr struct {
	source string
	path   string
	want   gjson.Result
	hasEq  bool
}

// view is the {type, payload} JSON document a predicate is evaluated
// against (spec.md §4.7).
type view struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Cache compiles expressions lazily and memoizes them by source text.
type Cache struct {
	mu    sync.RWMutex
	exprs map[string]*Expr
}

// NewCache constructs an empty expression cache.
func NewCache() *Cache {
	return &Cache{exprs: make(map[string]*Expr)}
}

// Compile parses expr once and returns the cached Expr on every subsequent
// call with the same source text.
//
// Expression grammar: a gjson path, optionally followed by "==" and a
// literal the path's value must equal (JSON-decoded for comparison, so
// `42`, `"x"`, and `true` all compare by value, not by string form). A
// bare path with no comparison matches when the path exists and is truthy
// under the same rule codemode's deferred-block poll uses (spec.md §9):
// `null`, `false`, `0`, `""`, `[]`, and `{}` are falsy.
func (c *Cache) Compile(expr string) *Expr {
	c.mu.RLock()
	e, ok := c.exprs[expr]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.exprs[expr]; ok {
		return e
	}
	e = parse(expr)
	c.exprs[expr] = e
	return e
}

func parse(expr string) *Expr {
	if idx := indexOp(expr); idx >= 0 {
		path := expr[:idx]
		lit := expr[idx+2:]
		return &Expr{source: expr, path: trimSpace(path), want: gjson.Parse(trimSpace(lit)), hasEq: true}
	}
	return &Expr{source: expr, path: trimSpace(expr)}
}

func indexOp(s string) int {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '=' && s[i+1] == '=' {
			return i
		}
	}
	return -1
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

// Match evaluates the compiled expression against ev's {type, payload}
// view.
func (e *Expr) Match(ev eventlog.Event) bool {
	doc, err := json.Marshal(view{Type: ev.Type, Payload: ev.Payload})
	if err != nil {
		return false
	}
	result := gjson.GetBytes(doc, e.path)
	if !result.Exists() {
		return false
	}
	if e.hasEq {
		return result.Raw == e.want.Raw || result.String() == e.want.String()
	}
	return truthy(result)
}

// truthy mirrors codemode's deferred-block poll truthiness rule
// (spec.md §9): null, false, 0, "", [], and {} are falsy; everything else
// is truthy.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null:
		return false
	case gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	case gjson.JSON:
		raw := trimSpace(r.Raw)
		return raw != "[]" && raw != "{}"
	default:
		return true
	}
}

// Source returns the expression's original text.
func (e *Expr) Source() string { return e.source }
