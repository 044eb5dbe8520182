// Package eventlog implements the durable, ordered, per-path byte log that
// underlies every stream in the runtime (spec §4.1, "StreamStorage"). A path
// is a fully independent append-only sequence of events; the package assigns
// monotonic offsets, stamps trace context, and returns immutable Event values.
//
// Two StreamStorage implementations live here: an in-memory store used by
// tests and the harness, and a file-per-path store used in production. A
// third, MongoDB-backed implementation lives in the mongostore subpackage.
package eventlog

import (
	"encoding/json"
	"time"
)

type (
	// StreamPath identifies one append-only log. Paths are opaque,
	// non-empty strings (e.g. "agent/session-123"); different paths never
	// interact.
	StreamPath string

	// Offset is a totally ordered identifier within a single path, encoded
	// as a zero-padded decimal string so that lexicographic comparison
	// matches numeric order (spec §3). NoOffset ("-1") means "before any
	// event" and is the default lower bound for a from-the-start read or
	// subscribe.
	Offset string

	// Trace carries distributed tracing identifiers. A processor reacting
	// to an event must set ParentSpanID to the triggering event's SpanID
	// and keep TraceID unchanged; a client-initiated append (an HTTP POST)
	// opens a new TraceID with no parent.
	Trace struct {
		TraceID      string `json:"traceId"`
		SpanID       string `json:"spanId"`
		ParentSpanID string `json:"parentSpanId,omitempty"`
	}

	// EventInput is the caller-supplied shape of an event: everything
	// known before the storage layer assigns an offset.
	EventInput struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
		Version string          `json:"version,omitempty"`
	}

	// Event is an EventInput once it has been durably appended: it carries
	// its path, assigned offset, creation timestamp, and trace context.
	// Events are immutable from the moment Append returns them.
	Event struct {
		Path      StreamPath      `json:"path"`
		Offset    Offset          `json:"offset"`
		Type      string          `json:"type"`
		Payload   json.RawMessage `json:"payload"`
		Version   string          `json:"version,omitempty"`
		CreatedAt time.Time       `json:"createdAt"`
		Trace     Trace           `json:"trace"`
	}
)

// NoOffset is the reserved offset meaning "before any event" (spec §3).
const NoOffset Offset = "-1"

// offsetWidth is the fixed width offsets are zero-padded to (spec §3).
const offsetWidth = 16
