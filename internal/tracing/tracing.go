// Package tracing implements trace-context propagation across the
// event log (spec.md §5): a reaction must keep traceId unchanged and set
// parentSpanId to the triggering event's spanId, while a client-initiated
// append opens a new traceId with no parent.
//
// Span identifiers are opaque uuid.NewString() values, following the
// id-generation convention used throughout the teacher codebase (e.g.
// registry/result_stream.go's toolUseID, runtime/agent/runtime/run_id.go).
package tracing

import (
	"github.com/google/uuid"

	"github.com/streamforge/agentrt/internal/eventlog"
)

// Root opens a new trace with a fresh span and no parent, for a
// client-initiated append (spec.md §5).
func Root() eventlog.Trace {
	return eventlog.Trace{TraceID: uuid.NewString(), SpanID: uuid.NewString()}
}

// Child derives the trace for an event appended in reaction to parent: the
// same traceId, a fresh spanId, and parentSpanId set to parent's spanId
// (spec.md §5).
func Child(parent eventlog.Trace) eventlog.Trace {
	traceID := parent.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return eventlog.Trace{TraceID: traceID, SpanID: uuid.NewString(), ParentSpanID: parent.SpanID}
}
