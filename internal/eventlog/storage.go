package eventlog

import "context"

// StreamStorage is the durable, ordered, per-path byte log (spec §4.1).
// Appends to a single path are serialized by the implementation; appends to
// different paths may proceed concurrently. Reads never block appends and
// observe a consistent snapshot taken at the moment the read starts.
type StreamStorage interface {
	// Append assigns the next offset for path (one greater than the
	// current maximum), stamps CreatedAt and trace, persists the event,
	// and returns it. Returns an error wrapping ErrStorageIO on failure.
	Append(ctx context.Context, path StreamPath, input EventInput, trace Trace) (Event, error)

	// Read returns all events for path with Offset > from (exclusive) and
	// Offset <= to when to is non-empty (inclusive), as a finite snapshot
	// taken at call time. from == "" means from the start of the path.
	Read(ctx context.Context, path StreamPath, from, to Offset) ([]Event, error)

	// ListPaths returns a best-effort enumeration of paths known to this
	// backend.
	ListPaths(ctx context.Context) ([]StreamPath, error)
}
