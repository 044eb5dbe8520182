package eventlog

import "errors"

// ErrStorageIO is wrapped around every underlying persistence failure
// (spec §7, "storage-io"). Callers should use errors.Is(err, ErrStorageIO)
// rather than matching on message text.
var ErrStorageIO = errors.New("eventlog: storage io error")

// ErrUnknownPath is returned by backends that can distinguish "never
// written" from "empty" when a caller asks to read a path that has never
// been appended to. Storage implementations are free to treat this as an
// empty result instead; both are valid per spec §4.1.
var ErrUnknownPath = errors.New("eventlog: unknown path")
