package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/streamforge/agentrt/internal/eventlog"
	"github.com/streamforge/agentrt/internal/tracing"
)

const maxBodyBytes = 1 << 20 // 1MiB, generous for a single event payload

// handlePostAgent appends one event to the path's log (spec.md §6,
// "POST /agents/<path>"). A client-initiated append always opens a fresh
// trace with no parent.
func (s *Server) handlePostAgent(w http.ResponseWriter, r *http.Request) {
	path := agentPath(r)
	if path == "" {
		writeError(w, http.StatusBadRequest, errEmptyPath)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusBadRequest, errBodyTooLarge)
		return
	}

	var input eventlog.EventInput
	if err := json.Unmarshal(body, &input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if input.Type == "" {
		writeError(w, http.StatusBadRequest, errMissingType)
		return
	}

	stream := s.mgr.Get(path)
	ev, err := stream.Append(r.Context(), input, tracing.Root())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]eventlog.Offset{"offset": ev.Offset})
}
