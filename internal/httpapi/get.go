package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/streamforge/agentrt/internal/eventlog"
	"github.com/streamforge/agentrt/internal/eventstream"
)

// handleGetAgent serves the historical prefix of a path's log, or — with
// ?live=sse — an unbounded Server-Sent Events stream of the historical
// prefix followed by live events (spec.md §6,
// "GET /agents/<path>?offset=<Offset|-1>&live=sse").
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	path := agentPath(r)
	if path == "" {
		writeError(w, http.StatusBadRequest, errEmptyPath)
		return
	}

	from, err := s.resolveOffset(r, path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stream := s.mgr.Get(path)

	if r.URL.Query().Get("live") == "sse" {
		s.streamSSE(w, r, stream, from)
		return
	}

	events, err := stream.Read(r.Context(), from, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// resolveOffset interprets the offset query parameter: "", "-1" mean
// from-the-start; "now" means only events strictly after whatever is
// currently durable (spec.md §6, "offset=now ... only subsequent events").
func (s *Server) resolveOffset(r *http.Request, path eventlog.StreamPath) (eventlog.Offset, error) {
	raw := r.URL.Query().Get("offset")
	switch raw {
	case "", string(eventlog.NoOffset):
		return eventlog.NoOffset, nil
	case "now":
		events, err := s.mgr.Get(path).Read(r.Context(), eventlog.NoOffset, "")
		if err != nil {
			return "", err
		}
		if len(events) == 0 {
			return eventlog.NoOffset, nil
		}
		return events[len(events)-1].Offset, nil
	default:
		return eventlog.Offset(raw), nil
	}
}

// streamSSE hydrates from's historical prefix and then tails live events
// onto w as Server-Sent Events, until the client disconnects.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, stream *eventstream.Stream, from eventlog.Offset) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errStreamingUnsupported)
		return
	}

	ctx := r.Context()
	ch, errCh, cancel, err := stream.Subscribe(ctx, from)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, flusher, ev); err != nil {
				s.logger.Warn("httpapi: sse write failed", zap.Error(err))
				return
			}
		case err, ok := <-errCh:
			if ok {
				s.logger.Warn("httpapi: subscribe error", zap.Error(err))
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, ev eventlog.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
