package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleSessionHistory returns the persisted event log of a session in
// sequence order. A "since" query parameter skips events up to and including
// that sequence number, for incremental polling.
func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event log disabled")
		return
	}

	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = parsed
	}

	events, err := s.events.GetEvents(r.Context(), chi.URLParam(r, "id"), since)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleSessionTrail returns the ordered node trail replayed from the
// session's event log.
func (s *Server) handleSessionTrail(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event log disabled")
		return
	}

	trail, err := s.events.ReplayTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trail": trail})
}
