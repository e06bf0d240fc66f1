package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/chatflow/pkg/schema"
)

// handleStartSession creates a session and runs the walk to its first pause.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScenarioID string         `json:"scenarioId"`
		Slots      map[string]any `json:"slots"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.ScenarioID == "" {
		writeError(w, http.StatusBadRequest, "scenarioId is required")
		return
	}

	state, err := s.sessions.StartSession(r.Context(), body.ScenarioID, body.Slots)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleRespond feeds user input into an awaiting session. A rejected input
// still returns 200: the new state carries the re-prompt message.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var input schema.UserInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	state, err := s.sessions.Respond(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		if state != nil {
			// The walk failed mid-advance; the session reflects it.
			writeJSON(w, http.StatusOK, state)
			return
		}
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.CancelSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
