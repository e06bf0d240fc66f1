package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/chatflow/internal/diagram"
	"github.com/rendis/chatflow/pkg/schema"
)

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	defs, err := s.scenarios.List(r.Context())
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) handlePutScenario(w http.ResponseWriter, r *http.Request) {
	s.putScenario(w, r, "")
}

func (s *Server) handlePutScenarioByID(w http.ResponseWriter, r *http.Request) {
	s.putScenario(w, r, chi.URLParam(r, "id"))
}

// putScenario registers a definition. When the URL carries an ID it must
// match the body.
func (s *Server) putScenario(w http.ResponseWriter, r *http.Request, urlID string) {
	var def schema.ScenarioDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if urlID != "" && urlID != def.ID {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("scenario ID mismatch: URL %q vs body %q", urlID, def.ID))
		return
	}

	if err := s.scenarios.Put(r.Context(), &def); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": def.ID})
}

func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	def, err := s.scenarios.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	if err := s.scenarios.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleScenarioDiagram renders the scenario graph as Mermaid text.
func (s *Server) handleScenarioDiagram(w http.ResponseWriter, r *http.Request) {
	def, err := s.scenarios.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}

	out := diagram.Mermaid(diagram.FromDefinition(def))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}
