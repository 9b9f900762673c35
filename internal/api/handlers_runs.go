package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	apperrors "github.com/holdings-tracker/internal/errors"
)

// handleGetLatestRun handles GET /api/runs/latest
func (s *Server) handleGetLatestRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		respondServiceError(w, r, apperrors.NewServiceUnavailableError("run store"))
		return
	}

	run, err := s.runs.GetLatestRun(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// handleGetRun handles GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		respondServiceError(w, r, apperrors.NewServiceUnavailableError("run store"))
		return
	}

	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("id", "must be a UUID"))
		return
	}

	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}
