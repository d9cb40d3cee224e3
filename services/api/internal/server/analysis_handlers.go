package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"buglens/pkg/domain"
	"buglens/services/api/internal/app"
)

type resolutionRequest struct {
	Resolved bool `json:"resolved"`
}

func (s *Server) handleDemo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, app.DemoRequest())
}

// AI failures come back as a successful, degraded record; only validation
// and persistence errors reach this handler's error path.
func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req app.AnalysisInput
	if !decodeJSON(w, r, &req) {
		return
	}
	analysis, err := s.app.CreateAnalysis(r.Context(), user.ID, req)
	if err != nil {
		fail(w, r, err, "Invalid input", "Failed to process analysis. Please try again later.")
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid input", "limit must be an integer")
		return
	}
	items, err := s.app.ListAnalyses(r.Context(), user.ID, limit)
	if err != nil {
		fail(w, r, err, "Request failed", "Failed to retrieve analysis history.")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleListByLanguage(w http.ResponseWriter, r *http.Request, user domain.User) {
	items, err := s.app.ListAnalysesByLanguage(r.Context(), user.ID, chi.URLParam(r, "language"))
	if err != nil {
		fail(w, r, err, "Request failed", "Failed to retrieve analyses.")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := chi.URLParam(r, "id")
	analysis, err := s.app.GetAnalysis(r.Context(), user.ID, id)
	if errors.Is(err, app.ErrAnalysisNotFound) {
		writeError(w, http.StatusNotFound, "Analysis not found", fmt.Sprintf("No analysis found with ID %s", id))
		return
	}
	if err != nil {
		fail(w, r, err, "Request failed", "Failed to retrieve analysis.")
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleResolution(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := chi.URLParam(r, "id")
	var req resolutionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.app.SetAnalysisResolution(r.Context(), user.ID, id, req.Resolved)
	if errors.Is(err, app.ErrAnalysisNotFound) {
		writeError(w, http.StatusNotFound, "Analysis not found", fmt.Sprintf("No analysis found with ID %s", id))
		return
	}
	if err != nil {
		fail(w, r, err, "Request failed", "Failed to update analysis.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request, user domain.User) {
	days, ok := queryInt(r, "days")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid input", "days must be an integer")
		return
	}
	report, err := s.app.Statistics(r.Context(), user.ID, days)
	if err != nil {
		fail(w, r, err, "Invalid input", "Failed to compute statistics.")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request, _ domain.User) {
	models, err := s.app.ListModels(r.Context())
	if err != nil {
		fail(w, r, err, "Not supported", "Failed to list models.")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"models": models})
}
