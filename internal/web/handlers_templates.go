package web

import (
	"net/http"
	"strings"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/go-chi/chi/v5"
)

type templateRequest struct {
	Name     string                    `json:"name"`
	Mappings []accounting.FieldMapping `json:"mappings"`
	Headers  []string                  `json:"headers"`
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	ts, err := s.imports.ListTemplates(r.Context(), chi.URLParam(r, "model"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	t, err := s.imports.CreateTemplate(r.Context(), chi.URLParam(r, "model"), req.Name, req.Mappings, req.Headers)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.imports.GetTemplate(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	t, err := s.imports.UpdateTemplate(r.Context(), chi.URLParam(r, "templateID"), req.Name, req.Mappings, req.Headers)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.imports.DeleteTemplate(r.Context(), chi.URLParam(r, "templateID")); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMatchTemplates lists saved templates whose headers fit the
// session's file, best match first.
func (s *Server) handleMatchTemplates(w http.ResponseWriter, r *http.Request) {
	p, ok := s.session(w, r)
	if !ok {
		return
	}
	cols := p.Info().Columns
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.Name
	}
	matches, err := s.imports.MatchTemplates(r.Context(), p.Model(), headers)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleSaveSessionTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	t, err := s.imports.SaveSessionAsTemplate(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Name))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	applied, err := s.imports.ApplyTemplate(r.Context(), id, chi.URLParam(r, "templateID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	p, err := s.imports.Session(id)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applied": applied,
		"session": p.Snapshot(),
	})
}
