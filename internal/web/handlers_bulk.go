package web

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/JonMunkholm/ledgerbridge/internal/bulk"
	"github.com/JonMunkholm/ledgerbridge/internal/web/templates"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListBulk(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bulk.List())
}

// handleOpenBulk creates a controller for a model and loads its first page.
func (s *Server) handleOpenBulk(w http.ResponseWriter, r *http.Request) {
	c, err := s.bulk.Open(r.Context(), chi.URLParam(r, "model"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusCreated, c.Snapshot())
}

func (s *Server) controller(w http.ResponseWriter, r *http.Request) (*bulk.Controller, bool) {
	c, err := s.bulk.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return nil, false
	}
	return c, true
}

func (s *Server) handleGetBulk(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleCloseBulk(w http.ResponseWriter, r *http.Request) {
	s.bulk.Close(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshBulk reloads the list. A page in the body switches pages;
// otherwise the current page is reloaded.
func (s *Server) handleRefreshBulk(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req struct {
		Page int `json:"page"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	var err error
	if req.Page > 0 {
		err = c.LoadPage(r.Context(), req.Page)
	} else {
		err = c.Refresh(r.Context())
	}
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

type toggleRequest struct {
	IDs []accounting.EntityID `json:"ids"`
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if len(req.IDs) == 0 {
		s.respondError(w, r, badRequest("ids is required"), 0)
		return
	}
	for _, id := range req.IDs {
		if err := c.Toggle(id); err != nil {
			s.respondError(w, r, err, 0)
			return
		}
	}
	writeJSON(w, http.StatusOK, selectionResponse(c))
}

func (s *Server) handleToggleAll(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	if err := c.ToggleAll(); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, selectionResponse(c))
}

func selectionResponse(c *bulk.Controller) map[string]any {
	ids := c.Selected()
	if ids == nil {
		ids = []accounting.EntityID{}
	}
	return map[string]any{"selected": ids, "count": len(ids)}
}

// handleHints returns, per visible entity, why op would not apply to it.
// Entities missing from the map look eligible.
func (s *Server) handleHints(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	op, err := bulk.ParseOperation(r.URL.Query().Get("op"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, c.Hints(op))
}

type bulkRequest struct {
	Operation      string `json:"operation"`
	Reason         string `json:"reason"`
	PostingDate    string `json:"postingDate"`
	SkipIneligible *bool  `json:"skipIneligible"`
}

func (s *Server) handleBulkValidate(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	op, err := bulk.ParseOperation(req.Operation)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	v, err := c.Validate(r.Context(), op)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleBulkExecute(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	op, err := bulk.ParseOperation(req.Operation)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	opts := bulk.Options{Reason: req.Reason, SkipIneligible: req.SkipIneligible}
	if req.PostingDate != "" {
		d, err := time.Parse(time.DateOnly, req.PostingDate)
		if err != nil {
			s.respondError(w, r, badRequest("postingDate must be YYYY-MM-DD"), 0)
			return
		}
		opts.PostingDate = d
	}

	res, err := s.bulk.Execute(r.Context(), chi.URLParam(r, "id"), op, opts)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	render(w, r, http.StatusOK, templates.BulkSummary(*res), res)
}
