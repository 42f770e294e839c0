package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/JonMunkholm/ledgerbridge/internal/core"
	"github.com/JonMunkholm/ledgerbridge/internal/logging"
	"github.com/JonMunkholm/ledgerbridge/internal/web/templates"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead is allowed on top of the file size limit for form
// boundaries and the model field.
const multipartOverhead = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleServiceStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": s.imports.LimiterStatus(),
		"imports":    len(s.imports.Sessions()),
		"bulk":       len(s.bulk.List()),
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.imports.ListModels(r.Context())
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleModelMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := s.imports.ModelMetadata(r.Context(), chi.URLParam(r, "model"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleListImports(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.imports.Sessions())
}

// handleCreateImport accepts a multipart form with "model" and "file". The
// file is preflighted locally before anything reaches the backend. On
// success the session's mapping suggestions are fetched so the first
// snapshot already carries them.
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondError(w, r, &core.PreflightError{
				Reason: core.ReasonTooLarge,
				Detail: fmt.Sprintf("upload exceeds %d bytes", limit),
			}, 0)
			return
		}
		s.respondError(w, r, badRequest("missing file: %v", err), 0)
		return
	}
	defer file.Close()

	in, err := core.ReadFileInput(header.Filename, file, limit)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	in.ContentType = header.Header.Get("Content-Type")

	model := r.FormValue("model")
	if model == "" {
		s.respondError(w, r, badRequest("model is required"), 0)
		return
	}
	p, err := s.imports.StartImport(r.Context(), model, in)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	p.FetchSuggestions(r.Context())

	logging.WithFields(r.Context(), "session_id", p.ID(), "model", model).
		Info("import session opened", "file", in.Name, "bytes", in.Size)
	writeJSON(w, http.StatusCreated, p.Snapshot())
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*core.Pipeline, bool) {
	p, err := s.imports.Session(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return nil, false
	}
	return p, true
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	p, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.imports.CancelImport(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type applySuggestionsRequest struct {
	Refresh bool `json:"refresh"`
}

func (s *Server) handleApplySuggestions(w http.ResponseWriter, r *http.Request) {
	p, ok := s.session(w, r)
	if !ok {
		return
	}
	var req applySuggestionsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if req.Refresh || len(p.Snapshot().Suggestions) == 0 {
		p.FetchSuggestions(r.Context())
	}
	applied, err := p.ApplySuggestions()
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applied": applied,
		"session": p.Snapshot(),
	})
}

type setMappingRequest struct {
	Mappings []accounting.FieldMapping `json:"mappings"`
}

func (s *Server) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	p, ok := s.session(w, r)
	if !ok {
		return
	}
	var req setMappingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if err := p.SetMapping(req.Mappings); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

type previewRequest struct {
	Options accounting.ImportOptions `json:"options"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, ok := s.session(w, r)
	if !ok {
		return
	}
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	res, err := p.Preview(r.Context(), req.Options)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	p, ok := s.session(w, r)
	if !ok {
		return
	}
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	res, err := p.Validate(r.Context(), req.Options)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type previewAllRequest struct {
	BatchSize   int                      `json:"batchSize"`
	StartOffset int                      `json:"startOffset"`
	Options     accounting.ImportOptions `json:"options"`
}

// handlePreviewAll runs a full-file preview. An interrupted run still
// returns its partial summary, whose nextOffset resumes it.
func (s *Server) handlePreviewAll(w http.ResponseWriter, r *http.Request) {
	p, ok := s.session(w, r)
	if !ok {
		return
	}
	var req previewAllRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	sum, err := p.PreviewAll(r.Context(), core.PreviewAllOptions{
		BatchSize:   req.BatchSize,
		StartOffset: req.StartOffset,
		Options:     req.Options,
	}, nil)
	if err != nil {
		if sum != nil && sum.Batches > 0 {
			msg := core.MapError(err)
			writeJSON(w, http.StatusPartialContent, map[string]any{
				"summary": sum,
				"error":   msg.Message,
				"code":    msg.Code,
			})
			return
		}
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type executeRequest struct {
	Policy     string                   `json:"policy"`
	BatchSize  int                      `json:"batchSize"`
	SkipErrors bool                     `json:"skipErrors"`
	Options    accounting.ImportOptions `json:"options"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	policy, err := core.ParsePolicy(req.Policy)
	if err != nil {
		s.respondError(w, r, badRequest("%v", err), 0)
		return
	}
	res, err := s.imports.ExecuteImport(r.Context(), chi.URLParam(r, "id"), core.ExecuteOptions{
		Policy:     policy,
		BatchSize:  req.BatchSize,
		SkipErrors: req.SkipErrors,
		Options:    req.Options,
	})
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	render(w, r, http.StatusOK, templates.ImportSummary(*res), res)
}

// handleImportStatus streams the backend's execution status as server-sent
// events until the import reaches a terminal state or the client leaves.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := s.session(w, r)
	if !ok {
		return
	}
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logging.FromContext(r.Context()).Warn("status stream: flush unsupported", "error", err)
		return
	}

	seq := 0
	send := func(event string, v any) bool {
		data, _ := json.Marshal(v)
		seq++
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, event, data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	// A finished import has nothing left to poll.
	if p.State().Terminal() {
		send("done", p.Snapshot())
		return
	}

	ctx := r.Context()
	updates := make(chan accounting.ImportStatus, 8)
	poller := p.WatchStatus(ctx, func(st accounting.ImportStatus) {
		select {
		case updates <- st:
		case <-ctx.Done():
		}
	})
	defer poller.Stop()

	for {
		select {
		case st := <-updates:
			if !send("status", st) {
				return
			}
		case <-poller.Done():
			// Drain anything delivered before the poller stopped.
			for drained := false; !drained; {
				select {
				case st := <-updates:
					if !send("status", st) {
						return
					}
				default:
					drained = true
				}
			}
			if _, err := poller.Last(); err != nil {
				msg := core.MapError(err)
				send("error", map[string]string{"message": msg.Message, "code": msg.Code})
				return
			}
			send("done", p.Snapshot())
			return
		case <-ctx.Done():
			return
		}
	}
}
