package web

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/core"
	"github.com/JonMunkholm/ledgerbridge/internal/logging"
	"github.com/go-chi/chi/v5"
)

// historyPage is the page size used when exporting the whole history.
const historyPage = 500

func historyFilter(r *http.Request) (core.AuditFilter, error) {
	q := r.URL.Query()
	f := core.AuditFilter{
		Model:  q.Get("model"),
		Action: core.AuditAction(q.Get("action")),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, badRequest("since must be an RFC 3339 time")
		}
		f.Since = t
	}
	return f, nil
}

// handleHistory lists audit entries, newest first. Query parameters:
// model, action, since (RFC 3339), limit, offset.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	f, err := historyFilter(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if f.Limit, err = queryInt(r, "limit", 50); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	f.Limit = min(f.Limit, historyPage)

	entries, err := s.imports.History(r.Context(), f)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if entries == nil {
		entries = []core.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.imports.HistoryEntry(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleHistoryExport streams the filtered history as CSV, fetching it a
// page at a time.
func (s *Server) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	f, err := historyFilter(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	filename := fmt.Sprintf("import_history_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"ID", "Timestamp", "Action", "Severity", "Model", "Session", "File",
		"Operation", "Outcome", "Rows Affected", "Error", "IP Address",
	})

	f.Limit = historyPage
	for {
		entries, err := s.imports.History(r.Context(), f)
		if err != nil {
			// Headers are gone; the truncated file is all we can signal.
			logging.FromContext(r.Context()).Error("history export failed", "offset", f.Offset, "error", err)
			break
		}
		for _, e := range entries {
			_ = cw.Write([]string{
				e.ID,
				e.CreatedAt.UTC().Format(time.RFC3339),
				string(e.Action),
				string(e.Severity),
				e.Model,
				e.SessionID,
				e.FileName,
				e.Operation,
				e.Outcome,
				strconv.Itoa(e.RowsAffected),
				e.Error,
				e.IPAddress,
			})
		}
		cw.Flush()
		if len(entries) < f.Limit {
			break
		}
		f.Offset += len(entries)
	}
	cw.Flush()
}
