package web

// errors.go turns errors into responses. Every error is logged in full with
// the request id, then mapped through core.MapError to a user message with a
// support code, and rendered as JSON, or as an HTML fragment for HTMX.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/JonMunkholm/ledgerbridge/internal/bulk"
	"github.com/JonMunkholm/ledgerbridge/internal/core"
	"github.com/JonMunkholm/ledgerbridge/internal/logging"
	"github.com/JonMunkholm/ledgerbridge/internal/web/templates"
	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Message   string   `json:"message"`
	Action    string   `json:"action,omitempty"`
	Code      string   `json:"code"`
	Fields    []string `json:"fields,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
}

// respondError logs err and writes a user-facing error. A zero status is
// derived from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	msg := core.MapError(err)
	requestID := middleware.GetReqID(r.Context())

	logger := logging.FromContext(r.Context())
	args := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= 500 {
		logger.Error("request error", args...)
	} else {
		logger.Warn("request error", args...)
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_ = templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
		return
	}

	resp := ErrorResponse{
		Error:     msg.Message,
		Message:   msg.Message,
		Action:    msg.Action,
		Code:      msg.Code,
		RequestID: requestID,
	}
	var unmapped *core.UnmappedFieldsError
	if errors.As(err, &unmapped) {
		resp.Fields = unmapped.Fields
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// statusFor picks the HTTP status for err. Backend client errors are passed
// through; backend auth failures and server errors become 502, since they
// are this service's problem rather than the caller's.
func statusFor(err error) int {
	var (
		preflight *core.PreflightError
		unmapped  *core.UnmappedFieldsError
		apiErr    *accounting.APIError
		transport *accounting.TransportError
	)
	switch {
	case errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, bulk.ErrControllerNotFound),
		errors.Is(err, core.ErrTemplateNotFound),
		errors.Is(err, core.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.As(err, &preflight):
		if preflight.Reason == core.ReasonTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		if preflight.Reason == core.ReasonEmpty {
			return http.StatusBadRequest
		}
		return http.StatusUnsupportedMediaType
	case errors.As(err, &unmapped):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrSessionClosed),
		errors.Is(err, core.ErrStalePreview),
		errors.Is(err, core.ErrTemplateExists),
		errors.Is(err, bulk.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, bulk.ErrEmptySelection),
		errors.Is(err, bulk.ErrUnknownEntity),
		errors.Is(err, bulk.ErrUnknownOperation),
		errors.Is(err, core.ErrInvalidTemplate),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTooManyExecutions):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
			return http.StatusBadGateway
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return http.StatusServiceUnavailable
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return apiErr.StatusCode
		}
		return http.StatusBadGateway
	case errors.As(err, &transport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsHTML reports whether an HTMX client asked for a fragment. Plain API
// calls always get JSON.
func wantsHTML(r *http.Request) bool {
	return isHTMX(r) && !strings.Contains(r.Header.Get("Accept"), "application/json")
}
