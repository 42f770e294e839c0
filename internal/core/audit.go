package core

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrEntryNotFound is returned by audit stores for unknown ids.
var ErrEntryNotFound = errors.New("audit entry not found")

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionImportExecute  AuditAction = "import_execute"
	ActionImportCancel   AuditAction = "import_cancel"
	ActionBulkExecute    AuditAction = "bulk_execute"
	ActionTemplateCreate AuditAction = "template_create"
	ActionTemplateUpdate AuditAction = "template_update"
	ActionTemplateDelete AuditAction = "template_delete"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow    AuditSeverity = "low"
	SeverityMedium AuditSeverity = "medium"
	SeverityHigh   AuditSeverity = "high"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuditEntry records one mutating operation: an import run, a bulk
// operation or a template change.
type AuditEntry struct {
	ID           string         `json:"id"`
	Action       AuditAction    `json:"action"`
	Severity     AuditSeverity  `json:"severity"`
	Model        string         `json:"model"`
	SessionID    string         `json:"sessionId,omitempty"`
	FileName     string         `json:"fileName,omitempty"`
	Operation    string         `json:"operation,omitempty"`
	Outcome      string         `json:"outcome"`
	Error        string         `json:"error,omitempty"`
	RowsAffected int            `json:"rowsAffected"`
	Result       *ImportResult  `json:"result,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// AuditFilter narrows an audit listing. Zero fields match everything.
type AuditFilter struct {
	Model  string
	Action AuditAction
	Since  time.Time
	Limit  int
	Offset int
}

// AuditStore persists audit entries. Append assigns ID and CreatedAt when
// they are empty. List returns newest first.
type AuditStore interface {
	Append(ctx context.Context, e *AuditEntry) error
	List(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
	Get(ctx context.Context, id string) (*AuditEntry, error)
}

func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionImportExecute, ActionBulkExecute:
		return SeverityHigh
	case ActionTemplateCreate, ActionTemplateUpdate, ActionTemplateDelete:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// RecordAudit fills in severity and client details and appends e. A failed
// write is logged and otherwise ignored; auditing never fails the
// operation being audited.
func RecordAudit(ctx context.Context, store AuditStore, e AuditEntry) {
	if store == nil {
		return
	}
	e.Severity = determineSeverity(e.Action)
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	info := RequestInfoFrom(ctx)
	e.IPAddress, e.UserAgent = info.IPAddress, info.UserAgent

	if err := store.Append(context.WithoutCancel(ctx), &e); err != nil {
		slog.Error("audit write failed", "action", e.Action, "model", e.Model, "error", err)
	}
}
