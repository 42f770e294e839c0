package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
)

// Backend is the part of the accounting API the import service drives.
// *accounting.Client satisfies it.
type Backend interface {
	ListModels(ctx context.Context) ([]accounting.ModelInfo, error)
	ModelMetadata(ctx context.Context, model string) (*accounting.ModelMetadata, error)
	CreateSession(ctx context.Context, model string, file accounting.Upload) (*accounting.SessionInfo, error)
	Suggestions(ctx context.Context, token string) ([]accounting.Suggestion, error)
	Preview(ctx context.Context, token string, req accounting.PreviewRequest) (*accounting.PreviewResult, error)
	PreviewBatch(ctx context.Context, token string, req accounting.PreviewBatchRequest) (*accounting.PreviewResult, error)
	Validate(ctx context.Context, token string, mappings []accounting.FieldMapping, opts accounting.ImportOptions) (*accounting.PreviewResult, error)
	Execute(ctx context.Context, token string, req accounting.ExecuteRequest) (json.RawMessage, error)
	Status(ctx context.Context, token string) (*accounting.ImportStatus, error)
	DeleteSession(ctx context.Context, token string) error
}

// SessionState is the lifecycle stage of an import pipeline.
type SessionState string

const (
	StateCreated   SessionState = "created"
	StateMapped    SessionState = "mapped"
	StatePreviewed SessionState = "previewed"
	StateExecuting SessionState = "executing"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Policy controls how imported rows interact with existing records.
type Policy string

const (
	PolicyCreateOnly Policy = "create_only"
	PolicyUpdateOnly Policy = "update_only"
	PolicyUpsert     Policy = "upsert"
)

// ParsePolicy validates a policy name. An empty name selects create_only.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyCreateOnly, nil
	case PolicyCreateOnly, PolicyUpdateOnly, PolicyUpsert:
		return p, nil
	}
	return "", fmt.Errorf("unknown import policy %q (want create_only, update_only or upsert)", s)
}

// FileInput is a user-selected file before preflight checks.
type FileInput struct {
	Name        string
	ContentType string // as declared by the client; informational only
	Size        int64  // declared size; -1 if unknown
	Data        []byte
}

// ExecuteOptions configures a single import execution.
type ExecuteOptions struct {
	Policy     Policy
	BatchSize  int
	SkipErrors bool
	Options    accounting.ImportOptions
}

// RowError is one failed row reported by an execution.
type RowError struct {
	Row     int    `json:"row,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ImportResult is the normalized outcome of an execution.
// ProcessedRows always equals Created + Updated + Failed + Skipped.
type ImportResult struct {
	TotalRows     int            `json:"totalRows"`
	ProcessedRows int            `json:"processedRows"`
	Created       int            `json:"created"`
	Updated       int            `json:"updated"`
	Failed        int            `json:"failed"`
	Skipped       int            `json:"skipped"`
	ErrorsByType  map[string]int `json:"errorsByType,omitempty"`
	Errors        []RowError     `json:"errors,omitempty"`

	// ErrorTypesInferred is set when ErrorsByType was derived from message
	// text rather than reported by the backend.
	ErrorTypesInferred bool `json:"errorTypesInferred,omitempty"`

	Policy      Policy    `json:"policy"`
	SkipErrors  bool      `json:"skipErrors"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// Balanced reports whether the row accounting identity holds.
func (r ImportResult) Balanced() bool {
	return r.ProcessedRows == r.Created+r.Updated+r.Failed+r.Skipped
}

// Duration is the wall time of the execution.
func (r ImportResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// PreviewSummary aggregates a full-file preview run batch by batch.
type PreviewSummary struct {
	TotalRows   int                   `json:"totalRows"`
	CheckedRows int                   `json:"checkedRows"`
	ValidRows   int                   `json:"validRows"`
	ErrorCount  int                   `json:"errorCount"`
	Warnings    int                   `json:"warnings"`
	Errors      []accounting.RowIssue `json:"errors,omitempty"` // first maxSummaryErrors only
	Batches     int                   `json:"batches"`
	NextOffset  int                   `json:"nextOffset"`
	Complete    bool                  `json:"complete"`
}

// SessionSnapshot is a point-in-time copy of a pipeline for display.
type SessionSnapshot struct {
	ID           string                    `json:"id"`
	Token        string                    `json:"token"`
	Model        string                    `json:"model"`
	FileName     string                    `json:"fileName"`
	FileSize     int64                     `json:"fileSize"`
	RowCount     int                       `json:"rowCount"`
	State        SessionState              `json:"state"`
	Closed       bool                      `json:"closed"`
	Columns      []accounting.Column       `json:"columns"`
	Mappings     []accounting.FieldMapping `json:"mappings"`
	Suggestions  []accounting.Suggestion   `json:"suggestions,omitempty"`
	Unmapped     []string                  `json:"unmappedRequired,omitempty"`
	Preview      *accounting.PreviewResult `json:"preview,omitempty"`
	Result       *ImportResult             `json:"result,omitempty"`
	Error        string                    `json:"error,omitempty"`
	CreatedAt    time.Time                 `json:"createdAt"`
	LastActivity time.Time                 `json:"lastActivity"`
}
