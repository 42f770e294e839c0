package accounting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ModelInfo is one entry of the importable-model listing.
type ModelInfo struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// FieldMeta describes one importable field of a model.
type FieldMeta struct {
	Name      string   `json:"name"`
	Label     string   `json:"label,omitempty"`
	Type      string   `json:"type"`
	Required  bool     `json:"required"`
	Unique    bool     `json:"unique,omitempty"`
	Relation  string   `json:"relation,omitempty"`
	Selection []string `json:"selection,omitempty"`
}

// BatchLimits are the execute batch sizes the backend accepts.
type BatchLimits struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	Default int `json:"default"`
}

// ModelMetadata describes an importable target model.
type ModelMetadata struct {
	Model       string      `json:"model"`
	Label       string      `json:"label,omitempty"`
	Fields      []FieldMeta `json:"fields"`
	BatchLimits BatchLimits `json:"batch_limits"`
}

// RequiredFields returns the names of all required fields, in declaration order.
func (m *ModelMetadata) RequiredFields() []string {
	var out []string
	for _, f := range m.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Field looks up a field by name.
func (m *ModelMetadata) Field(name string) (FieldMeta, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldMeta{}, false
}

// Column is a column detected in an uploaded file.
type Column struct {
	Name    string   `json:"name"`
	Samples []string `json:"samples,omitempty"`
}

// SessionInfo is returned when a file is uploaded.
type SessionInfo struct {
	Token      string     `json:"session_token"`
	Model      string     `json:"model"`
	FileName   string     `json:"file_name"`
	FileSize   int64      `json:"file_size"`
	RowCount   int        `json:"row_count"`
	Columns    []Column   `json:"columns"`
	SampleRows [][]string `json:"sample_rows,omitempty"`
}

// Upload is a file ready to send to the backend.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Suggestion is a backend-proposed column to field mapping.
type Suggestion struct {
	Column     string  `json:"column"`
	Field      string  `json:"suggested_field"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// FieldMapping binds a source column to a target field. An empty Field
// means the column is ignored.
type FieldMapping struct {
	Column       string `json:"column"`
	Field        string `json:"field_name,omitempty"`
	DefaultValue string `json:"default_value,omitempty"`
}

// ImportOptions is the configuration surface passed through to preview,
// validate and execute calls.
type ImportOptions struct {
	ValidationLevel string `json:"validation_level,omitempty"` // preview or strict
	SkipDuplicates  bool   `json:"skip_duplicates,omitempty"`
	UpdateExisting  bool   `json:"update_existing,omitempty"`
	ContinueOnError bool   `json:"continue_on_error,omitempty"`
}

// PreviewRequest asks for a sample preview.
type PreviewRequest struct {
	Mappings   []FieldMapping `json:"mappings"`
	SampleSize int            `json:"sample_size"`
	Options    ImportOptions  `json:"options"`
}

// PreviewBatchRequest asks for one batch of a full-file preview.
type PreviewBatchRequest struct {
	Mappings  []FieldMapping `json:"mappings"`
	Offset    int            `json:"offset"`
	BatchSize int            `json:"batch_size"`
	Options   ImportOptions  `json:"options"`
}

// RowIssue is a row-level validation error or warning.
type RowIssue struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// PreviewResult is the backend's answer to a preview or validate call.
// Nothing is persisted by the backend while producing it.
type PreviewResult struct {
	Rows       []map[string]any `json:"rows,omitempty"`
	TotalRows  int              `json:"total_rows"`
	ValidRows  int              `json:"valid_rows"`
	Errors     []RowIssue       `json:"errors,omitempty"`
	Warnings   []RowIssue       `json:"warnings,omitempty"`
	Offset     int              `json:"offset,omitempty"`
	NextOffset int              `json:"next_offset,omitempty"`
	HasMore    bool             `json:"has_more,omitempty"`
}

// ExecuteRequest runs the import.
type ExecuteRequest struct {
	Mappings   []FieldMapping `json:"mappings"`
	Policy     string         `json:"policy"`
	BatchSize  int            `json:"batch_size"`
	SkipErrors bool           `json:"skip_errors"`
	Options    ImportOptions  `json:"options"`
}

// ImportStatus is the long-running execution status.
type ImportStatus struct {
	State      string          `json:"status"`
	Processed  int             `json:"processed_rows"`
	Total      int             `json:"total_rows"`
	Message    string          `json:"message,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	ReportedAt time.Time       `json:"-"`
}

// Terminal reports whether the execution has stopped for good.
func (s ImportStatus) Terminal() bool {
	switch s.State {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

// EntityID is an entity identifier. Backends emit both numeric and string
// ids; both decode into the same string form.
type EntityID string

// UnmarshalJSON accepts a JSON string or number.
func (id *EntityID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = EntityID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("entity id: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("entity id: %w", err)
	}
	*id = EntityID(n.String())
	return nil
}

// Entity is one row of an entity list (an invoice, a journal entry, ...).
type Entity struct {
	ID         EntityID `json:"id"`
	Name       string   `json:"name,omitempty"`
	Status     string   `json:"status"`
	Amount     float64  `json:"amount_total"`
	AmountPaid float64  `json:"amount_paid"`
	Partner    string   `json:"partner_name,omitempty"`
}

// EntityPage is a page of an entity list.
type EntityPage struct {
	Items    []Entity `json:"items"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

// BulkRequest is sent to the bulk validate and execute endpoints.
type BulkRequest struct {
	Operation string         `json:"operation"`
	IDs       []EntityID     `json:"ids"`
	Options   map[string]any `json:"options,omitempty"`
}

// BulkIssue is a per-item ineligibility reason or execution error.
type BulkIssue struct {
	ID     EntityID `json:"id"`
	Reason string   `json:"reason,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Message returns whichever of Reason or Error the backend filled in.
func (i BulkIssue) Message() string {
	if i.Reason != "" {
		return i.Reason
	}
	return i.Error
}

// BulkValidation is the backend's eligibility breakdown.
type BulkValidation struct {
	ValidCount   int         `json:"valid_count"`
	InvalidCount int         `json:"invalid_count"`
	ValidIDs     []EntityID  `json:"valid_ids,omitempty"`
	Invalid      []BulkIssue `json:"invalid,omitempty"`
}

// BulkOutcome is the backend's raw execute answer.
type BulkOutcome struct {
	Successful      []EntityID  `json:"successful"`
	SuccessfulCount int         `json:"successful_count"`
	Failed          []BulkIssue `json:"failed"`
	FailedCount     int         `json:"failed_count"`
	Skipped         []EntityID  `json:"skipped_ids,omitempty"`
	SkippedCount    int         `json:"skipped"`
}
