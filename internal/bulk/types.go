// Package bulk drives two-phase state transitions (validate, then execute)
// over a user-selected subset of an entity list, such as posting or
// cancelling invoices.
//
// A Controller owns one model's visible list and its selection. The
// selection is always a subset of the visible list. Validation is advisory:
// Execute sends the whole selection and the backend decides final
// eligibility, so items validation called eligible may still fail. The
// selection is cleared after every Execute, successful or not, and the list
// is flagged stale so callers reload it.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
)

var (
	// ErrEmptySelection is returned by Validate and Execute when nothing is
	// selected. No backend call is made.
	ErrEmptySelection = errors.New("nothing selected")

	// ErrBusy is returned while a validate or execute is in flight.
	ErrBusy = errors.New("bulk operation in progress")

	// ErrUnknownEntity is returned when toggling an id that is not in the
	// visible list.
	ErrUnknownEntity = errors.New("entity not in the current list")

	ErrUnknownOperation   = errors.New("unknown bulk operation")
	ErrControllerNotFound = errors.New("bulk controller not found")
)

// Backend is the part of the accounting API bulk operations use.
type Backend interface {
	ListEntities(ctx context.Context, model string, page, pageSize int) (*accounting.EntityPage, error)
	BulkValidate(ctx context.Context, model string, req accounting.BulkRequest) (*accounting.BulkValidation, error)
	BulkExecute(ctx context.Context, model string, req accounting.BulkRequest) (*accounting.BulkOutcome, error)
}

// Operation is a bulk state transition.
type Operation string

const (
	OpPost         Operation = "post"
	OpCancel       Operation = "cancel"
	OpResetToDraft Operation = "reset_to_draft"
	OpDelete       Operation = "delete"
)

// Operations lists every supported operation.
var Operations = []Operation{OpPost, OpCancel, OpResetToDraft, OpDelete}

// ParseOperation accepts an operation name, with dashes or underscores.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, known := range Operations {
		if op == known {
			return op, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// Options carries operation-specific parameters.
type Options struct {
	Reason      string    // cancel
	PostingDate time.Time // post; zero lets the backend choose

	// SkipIneligible overrides config.BulkConfig.SkipIneligible when set.
	SkipIneligible *bool
}

func (o Options) payload(op Operation, skip bool) map[string]any {
	m := map[string]any{"skip_ineligible": skip}
	switch op {
	case OpCancel:
		if o.Reason != "" {
			m["reason"] = o.Reason
		}
	case OpPost:
		if !o.PostingDate.IsZero() {
			m["posting_date"] = o.PostingDate.Format(time.DateOnly)
		}
	}
	return m
}

// Issue is a per-item reason: why an entity is ineligible, or why it failed.
type Issue struct {
	ID      accounting.EntityID `json:"id"`
	Message string              `json:"message"`
}

// Validation is the backend's eligibility breakdown for a selection.
type Validation struct {
	Operation    Operation             `json:"operation"`
	Selected     int                   `json:"selected"`
	ValidCount   int                   `json:"validCount"`
	InvalidCount int                   `json:"invalidCount"`
	ValidIDs     []accounting.EntityID `json:"validIds,omitempty"`
	Invalid      []Issue               `json:"invalid,omitempty"`
	CheckedAt    time.Time             `json:"checkedAt"`
}

// Result is the outcome of one Execute. Its counts always reconcile to
// Selected: Successful + Failed + Skipped == Selected, and Skipped is zero
// unless ineligible items were allowed to be skipped.
type Result struct {
	Operation      Operation             `json:"operation"`
	Selected       int                   `json:"selected"`
	Successful     int                   `json:"successful"`
	SuccessfulIDs  []accounting.EntityID `json:"successfulIds,omitempty"`
	Failed         int                   `json:"failed"`
	FailedItems    []Issue               `json:"failedItems,omitempty"`
	Skipped        int                   `json:"skipped"`
	SkipIneligible bool                  `json:"skipIneligible"`
	StartedAt      time.Time             `json:"startedAt"`
	CompletedAt    time.Time             `json:"completedAt"`
}

// Balanced reports whether the counts add up to the selection size.
func (r Result) Balanced() bool {
	if !r.SkipIneligible && r.Skipped != 0 {
		return false
	}
	return r.Successful+r.Failed+r.Skipped == r.Selected
}
