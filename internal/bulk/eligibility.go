package bulk

import (
	"strings"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
)

// Entity lifecycle states the default rules understand.
const (
	StatusDraft  = "draft"
	StatusPosted = "posted"
)

// Rule reports whether an entity is eligible for an operation, and why not.
type Rule func(e accounting.Entity) (ok bool, reason string)

// Rules maps operations to their eligibility rule. Rules are presentation
// hints only; the backend's validate and execute answers are authoritative.
type Rules map[Operation]Rule

// DefaultRules returns the eligibility table for invoice-like entities:
//
//	post            draft with a positive amount
//	cancel          posted with nothing paid
//	reset_to_draft  posted
//	delete          draft
func DefaultRules() Rules {
	return Rules{
		OpPost: func(e accounting.Entity) (bool, string) {
			if !hasStatus(e, StatusDraft) {
				return false, "only draft entries can be posted"
			}
			if e.Amount <= 0 {
				return false, "amount must be greater than zero"
			}
			return true, ""
		},
		OpCancel: func(e accounting.Entity) (bool, string) {
			if !hasStatus(e, StatusPosted) {
				return false, "only posted entries can be cancelled"
			}
			if e.AmountPaid != 0 {
				return false, "entries with payments cannot be cancelled"
			}
			return true, ""
		},
		OpResetToDraft: func(e accounting.Entity) (bool, string) {
			if !hasStatus(e, StatusPosted) {
				return false, "only posted entries can be reset to draft"
			}
			return true, ""
		},
		OpDelete: func(e accounting.Entity) (bool, string) {
			if !hasStatus(e, StatusDraft) {
				return false, "only draft entries can be deleted"
			}
			return true, ""
		},
	}
}

// Check applies the rule for op. Operations without a rule are treated as
// eligible.
func (r Rules) Check(op Operation, e accounting.Entity) (bool, string) {
	rule, ok := r[op]
	if !ok {
		return true, ""
	}
	return rule(e)
}

func hasStatus(e accounting.Entity, status string) bool {
	return strings.EqualFold(strings.TrimSpace(e.Status), status)
}
