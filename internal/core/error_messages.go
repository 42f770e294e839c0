package core

// # Error Codes Reference
//
// This file maps technical errors to user-friendly messages with codes for
// support reference. Users quote the code; support looks it up here.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - Unsupported file type (extension or detected content)
//	FILE002 - File too large
//	FILE003 - Empty file
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Required target fields are not mapped
//	IMP002 - Import session not found or expired
//	IMP003 - Action not allowed at this stage of the import
//	IMP004 - Import session was cancelled
//	IMP005 - Preview superseded by a newer one
//	IMP006 - Too many imports running
//	IMP007 - Mapping template not found
//	IMP008 - Mapping template name already used for this model
//	IMP009 - Mapping template is invalid or belongs to another model
//
// # Bulk Errors (BLK001-BLK099)
//
//	BLK001 - Nothing selected
//	BLK002 - A bulk operation is already running
//	BLK003 - Unknown bulk operation
//	BLK004 - Item is not in the current list
//	BLK005 - Bulk selection expired
//
// # Backend Errors (API001-API099)
//
//	API001 - Accounting service unreachable
//	API002 - Accounting service rejected the credentials
//	API003 - Accounting service is throttling requests
//	API004 - Request timed out
//	API005 - Request was cancelled
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the application logs for the
// technical error.
//
// Typed errors are matched first with errors.As / errors.Is. Remaining
// errors are matched case-insensitively against errorPatterns; the first
// matching pattern wins.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgFileType = UserMessage{
		Message: "This file type is not supported",
		Action:  "Upload a CSV, XLSX, XLS or JSON file",
		Code:    "FILE001",
	}
	msgFileTooLarge = UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE002",
	}
	msgFileEmpty = UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Upload a file with a header row and data rows",
		Code:    "FILE003",
	}
	msgUnmapped = UserMessage{
		Message: "Some required fields are not mapped to a column",
		Action:  "Map every required field before importing",
		Code:    "IMP001",
	}
	msgSessionNotFound = UserMessage{
		Message: "Import session not found",
		Action:  "The session may have expired. Please upload the file again",
		Code:    "IMP002",
	}
	msgInvalidTransition = UserMessage{
		Message: "That action is not available at this stage of the import",
		Action:  "Refresh the page to see the current import state",
		Code:    "IMP003",
	}
	msgSessionClosed = UserMessage{
		Message: "This import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "IMP004",
	}
	msgStalePreview = UserMessage{
		Message: "A newer preview replaced this one",
		Action:  "No action needed",
		Code:    "IMP005",
	}
	msgTooMany = UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "IMP006",
	}
	msgTemplateNotFound = UserMessage{
		Message: "Mapping template not found",
		Action:  "It may have been deleted. Pick another template",
		Code:    "IMP007",
	}
	msgTemplateExists = UserMessage{
		Message: "A template with this name already exists for this model",
		Action:  "Choose a different name",
		Code:    "IMP008",
	}
	msgUnreachable = UserMessage{
		Message: "Unable to reach the accounting service",
		Action:  "Please try again in a few moments",
		Code:    "API001",
	}
	msgUnauthorized = UserMessage{
		Message: "The accounting service rejected our credentials",
		Action:  "Ask an administrator to check the API token",
		Code:    "API002",
	}
	msgThrottled = UserMessage{
		Message: "The accounting service is throttling requests",
		Action:  "Please wait a moment before trying again",
		Code:    "API003",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller batch size or try again later",
		Code:    "API004",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "API005",
	}
)

// errorPatterns catches untyped errors, usually ones that crossed a process
// boundary as text.
var errorPatterns = []errorPattern{
	{"nothing selected", UserMessage{
		Message: "No items are selected",
		Action:  "Select at least one item",
		Code:    "BLK001",
	}},
	{"bulk operation in progress", UserMessage{
		Message: "A bulk operation is already running",
		Action:  "Wait for it to finish before starting another",
		Code:    "BLK002",
	}},
	{"unknown bulk operation", UserMessage{
		Message: "Unknown bulk operation",
		Action:  "Use post, cancel, reset_to_draft or delete",
		Code:    "BLK003",
	}},
	{"entity not in the current list", UserMessage{
		Message: "That item is not in the current list",
		Action:  "Refresh the list and select again",
		Code:    "BLK004",
	}},
	{"bulk controller not found", UserMessage{
		Message: "This selection has expired",
		Action:  "Reload the list to start a new selection",
		Code:    "BLK005",
	}},
	{"too many concurrent", msgTooMany},
	{"connection refused", msgUnreachable},
	{"no such host", msgUnreachable},
	{"context deadline exceeded", msgTimeout},
	{"timeout", msgTimeout},
	{"context canceled", msgCancelled},
	{"rate limit", msgThrottled},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Backend validation errors (4xx other than auth and throttling) keep the
// backend's own message, since it is the only place the real reason lives.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var pfErr *PreflightError
	if errors.As(err, &pfErr) {
		msg := msgFileType
		switch pfErr.Reason {
		case ReasonTooLarge:
			msg = msgFileTooLarge
		case ReasonEmpty:
			msg = msgFileEmpty
		}
		msg.Message += ": " + pfErr.Detail
		return msg
	}

	var unmapped *UnmappedFieldsError
	if errors.As(err, &unmapped) {
		msg := msgUnmapped
		msg.Message += ": " + strings.Join(unmapped.Fields, ", ")
		return msg
	}

	switch {
	case errors.Is(err, ErrSessionNotFound):
		return msgSessionNotFound
	case errors.Is(err, ErrInvalidTransition):
		return msgInvalidTransition
	case errors.Is(err, ErrSessionClosed):
		return msgSessionClosed
	case errors.Is(err, ErrStalePreview):
		return msgStalePreview
	case errors.Is(err, ErrTooManyExecutions):
		return msgTooMany
	case errors.Is(err, ErrTemplateNotFound):
		return msgTemplateNotFound
	case errors.Is(err, ErrTemplateExists):
		return msgTemplateExists
	case errors.Is(err, ErrInvalidTemplate):
		return UserMessage{
			Message: "Template not usable: " + strings.TrimPrefix(err.Error(), ErrInvalidTemplate.Error()+": "),
			Action:  "Check the template name, model and mapped columns",
			Code:    "IMP009",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.Is(err, context.Canceled):
		return msgCancelled
	}

	var apiErr *accounting.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return msgUnauthorized
		case http.StatusTooManyRequests:
			return msgThrottled
		case http.StatusNotFound:
			if strings.Contains(apiErr.Path, "/sessions/") {
				return msgSessionNotFound
			}
		}
		if apiErr.StatusCode < 500 && apiErr.Message != "" {
			return UserMessage{
				Message: apiErr.Message,
				Action:  "Correct the data or mapping and try again",
				Code:    fmt.Sprintf("API%d", apiErr.StatusCode),
			}
		}
		return msgUnreachable
	}

	var tErr *accounting.TransportError
	if errors.As(err, &tErr) {
		return msgUnreachable
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

// Row error types reported in ImportResult.ErrorsByType.
const (
	ErrorTypeDuplicate    = "duplicate"
	ErrorTypeMissingField = "missing_field"
	ErrorTypeInvalidValue = "invalid_value"
	ErrorTypeOther        = "other"
)

var rowErrorPatterns = []struct {
	pattern string
	kind    string
}{
	{"already exists", ErrorTypeDuplicate},
	{"duplicate", ErrorTypeDuplicate},
	{"missing required", ErrorTypeMissingField},
	{"invalid", ErrorTypeInvalidValue},
}

// ClassifyRowError buckets a per-row error message by substring. It is a
// heuristic for backends that do not report error types themselves.
func ClassifyRowError(message string) string {
	m := strings.ToLower(message)
	for _, p := range rowErrorPatterns {
		if strings.Contains(m, p.pattern) {
			return p.kind
		}
	}
	return ErrorTypeOther
}
