package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the pipeline's current state.
	ErrInvalidTransition = errors.New("invalid import state transition")

	// ErrSessionNotFound is returned for unknown or reaped session ids.
	ErrSessionNotFound = errors.New("import session not found")

	// ErrSessionClosed is returned for operations on a cancelled pipeline.
	ErrSessionClosed = errors.New("import session cancelled")

	// ErrStalePreview is returned when a newer preview was requested, or the
	// mapping changed, while this one was in flight. Its result is dropped.
	ErrStalePreview = errors.New("preview superseded by a newer request")

	// ErrTemplateNotFound is returned by template stores for unknown ids.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTemplateExists is returned when a template name is already taken for a model.
	ErrTemplateExists = errors.New("template already exists")

	// ErrInvalidTemplate wraps template validation failures.
	ErrInvalidTemplate = errors.New("invalid template")
)

// TransitionError reports a disallowed state change.
type TransitionError struct {
	Op   string
	From SessionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s an import in state %q", e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// PreflightReason identifies which local file check failed.
type PreflightReason string

const (
	ReasonExtension PreflightReason = "extension"
	ReasonMIMEType  PreflightReason = "mime_type"
	ReasonTooLarge  PreflightReason = "too_large"
	ReasonEmpty     PreflightReason = "empty"
)

// PreflightError is returned when a file is rejected before any upload.
type PreflightError struct {
	Reason   PreflightReason
	FileName string
	Detail   string
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("file %q rejected (%s): %s", e.FileName, e.Reason, e.Detail)
}

// UnmappedFieldsError lists required target fields no column is mapped to.
type UnmappedFieldsError struct {
	Fields []string
}

func (e *UnmappedFieldsError) Error() string {
	return "missing required column mapping for: " + strings.Join(e.Fields, ", ")
}
