// Package apperr defines the domain error taxonomy shared by all
// workflows. Handlers map these to HTTP statuses; business code matches
// them with errors.As / errors.Is.
package apperr

import (
	"fmt"
	"strings"
)

// ValidationError signals malformed or out-of-range input, e.g. a
// non-positive amount.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError signals an operation forbidden in the entity's current
// state (e.g. verifying an already-resolved contribution).
type InvalidStateError struct {
	Msg string
}

func (e *InvalidStateError) Error() string { return e.Msg }

// InvalidStatef builds an InvalidStateError.
func InvalidStatef(format string, args ...any) error {
	return &InvalidStateError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError signals a missing referenced entity or approval record.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

// NotFoundf builds a NotFoundError.
func NotFoundf(format string, args ...any) error {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError signals a lost race against another transition, typically
// surfaced by a conditional update matching zero rows or a unique index.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// Conflictf builds a ConflictError.
func Conflictf(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// IneligibleError signals a failed business-rule gate. Reasons carries the
// complete, ordered remediation checklist and is safe for direct display.
type IneligibleError struct {
	Reasons []string
}

func (e *IneligibleError) Error() string {
	if len(e.Reasons) == 0 {
		return "member is not eligible"
	}
	return "member is not eligible: " + strings.Join(e.Reasons, "; ")
}

// Ineligible builds an IneligibleError from the evaluator's reasons list.
func Ineligible(reasons []string) error {
	return &IneligibleError{Reasons: reasons}
}
