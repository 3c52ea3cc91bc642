package core

import "fmt"

// Validation codes raised by the engine.
const (
	CodeMissingField     = "missing-field"
	CodeInvalidValue     = "invalid-value"
	CodeQuantityExceeds  = "quantity-exceeds-available"
	CodeQuantityNegative = "quantity-negative"
	CodeScheduleMissing  = "schedule-incomplete"
	CodeNoLines          = "no-lines"
)

// ValidationError is a field-scoped defect in the draft. Assembly is
// fail-fast: the first violation halts it and is returned alone.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, code, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)}
}

// ConflictError signals a duplicate invoice number+series for the supplier.
// It is a uniqueness violation, not a shape defect, and must not be folded
// into the ValidationError display path.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// FetchError wraps a failure to reach a collaborator (order detail or
// quantity ledger). It is non-terminal: the draft degrades to an empty data
// set and stays editable while the caller is prompted to retry.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }
