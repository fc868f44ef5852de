package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeBackend           = "BACKEND_ERROR"
	ErrCodeDryRunRejected    = "DRY_RUN_REJECTED"
	ErrCodeTaskFailed        = "TASK_FAILED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeEvaluation        = "EVALUATION_ERROR"
)

// ShipyardError is the structured error type for all shipyard operations.
type ShipyardError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Component string         `json:"component,omitempty"`
	Cause     error          `json:"-"`
}

func (e *ShipyardError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s] component %s: %s", e.Code, e.Component, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ShipyardError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ShipyardError.
func NewError(code, message string) *ShipyardError {
	return &ShipyardError{Code: code, Message: message}
}

// NewErrorf creates a new ShipyardError with a formatted message.
func NewErrorf(code, format string, args ...any) *ShipyardError {
	return &ShipyardError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithComponent attaches a component name to the error.
func (e *ShipyardError) WithComponent(name string) *ShipyardError {
	e.Component = name
	return e
}

// WithCause attaches an underlying cause.
func (e *ShipyardError) WithCause(err error) *ShipyardError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ShipyardError) WithDetails(details map[string]any) *ShipyardError {
	e.Details = details
	return e
}

// IsCode reports whether err is a ShipyardError carrying the given code.
func IsCode(err error, code string) bool {
	for err != nil {
		if se, ok := err.(*ShipyardError); ok && se.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
