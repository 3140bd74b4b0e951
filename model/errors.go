package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrNotFound             = "NOT_FOUND"
	ErrConflict             = "CONFLICT"
	ErrConfigurationError   = "CONFIGURATION_ERROR"
	ErrInvalidInstanceState = "INVALID_INSTANCE_STATE"
	ErrInvalidTransition    = "INVALID_TRANSITION"
	ErrInstanceNotActive    = "INSTANCE_NOT_ACTIVE"
	ErrInternalError        = "INTERNAL_ERROR"
)

// ErrorEnvelope is the structured error returned across the engine boundary.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a single validation finding inside a definition.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeOf returns the envelope code carried by err, or empty when err is not
// an ErrorEnvelope.
func CodeOf(err error) string {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return ""
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error. Callers receiving it must
// discard their resolved transition and recompute against fresh state.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewConfigurationError returns a CONFIGURATION_ERROR with field-level
// findings. Configuration errors are surfaced, never silently repaired.
func NewConfigurationError(msg string, details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConfigurationError, Message: msg, Details: details}
}

// NewInvalidInstanceStateError returns an INVALID_INSTANCE_STATE error,
// raised when an instance points at a stage its definition does not contain.
func NewInvalidInstanceStateError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidInstanceState, Message: msg}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewInstanceNotActiveError returns an INSTANCE_NOT_ACTIVE error.
func NewInstanceNotActiveError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInstanceNotActive, Message: msg}
}
