package model

import (
	"errors"
	"fmt"
)

// Error kinds carried in the errorKind field of every error response.
const (
	ErrNotFound             = "NOT_FOUND"
	ErrValidationFailure    = "VALIDATION_FAILURE"
	ErrAuthFailure          = "AUTH_FAILURE"
	ErrAuthorizationFailure = "AUTHORIZATION_FAILURE"
	ErrConflict             = "CONFLICT"
	ErrInvalidTransition    = "INVALID_TRANSITION"
	ErrPayloadTooLarge      = "PAYLOAD_TOO_LARGE"
	ErrInternal             = "INTERNAL"
)

// ErrorEnvelope is the standard error returned by every GovFlow operation.
// It implements the error interface.
type ErrorEnvelope struct {
	Kind    string       `json:"errorKind"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"traceId,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Field error codes.
const (
	CodeRequired     = "REQUIRED"
	CodeInvalidType  = "INVALID_TYPE"
	CodeInvalidValue = "INVALID_VALUE"
	CodeUnknownField = "UNKNOWN_FIELD"
	CodeDuplicate    = "DUPLICATE"
	CodeReference    = "UNKNOWN_REFERENCE"
)

// KindOf returns the error kind of err, or ErrInternal when err is not an
// ErrorEnvelope.
func KindOf(err error) string {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ErrInternal
}

// IsKind reports whether err is an ErrorEnvelope of the given kind.
func IsKind(err error, kind string) bool {
	var ee *ErrorEnvelope
	return errors.As(err, &ee) && ee.Kind == kind
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Kind: ErrNotFound, Message: msg}
}

// NewValidationError returns a VALIDATION_FAILURE without field details.
func NewValidationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Kind: ErrValidationFailure, Message: msg}
}

// NewFieldValidationError returns a VALIDATION_FAILURE with field-level details.
func NewFieldValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Kind:    ErrValidationFailure,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewAuthError returns an AUTH_FAILURE error.
func NewAuthError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Kind: ErrAuthFailure, Message: msg}
}

// NewForbiddenError returns an AUTHORIZATION_FAILURE error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Kind: ErrAuthorizationFailure, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Kind: ErrConflict, Message: msg}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Kind: ErrInvalidTransition, Message: msg}
}

// NewPayloadTooLargeError returns a PAYLOAD_TOO_LARGE error.
func NewPayloadTooLargeError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Kind: ErrPayloadTooLarge, Message: msg}
}

// NewInternalError returns an INTERNAL error.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Kind:    ErrInternal,
		Message: "An unexpected error occurred",
	}
}
