package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNoCredential        ErrorType = "no_credential"
	ErrorTypeUnauthenticated     ErrorType = "unauthenticated"
	ErrorTypeUpstreamUnavailable ErrorType = "upstream_unavailable"
	ErrorTypeUnknownSigningKey   ErrorType = "unknown_signing_key"
	ErrorTypeMissingIdentity     ErrorType = "missing_identity"
	ErrorTypeForbidden           ErrorType = "forbidden"
	ErrorTypeValidation          ErrorType = "validation"
	ErrorTypeNotFound            ErrorType = "not_found"
	ErrorTypeConflict            ErrorType = "conflict"
	ErrorTypeInternal            ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail returns a copy of the error carrying the detail.
// The receiver is left untouched so package sentinels stay immutable.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &DomainError{
		Type:    e.Type,
		Message: e.Message,
		Err:     e.Err,
		Details: details,
	}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Authentication Errors
	ErrNoCredential        = NewDomainError(ErrorTypeNoCredential, "no credential in request", nil)
	ErrUnauthenticated     = NewDomainError(ErrorTypeUnauthenticated, "credential rejected", nil)
	ErrUpstreamUnavailable = NewDomainError(ErrorTypeUpstreamUnavailable, "identity source unavailable", nil)
	ErrUnknownSigningKey   = NewDomainError(ErrorTypeUnknownSigningKey, "signing key not found in key set", nil)
	ErrMissingIdentity     = NewDomainError(ErrorTypeMissingIdentity, "identity payload has no external id", nil)

	// Permission Errors
	ErrForbidden = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)

	// Validation Errors
	ErrInvalidConfig = NewDomainError(ErrorTypeValidation, "invalid configuration", nil)
	ErrInvalidState  = NewDomainError(ErrorTypeValidation, "invalid oauth state", nil)

	// Not Found Errors
	ErrUserNotFound = NewDomainError(ErrorTypeNotFound, "user not found", nil)

	// Conflict Errors
	ErrDuplicateUser = NewDomainError(ErrorTypeConflict, "user already exists", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
)

// Error type checking helper functions

// IsAuthenticationError reports whether err belongs to any of the categories
// that collapse to an unauthenticated outcome at the guard boundary
func IsAuthenticationError(err error) bool {
	switch GetErrorType(err) {
	case ErrorTypeNoCredential, ErrorTypeUnauthenticated, ErrorTypeUpstreamUnavailable,
		ErrorTypeUnknownSigningKey, ErrorTypeMissingIdentity:
		return true
	}
	return false
}

// IsUnauthenticatedError checks if an error is an unauthenticated error
func IsUnauthenticatedError(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsUpstreamError checks if an error came from an unreachable identity source
func IsUpstreamError(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeNotFound
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeValidation
	}
	return false
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeForbidden
	}
	return false
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeConflict
	}
	return false
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeInternal
	}
	return false
}

// GetErrorType returns the ErrorType of the outermost domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// Unauthenticated wraps cause as an unauthenticated error
func Unauthenticated(message string, cause error) error {
	return NewDomainError(ErrorTypeUnauthenticated, message, cause)
}

// UpstreamUnavailable wraps cause as an upstream error
func UpstreamUnavailable(message string, cause error) error {
	return NewDomainError(ErrorTypeUpstreamUnavailable, message, cause)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
