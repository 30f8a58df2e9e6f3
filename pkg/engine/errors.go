// Package engine implements the reconciliation core: batch validation,
// mapping rule merging, policy chain normalization, per-document
// reconciliation against the tenant, and the bounded-parallel dispatcher.
package engine

import (
	"errors"
	"fmt"

	"github.com/section6nz/3scale-sync/pkg/threescale"
)

// ErrorClass classifies a failure for retry and reporting logic.
type ErrorClass string

const (
	// ErrorClassValidation indicates the batch violated a uniqueness or
	// referential constraint. Fatal: nothing is reconciled.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassTransient indicates a temporary remote failure that may
	// succeed on retry. Examples: network timeouts, rate limits, 5xx.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates the tenant rejected the request.
	// Examples: malformed payload, identity conflict, auth failure.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassDependency indicates an entity was skipped because a
	// structural dependency failed, distinguishing cascades from root
	// causes.
	ErrorClassDependency ErrorClass = "dependency"
)

// SyncError represents a classified error with entity context.
type SyncError struct {
	// Class is the error classification for retry and reporting logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Entity is the entity key that caused the error, if applicable.
	Entity string `json:"entity,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional structured context about the error.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Entity != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (entity=%s, operation=%s): %s",
			e.Class, e.Message, e.Entity, e.Operation, e.unwrapMessage())
	}
	if e.Entity != "" {
		return fmt.Sprintf("[%s] %s (entity=%s): %s",
			e.Class, e.Message, e.Entity, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *SyncError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *SyncError {
	return &SyncError{
		Class:   ErrorClassValidation,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *SyncError {
	return &SyncError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *SyncError {
	return &SyncError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewDependencyError creates an error marking an entity skipped because a
// structural dependency failed.
func NewDependencyError(message string, err error) *SyncError {
	return &SyncError{
		Class:   ErrorClassDependency,
		Message: message,
		Code:    ErrCodeDependencyUnmet,
		Err:     err,
	}
}

// WithEntity adds entity context to an error.
func (e *SyncError) WithEntity(key string) *SyncError {
	e.Entity = key
	return e
}

// WithOperation adds operation context to an error.
func (e *SyncError) WithOperation(operation string) *SyncError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *SyncError) WithCode(code string) *SyncError {
	e.Code = code
	return e
}

// WithDetail adds a detail key-value pair to an error.
func (e *SyncError) WithDetail(key string, value interface{}) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsValidation returns true if the error is classified as a validation
// failure.
func IsValidation(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsDependencyUnmet returns true if the error marks a skipped entity.
func IsDependencyUnmet(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class == ErrorClassDependency
	}
	return false
}

// IsRetryable returns true if the error can be retried. Only transient
// errors are retryable; validation, permanent and dependency errors never
// are.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// classifyRemote wraps a remote client failure into a SyncError, keeping
// the transport's view of retryability. Already-classified errors pass
// through unchanged.
func classifyRemote(message string, err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	if threescale.IsTransient(err) {
		return NewTransientError(message, err).WithCode(ErrCodeRemoteUnavailable)
	}
	return NewPermanentError(message, err).WithCode(ErrCodeRemoteRejected)
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDuplicateKey      = "DUPLICATE_KEY"
	ErrCodeUnknownBackend    = "UNKNOWN_BACKEND"
	ErrCodeRemoteUnavailable = "REMOTE_UNAVAILABLE"
	ErrCodeRemoteRejected    = "REMOTE_REJECTED"
	ErrCodeDependencyUnmet   = "DEPENDENCY_UNMET"
	ErrCodePolicyViolation   = "POLICY_VIOLATION"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
