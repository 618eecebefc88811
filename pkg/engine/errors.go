// Package engine implements the reconciliation core: drift and status
// calculation, the per-fabric sync orchestrator and its scheduler.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and status logic.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates missing or invalid repository/cluster
	// configuration. Never retried; the fabric reports not_configured.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassTransient indicates temporary infrastructure failure such as a
	// network timeout or rate limit. Retried with bounded exponential backoff.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassAuthentication indicates a bad or revoked credential.
	// Never retried; the whole attempt fails without touching the inventory.
	ErrorClassAuthentication ErrorClass = "authentication"

	// ErrorClassData indicates malformed manifests or schema mismatches.
	// Isolated to the offending file or document, never fails a whole attempt.
	ErrorClassData ErrorClass = "data"

	// ErrorClassConcurrency indicates a sync is already in progress for the
	// fabric. Returned synchronously, never queued.
	ErrorClassConcurrency ErrorClass = "concurrency"
)

// SyncError represents a classified engine error with context.
type SyncError struct {
	// Class is the error classification for retry and status logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Fabric is the fabric ID the error relates to, if applicable.
	Fabric string `json:"fabric,omitempty"`

	// Resource is the resource or file that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Fabric != "" {
		msg += fmt.Sprintf(" (fabric=%s)", e.Fabric)
	}
	if e.Resource != "" {
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassConfiguration, Message: message, Err: err}
}

// NewTransientError creates a new transient infrastructure error.
func NewTransientError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewAuthenticationError creates a new authentication error.
func NewAuthenticationError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassAuthentication, Message: message, Err: err}
}

// NewDataError creates a new data integrity error.
func NewDataError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassData, Message: message, Err: err}
}

// NewConcurrencyError creates a new concurrency error.
func NewConcurrencyError(message string) *SyncError {
	return &SyncError{Class: ErrorClassConcurrency, Message: message, Code: ErrCodeSyncInProgress}
}

// WithFabric adds fabric context to an error.
func (e *SyncError) WithFabric(fabricID string) *SyncError {
	e.Fabric = fabricID
	return e
}

// WithResource adds resource context to an error.
func (e *SyncError) WithResource(resource string) *SyncError {
	e.Resource = resource
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

// IsConfiguration returns true if the error is a configuration error.
func IsConfiguration(err error) bool {
	return hasClass(err, ErrorClassConfiguration)
}

// IsTransient returns true if the error is a transient infrastructure error.
func IsTransient(err error) bool {
	return hasClass(err, ErrorClassTransient)
}

// IsAuthentication returns true if the error is an authentication error.
func IsAuthentication(err error) bool {
	return hasClass(err, ErrorClassAuthentication)
}

// IsData returns true if the error is a data integrity error.
func IsData(err error) bool {
	return hasClass(err, ErrorClassData)
}

// IsConcurrency returns true if the error reports a sync already in progress.
func IsConcurrency(err error) bool {
	return hasClass(err, ErrorClassConcurrency)
}

// IsRetryable returns true if the error can be retried within one attempt.
// Only transient infrastructure errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

func hasClass(err error, class ErrorClass) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// Common error codes.
const (
	ErrCodeAuthFailed     = "AUTHENTICATION_FAILED"
	ErrCodeRefNotFound    = "REF_NOT_FOUND"
	ErrCodeNetwork        = "NETWORK_UNAVAILABLE"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeSyncInProgress = "SYNC_IN_PROGRESS"
	ErrCodeNotConfigured  = "NOT_CONFIGURED"
	ErrCodeUnparsable     = "UNPARSABLE"
	ErrCodeSchemaMismatch = "SCHEMA_MISMATCH"
)
