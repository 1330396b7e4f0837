package errors

import (
	"errors"
	"fmt"
)

// StomaError is the structured error type for stoma.
// It carries the classification the stage drivers need to decide between
// aborting the run, aborting one row's transaction, or logging and skipping.
type StomaError struct {
	// Code is the unique error code (e.g., "ERR_301_CATALOG_OPEN").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Catalog, TransientRemote, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *StomaError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *StomaError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with StomaError.
func (e *StomaError) Is(target error) bool {
	if t, ok := target.(*StomaError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *StomaError) WithDetail(key, value string) *StomaError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new StomaError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *StomaError {
	return &StomaError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a StomaError from an existing error.
// The error's message becomes the StomaError message.
func Wrap(code string, err error) *StomaError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *StomaError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// FilesystemError creates a stat/read error for a specific path.
func FilesystemError(message string, cause error) *StomaError {
	return New(ErrCodeStatFailed, message, cause)
}

// CatalogError creates a database-related error.
func CatalogError(message string, cause error) *StomaError {
	return New(ErrCodeCatalogQuery, message, cause)
}

// TransientRemote creates a retryable remote-service error.
func TransientRemote(message string, cause error) *StomaError {
	return New(ErrCodeRemoteUnavailable, message, cause)
}

// PermanentRemote creates a non-retryable remote-service error.
func PermanentRemote(message string, cause error) *StomaError {
	return New(ErrCodeRemoteBadResponse, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *StomaError {
	return New(ErrCodeInvalidState, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *StomaError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a StomaError with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StomaError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort the whole pipeline run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var se *StomaError
	if errors.As(err, &se) {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a StomaError.
// Returns empty string if not a StomaError.
func GetCode(err error) string {
	var se *StomaError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from a StomaError.
// Returns empty string if not a StomaError.
func GetCategory(err error) Category {
	var se *StomaError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}
