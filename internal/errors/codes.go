// Package errors provides structured error handling for stoma.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Filesystem errors
//   - 3XX: Catalog (database) errors
//   - 4XX: Transient remote-service errors (retryable)
//   - 5XX: Permanent remote-service errors
//   - 6XX: Validation errors
//   - 9XX: Internal errors
package errors

// Category classifies an error by the failure domain it belongs to.
type Category string

const (
	// CategoryConfig indicates missing or invalid configuration.
	CategoryConfig Category = "CONFIG"
	// CategoryFilesystem indicates stat/read failures during collection.
	CategoryFilesystem Category = "FILESYSTEM"
	// CategoryCatalog indicates database constraint or connectivity failures.
	CategoryCatalog Category = "CATALOG"
	// CategoryTransientRemote indicates an unreachable remote service or a
	// 5xx response; the next run retries.
	CategoryTransientRemote Category = "TRANSIENT_REMOTE"
	// CategoryPermanentRemote indicates a malformed response or a 4xx.
	CategoryPermanentRemote Category = "PERMANENT_REMOTE"
	// CategoryValidation indicates a value rejected at write time.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates an unrecoverable error, the run must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the run can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigMissing  = "ERR_103_CONFIG_MISSING_KEY"

	// Filesystem errors (200-299)
	ErrCodeStatFailed = "ERR_201_STAT_FAILED"
	ErrCodeWalkFailed = "ERR_202_WALK_FAILED"

	// Catalog errors (300-399)
	ErrCodeCatalogOpen       = "ERR_301_CATALOG_OPEN"
	ErrCodeCatalogTx         = "ERR_302_CATALOG_TX"
	ErrCodeCatalogQuery      = "ERR_303_CATALOG_QUERY"
	ErrCodeCatalogConstraint = "ERR_304_CATALOG_CONSTRAINT"

	// Transient remote errors (400-499)
	ErrCodeRemoteUnavailable = "ERR_401_REMOTE_UNAVAILABLE"
	ErrCodeRemoteTimeout     = "ERR_402_REMOTE_TIMEOUT"
	ErrCodeRemoteServerError = "ERR_403_REMOTE_SERVER_ERROR"

	// Permanent remote errors (500-599)
	ErrCodeRemoteBadResponse = "ERR_501_REMOTE_BAD_RESPONSE"
	ErrCodeRemoteRejected    = "ERR_502_REMOTE_REJECTED"

	// Validation errors (600-699)
	ErrCodeInvalidMimeType = "ERR_601_INVALID_MIME_TYPE"
	ErrCodeInvalidPath     = "ERR_602_INVALID_PATH"
	ErrCodeInvalidState    = "ERR_603_INVALID_STATE"

	// Internal errors (900-999)
	ErrCodeInternal = "ERR_901_INTERNAL"
)

// categoryFromCode extracts the category from an error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "301" from "ERR_301_CATALOG_OPEN".
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryFilesystem
	case '3':
		return CategoryCatalog
	case '4':
		return CategoryTransientRemote
	case '5':
		return CategoryPermanentRemote
	case '6':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig, CategoryCatalog:
		// Config problems and catalog failures abort the whole run.
		return SeverityFatal
	case CategoryTransientRemote:
		// The row returns to its queue; the next run retries.
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode checks whether a code represents a retryable failure.
func isRetryableCode(code string) bool {
	return categoryFromCode(code) == CategoryTransientRemote
}
