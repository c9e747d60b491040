// Package errors provides structured error handling for fileindexer.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file reads, watches)
//   - 4XX: Validation errors (arguments, queries)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and watch I/O errors.
	CategoryIO Category = "IO"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeFileUnreadable = "ERR_203_FILE_UNREADABLE"
	ErrCodeWatchFailed    = "ERR_204_WATCH_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidArgument = "ERR_401_INVALID_ARGUMENT"
	ErrCodeInvalidQuery    = "ERR_402_INVALID_QUERY"
	ErrCodeQueryEmpty      = "ERR_403_QUERY_EMPTY"
	ErrCodeInvalidPath     = "ERR_404_INVALID_PATH"
	ErrCodePathNotFound    = "ERR_405_PATH_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodeWatcherClosed = "ERR_502_WATCHER_CLOSED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeWatcherClosed:
		return SeverityFatal
	case ErrCodeFileNotFound, ErrCodeFileUnreadable, ErrCodeFilePermission, ErrCodePathNotFound, ErrCodeWatchFailed:
		// Per-item failures; the batch they belong to carries on.
		return SeverityWarning
	}
	return SeverityError
}
