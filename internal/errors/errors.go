package errors

import (
	"errors"
	"fmt"
	"io/fs"
)

// IndexerError is the structured error type for fileindexer.
// It carries enough context for logging and for presentation on the command line.
type IndexerError struct {
	// Code is the unique error code (e.g., "ERR_201_FILE_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *IndexerError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexerError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with IndexerError.
func (e *IndexerError) Is(target error) bool {
	if t, ok := target.(*IndexerError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *IndexerError) WithDetail(key, value string) *IndexerError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *IndexerError) WithSuggestion(suggestion string) *IndexerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IndexerError with the given code and message.
// Category and severity are derived from the code.
func New(code string, message string, cause error) *IndexerError {
	return &IndexerError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates an IndexerError from an existing error.
// The error's message becomes the IndexerError message.
func Wrap(code string, err error) *IndexerError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *IndexerError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ArgumentError reports a caller bug such as a blank path.
// These are surfaced immediately and never swallowed.
func ArgumentError(message string) *IndexerError {
	return New(ErrCodeInvalidArgument, message, nil)
}

// NotFoundError reports an operation on a path the index never reached.
func NotFoundError(path string) *IndexerError {
	return New(ErrCodePathNotFound, "path is not tracked: "+path, nil).WithDetail("path", path)
}

// IOError creates an I/O-related error. The code is chosen from the cause:
// missing files, permission problems, and everything else are told apart.
func IOError(message string, cause error) *IndexerError {
	code := ErrCodeFileUnreadable
	switch {
	case errors.Is(cause, fs.ErrNotExist):
		code = ErrCodeFileNotFound
	case errors.Is(cause, fs.ErrPermission):
		code = ErrCodeFilePermission
	}
	return New(code, message, cause)
}

// QueryError creates an error for a malformed query expression.
func QueryError(message string) *IndexerError {
	return New(ErrCodeInvalidQuery, message, nil)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *IndexerError {
	return New(ErrCodeInternal, message, cause)
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ie *IndexerError
	if errors.As(err, &ie) {
		return ie.Severity == SeverityFatal
	}
	return false
}

// IsCategory reports whether err is an IndexerError of the given category.
func IsCategory(err error, c Category) bool {
	return GetCategory(err) == c
}

// GetCode extracts the error code from an IndexerError.
// Returns empty string if not an IndexerError.
func GetCode(err error) string {
	var ie *IndexerError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// GetCategory extracts the category from an IndexerError.
// Returns empty string if not an IndexerError.
func GetCategory(err error) Category {
	var ie *IndexerError
	if errors.As(err, &ie) {
		return ie.Category
	}
	return ""
}
