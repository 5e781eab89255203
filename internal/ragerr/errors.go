package ragerr

import (
	"fmt"
)

// Error is the structured error type for ragserve.
// It carries enough context for logging, HTTP mapping, and user presentation.
type Error struct {
	// Code is the unique error code (e.g., "ERR_402_DIMENSION_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Backend, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code, enabling errors.Is against the package sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error from an existing error, preserving the chain.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Validation creates an input validation error.
func Validation(message string) *Error {
	return New(CodeInvalidInput, message, nil)
}

// Validationf creates a formatted input validation error.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeInvalidInput, format, args...)
}

// Immutable creates an error for a config patch touching a frozen field.
func Immutable(field string) *Error {
	return Newf(CodeImmutableField, "field %q is immutable and cannot be updated at runtime", field).
		WithDetail("field", field).
		WithSuggestion("recreate the collection to change embedding or storage settings")
}

// DimensionMismatch creates an error for a vector of the wrong width.
func DimensionMismatch(expected, got int) *Error {
	return Newf(CodeDimensionMismatch, "vector dimension mismatch: expected %d, got %d", expected, got).
		WithDetail("expected", fmt.Sprintf("%d", expected)).
		WithDetail("got", fmt.Sprintf("%d", got))
}

// BackendUnavailable wraps a transport failure talking to the model backend.
func BackendUnavailable(backend string, cause error) *Error {
	e := Wrap(CodeBackendUnavailable, cause)
	if e == nil {
		e = New(CodeBackendUnavailable, "backend unavailable", nil)
	}
	return e.WithDetail("backend", backend).
		WithSuggestion("check that the model backend is running and reachable")
}

// ModelMissing reports a model the backend does not have pulled.
func ModelMissing(model string) *Error {
	return Newf(CodeModelMissing, "model %q is not available on the backend", model).
		WithDetail("model", model).
		WithSuggestion(fmt.Sprintf("pull the model first: ollama pull %s", model))
}

// EmptyDocument reports a document that produced no chunkable content.
func EmptyDocument(docID string) *Error {
	return Newf(CodeEmptyDocument, "document %q contains no indexable content", docID).
		WithDetail("doc_id", docID)
}

// Internal creates an internal error.
func Internal(message string, cause error) *Error {
	return New(CodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if re, ok := err.(*Error); ok {
		return re.Retryable
	}
	return false
}

// GetCode extracts the error code from an Error anywhere in the chain.
// Returns empty string if no Error is present.
func GetCode(err error) string {
	for err != nil {
		if re, ok := err.(*Error); ok {
			return re.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// GetCategory extracts the category from an Error.
func GetCategory(err error) Category {
	if re, ok := err.(*Error); ok {
		return re.Category
	}
	return ""
}
