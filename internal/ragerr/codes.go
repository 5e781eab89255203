// Package ragerr provides structured error handling for ragserve.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and storage errors
//   - 3XX: Backend (network) errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package ragerr

import "net/http"

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk, and store I/O errors.
	CategoryIO Category = "IO"
	// CategoryBackend indicates errors talking to the model backend.
	CategoryBackend Category = "BACKEND"
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
	CodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	CodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	CodeImmutableField = "ERR_103_IMMUTABLE_FIELD"

	// IO errors (200-299)
	CodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	CodeCorruptIndex = "ERR_202_CORRUPT_INDEX"
	CodeStoreFailed  = "ERR_203_STORE_FAILED"

	// Backend errors (300-399)
	CodeBackendTimeout     = "ERR_301_BACKEND_TIMEOUT"
	CodeBackendUnavailable = "ERR_302_BACKEND_UNAVAILABLE"
	CodeModelMissing       = "ERR_303_MODEL_MISSING"

	// Validation errors (400-499)
	CodeInvalidInput      = "ERR_401_INVALID_INPUT"
	CodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	CodeEmptyDocument     = "ERR_403_EMPTY_DOCUMENT"
	CodeQueryEmpty        = "ERR_404_QUERY_EMPTY"

	// Internal errors (500-599)
	CodeInternal        = "ERR_501_INTERNAL"
	CodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	CodeGenerateFailed  = "ERR_503_GENERATE_FAILED"
)

// Sentinel errors for use with errors.Is. Matching is by code, so any
// *Error carrying the same code satisfies Is against these.
var (
	ErrValidation         = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrNotFound           = &Error{Code: CodeFileNotFound, Message: "not found"}
	ErrImmutableField     = &Error{Code: CodeImmutableField, Message: "immutable field"}
	ErrDimensionMismatch  = &Error{Code: CodeDimensionMismatch, Message: "dimension mismatch"}
	ErrBackendUnavailable = &Error{Code: CodeBackendUnavailable, Message: "backend unavailable"}
	ErrModelMissing       = &Error{Code: CodeModelMissing, Message: "model missing"}
	ErrEmptyDocument      = &Error{Code: CodeEmptyDocument, Message: "empty document"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "internal error"}
)

// HTTPStatus maps an error to the HTTP status the control surface reports.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case CodeInvalidInput, CodeEmptyDocument, CodeQueryEmpty, CodeImmutableField, CodeConfigInvalid:
		return http.StatusBadRequest
	case CodeFileNotFound, CodeConfigNotFound:
		return http.StatusNotFound
	case CodeBackendTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if code == CodeCorruptIndex {
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case CodeBackendTimeout, CodeBackendUnavailable:
		return true
	default:
		return false
	}
}
