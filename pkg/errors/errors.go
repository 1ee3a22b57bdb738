// Package errors defines the typed error kinds surfaced by the search
// engine. Every public operation either returns a well-formed result or
// one of these errors; collaborator failures (cache, persistence) are
// wrapped, never silently dropped.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrDuplicateDocument      = errors.New("document already indexed")
	ErrDocumentNotFound       = errors.New("document not found")
	ErrInvalidQuery           = errors.New("invalid query")
	ErrAnalysisConfigMismatch = errors.New("query analyzed under a different configuration than the index")
	ErrTimeout                = errors.New("operation timed out")
	ErrCancelled              = errors.New("operation cancelled")
	ErrJobNotFound            = errors.New("job not found")
	ErrInternal               = errors.New("internal error")
)

// AppError attaches a human-readable message and an HTTP status to one of
// the sentinel error kinds above.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// BulkError reports the identifiers that caused a batch ingest to fail.
// Batches are all-or-nothing: when a BulkError is returned, no document
// from the batch remains in the index.
type BulkError struct {
	Op          string
	DocumentIDs []string
	Err         error
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("%s failed for documents [%s]: %v",
		e.Op, strings.Join(e.DocumentIDs, ", "), e.Err)
}

func (e *BulkError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps an error to the status code the HTTP layer should
// return for it.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateDocument):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrAnalysisConfigMismatch):
		return http.StatusBadRequest
	case errors.Is(err, ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
