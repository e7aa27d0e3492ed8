package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means a required client was not initialised.
	ErrUnavailable = errors.New("client unavailable")
	// ErrInvalidRequest means the request matched no known operation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEmptyDocument means extraction produced no text.
	ErrEmptyDocument = errors.New("document has no extractable text")
	// ErrNotPDF means the object is not a PDF.
	ErrNotPDF = errors.New("object is not a PDF")
	// ErrDimensionMismatch means an embedding length differs from the collection dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmptyQuery means the query text was blank.
	ErrEmptyQuery = errors.New("query is empty")
)

// ValidationError wraps a sentinel with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
