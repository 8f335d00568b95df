package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrLayerNotFound      = fmt.Errorf("layer: %w", ErrNotFound)
	ErrTileNotFound       = fmt.Errorf("tile: %w", ErrNotFound)
	ErrAttributeNotFound  = fmt.Errorf("attribute: %w", ErrNotFound)
	ErrUnsupportedBackend = fmt.Errorf("backend: %w", ErrUnsupported)
	ErrInvalidLocation    = fmt.Errorf("location: %w", ErrInvalidInput)
	ErrBackendUnavailable = fmt.Errorf("backend: %w", ErrUnavailable)
)

// LocationError reports a malformed or unsupported catalog location string.
type LocationError struct {
	Location string // The offending location string
	Field    string // Address component that is missing or malformed
	Message  string // Human-readable message
}

// Error implements the error interface.
func (e *LocationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid location %q: %s: %s", e.Location, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid location %q: %s", e.Location, e.Message)
}

// Unwrap returns the underlying error type.
func (e *LocationError) Unwrap() error {
	return ErrInvalidLocation
}

// BackendError reports a failure constructing or calling a storage backend.
type BackendError struct {
	Backend   string // Backend scheme (file, s3, cassandra, ...)
	Operation string // Operation that failed (connect, read, write, ...)
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// FilterError reports an unsupported geometry filter supplied to a query.
// It is raised before any backend call is made.
type FilterError struct {
	Value interface{} // The offending filter value
}

// Error implements the error interface.
func (e *FilterError) Error() string {
	return fmt.Sprintf("unsupported query geometry: %T (%v)", e.Value, e.Value)
}

// Unwrap returns the underlying error type.
func (e *FilterError) Unwrap() error {
	return ErrInvalidInput
}

// QueryError reports an error during a layer query.
type QueryError struct {
	Layer string // Layer name
	Zoom  int    // Zoom level
	Err   error  // Underlying error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query error for layer %s at zoom %d: %v", e.Layer, e.Zoom, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}
