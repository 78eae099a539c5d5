package domain

import (
	"errors"
	"fmt"
)

// Error classes. HTTP status mapping and callers test against these with
// errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrUnavailable  = errors.New("service unavailable")
)

var (
	ErrSourceNotFound        = fmt.Errorf("source: %w", ErrNotFound)
	ErrRecordNotFound        = fmt.Errorf("record: %w", ErrNotFound)
	ErrCollectionNotFound    = fmt.Errorf("collection: %w", ErrNotFound)
	ErrUnsupportedProjection = fmt.Errorf("projection: %w", ErrUnsupported)
	ErrUnsupportedFilter     = fmt.Errorf("filter: %w", ErrUnsupported)
	ErrNotConnected          = fmt.Errorf("store not connected: %w", ErrUnavailable)
)

// ErrStoreQuery matches every QueryError.
var ErrStoreQuery = errors.New("store query failed")

// ErrMalformedRecord matches every MalformedRecordError.
var ErrMalformedRecord = errors.New("malformed record")

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// QueryError represents a failure reported by a record store.
type QueryError struct {
	Source     string // Source name
	Collection string // Collection or table name
	Operation  string // find, findOne, stream
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("%s failed for source %s, collection %s: %v",
			e.Operation, e.Source, e.Collection, e.Err)
	}
	return fmt.Sprintf("%s failed for source %s: %v", e.Operation, e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrStoreQuery.
func (e *QueryError) Is(target error) bool {
	return target == ErrStoreQuery
}

// MalformedRecordError is returned for a record that can not be turned into a
// feature, most commonly because it has neither a geometry nor a centroid.
type MalformedRecordError struct {
	RecordID interface{} // Store identifier, if known
	Reason   string      // What is wrong with the record
}

// Error implements the error interface.
func (e *MalformedRecordError) Error() string {
	if e.RecordID != nil {
		return fmt.Sprintf("malformed record %v: %s", e.RecordID, e.Reason)
	}
	return fmt.Sprintf("malformed record: %s", e.Reason)
}

// Unwrap returns ErrMalformedRecord.
func (e *MalformedRecordError) Unwrap() error {
	return ErrMalformedRecord
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IndexError represents an error while building a spatial index for a collection.
type IndexError struct {
	Dataset    string // Dataset file
	Collection string // Collection name
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("index error for collection %s in dataset %s: %v",
		e.Collection, e.Dataset, e.Err)
}

// Unwrap returns the underlying error.
func (e *IndexError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
