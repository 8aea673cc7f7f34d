// Package domain defines core types, interfaces, and errors for the query telemetry engine.
package domain

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid configuration or request input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict, e.g. a run already in progress for a window.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// InvalidInputError marks a single raw record as malformed. The record is
// skipped and counted; the pass continues.
type InvalidInputError struct {
	RecordID string
	Message  string
}

func (e *InvalidInputError) Error() string {
	if e.RecordID == "" {
		return "invalid input: " + e.Message
	}
	return fmt.Sprintf("invalid input (record %s): %s", e.RecordID, e.Message)
}

// TransientSourceError indicates the telemetry source is temporarily
// unavailable. The orchestrator retries it with backoff.
type TransientSourceError struct {
	Err error
}

func (e *TransientSourceError) Error() string {
	return "telemetry source unavailable: " + e.Err.Error()
}

func (e *TransientSourceError) Unwrap() error { return e.Err }

// MergeConflictError indicates write contention on the store. The pass
// transaction is retried from scratch.
type MergeConflictError struct {
	Err error
}

func (e *MergeConflictError) Error() string { return "merge conflict: " + e.Err.Error() }

func (e *MergeConflictError) Unwrap() error { return e.Err }

// FatalRunError aborts a pass. The run is marked FAILED and nothing from the
// window is committed.
type FatalRunError struct {
	RunID string
	Stage string
	Err   error
}

func (e *FatalRunError) Error() string {
	return fmt.Sprintf("run %s failed during %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *FatalRunError) Unwrap() error { return e.Err }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidInput creates an InvalidInputError for the given record.
func ErrInvalidInput(recordID, format string, args ...interface{}) *InvalidInputError {
	return &InvalidInputError{RecordID: recordID, Message: fmt.Sprintf(format, args...)}
}

// IsInvalidInput reports whether err is (or wraps) an InvalidInputError.
func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return errors.As(err, &target)
}

// IsTransient reports whether err is (or wraps) a TransientSourceError.
func IsTransient(err error) bool {
	var target *TransientSourceError
	return errors.As(err, &target)
}

// IsMergeConflict reports whether err is (or wraps) a MergeConflictError.
func IsMergeConflict(err error) bool {
	var target *MergeConflictError
	return errors.As(err, &target)
}
