package errors

import (
	"fmt"
)

// PlanValidationError occurs when an operator's schema or types do not
// match its input. Fatal immediately, never retried.
type PlanValidationError struct {
	Node   string
	Reason string
}

// Error returns a textual representation of this PlanValidationError
func (e PlanValidationError) Error() string {
	return fmt.Sprintf("Plan validation failed at %s: %s", e.Node, e.Reason)
}

// ResourceExceededError occurs when a broadcast or build-side dataset
// grows past the configured memory ceiling. Fatal immediately, never retried.
type ResourceExceededError struct {
	StageID int
	Ceiling int64
	Size    int64
}

// Error returns a textual representation of this ResourceExceededError
func (e ResourceExceededError) Error() string {
	return fmt.Sprintf("Stage %d exceeded memory ceiling: %d bytes collected, ceiling is %d", e.StageID, e.Size, e.Ceiling)
}

// TaskExecutionError occurs when a worker task fails. Retried up to the
// configured bound before being promoted to a fatal query failure.
type TaskExecutionError struct {
	StageID  int
	TaskID   int
	Attempts int
	Cause    error
}

// Error returns a textual representation of this TaskExecutionError
func (e TaskExecutionError) Error() string {
	return fmt.Sprintf("Task %d of stage %d failed after %d attempt(s): %v", e.TaskID, e.StageID, e.Attempts, e.Cause)
}

// Unwrap returns the underlying cause of this TaskExecutionError
func (e TaskExecutionError) Unwrap() error {
	return e.Cause
}

// StageDependencyError occurs when an upstream stage never materializes,
// leaving a dependent stage unrunnable
type StageDependencyError struct {
	StageID      int
	DependencyID int
	Cause        error
}

// Error returns a textual representation of this StageDependencyError
func (e StageDependencyError) Error() string {
	return fmt.Sprintf("Stage %d cannot run: dependency stage %d never materialized: %v", e.StageID, e.DependencyID, e.Cause)
}

// Unwrap returns the underlying cause of this StageDependencyError
func (e StageDependencyError) Unwrap() error {
	return e.Cause
}

// NoMoreBatchesError occurs when a BatchIterator is exhausted
type NoMoreBatchesError struct{}

// Error returns a textual representation of this NoMoreBatchesError
func (e NoMoreBatchesError) Error() string {
	return "No more batches"
}

// IsNoMoreBatches returns true iff an error is a NoMoreBatchesError
func IsNoMoreBatches(err error) bool {
	_, ok := err.(NoMoreBatchesError)
	return ok
}
