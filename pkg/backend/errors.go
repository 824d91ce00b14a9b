package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrSchema is the base of all schema mismatches: missing columns,
	// wrong kinds, duplicate output names. Raised synchronously at the
	// call that caused it, never deferred into lazy execution.
	ErrSchema = errors.New("backend: schema mismatch")

	// ErrBindingMismatch is returned when an operation combines Handles
	// owned by different engine instances.
	ErrBindingMismatch = errors.New("backend: handles bound to different engine instances")

	// ErrOutOfResources is returned by Materialize when the engine's
	// resource budget is exhausted. New submissions are rejected rather
	// than degrading silently.
	ErrOutOfResources = errors.New("backend: engine resource budget exceeded")

	// ErrCancelled is returned by any operation on a Handle whose lineage
	// has been cancelled.
	ErrCancelled = errors.New("backend: handle cancelled")

	// ErrEngineExecution wraps a lower-level execution failure from a
	// specific engine. The original cause is preserved in the chain.
	ErrEngineExecution = errors.New("backend: engine execution failed")
)

// errClosed marks operations against a torn-down engine.
var errClosed = errors.New("engine closed")

// SchemaError carries the offending column and detail. Matches ErrSchema
// via errors.Is.
type SchemaError struct {
	Column string
	Detail string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("backend: schema mismatch: %s", e.Detail)
	}
	return fmt.Sprintf("backend: schema mismatch: column %q: %s", e.Column, e.Detail)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// BindingMismatchError names the two engines involved.
type BindingMismatchError struct {
	Left, Right string
}

func (e *BindingMismatchError) Error() string {
	return fmt.Sprintf("backend: handles bound to different engine instances (%s vs %s)", e.Left, e.Right)
}

func (e *BindingMismatchError) Unwrap() error { return ErrBindingMismatch }

// EngineExecutionError wraps an engine-level failure with the engine's
// identity. Cause is never swallowed.
type EngineExecutionError struct {
	Engine string
	Cause  error
}

func (e *EngineExecutionError) Error() string {
	return fmt.Sprintf("backend: engine %s execution failed: %v", e.Engine, e.Cause)
}

// Unwrap preserves the causal chain; Is additionally matches the
// ErrEngineExecution sentinel so callers can test for the kind without
// knowing the cause.
func (e *EngineExecutionError) Unwrap() error { return e.Cause }

func (e *EngineExecutionError) Is(target error) bool { return target == ErrEngineExecution }
