package method

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateName is returned when registering a method whose
	// name+version is already present.
	ErrDuplicateName = errors.New("method: name and version already registered")

	// ErrNotFound is returned when looking up an unregistered method.
	ErrNotFound = errors.New("method: not registered")

	// ErrConfigValidation is the base of all configuration failures:
	// unknown keys, missing required keys, type or range violations.
	ErrConfigValidation = errors.New("method: configuration invalid")

	// ErrTerminal is returned when driving an Execution Context that has
	// already reached Succeeded or Failed.
	ErrTerminal = errors.New("method: execution context already finished")
)

// ConfigValidationError names the offending parameter. Matches
// ErrConfigValidation via errors.Is.
type ConfigValidationError struct {
	Param  string
	Detail string
}

func (e *ConfigValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("method: configuration invalid: %s", e.Detail)
	}
	return fmt.Sprintf("method: configuration invalid: parameter %q: %s", e.Param, e.Detail)
}

func (e *ConfigValidationError) Unwrap() error { return ErrConfigValidation }
