package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownValueType is returned when a control declares a value type that is not supported
	ErrUnknownValueType = errors.New("unknown value type")

	// ErrUnknownEditionType is returned when a control declares an unsupported edition type
	ErrUnknownEditionType = errors.New("unknown edition type")

	// ErrUnknownPortType is returned when a port declares an unsupported value type
	ErrUnknownPortType = errors.New("unknown port type")

	// ErrInvalidValue is returned when a value cannot be converted to the value type of a control
	ErrInvalidValue = errors.New("invalid value")

	// ErrInvalidParameter is returned when a runtime parameter has an unusable value
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidSpecification is returned when an executor specification is structurally invalid
	ErrInvalidSpecification = errors.New("invalid executor specification")
)

// ParameterError describes a parameter that could not be interpreted.
type ParameterError struct {
	Name  string
	Value any
	Cause error
}

// Error implements the error interface
func (e *ParameterError) Error() string {
	return fmt.Sprintf("parameter %q has invalid value %v: %v", e.Name, e.Value, e.Cause)
}

// Unwrap returns the underlying error
func (e *ParameterError) Unwrap() error {
	return e.Cause
}

// Is reports ErrInvalidParameter for every ParameterError.
func (e *ParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}
