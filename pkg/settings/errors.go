package settings

import (
	"errors"
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/executor"
)

var (
	// ErrInvalidSpecification is returned when a settings document cannot be turned into a specification
	ErrInvalidSpecification = errors.New("invalid settings specification")

	// ErrMissingID is returned when a settings document has no id
	ErrMissingID = errors.New("missing settings id")

	// ErrInvalidKey is returned when a mapping key is neither an identifier, an integer nor a range
	ErrInvalidKey = errors.New("invalid mapping key")

	// ErrEmptyMapping is returned when a mapping declares keys but none remain after filtering
	ErrEmptyMapping = errors.New("mapping has no keys")

	// ErrReservedControlName is returned when a control uses a name reserved for system parameters
	ErrReservedControlName = errors.New("reserved control name")

	// ErrDuplicateControl is returned when two controls of one specification share a name
	ErrDuplicateControl = errors.New("duplicate control name")

	// ErrInvalidSettingsJSON is returned when override or input settings are not a JSON object
	ErrInvalidSettingsJSON = errors.New("invalid settings JSON")

	// ErrInvalidParameter is returned when a parameter value cannot be converted to its control type
	ErrInvalidParameter = executor.ErrInvalidParameter

	// ErrUnknownPathProperty is returned when a path contains an unknown ${...} placeholder
	ErrUnknownPathProperty = errors.New("unknown path property")

	// ErrUnresolvedSubSettings is returned when a settings control references a builder that is not registered
	ErrUnresolvedSubSettings = errors.New("unresolved sub-settings")

	// ErrMissingSettingsInput is returned when a split executor runs without its settings input
	ErrMissingSettingsInput = errors.New("settings input is not initialized")
)

// SpecificationError reports a settings specification that failed to load.
type SpecificationError struct {
	Path  string
	Field string
	Err   error
}

// Error implements the error interface
func (e *SpecificationError) Error() string {
	source := e.Path
	if source == "" {
		source = "<inline>"
	}
	if e.Field != "" {
		return fmt.Sprintf("settings specification %s: field %q: %v", source, e.Field, e.Err)
	}
	return fmt.Sprintf("settings specification %s: %v", source, e.Err)
}

// Unwrap returns the underlying error
func (e *SpecificationError) Unwrap() error {
	return e.Err
}

// Is matches ErrInvalidSpecification for every specification error.
func (e *SpecificationError) Is(target error) bool {
	return target == ErrInvalidSpecification
}
