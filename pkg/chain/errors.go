package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidChain is returned when a chain document cannot be turned into a model
	ErrInvalidChain = errors.New("invalid chain")

	// ErrUnknownExecutor is returned when a block references an executor that is not registered
	ErrUnknownExecutor = errors.New("unknown executor")

	// ErrNoMainSettings is returned when main settings are required but the chain has none
	ErrNoMainSettings = errors.New("chain has no main settings")

	// ErrClosed is returned when a closed chain instance is used
	ErrClosed = errors.New("chain is closed")
)

// ModelError reports a chain document that failed to load.
type ModelError struct {
	Path  string
	Field string
	Err   error
}

// Error implements the error interface
func (e *ModelError) Error() string {
	source := e.Path
	if source == "" {
		source = "<inline>"
	}
	if e.Field != "" {
		return fmt.Sprintf("chain %s: field %q: %v", source, e.Field, e.Err)
	}
	return fmt.Sprintf("chain %s: %v", source, e.Err)
}

// Unwrap returns the underlying error
func (e *ModelError) Unwrap() error {
	return e.Err
}

// Is matches ErrInvalidChain for every model error.
func (e *ModelError) Is(target error) bool {
	return target == ErrInvalidChain
}
