package multichain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMultiChain is returned when a multichain document cannot be turned into a model
	ErrInvalidMultiChain = errors.New("invalid multichain")

	// ErrIncompatibleChain is returned when a variant does not honor the port contract of its multichain
	ErrIncompatibleChain = errors.New("incompatible chain")

	// ErrNoVariants is returned when a multichain resolves no chain variant
	ErrNoVariants = errors.New("multichain has no chain variants")

	// ErrUnknownVariant is returned when a variant id is not part of the multichain
	ErrUnknownVariant = errors.New("unknown chain variant")

	// ErrBlockedVariant is returned when the selected variant was blocked by a recursive reference
	ErrBlockedVariant = errors.New("chain variant is blocked")

	// ErrInvalidVariantName is returned when a variant name cannot be used as a parameter name
	ErrInvalidVariantName = errors.New("invalid chain variant name")

	// ErrControlCollision is returned when a variant name collides with a multichain control
	ErrControlCollision = errors.New("control name collides with chain variant")

	// ErrClosed is returned when a closed multichain instance is used
	ErrClosed = errors.New("multichain is closed")
)

// ModelError reports a multichain document that failed to load.
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
		return fmt.Sprintf("multichain %s: field %q: %v", source, e.Field, e.Err)
	}
	return fmt.Sprintf("multichain %s: %v", source, e.Err)
}

// Unwrap returns the underlying error
func (e *ModelError) Unwrap() error {
	return e.Err
}

// Is matches ErrInvalidMultiChain for every model error.
func (e *ModelError) Is(target error) bool {
	return target == ErrInvalidMultiChain
}

// DuplicateNameError reports two chain variants sharing a name.
type DuplicateNameError struct {
	Name   string
	First  string
	Second string
}

// Error implements the error interface
func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate chain variant name %q: %s and %s", e.Name, e.First, e.Second)
}

// IncompatibleChainError reports a variant port that violates the multichain contract.
type IncompatibleChainError struct {
	MultiChain     string
	Implementation string
	Port           string
	Direction      string
	Reason         string
}

// Error implements the error interface
func (e *IncompatibleChainError) Error() string {
	return fmt.Sprintf("multichain %s: implementation %s: %s port %q: %s",
		e.MultiChain, e.Implementation, e.Direction, e.Port, e.Reason)
}

// Unwrap returns ErrIncompatibleChain
func (e *IncompatibleChainError) Unwrap() error {
	return ErrIncompatibleChain
}
