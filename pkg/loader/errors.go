package loader

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateID is returned when two loaded specifications share an id
	ErrDuplicateID = errors.New("duplicate id")

	// ErrNoSettings is returned when loading main settings produced no executor
	ErrNoSettings = errors.New("no settings found")

	// ErrMainSettingsPaths is returned when main settings are loaded from more than one path
	ErrMainSettingsPaths = errors.New("main settings must be loaded from exactly one path")
)

// DuplicateIDError reports two definitions that share an id. First and Second
// name the conflicting definitions.
type DuplicateIDError struct {
	ID     string
	First  string
	Second string
}

// Error implements the error interface
func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate id %q: %s and %s", e.ID, e.First, e.Second)
}

// Unwrap returns ErrDuplicateID
func (e *DuplicateIDError) Unwrap() error {
	return ErrDuplicateID
}
