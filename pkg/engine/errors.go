package engine

import "errors"

var (
	// ErrInvalidConfig is returned when the engine configuration is invalid
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrRecursiveLoad is returned when a chain re-enters its own load outside a multichain variant
	ErrRecursiveLoad = errors.New("recursive load")

	// ErrUnknownApp is returned when a document has an unsupported "app" discriminator
	ErrUnknownApp = errors.New("unknown app")
)
