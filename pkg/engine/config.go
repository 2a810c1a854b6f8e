package engine

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/contextid"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/registry"
)

// Environment variables read by LoadConfigFromEnv, in addition to those of
// concurrency.LoadConfig.
const (
	EnvContextIDBase = "DAEDALUS_CONTEXT_ID_BASE"
	EnvEventsSubject = "DAEDALUS_EVENTS_SUBJECT"
	EnvRecursiveScan = "DAEDALUS_RECURSIVE_SCAN"
)

// Config holds configuration for the engine
type Config struct {
	// MaxConcurrentLoads bounds the number of paths LoadAll loads in parallel
	MaxConcurrentLoads int

	// ContextIDBase is the first context id handed out (0 means contextid.DefaultBase)
	ContextIDBase int64

	// RecursiveScan makes directory loads descend into sub-directories
	RecursiveScan bool

	// EventsSubject is the subject prefix used when registry events are published over NATS
	EventsSubject string

	// Logger is the engine logger (optional, nil disables logging)
	Logger *zap.Logger

	// Publisher receives registry events (optional)
	Publisher registry.Publisher
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrentLoads: concurrency.LoadConfig().MaxConcurrentLoads,
		ContextIDBase:      contextid.DefaultBase,
		EventsSubject:      events.DefaultSubject,
	}
}

// LoadConfigFromEnv returns the default configuration overridden by DAEDALUS_* variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv(EnvContextIDBase); v != "" {
		base, err := strconv.ParseInt(v, 0, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvContextIDBase, v)
		}
		cfg.ContextIDBase = base
	}
	if v := os.Getenv(EnvEventsSubject); v != "" {
		cfg.EventsSubject = v
	}
	if v := os.Getenv(EnvRecursiveScan); v != "" {
		recursive, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvRecursiveScan, v)
		}
		cfg.RecursiveScan = recursive
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration and applies defaults to unset fields
func (c *Config) Validate() error {
	if c.MaxConcurrentLoads < 0 {
		return fmt.Errorf("%w: max concurrent loads must not be negative", ErrInvalidConfig)
	}
	if c.MaxConcurrentLoads == 0 {
		c.MaxConcurrentLoads = 1
	}
	if c.ContextIDBase < 0 {
		return fmt.Errorf("%w: context id base must not be negative", ErrInvalidConfig)
	}
	if c.EventsSubject == "" {
		c.EventsSubject = events.DefaultSubject
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// WithLogger returns a copy of the configuration using logger
func (c Config) WithLogger(logger *zap.Logger) Config {
	c.Logger = logger
	return c
}

// WithPublisher returns a copy of the configuration publishing registry events to p
func (c Config) WithPublisher(p registry.Publisher) Config {
	c.Publisher = p
	return c
}

// WithMaxConcurrentLoads returns a copy of the configuration with a load limit
func (c Config) WithMaxConcurrentLoads(n int) Config {
	c.MaxConcurrentLoads = n
	return c
}

// WithContextIDBase returns a copy of the configuration with a context id base
func (c Config) WithContextIDBase(base int64) Config {
	c.ContextIDBase = base
	return c
}

// WithRecursiveScan returns a copy of the configuration scanning directories recursively
func (c Config) WithRecursiveScan(recursive bool) Config {
	c.RecursiveScan = recursive
	return c
}
