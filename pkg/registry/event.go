package registry

import (
	"context"
	"time"
)

// EventType identifies a registry change.
type EventType string

// Registry event types
const (
	EventRegistered     EventType = "registered"
	EventUnregistered   EventType = "unregistered"
	EventSessionRemoved EventType = "session_removed"
)

// Event describes one registry change.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id"`
	ExecutorID string    `json:"executor_id,omitempty"`
	Name       string    `json:"name,omitempty"`
	Replaced   bool      `json:"replaced,omitempty"`
	Count      int       `json:"count,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher receives registry events. Publishing failures are logged and never
// fail the registry operation.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, event Event) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
