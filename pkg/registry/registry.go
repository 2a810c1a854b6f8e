// Package registry keeps the executors registered per session. Sessions are
// fully isolated: registrations in one session are invisible to the others.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/executor"
	"github.com/wehubfusion/Daedalus/pkg/settings"
)

var (
	// ErrNotRegistered is returned when no executor is registered under an id
	ErrNotRegistered = errors.New("executor not registered")

	// ErrInvalidEntry is returned when an entry lacks its specification or factory
	ErrInvalidEntry = errors.New("invalid registry entry")
)

// Entry is one registered executor.
type Entry struct {
	Spec    *executor.Specification
	Factory executor.Factory

	// Builder is set for executors derived from a settings unit.
	Builder *settings.Builder
}

// Registry maps (session id, executor id) to entries.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]map[string]Entry
	publisher Publisher
	logger    *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithPublisher sets the publisher notified of registry changes.
func WithPublisher(p Publisher) Option {
	return func(r *Registry) {
		r.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]map[string]Entry),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an entry to a session. An existing entry with the same id is
// replaced, which is how reloaded specifications take effect.
func (r *Registry) Register(ctx context.Context, sessionID string, entry Entry) error {
	if entry.Spec == nil || entry.Spec.ID == "" || entry.Factory == nil {
		return ErrInvalidEntry
	}
	id := entry.Spec.ID

	r.mu.Lock()
	entries, ok := r.sessions[sessionID]
	if !ok {
		entries = make(map[string]Entry)
		r.sessions[sessionID] = entries
	}
	_, replaced := entries[id]
	entries[id] = entry
	r.mu.Unlock()

	r.logger.Debug("Registered executor",
		zap.String("session_id", sessionID),
		zap.String("executor_id", id),
		zap.Bool("replaced", replaced))
	r.publish(ctx, Event{
		Type:       EventRegistered,
		SessionID:  sessionID,
		ExecutorID: id,
		Name:       entry.Spec.Name,
		Replaced:   replaced,
	})
	return nil
}

// Lookup returns the entry registered under id.
func (r *Registry) Lookup(sessionID, id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sessionID][id]
	return entry, ok
}

// Specification returns the executor specification registered under id.
func (r *Registry) Specification(sessionID, id string) (*executor.Specification, bool) {
	entry, ok := r.Lookup(sessionID, id)
	if !ok {
		return nil, false
	}
	return entry.Spec, true
}

// Builder returns the settings builder of the entry registered under id.
func (r *Registry) Builder(sessionID, id string) (*settings.Builder, bool) {
	entry, ok := r.Lookup(sessionID, id)
	if !ok || entry.Builder == nil {
		return nil, false
	}
	return entry.Builder, true
}

// Resolver returns a settings resolver bound to one session.
func (r *Registry) Resolver(sessionID string) settings.Resolver {
	return func(id string) (*settings.Builder, bool) {
		return r.Builder(sessionID, id)
	}
}

// Create instantiates the executor registered under id.
func (r *Registry) Create(sessionID, id string) (executor.Executor, error) {
	entry, ok := r.Lookup(sessionID, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s (session %s)", ErrNotRegistered, id, sessionID)
	}
	exec, err := entry.Factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create executor %s: %w", id, err)
	}
	return exec, nil
}

// BindOwner points the owner reference of the executors derived from b at
// the chain instance contextID. Only owned entries still registered with b
// are touched. It returns the ids of the rebound entries.
func (r *Registry) BindOwner(sessionID string, b *settings.Builder, contextID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.sessions[sessionID]
	var ids []string
	for _, kind := range b.Kinds() {
		id := b.ExecutorID(kind)
		entry, ok := entries[id]
		if !ok || entry.Builder != b || entry.Spec.Owner == nil {
			continue
		}
		spec := entry.Spec.Clone()
		spec.Owner.ContextID = contextID
		entry.Spec = spec
		entries[id] = entry
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		r.logger.Debug("Bound settings owner",
			zap.String("session_id", sessionID),
			zap.String("settings_id", b.ID()),
			zap.Int64("context_id", contextID))
	}
	return ids
}

// Unregister removes an entry. It reports whether an entry was removed.
func (r *Registry) Unregister(ctx context.Context, sessionID, id string) bool {
	r.mu.Lock()
	entries := r.sessions[sessionID]
	_, exists := entries[id]
	if exists {
		delete(entries, id)
	}
	r.mu.Unlock()

	if exists {
		r.publish(ctx, Event{Type: EventUnregistered, SessionID: sessionID, ExecutorID: id})
	}
	return exists
}

// RemoveSession drops every entry of a session and returns how many were removed.
func (r *Registry) RemoveSession(ctx context.Context, sessionID string) int {
	r.mu.Lock()
	n := len(r.sessions[sessionID])
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	r.publish(ctx, Event{Type: EventSessionRemoved, SessionID: sessionID, Count: n})
	return n
}

// IDs returns the registered executor ids of a session, sorted.
func (r *Registry) IDs(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions[sessionID]))
	for id := range r.sessions[sessionID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of entries in a session.
func (r *Registry) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// Sessions returns the ids of sessions that have entries, sorted.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id, entries := range r.sessions {
		if len(entries) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) publish(ctx context.Context, event Event) {
	if r.publisher == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("Failed to publish registry event",
			zap.String("type", string(event.Type)),
			zap.String("session_id", event.SessionID),
			zap.String("executor_id", event.ExecutorID),
			zap.Error(err))
	}
}
