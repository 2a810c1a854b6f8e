// Package events publishes registry changes to NATS so that other processes
// (editors, schedulers) can refresh their view of the registered executors.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/registry"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "daedalus.registry"

// Conn is the subset of *nats.Conn used by the publisher.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSPublisher publishes registry events as JSON on
// "<subject>.<session id>.<event type>".
type NATSPublisher struct {
	conn       Conn
	subject    string
	maxRetries int
	retryWait  time.Duration
	logger     *zap.Logger
}

// Option configures a NATSPublisher.
type Option func(*NATSPublisher)

// WithSubject sets the subject prefix.
func WithSubject(subject string) Option {
	return func(p *NATSPublisher) {
		if subject != "" {
			p.subject = subject
		}
	}
}

// WithRetries sets how many times a failed publish is retried.
func WithRetries(maxRetries int, wait time.Duration) Option {
	return func(p *NATSPublisher) {
		p.maxRetries = maxRetries
		p.retryWait = wait
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *NATSPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewNATSPublisher creates a publisher over an established connection.
func NewNATSPublisher(conn Conn, opts ...Option) *NATSPublisher {
	p := &NATSPublisher{
		conn:       conn,
		subject:    DefaultSubject,
		maxRetries: 3,
		retryWait:  time.Second,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(event registry.Event) string {
	return fmt.Sprintf("%s.%s.%s", p.subject, token(event.SessionID), event.Type)
}

// Publish implements registry.Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, event registry.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal registry event: %w", err)
	}
	msg := nats.NewMsg(p.Subject(event))
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled: %w", ctx.Err())
			case <-time.After(p.retryWait):
			}
		}
		if lastErr = p.conn.PublishMsg(msg); lastErr == nil {
			return nil
		}
		p.logger.Debug("Retrying registry event publish",
			zap.String("subject", msg.Subject),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return fmt.Errorf("failed to publish registry event after %d attempts: %w", p.maxRetries+1, lastErr)
}

// token makes a session id usable as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

var _ registry.Publisher = (*NATSPublisher)(nil)
