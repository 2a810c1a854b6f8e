package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/registry"
)

type fakeConn struct {
	failures int
	messages []*nats.Msg
}

func (c *fakeConn) PublishMsg(msg *nats.Msg) error {
	if c.failures > 0 {
		c.failures--
		return nats.ErrConnectionClosed
	}
	c.messages = append(c.messages, msg)
	return nil
}

func TestNATSPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, WithSubject("test.registry"))

	err := p.Publish(context.Background(), registry.Event{
		Type:       registry.EventRegistered,
		SessionID:  "a.b",
		ExecutorID: "blur",
	})
	require.NoError(t, err)
	require.Len(t, conn.messages, 1)

	msg := conn.messages[0]
	assert.Equal(t, "test.registry.a_b.registered", msg.Subject)
	assert.Equal(t, "application/json", msg.Header.Get("Content-Type"))

	var decoded registry.Event
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, "blur", decoded.ExecutorID)
}

func TestNATSPublisher_Retries(t *testing.T) {
	conn := &fakeConn{failures: 2}
	p := NewNATSPublisher(conn, WithRetries(2, time.Millisecond))

	require.NoError(t, p.Publish(context.Background(), registry.Event{Type: registry.EventUnregistered, SessionID: "s"}))
	assert.Len(t, conn.messages, 1)

	conn.failures = 5
	err := p.Publish(context.Background(), registry.Event{Type: registry.EventUnregistered, SessionID: "s"})
	assert.True(t, errors.Is(err, nats.ErrConnectionClosed))
}

func TestNATSPublisher_RegistryIntegration(t *testing.T) {
	conn := &fakeConn{}
	r := registry.New(registry.WithPublisher(NewNATSPublisher(conn)))

	r.RemoveSession(context.Background(), "session")
	require.Len(t, conn.messages, 1)
	assert.Equal(t, DefaultSubject+".session.session_removed", conn.messages[0].Subject)
}
