package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wehubfusion/Daedalus/pkg/executor"
	"github.com/wehubfusion/Daedalus/pkg/settings"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticExecutor struct{ value string }

func (e staticExecutor) Execute(_ context.Context, _ executor.Input) (executor.Output, error) {
	out := executor.NewOutput()
	out.Set("value", e.value)
	return out, nil
}

func entry(id, value string) Entry {
	return Entry{
		Spec: &executor.Specification{ID: id, Name: id},
		Factory: func() (executor.Executor, error) {
			return staticExecutor{value: value}, nil
		},
	}
}

func TestRegistry_SessionIsolation(t *testing.T) {
	ctx := context.Background()
	r := New()

	require.NoError(t, r.Register(ctx, "s1", entry("blur", "one")))
	require.NoError(t, r.Register(ctx, "s2", entry("blur", "two")))
	require.NoError(t, r.Register(ctx, "s2", entry("sharpen", "three")))

	assert.Equal(t, []string{"blur"}, r.IDs("s1"))
	assert.Equal(t, []string{"blur", "sharpen"}, r.IDs("s2"))
	assert.Equal(t, []string{"s1", "s2"}, r.Sessions())

	exec, err := r.Create("s1", "blur")
	require.NoError(t, err)
	out, err := exec.Execute(ctx, executor.Input{})
	require.NoError(t, err)
	assert.Equal(t, "one", out.Ports["value"])

	_, err = r.Create("s1", "sharpen")
	assert.ErrorIs(t, err, ErrNotRegistered)

	assert.Equal(t, 2, r.RemoveSession(ctx, "s2"))
	assert.Equal(t, 0, r.Count("s2"))
	assert.Equal(t, 1, r.Count("s1"))
}

func TestRegistry_ReRegistrationReplaces(t *testing.T) {
	ctx := context.Background()
	var events []Event
	r := New(WithPublisher(PublisherFunc(func(_ context.Context, e Event) error {
		events = append(events, e)
		return nil
	})))

	require.NoError(t, r.Register(ctx, "s", entry("x", "old")))
	require.NoError(t, r.Register(ctx, "s", entry("x", "new")))
	assert.True(t, r.Unregister(ctx, "s", "x"))
	assert.False(t, r.Unregister(ctx, "s", "x"))

	require.Len(t, events, 3)
	assert.Equal(t, EventRegistered, events[0].Type)
	assert.False(t, events[0].Replaced)
	assert.True(t, events[1].Replaced)
	assert.Equal(t, EventUnregistered, events[2].Type)
	assert.False(t, events[2].Timestamp.IsZero())
}

func TestRegistry_PublishFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := New(
		WithLogger(zap.New(core)),
		WithPublisher(PublisherFunc(func(context.Context, Event) error { return errors.New("broker down") })),
	)

	require.NoError(t, r.Register(context.Background(), "s", entry("x", "v")))
	assert.Equal(t, 1, logs.FilterMessage("Failed to publish registry event").Len())
}

func TestRegistry_InvalidEntry(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.Register(context.Background(), "s", Entry{}), ErrInvalidEntry)
	assert.ErrorIs(t, r.Register(context.Background(), "s", Entry{Spec: &executor.Specification{ID: "x"}}), ErrInvalidEntry)
}

func TestRegistry_Resolver(t *testing.T) {
	spec, err := settings.Parse([]byte(`{"id": "sub", "controls": [{"name": "a", "value_type": "int"}]}`), "")
	require.NoError(t, err)
	b, err := settings.NewBuilder(spec, nil)
	require.NoError(t, err)

	r := New()
	require.NoError(t, r.Register(context.Background(), "s", Entry{
		Spec:    b.ExecutorSpecification(settings.KindCombine, settings.RoleOrdinary, nil),
		Factory: b.Factory(settings.KindCombine, settings.RoleOrdinary),
		Builder: b,
	}))

	found, ok := r.Resolver("s")("sub")
	require.True(t, ok)
	assert.Same(t, b, found)

	_, ok = r.Resolver("other")("sub")
	assert.False(t, ok)
}

func TestRegistry_BindOwner(t *testing.T) {
	spec, err := settings.Parse([]byte(`{"id": "main", "split_id": "main.split",
		"controls": [{"name": "a", "value_type": "int"}]}`), "")
	require.NoError(t, err)
	b, err := settings.NewBuilder(spec, nil)
	require.NoError(t, err)
	other, err := settings.NewBuilder(spec, nil)
	require.NoError(t, err)

	ctx := context.Background()
	r := New()
	owner := &executor.Owner{ContextID: 1, ContextName: "pipeline", ContextPath: "/defs/pipeline.json"}
	for _, kind := range b.Kinds() {
		require.NoError(t, r.Register(ctx, "s", Entry{
			Spec:    b.ExecutorSpecification(kind, settings.RoleMain, owner),
			Factory: b.Factory(kind, settings.RoleMain),
			Builder: b,
		}))
	}
	before, _ := r.Specification("s", "main")

	assert.ElementsMatch(t, []string{"main", "main.split"}, r.BindOwner("s", b, 7))
	for _, id := range []string{"main", "main.split"} {
		got, ok := r.Specification("s", id)
		require.True(t, ok)
		require.NotNil(t, got.Owner)
		assert.Equal(t, int64(7), got.Owner.ContextID)
		assert.Equal(t, "pipeline", got.Owner.ContextName)
	}
	assert.Equal(t, int64(1), before.Owner.ContextID, "specifications already handed out are not mutated")

	assert.Empty(t, r.BindOwner("s", other, 9))
	assert.Empty(t, r.BindOwner("missing", b, 9))
	got, _ := r.Specification("s", "main")
	assert.Equal(t, int64(7), got.Owner.ContextID)
}

func TestRegistry_ConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	r := New()

	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(session string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("exec-%d", i)
				assert.NoError(t, r.Register(ctx, session, entry(id, session)))
				_, ok := r.Lookup(session, id)
				assert.True(t, ok)
			}
		}(fmt.Sprintf("session-%d", s))
	}
	wg.Wait()

	for s := 0; s < 8; s++ {
		session := fmt.Sprintf("session-%d", s)
		assert.Equal(t, 50, r.Count(session))
		exec, err := r.Create(session, "exec-7")
		require.NoError(t, err)
		out, err := exec.Execute(ctx, executor.Input{})
		require.NoError(t, err)
		assert.Equal(t, session, out.Ports["value"])
	}
}
