package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gracegarden/community-hub/internal/domain/shared"
)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})
}

func TestInMemoryEventBus_DeliversByType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var levelUps, all int
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error {
		levelUps++
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		all++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", "seed", "sprout", 100)))
	require.NoError(t, bus.Publish(shared.NewXPGainedEvent("u1", 25, 125, "content_completed", "c1")))

	assert.Equal(t, 1, levelUps)
	assert.Equal(t, 2, all)
	assert.Equal(t, int64(1), bus.Metrics().Published(shared.EventLevelUp))
}

func TestInMemoryEventBus_HandlerFailuresDoNotReachPublisher(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("worse") }))

	assert.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", "seed", "sprout", 100)))

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalHandlerExecs)
	assert.Equal(t, int64(2), snap.HandlerFailures)
}

func TestInMemoryEventBus_AsyncWaitsOnClose(t *testing.T) {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.WorkerPoolSize = 2
	bus := NewInMemoryEventBus(cfg)

	var (
		mu   sync.Mutex
		seen int
	)
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(shared.NewXPGainedEvent("u1", 5, 5*(i+1), "comment_posted", "")))
	}
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, seen)
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewLevelUpEvent("u1", "seed", "sprout", 100)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

// fakePubSub is an in-process stand-in for Redis Pub/Sub shared by several buses.
type fakePubSub struct {
	mu          sync.Mutex
	subscribers []chan RedisMessage
	publishErr  error
}

type fakeClient struct{ hub *fakePubSub }

func (c fakeClient) Publish(_ context.Context, channel string, payload []byte) error {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.hub.publishErr != nil {
		return c.hub.publishErr
	}
	for _, ch := range c.hub.subscribers {
		ch <- RedisMessage{Channel: channel, Payload: string(payload)}
	}
	return nil
}

func (c fakeClient) Subscribe(_ context.Context, _ ...string) (<-chan RedisMessage, error) {
	ch := make(chan RedisMessage, 16)
	c.hub.mu.Lock()
	c.hub.subscribers = append(c.hub.subscribers, ch)
	c.hub.mu.Unlock()
	return ch, nil
}

func (c fakeClient) Close() error { return nil }

func newRedisBus(t *testing.T, hub *fakePubSub, instance string) *RedisEventBus {
	t.Helper()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:     fakeClient{hub: hub},
		InstanceID: instance,
	})
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestRedisEventBus_FansOutToOtherInstances(t *testing.T) {
	hub := &fakePubSub{}
	a := newRedisBus(t, hub, "a")
	b := newRedisBus(t, hub, "b")

	received := make(chan shared.Event, 4)
	require.NoError(t, b.Subscribe(shared.EventAchievementUnlocked, func(e shared.Event) error {
		received <- e
		return nil
	}))

	var localOnA int
	var localMu sync.Mutex
	require.NoError(t, a.SubscribeAll(func(shared.Event) error {
		localMu.Lock()
		localOnA++
		localMu.Unlock()
		return nil
	}))

	event := shared.NewAchievementUnlockedEvent("u1", "first_comment", "comment_posted")
	require.NoError(t, a.Publish(event))

	select {
	case got := <-received:
		assert.Equal(t, shared.EventAchievementUnlocked, got.EventType())
		assert.Equal(t, "u1", got.AggregateID())
		assert.Equal(t, "first_comment", got.Payload()["achievement_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed to the other instance")
	}

	// собственное сообщение из Redis не доставляется повторно
	assert.Eventually(t, func() bool {
		localMu.Lock()
		defer localMu.Unlock()
		return localOnA == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	localMu.Lock()
	assert.Equal(t, 1, localOnA)
	localMu.Unlock()
}

func TestRedisEventBus_RedisFailureStillDeliversLocally(t *testing.T) {
	hub := &fakePubSub{publishErr: errors.New("redis down")}
	bus := newRedisBus(t, hub, "solo")

	delivered := make(chan struct{}, 1)
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		delivered <- struct{}{}
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", "seed", "sprout", 100)))

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("local handler was not called")
	}
}

func TestEventFromEnvelope(t *testing.T) {
	env, err := shared.NewEventEnvelope(shared.NewXPGainedEvent("u1", 25, 125, "content_completed", "c1"))
	require.NoError(t, err)

	event, err := EventFromEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, shared.EventXPGained, event.EventType())
	assert.EqualValues(t, 25, event.Payload()["amount"])
	assert.Equal(t, "c1", event.Payload()["content_id"])
}
