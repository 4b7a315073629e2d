package redis

import (
	"context"
	"fmt"

	"github.com/gracegarden/community-hub/internal/infrastructure/messaging"
)

// PubSubClient adapts Cache to messaging.RedisClient.
type PubSubClient struct {
	cache *Cache
}

// NewPubSubClient creates the event bus transport.
func NewPubSubClient(cache *Cache) *PubSubClient {
	return &PubSubClient{cache: cache}
}

var _ messaging.RedisClient = (*PubSubClient)(nil)

// Publish sends an encoded event envelope to a channel.
func (c *PubSubClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.cache.Publish(ctx, channel, payload)
}

// Subscribe confirms the subscription and forwards messages until ctx is done.
func (c *PubSubClient) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := c.cache.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan messaging.RedisMessage, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok || m == nil {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: m.Channel, Payload: m.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close is a no-op; the shared Cache owns the connection.
func (c *PubSubClient) Close() error {
	return nil
}
