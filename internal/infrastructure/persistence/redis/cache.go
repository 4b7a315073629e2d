// Package redis holds the Redis-backed parts of the progression service:
// a read-through progression cache, the distributed per-user lock and the
// Pub/Sub transport for the event bus. All of them share one Cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config describes how to reach Redis.
type Config struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig points at a local Redis.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// ConfigFromURL takes address, credentials and database from a redis:// URL
// and keeps the default pool settings.
func ConfigFromURL(rawURL string) (Config, error) {
	cfg := DefaultConfig()
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return cfg, fmt.Errorf("parse redis url: %w", err)
	}
	cfg.Addr = opts.Addr
	cfg.Password = opts.Password
	cfg.DB = opts.DB
	return cfg, nil
}

// ErrCacheMiss means the key is absent or expired.
var ErrCacheMiss = errors.New("redis: cache miss")

// Key layout. Everything this service writes lives under one of these prefixes.
const (
	prefixProgression = "progression:"
	prefixLock        = "lock:progression:"
	prefixPubSub      = "pubsub:"
)

// ProgressionKey is where a user's cached progression is stored.
func ProgressionKey(userID string) string { return prefixProgression + userID }

// LockKey is the distributed lock guarding a user's read-modify-write cycle.
func LockKey(userID string) string { return prefixLock + userID }

// PubSubChannel namespaces an event channel.
func PubSubChannel(name string) string { return prefixPubSub + name }

// Cache is a thin wrapper over a go-redis client.
type Cache struct {
	client *redis.Client
}

// Open dials Redis and pings it once within cfg.DialTimeout.
func Open(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	return &Cache{client: client}, nil
}

// Client exposes the underlying client for scripts and tests.
func (c *Cache) Client() *redis.Client { return c.client }

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// SetJSON stores v encoded as JSON. A zero ttl means no expiry.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetJSON decodes the value at key into dst, or returns ErrCacheMiss.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Delete removes keys; missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// SetNX sets key to value only if it does not exist yet.
func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// Publish sends a raw payload to channel.
func (c *Cache) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return errors.New("redis: empty channel")
	}
	return c.client.Publish(ctx, channel, payload).Err()
}

// Subscribe returns a subscription the caller must Close.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.client.Subscribe(ctx, channels...)
}
