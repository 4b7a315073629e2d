package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/pkg/logger"
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// UserLocker is a distributed progression.Locker built on SET NX PX.
// The lock expires after TTL so a crashed holder cannot block a user forever.
type UserLocker struct {
	cache        *Cache
	ttl          time.Duration
	pollInterval time.Duration
	logger       *logger.Logger
}

// UserLockerOption configures a UserLocker.
type UserLockerOption func(*UserLocker)

// WithLockTTL sets how long a held lock survives without release.
func WithLockTTL(ttl time.Duration) UserLockerOption {
	return func(l *UserLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithPollInterval sets the wait between acquisition attempts.
func WithPollInterval(d time.Duration) UserLockerOption {
	return func(l *UserLocker) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithLockerLogger sets the logger.
func WithLockerLogger(log *logger.Logger) UserLockerOption {
	return func(l *UserLocker) {
		if log != nil {
			l.logger = log
		}
	}
}

// NewUserLocker creates a distributed locker.
func NewUserLocker(cache *Cache, opts ...UserLockerOption) *UserLocker {
	l := &UserLocker{
		cache:        cache,
		ttl:          30 * time.Second,
		pollInterval: 25 * time.Millisecond,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(logger.Component("redis_locker"))
	return l
}

var _ progression.Locker = (*UserLocker)(nil)

// Lock polls until the lock is acquired or ctx is done.
func (l *UserLocker) Lock(ctx context.Context, userID shared.UserID) (func(), error) {
	key := LockKey(userID.String())
	token := uuid.NewString()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.cache.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, shared.Unavailable("Lock", ctxErr)
			}
			return nil, shared.Unavailable("Lock", fmt.Errorf("acquire %s: %w", key, err))
		}
		if ok {
			return l.unlockFunc(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, shared.Unavailable("Lock", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *UserLocker) unlockFunc(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, token) })
	}
}

func (l *UserLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := releaseScript.Run(ctx, l.cache.Client(), []string{key}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Warn("failed to release lock", logger.String("key", key), logger.Err(err))
	}
}
