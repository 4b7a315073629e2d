package redis

import (
	"context"
	"errors"
	"time"

	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/pkg/logger"
)

// CachedRepository is a read-through cache in front of a progression store.
// The inner store stays the source of truth: cache errors are logged and
// ignored, and every conflict drops the cached copy.
type CachedRepository struct {
	inner  progression.Repository
	cache  *Cache
	ttl    time.Duration
	logger *logger.Logger
}

// NewCachedRepository wraps inner with a Redis cache.
func NewCachedRepository(inner progression.Repository, cache *Cache, ttl time.Duration, log *logger.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CachedRepository{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: log.With(logger.Component("progression_cache")),
	}
}

var (
	_ progression.Repository    = (*CachedRepository)(nil)
	_ progression.HealthChecker = (*CachedRepository)(nil)
)

// Load serves from cache when possible and fills it on a miss.
func (r *CachedRepository) Load(ctx context.Context, userID shared.UserID) (*progression.UserProgression, error) {
	key := ProgressionKey(userID.String())

	var cached progression.UserProgression
	err := r.cache.GetJSON(ctx, key, &cached)
	switch {
	case err == nil:
		return &cached, nil
	case !errors.Is(err, ErrCacheMiss):
		r.logger.Warn("cache read failed", logger.UserID(userID.String()), logger.Err(err))
	}

	p, err := r.inner.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	r.store(ctx, p)
	return p, nil
}

// Save writes through to the inner store and refreshes the cache.
func (r *CachedRepository) Save(ctx context.Context, p *progression.UserProgression, expectedVersion int64) error {
	if err := r.inner.Save(ctx, p, expectedVersion); err != nil {
		if shared.IsConflict(err) {
			r.invalidate(ctx, p.UserID)
		}
		return err
	}

	r.store(ctx, p)
	return nil
}

// Delete removes the record from the inner store and the cache.
func (r *CachedRepository) Delete(ctx context.Context, userID shared.UserID) error {
	r.invalidate(ctx, userID)
	return r.inner.Delete(ctx, userID)
}

// Ping checks Redis and, when it supports it, the inner store.
func (r *CachedRepository) Ping(ctx context.Context) error {
	if hc, ok := r.inner.(progression.HealthChecker); ok {
		if err := hc.Ping(ctx); err != nil {
			return err
		}
	}
	if err := r.cache.Ping(ctx); err != nil {
		return shared.Unavailable("Ping", err)
	}
	return nil
}

func (r *CachedRepository) store(ctx context.Context, p *progression.UserProgression) {
	if err := r.cache.SetJSON(ctx, ProgressionKey(p.UserID.String()), p, r.ttl); err != nil {
		r.logger.Warn("cache write failed", logger.UserID(p.UserID.String()), logger.Err(err))
	}
}

func (r *CachedRepository) invalidate(ctx context.Context, userID shared.UserID) {
	if err := r.cache.Delete(ctx, ProgressionKey(userID.String())); err != nil {
		r.logger.Warn("cache invalidation failed", logger.UserID(userID.String()), logger.Err(err))
	}
}
