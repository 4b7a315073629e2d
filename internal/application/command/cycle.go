// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"time"

	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/pkg/circuitbreaker"
	"github.com/gracegarden/community-hub/pkg/logger"
	"github.com/gracegarden/community-hub/pkg/retry"
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION CYCLE
// Общий цикл записи: блокировка пользователя -> чтение -> резолвер ->
// сохранение с проверкой версии -> повтор при конфликте -> события.
// ══════════════════════════════════════════════════════════════════════════════

// Config - параметры цикла записи.
type Config struct {
	// MaxConflictRetries - сколько раз повторить цикл после конфликта версий.
	MaxConflictRetries int

	// PersistTimeout - таймаут одного обращения к хранилищу.
	PersistTimeout time.Duration

	// LockTimeout - сколько ждать блокировку пользователя.
	LockTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxConflictRetries: 3,
		PersistTimeout:     2 * time.Second,
		LockTimeout:        5 * time.Second,
	}
}

// Deps - зависимости обработчиков команд прогресса.
type Deps struct {
	Repository progression.Repository

	// Locker сериализует циклы одного пользователя. nil - только CAS.
	Locker progression.Locker

	Resolver  *progression.Resolver
	Clock     timeutil.Clock
	Publisher shared.EventPublisher
	Breaker   *circuitbreaker.CircuitBreaker
	Logger    *logger.Logger
}

// mutation применяет изменение к загруженному состоянию.
// apply=false означает, что записывать нечего.
type mutation func(state *progression.UserProgression, today timeutil.Date) (next *progression.UserProgression, delta progression.Delta, apply bool, err error)

// outcome - итог цикла.
type outcome struct {
	state    *progression.UserProgression
	delta    progression.Delta
	applied  bool
	today    timeutil.Date
	attempts int
}

// cycle выполняет сериализованный цикл чтение-изменение-запись.
type cycle struct {
	repo     progression.Repository
	locker   progression.Locker
	resolver *progression.Resolver
	clock    timeutil.Clock
	breaker  *circuitbreaker.CircuitBreaker
	retries  retry.Policy
	logger   *logger.Logger
	config   Config
}

func newCycle(deps Deps, cfg Config) *cycle {
	defaults := DefaultConfig()
	if cfg.MaxConflictRetries < 0 {
		cfg.MaxConflictRetries = defaults.MaxConflictRetries
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaults.PersistTimeout
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaults.LockTimeout
	}

	if deps.Resolver == nil {
		deps.Resolver = progression.NewResolver()
	}
	if deps.Clock == nil {
		deps.Clock, _ = timeutil.NewSystemClock("")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Breaker == nil {
		deps.Breaker = circuitbreaker.StoreBreaker(IsStoreFailure, nil)
	}

	return &cycle{
		repo:     deps.Repository,
		locker:   deps.Locker,
		resolver: deps.Resolver,
		clock:    deps.Clock,
		breaker:  deps.Breaker,
		retries:  retry.Conflicts(cfg.MaxConflictRetries+1, shared.IsConflict),
		logger:   deps.Logger,
		config:   cfg,
	}
}

// run выполняет mutate под блокировкой пользователя, повторяя цикл при конфликтах.
func (c *cycle) run(ctx context.Context, userID shared.UserID, mutate mutation) (*outcome, error) {
	if !userID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}

	if c.locker != nil {
		lockCtx, cancel := context.WithTimeout(ctx, c.config.LockTimeout)
		unlock, err := c.locker.Lock(lockCtx, userID)
		cancel()
		if err != nil {
			return nil, shared.Unavailable("Lock", err)
		}
		defer unlock()
	}

	var out outcome
	err := c.retries.Do(ctx, func(ctx context.Context, attempt int) error {
		out = outcome{attempts: attempt}

		current, err := c.load(ctx, userID)
		if err != nil {
			return err
		}

		out.today = c.clock.Today()
		next, delta, apply, err := mutate(current, out.today)
		if err != nil {
			return retry.Permanent(err)
		}
		if !apply {
			out.state = current
			return nil
		}

		if err := c.save(ctx, next, current.Version); err != nil {
			if shared.IsConflict(err) {
				c.logger.Debug("version conflict, retrying",
					logger.UserID(userID.String()),
					logger.Attempt(out.attempts),
				)
			}
			return err
		}

		out.state = next
		out.delta = delta
		out.applied = true
		return nil
	})
	if err != nil {
		if shared.IsConflict(err) {
			c.logger.Warn("conflict retries exhausted",
				logger.UserID(userID.String()),
				logger.Attempt(out.attempts),
			)
			return nil, shared.ErrPersistenceConflict
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, shared.Unavailable("Cycle", err)
		}
		return nil, err
	}

	return &out, nil
}

// load возвращает сохранённое состояние или нулевое для нового пользователя.
func (c *cycle) load(ctx context.Context, userID shared.UserID) (*progression.UserProgression, error) {
	var p *progression.UserProgression
	err := c.persist(ctx, "Load", func(ctx context.Context) error {
		var err error
		p, err = c.repo.Load(ctx, userID)
		return err
	})
	if err != nil {
		if shared.IsNotFound(err) {
			return c.resolver.Initial(userID), nil
		}
		return nil, err
	}
	return p, nil
}

func (c *cycle) save(ctx context.Context, p *progression.UserProgression, expectedVersion int64) error {
	return c.persist(ctx, "Save", func(ctx context.Context) error {
		return c.repo.Save(ctx, p, expectedVersion)
	})
}

// persist вызывает хранилище через предохранитель и с таймаутом.
// Любая ошибка, кроме "не найдено" и конфликта, становится ErrPersistenceUnavailable.
func (c *cycle) persist(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.PersistTimeout)
	defer cancel()

	start := time.Now()
	err := c.breaker.Execute(ctx, fn)
	if err == nil {
		return nil
	}
	if shared.IsNotFound(err) || shared.IsConflict(err) {
		return err
	}

	if circuitbreaker.IsRejection(err) {
		c.logger.Warn("progression store breaker open", logger.Operation(op))
	} else {
		c.logger.Error("progression store call failed",
			logger.Operation(op),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
	}
	return shared.Unavailable(op, err)
}

// IsStoreFailure сообщает, должна ли ошибка хранилища учитываться предохранителем.
// "Не найдено" и конфликт версий - нормальные ответы исправного хранилища.
func IsStoreFailure(err error) bool {
	return err != nil && !shared.IsNotFound(err) && !shared.IsConflict(err)
}

// tier возвращает информацию об уровне для состояния.
func (c *cycle) tier(p *progression.UserProgression) progression.TierInfo {
	return c.resolver.Tiers().TierFor(p.Experience.Int())
}
