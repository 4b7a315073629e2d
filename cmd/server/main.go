// Package main - точка входа HTTP API движка прогресса.
//
// Сервер принимает активности участников, начисляет опыт, ведёт серии
// ежедневной активности и достижения. Хранилище выбирается конфигурацией:
// память, PostgreSQL или SQLite, опционально с кешем и блокировками в Redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gracegarden/community-hub/config"
	"github.com/gracegarden/community-hub/internal/application/command"
	"github.com/gracegarden/community-hub/internal/application/query"
	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/internal/infrastructure/messaging"
	"github.com/gracegarden/community-hub/internal/infrastructure/persistence/memory"
	"github.com/gracegarden/community-hub/internal/infrastructure/persistence/postgres"
	"github.com/gracegarden/community-hub/internal/infrastructure/persistence/redis"
	"github.com/gracegarden/community-hub/internal/infrastructure/persistence/sqlite"
	"github.com/gracegarden/community-hub/internal/infrastructure/scheduler"
	apihttp "github.com/gracegarden/community-hub/internal/interface/http"
	"github.com/gracegarden/community-hub/internal/interface/http/handlers"
	"github.com/gracegarden/community-hub/pkg/circuitbreaker"
	"github.com/gracegarden/community-hub/pkg/logger"
	"github.com/gracegarden/community-hub/pkg/retry"
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	run := serve
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		run = func() error { return migrate(os.Args[2:]) }
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func serve() error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Info("starting progression server",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
		logger.String("store", string(cfg.Store.Kind)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock, err := timeutil.NewSystemClock(cfg.App.Timezone)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var cache *redis.Cache
	if !cfg.Redis.Disabled {
		cache, err = connectRedis(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer cache.Close()
		log.Info("Redis connection established")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	repo := store.repo
	if cache != nil && cfg.Store.CacheEnabled && cfg.Features.IsEnabled(config.FeatureReadCache, nil) {
		repo = redis.NewCachedRepository(repo, cache, cfg.Store.CacheTTL, log)
		log.Info("progression read cache enabled", logger.Duration("ttl", cfg.Store.CacheTTL))
	}

	// Блокировка пользователя: распределённая при наличии Redis.
	var locker progression.Locker = memory.NewKeyedLocker()
	if cache != nil {
		locker = redis.NewUserLocker(cache,
			redis.WithLockTTL(cfg.Progression.LockTTL),
			redis.WithLockerLogger(log),
		)
	}

	breaker := circuitbreaker.New(circuitbreaker.Settings{
		Name:      "progression-store",
		TripAfter: cfg.Store.BreakerThreshold,
		Cooldown:  cfg.Store.BreakerTimeout,
		Counts:    command.IsStoreFailure,
		OnTransition: func(tr circuitbreaker.Transition) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", tr.Breaker),
				logger.String("from", tr.From.String()),
				logger.String("to", tr.To.String()),
			)
		},
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus, closeBus, err := newEventBus(cfg, cache, log)
	if err != nil {
		return err
	}
	defer closeBus()

	if err := bus.SubscribeAll(auditHandler(log)); err != nil {
		return fmt.Errorf("failed to subscribe audit handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ОБРАБОТЧИКИ КОМАНД И ЗАПРОСОВ
	// ─────────────────────────────────────────────────────────────────────────
	resolver := progression.NewResolver()
	deps := command.Deps{
		Repository: repo,
		Locker:     locker,
		Resolver:   resolver,
		Clock:      clock,
		Publisher:  bus,
		Breaker:    breaker,
		Logger:     log,
	}
	cmdCfg := command.Config{
		MaxConflictRetries: cfg.Progression.MaxConflictRetries,
		PersistTimeout:     cfg.Progression.PersistTimeout,
		LockTimeout:        cfg.Progression.LockTimeout,
	}

	award := command.NewAwardActivityHandler(deps, cmdCfg)
	apiDeps := apihttp.Dependencies{
		AwardActivityHandler:  award,
		GetProgressionHandler: query.NewGetProgressionHandler(repo, resolver, clock, cfg.Progression.PersistTimeout, log),
		Resolver:              resolver,
		Repository:            repo,
		Logger:                log,
	}
	if cfg.Features.IsEnabled(config.FeatureBatchAwards, nil) {
		apiDeps.AwardBatchHandler = command.NewAwardBatchHandler(award)
	}
	if cfg.Features.IsEnabled(config.FeatureDailyLogin, nil) {
		apiDeps.DailyLoginHandler = command.NewDailyLoginHandler(deps, cmdCfg)
	}

	checker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	checker.AddCheck("store", handlers.NewPingCheck(store.pinger))
	checker.AddCheck("store_breaker", handlers.NewBreakerCheck(breaker))
	if cache != nil {
		checker.AddCheck("redis", handlers.NewPingCheck(cache))
	}
	apiDeps.HealthChecker = checker

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := apihttp.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	httpCfg.EnableCORS = cfg.HTTP.EnableCORS
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	httpCfg.APIKeyHeader = cfg.HTTP.APIKeyHeader
	if cfg.Features.IsEnabled(config.FeatureAdminActions, nil) {
		httpCfg.AdminAPIKeys = cfg.HTTP.AdminAPIKeys
	}

	server := apihttp.NewServer(httpCfg, apiDeps)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ФОНОВЫЕ ЗАДАЧИ
	// ─────────────────────────────────────────────────────────────────────────
	jobs := scheduler.New(log)
	if cfg.Scheduler.Enabled {
		if err := jobs.Register(scheduler.NewStoreProbeJob(store.pinger, cfg.Progression.PersistTimeout), cfg.Scheduler.StoreProbeInterval); err != nil {
			return err
		}
		if err := jobs.Register(scheduler.NewEventMetricsJob(bus, log), cfg.Scheduler.MetricsReportInterval); err != nil {
			return err
		}
		if err := jobs.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = jobs.Stop() }()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("progression server stopped")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func setupLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	return logger.New(opts).With(logger.String("service", cfg.App.Name))
}

// startupRetry повторяет подключение к зависимости, пока она поднимается.
func startupRetry(log *logger.Logger, dependency string) retry.Policy {
	return retry.Startup(func(attempt int, err error, wait time.Duration) {
		log.Warn("dependency not ready, retrying",
			logger.String("dependency", dependency),
			logger.Attempt(attempt),
			logger.Duration("wait", wait),
			logger.Err(err),
		)
	})
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*redis.Cache, error) {
	rc := redis.DefaultConfig()
	if cfg.URL != "" {
		parsed, err := redis.ConfigFromURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		rc = parsed
	} else {
		rc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		rc.Password = cfg.Password
		rc.DB = cfg.DB
	}
	rc.PoolSize = cfg.PoolSize
	rc.MinIdleConns = cfg.MinIdleConns
	rc.DialTimeout = cfg.DialTimeout
	rc.ReadTimeout = cfg.ReadTimeout
	rc.WriteTimeout = cfg.WriteTimeout

	var cache *redis.Cache
	err := startupRetry(log, "redis").Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		cache, err = redis.Open(ctx, rc)
		return err
	})
	return cache, err
}

// openPostgres подключается к PostgreSQL с повторами на старте.
func openPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*postgres.DB, error) {
	settings := postgres.DefaultPoolSettings()
	settings.MaxConns = int32(cfg.MaxOpenConns)
	settings.MinConns = int32(cfg.MaxIdleConns)
	settings.MaxConnLifetime = cfg.ConnMaxLifetime
	settings.MaxConnIdleTime = cfg.ConnMaxIdleTime

	var db *postgres.DB
	err := startupRetry(log, "postgres").Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		db, err = postgres.Open(ctx, cfg.URL, settings)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openedStore - выбранное хранилище и его ресурсы.
type openedStore struct {
	repo   progression.Repository
	pinger handlers.Pinger
	close  func()
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*openedStore, error) {
	switch cfg.Store.Kind {
	case config.StorePostgres:
		db, err := openPostgres(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			ran, err := postgres.NewMigrator(db).Up(ctx)
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("migrations applied", logger.Int("count", ran))
		}
		log.Info("database connection established")
		return &openedStore{repo: postgres.NewProgressionRepository(db), pinger: db, close: db.Close}, nil

	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		repo := sqlite.NewProgressionRepository(db)
		log.Info("sqlite store opened", logger.String("path", cfg.Store.SQLitePath))
		return &openedStore{repo: repo, pinger: repo, close: func() { _ = db.Close() }}, nil

	default:
		store := memory.NewStore()
		log.Warn("using in-memory store, progression is lost on restart")
		return &openedStore{repo: store, pinger: store, close: func() {}}, nil
	}
}

// eventBus - шина событий с метриками.
type eventBus interface {
	shared.EventBus
	Metrics() *messaging.EventBusMetrics
}

// newEventBus возвращает шину событий: Redis Pub/Sub, если включён fan-out, иначе локальную.
func newEventBus(cfg *config.Config, cache *redis.Cache, log *logger.Logger) (eventBus, func(), error) {
	local := messaging.InMemoryEventBusConfig{
		AsyncMode:      cfg.Progression.AsyncEvents,
		WorkerPoolSize: cfg.Progression.EventWorkers,
		Logger:         log,
		EnableMetrics:  true,
	}

	if cache != nil && cfg.Features.IsEnabled(config.FeatureEventFanout, nil) {
		bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewPubSubClient(cache),
			ChannelName:    redis.PubSubChannel("progression-events"),
			LocalBusConfig: local,
			Logger:         log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start Redis event bus: %w", err)
		}
		return bus, func() { _ = bus.Close() }, nil
	}

	bus := messaging.NewInMemoryEventBus(local)
	return bus, func() { _ = bus.Close() }, nil
}

// auditHandler пишет каждое событие прогресса в лог.
func auditHandler(log *logger.Logger) shared.EventHandler {
	log = log.With(logger.Component("audit"))
	return func(event shared.Event) error {
		log.Info("progression event",
			logger.String("event_type", string(event.EventType())),
			logger.UserID(event.AggregateID()),
			logger.Any("payload", event.Payload()),
		)
		return nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

// migrate управляет схемой PostgreSQL: server migrate [up | down [N] | status].
func migrate(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("migrate: DATABASE_URL (or DB_*) is not set")
	}

	log := setupLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openPostgres(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()
	m := postgres.NewMigrator(db)

	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "up":
		ran, err := m.Up(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("applied %d migration(s)\n", ran)

	case "down":
		steps := 1
		if len(args) > 1 {
			if steps, err = strconv.Atoi(args[1]); err != nil || steps < 1 {
				return fmt.Errorf("migrate down: invalid step count %q", args[1])
			}
		}
		ran, err := m.Down(ctx, steps)
		if err != nil {
			return err
		}
		fmt.Printf("reverted %d migration(s)\n", ran)

	case "status":
		status, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, st := range status {
			applied := "pending"
			if st.Applied() {
				applied = st.AppliedAt.Format(time.RFC3339)
			}
			fmt.Printf("%03d  %-40s %s\n", st.Version, st.Name, applied)
		}

	default:
		return fmt.Errorf("migrate: unknown action %q (want up, down or status)", action)
	}
	return nil
}
