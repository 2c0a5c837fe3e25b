package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courtbook/internal/api"
	"courtbook/internal/catalog"
	"courtbook/internal/config"
	"courtbook/internal/database"
	"courtbook/internal/domain"
	"courtbook/internal/events"
	"courtbook/internal/export"
	"courtbook/internal/lock"
	"courtbook/internal/logging"
	"courtbook/internal/metrics"
	"courtbook/internal/pricing"
	"courtbook/internal/repository"
	"courtbook/internal/scheduler"
	"courtbook/internal/service"
	"courtbook/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.Open(cfg.Database.Path, cfg.Database.BusyTimeout, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedCatalog(ctx, db, logger); err != nil {
		return err
	}

	redisClient, err := initRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	locker := initLocker(cfg, redisClient, logger)
	keys := lock.KeyBuilder{Prefix: cfg.Lock.KeyPrefix}
	bus := events.NewEventBus(logging.Component(logger, "events"))

	opts := service.Options{MaxAdvanceDays: cfg.Booking.MaxAdvanceDays, Location: cfg.Location()}
	engine := pricing.NewEngine(db, cfg.Booking.DefaultSlotPrice, logging.Component(logger, "pricing"))
	reservations := service.NewReservationService(db, locker, keys, engine, bus, opts, logging.Component(logger, "reservations"))
	activities := service.NewActivityService(db, locker, keys, bus, opts, logging.Component(logger, "activities"))
	prices := service.NewPricingService(db, engine, cfg.Location(), logging.Component(logger, "pricing"))
	exporter := export.NewScheduleExporter(db, reservations, cfg.Exports.Path, logging.Component(logger, "export"))

	if err := startNotifier(ctx, cfg, redisClient, bus, logger); err != nil {
		return err
	}

	sched, err := startScheduler(cfg, db, logger)
	if err != nil {
		return err
	}
	if sched != nil {
		defer func() { _ = sched.Stop() }()
	}

	startMetrics(ctx, cfg, logger)

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Reservations: reservations,
		Activities:   activities,
		Pricing:      prices,
		Schedule:     exporter,
		Responses:    initResponseStore(cfg, redisClient, logger),
	}, cfg.Location(), logging.Component(logger, "http"))

	return serve(ctx, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

// seedCatalog applies configs/catalog.yaml when present. A missing file is
// not an error; the database may already be populated.
func seedCatalog(ctx context.Context, db *database.DB, logger *zerolog.Logger) error {
	path := os.Getenv("CATALOG_PATH")
	if path == "" {
		path = "configs/catalog.yaml"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Info().Str("catalog_path", path).Msg("no catalog file, skipping seed")
		return nil
	}

	c, err := catalog.Load(path)
	if err != nil {
		logger.Error().Err(err).Str("catalog_path", path).Msg("load catalog")
		return err
	}
	res, err := catalog.Apply(ctx, db, c, logger)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	logger.Info().
		Int("venues", res.Venues).
		Int("skipped", res.SkippedVenues).
		Int("holidays", res.Holidays).
		Msg("catalog applied")
	return nil
}

// initRedis connects when an address is configured. Redis is required only
// for the redis lock backend; otherwise the process continues without it.
func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, error) {
	if cfg.Redis.Address == "" {
		return nil, nil
	}

	client := lock.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := lock.Ping(pingCtx, client); err != nil {
		_ = client.Close()
		if cfg.Lock.Backend == "redis" {
			return nil, fmt.Errorf("redis lock backend: %w", err)
		}
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil, nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client, nil
}

func initLocker(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) lock.Locker {
	opts := lock.Options{
		WaitTimeout:   cfg.Lock.WaitTimeout,
		RetryInterval: cfg.Lock.RetryInterval,
		Lease:         cfg.Lock.Lease(),
	}

	var next lock.Locker
	if cfg.Lock.Backend == "redis" {
		next = lock.NewRedisLocker(redisClient, opts)
	} else {
		logger.Warn().Msg("using in-process slot locks; do not run more than one instance")
		next = lock.NewMemoryLocker(opts)
	}
	return lock.NewInstrumented(next, cfg.Lock.Backend, logging.Component(logger, "lock"))
}

// initResponseStore keeps idempotent responses in redis when it is available,
// falling back to process memory while redis is down.
func initResponseStore(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.ResponseStore {
	memory := repository.NewMemoryResponseStore(cfg.API.IdempotencyTTL)
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverResponseStore(
		repository.NewRedisResponseStore(redisClient, cfg.API.IdempotencyTTL),
		memory,
		logging.Component(logger, "idempotency"),
	)
}

func startNotifier(ctx context.Context, cfg *config.Config, redisClient *redis.Client, bus *events.EventBus, logger *zerolog.Logger) error {
	if cfg.Telegram.BotToken == "" {
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("init telegram bot: %w", err)
	}

	notifier := worker.NewNotifyWorker(bot, cfg.Telegram.MerchantChatID, redisClient, worker.RetryPolicy{}, logging.Component(logger, "notify"))
	notifier.Subscribe(bus)
	go notifier.Start(ctx)

	logger.Info().Str("bot", bot.Self.UserName).Msg("merchant notifications enabled")
	return nil
}

func startScheduler(cfg *config.Config, db *database.DB, logger *zerolog.Logger) (*scheduler.Service, error) {
	if !cfg.Scheduler.Enabled {
		return nil, nil
	}

	schedLogger := logging.Component(logger, "scheduler")
	backup := database.NewBackupService(db, cfg.Backup, schedLogger)
	jobs := scheduler.NewJobs(db, backup, cfg.Scheduler.PregenerateDays, cfg.Location(), schedLogger)

	sched, err := scheduler.NewService(cfg.Location(), schedLogger)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	if err := sched.RegisterJobs(cfg.Scheduler, jobs); err != nil {
		return nil, fmt.Errorf("register jobs: %w", err)
	}
	sched.Start()
	return sched, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	if !cfg.API.HTTP.Enabled {
		logger.Warn().Msg("HTTP API is disabled in config, only background jobs will run")
	} else {
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
