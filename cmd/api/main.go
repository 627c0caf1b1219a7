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

	"carinspect/internal/api"
	"carinspect/internal/config"
	"carinspect/internal/database"
	"carinspect/internal/domain"
	"carinspect/internal/events"
	"carinspect/internal/logging"
	"carinspect/internal/metrics"
	"carinspect/internal/notify"
	"carinspect/internal/realtime"
	"carinspect/internal/repository"
	"carinspect/internal/scheduler"
	"carinspect/internal/service"
	"carinspect/internal/worker"

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

	db, err := database.Open(cfg.Database, &logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	presence := initPresence(redisClient, &logger)

	bus := events.NewEventBus()
	bus.OnError(func(event *events.Event, err error) {
		logger.Error().Err(err).Str("event_type", event.Type).Msg("event handler failed")
	})

	svc := service.NewInspectionService(
		db, db, bus,
		cfg.Booking.MaxBookingDays,
		cfg.Booking.Location(),
		logging.Component(&logger, "booking"),
	)

	mailer := initMailer(cfg, &logger)
	notificationWorker := worker.NewNotificationWorker(db, mailer, redisClient,
		worker.RetryPolicy{MaxRetries: cfg.Notifications.MaxRetries},
		logging.Component(&logger, "notification-worker"))
	notifier := notify.New(db, notificationWorker, cfg.Notifications, logging.Component(&logger, "notifier"))
	notifier.Register(bus)

	hub := realtime.NewHub(presence, db, logging.Component(&logger, "realtime"))
	hub.Register(bus)

	httpServer := api.NewHTTPServer(cfg.API, cfg.Booking, api.Dependencies{
		Service:  svc,
		Presence: presence,
		Hub:      hub,
		Ready:    db.PingContext,
		Logger:   &logger,
	})

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	go notificationWorker.Start(ctx)

	sched, err := initScheduler(cfg, db, svc, notifier, &logger)
	if err != nil {
		return err
	}
	if sched != nil {
		sched.Start()
		defer sched.Stop()
	}

	// Generate the near-term calendar before serving.
	warmCtx, cancelWarm := context.WithTimeout(ctx, time.Minute)
	if n, err := svc.WarmUpCalendar(warmCtx, cfg.Booking.WarmupDays); err != nil {
		logger.Warn().Err(err).Int("days_done", n).Msg("initial calendar warm-up failed")
	}
	cancelWarm()

	startMetrics(ctx, cfg, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initPresence(client *redis.Client, logger *zerolog.Logger) domain.PresenceRepository {
	memory := repository.NewMemoryPresenceRepository()
	if client == nil {
		return memory
	}
	primary := repository.NewRedisPresenceRepository(client, repository.DefaultPresenceTTL)
	return repository.NewFailoverPresenceRepository(primary, memory, logging.Component(logger, "presence"))
}

func initMailer(cfg *config.Config, logger *zerolog.Logger) domain.Mailer {
	if !cfg.Notifications.Enabled {
		logger.Warn().Msg("notifications disabled, emails are only logged")
		return notify.NewLogMailer(logging.Component(logger, "mailer"))
	}
	return notify.NewSendGridMailer(cfg.Notifications)
}

func initScheduler(
	cfg *config.Config,
	db *database.DB,
	svc *service.InspectionService,
	notifier *notify.Notifier,
	logger *zerolog.Logger,
) (*scheduler.Scheduler, error) {
	if !cfg.Scheduler.Enabled {
		return nil, nil
	}

	jobs := scheduler.Jobs{Calendar: svc, Reminders: notifier}
	if cfg.Backup.Enabled && db.Driver() == database.DriverSQLite {
		jobs.Backup = database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
	}

	sched, err := scheduler.New(cfg.Scheduler, cfg.Booking, jobs, logger)
	if err != nil {
		logger.Error().Err(err).Msg("create scheduler")
		return nil, err
	}
	return sched, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		grpcServer.SetServing(true)
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.SetServing(false)
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
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
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
