package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"humgo/internal/app"
	"humgo/internal/auth"
	"humgo/internal/clock"
	"humgo/internal/config"
	"humgo/internal/events"
	"humgo/internal/handler"
	"humgo/internal/live"
	"humgo/internal/logging"
	"humgo/internal/middleware"
	internalRedis "humgo/internal/redis"
	"humgo/internal/repository"
	"humgo/internal/repository/memory"
	"humgo/internal/repository/postgres"
	"humgo/internal/service"
	"humgo/internal/validation"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", zap.Error(err))
		} else {
			logger.Info("New Relic enabled", zap.String("app", cfg.NewRelic.AppName))
		}
	}

	store, db, err := openStore(ctx, cfg, nrApp)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		logger.Info("connected to PostgreSQL")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		logger.Info("connected to Redis")
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.Info("publishing domain events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close event publisher", zap.Error(err))
		}
	}()

	hub := live.NewHub()
	runCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	if redisClient != nil {
		relay := live.NewRedisRelay(redisClient, hub, logger)
		go func() {
			if err := relay.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("live relay stopped", zap.Error(err))
			}
		}()
	}

	if err := handler.RegisterValidators(); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}
	server, matching := wireServer(cfg, logger, store, hub, redisClient, publisher, nrApp)

	// Start server in goroutine.
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	stopRelay()
	matching.Wait()

	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}
	return nil
}

// openStore selects the persistence backend. db is nil for the memory store.
func openStore(ctx context.Context, cfg *config.Config, nrApp *newrelic.Application) (repository.Store, *sql.DB, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memory.NewStore(), nil, nil

	case "postgres":
		// Initialize database with New Relic instrumentation.
		db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return postgres.NewStore(db), db, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(
	cfg *config.Config,
	logger *zap.Logger,
	store repository.Store,
	hub *live.Hub,
	redisClient *redis.Client,
	publisher events.Publisher,
	nrApp *newrelic.Application,
) (*http.Server, *service.MatchingService) {
	deps := service.Deps{
		Store:        store,
		Hub:          hub,
		Publisher:    publisher,
		Clock:        clock.System{},
		Logger:       logger,
		WriteTimeout: cfg.Server.OperationTimeout,
	}

	// Redis-backed coordination when enabled; the services fall back to
	// in-process limiter and idempotency tracking otherwise.
	var responses middleware.ResponseStore = middleware.NewMemoryResponseStore(deps.Clock)
	if redisClient != nil {
		deps.Limiter = validation.NewRedisRateLimiter(redisClient)
		deps.Idempotency = validation.NewRedisIdempotencyTracker(redisClient)
		deps.TripCache = internalRedis.NewCacheStore(redisClient)
		deps.Locks = internalRedis.NewLockStore(redisClient)
		responses = middleware.NewRedisResponseStore(redisClient)
	}

	// Initialize services.
	tripService := service.NewTripService(deps)
	matchingService := service.NewMatchingService(deps)
	messageService := service.NewMessageService(deps)

	var verifier *auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.Auth.JWTSecret)
	} else if !cfg.Auth.AllowUserHeader {
		logger.Warn("no JWT secret configured; every API request will be rejected")
	}

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		TripHandler:     handler.NewTripHandler(tripService, matchingService),
		MessageHandler:  handler.NewMessageHandler(messageService),
		SessionHandler:  handler.NewSessionHandler(tripService, matchingService, messageService, logger, cfg.Server.AllowedOrigins),
		Verifier:        verifier,
		ResponseStore:   responses,
		NewRelicApp:     nrApp,
		Logger:          logger,
		AllowUserHeader: cfg.Auth.AllowUserHeader,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	})

	// Create HTTP server. Session sockets set their own deadlines after the
	// upgrade.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, matchingService
}
