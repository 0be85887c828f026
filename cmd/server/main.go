// Package main provides the API server entry point for the dispatch orchestrator.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/dispatch-orchestrator/internal/account"
	"github.com/dispatch-orchestrator/internal/adapter"
	"github.com/dispatch-orchestrator/internal/api"
	"github.com/dispatch-orchestrator/internal/billing"
	"github.com/dispatch-orchestrator/internal/circuitbreaker"
	"github.com/dispatch-orchestrator/internal/config"
	"github.com/dispatch-orchestrator/internal/dispatch"
	"github.com/dispatch-orchestrator/internal/events"
	"github.com/dispatch-orchestrator/internal/job"
	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/dispatch-orchestrator/internal/ratelimit"
	"github.com/dispatch-orchestrator/internal/stats"
	"github.com/dispatch-orchestrator/internal/storage"
	"github.com/dispatch-orchestrator/internal/worker"
)

const inboundBuffer = 256

func main() {
	fmt.Println("Dispatch Orchestrator API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Server.AutoMigrate {
		if err := migrate(ctx, cfg, logger); err != nil {
			logger.WithError(err).Fatal("Failed to apply migrations")
		}
	}

	// Storage backends
	logger.WithFields(map[string]interface{}{
		"eventLog": cfg.Stores.EventLog,
		"credit":   cfg.Stores.Credit,
		"accounts": cfg.Stores.Accounts,
	}).Info("Connecting to storage backends...")

	var postgres *storage.PostgresDB
	if cfg.NeedsPostgres() {
		postgres, err = storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer postgres.Close()
	}

	var redisDB *storage.RedisDB
	if cfg.Stores.Credit == "redis" || cfg.Events.RedisChannel != "" {
		redisDB, err = storage.NewRedisDB(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisDB.Close()
	}

	var accounts storage.AccountStore = storage.NewMemoryAccountStore()
	if cfg.Stores.Accounts == "postgres" {
		accounts = storage.NewAccountRepository(postgres)
	}

	var credit billing.CreditStore
	switch cfg.Stores.Credit {
	case "postgres":
		credit = storage.NewCreditRepository(postgres)
	case "redis":
		credit = storage.NewRedisCreditStore(redisDB.Client(), 0)
	default:
		credit = billing.NewMemoryStore(nil)
	}

	eventLog, closeEventLog, err := openEventLog(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open event log")
	}
	defer closeEventLog()

	logger.Info("Storage backends ready")

	// Core services
	bus := events.NewBus()

	registry := account.NewRegistry(nil, logger)
	known, err := accounts.List(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load accounts")
	}
	for _, a := range known {
		registry.Register(a.ID)
	}
	logger.WithField("accounts", len(known)).Info("Account registry loaded")

	gateway, err := adapter.NewGatewayClient(adapter.GatewayConfig{
		BaseURL: cfg.Gateway.BaseURL,
		Token:   cfg.Gateway.Token,
		Timeout: cfg.Gateway.Timeout,
		Breaker: &circuitbreaker.Config{
			Name:             "gateway",
			MaxFailures:      cfg.Gateway.BreakerFailures,
			Timeout:          cfg.Gateway.BreakerTimeout,
			HalfOpenMaxCalls: 1,
		},
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create gateway client")
	}

	limiter := ratelimit.NewLimiter(ratelimit.LoadFromEnv(logger), ratelimit.WithLogger(logger))
	jobs := job.NewManager(bus, nil, logger)
	ledger := billing.NewLedger(credit, cfg.Dispatch.CostPerDeliveryCents, bus, logger)

	dispatcher := dispatch.NewDispatcher(dispatch.Deps{
		Registry:  registry,
		Limiter:   limiter,
		Jobs:      jobs,
		Ledger:    ledger,
		EventLog:  eventLog,
		Publisher: bus,
		Client:    gateway,
		Logger:    logger,
	}, dispatch.Config{
		MaxAttempts:          cfg.Dispatch.MaxAttempts,
		ConversationAttempts: cfg.Dispatch.ConversationAttempts,
		PollInterval:         cfg.Dispatch.PollInterval,
		MaxWait:              cfg.Dispatch.MaxWait,
	})

	// Inbound gateway events
	inbound := make(chan adapter.InboundEvent, inboundBuffer)
	eventWorker, err := worker.NewEventWorker(&worker.EventWorkerConfig{
		Registry:  registry,
		Ledger:    ledger,
		EventLog:  eventLog,
		Publisher: bus,
		Logger:    logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create event worker")
	}
	if err := eventWorker.Start(ctx, inbound); err != nil {
		logger.WithError(err).Fatal("Failed to start event worker")
	}

	maintenance, err := worker.NewMaintenance(worker.MaintenanceConfig{
		Registry:       registry,
		Jobs:           jobs,
		Ledger:         ledger,
		EventLog:       eventLog,
		Publisher:      bus,
		Logger:         logger,
		CooldownSweep:  cfg.Maintenance.CooldownSweep,
		Prune:          cfg.Maintenance.JobPrune,
		JobRetention:   cfg.Maintenance.JobRetention,
		TrackedMaxAge:  cfg.Maintenance.TrackedMaxAge,
		EventRetention: cfg.Maintenance.EventRetention,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create maintenance scheduler")
	}
	maintenance.Start()

	// Push bridges
	if cfg.Events.RedisChannel != "" {
		ch, unsubscribe := bus.Subscribe(cfg.Events.SubscriberBuf)
		defer unsubscribe()
		go events.NewRedisBridge(redisDB.Client(), cfg.Events.RedisChannel, cfg.Events.Source, logger).Run(ctx, ch)
	}
	if cfg.Events.AMQPURL != "" {
		bridge, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.AMQPExchange, cfg.Events.Source, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to start AMQP bridge")
		}
		defer bridge.Close()
		ch, unsubscribe := bus.Subscribe(cfg.Events.SubscriberBuf)
		defer unsubscribe()
		go bridge.Run(ctx, ch)
	}

	loc, err := time.LoadLocation(cfg.Dispatch.StatsTimezone)
	if err != nil {
		loc = time.UTC
	}

	serverConfig := &api.ServerConfig{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       0, // dispatch requests block until the batch ends
		IdleTimeout:        60 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		RequestsPerSec:     cfg.RateLimit.RequestsPerSecond,
		Burst:              cfg.RateLimit.Burst,
		AdminToken:         cfg.Server.WebhookToken,
		SubscriberBuf:      cfg.Events.SubscriberBuf,
		Location:           loc,
		DefaultCountryCode: cfg.Dispatch.DefaultCountryCode,
	}

	server := api.NewServer(serverConfig, api.Deps{
		Dispatcher: dispatcher,
		Registry:   registry,
		Accounts:   accounts,
		Sessions:   gateway,
		Jobs:       jobs,
		Ledger:     ledger,
		Reporter:   stats.NewReporter(eventLog, loc),
		Bus:        bus,
		Inbound:    inbound,
		Limiter:    limiter,
		Logger:     logger,
	})

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Sessions reconnect in the background; the gateway reports ready through the webhook
	go func() {
		for _, id := range registry.IDs() {
			if err := gateway.Reconnect(ctx, id); err != nil {
				logger.WithError(err).WithField("accountId", id).Warn("Failed to start account session")
			}
		}
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.WithError(err).Warn("Failed to notify systemd")
	} else if ok {
		logger.Debug("Notified systemd of readiness")
	}

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := maintenance.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Maintenance did not stop in time")
	}
	if err := eventWorker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Event worker did not stop in time")
	}
	cancel()

	logger.Info("Server exited")
}

// openEventLog opens the selected event log. The returned func releases it
// together with any connection opened for it.
func openEventLog(ctx context.Context, cfg *config.Config) (stats.EventLog, func(), error) {
	switch cfg.Stores.EventLog {
	case "clickhouse":
		db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			return nil, nil, err
		}
		l, err := storage.OpenClickHouseEventLog(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return l, func() { _ = db.Close() }, nil
	case "sqlite":
		l, err := storage.OpenSQLiteEventLog(ctx, cfg.Database.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	default:
		return stats.NewMemoryLog(), func() {}, nil
	}
}

func migrate(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if cfg.NeedsPostgres() {
		logger.Info("Running Postgres migrations...")
		if err := storage.RunMigrations(cfg.Database.Postgres.URL(), cfg.Database.Postgres.MigrationsPath); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if cfg.Stores.EventLog == "clickhouse" {
		logger.Info("Running ClickHouse migrations...")
		db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		defer db.Close()
		if err := storage.RunClickHouseMigrations(ctx, db, cfg.Database.ClickHouse.MigrationsPath, logger); err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
	}
	return nil
}
