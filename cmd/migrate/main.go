// Package main applies the Postgres and ClickHouse schemas.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dispatch-orchestrator/internal/config"
	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/dispatch-orchestrator/internal/storage"
)

func main() {
	action := flag.String("action", "up", "Migration action: up, down, version")
	dbType := flag.String("db", "postgres", "Database: postgres, clickhouse")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithFields(map[string]interface{}{
		"db":     *dbType,
		"action": *action,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *dbType {
	case "postgres":
		err = migratePostgres(cfg.Database.Postgres, *action, logger)
	case "clickhouse":
		err = migrateClickHouse(ctx, cfg.Database.ClickHouse, *action, logger)
	default:
		err = fmt.Errorf("unknown database type: %s", *dbType)
	}
	if err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}
}

func migratePostgres(pg config.PostgresConfig, action string, logger *logging.Logger) error {
	url := pg.URL()
	logger = logger.WithField("path", pg.MigrationsPath)

	switch action {
	case "up":
		if err := storage.RunMigrations(url, pg.MigrationsPath); err != nil {
			return err
		}
		logger.Info("Postgres schema is up to date")
	case "down":
		if err := storage.RollbackMigrations(url, pg.MigrationsPath); err != nil {
			return err
		}
		logger.Info("Rolled back one Postgres migration")
	case "version":
		version, dirty, err := storage.MigrationVersion(url, pg.MigrationsPath)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{"version": version, "dirty": dirty}).Info("Postgres migration version")
	default:
		return fmt.Errorf("unknown action: %s", action)
	}
	return nil
}

// migrateClickHouse applies the event log schema. The statements are
// idempotent, so there is no down step; version reports whether the events
// table exists.
func migrateClickHouse(ctx context.Context, ch config.ClickHouseConfig, action string, logger *logging.Logger) error {
	if action != "up" && action != "version" {
		return fmt.Errorf("clickhouse supports the up and version actions, got %q", action)
	}

	db, err := storage.NewClickHouseDB(&ch)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close ClickHouse connection")
		}
	}()

	if action == "version" {
		ok, err := db.HasTable(ctx, "events")
		if err != nil {
			return err
		}
		logger.WithField("eventsTable", ok).Info("ClickHouse schema status")
		return nil
	}

	if _, err := os.Stat(ch.MigrationsPath); err != nil {
		return fmt.Errorf("migrations directory %s: %w", ch.MigrationsPath, err)
	}
	if err := storage.RunClickHouseMigrations(ctx, db, ch.MigrationsPath, logger); err != nil {
		return err
	}
	logger.WithField("path", ch.MigrationsPath).Info("ClickHouse schema is up to date")
	return nil
}
