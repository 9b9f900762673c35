// Package main provides a CLI tool for running database migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/holdings-tracker/internal/config"
	"github.com/holdings-tracker/internal/logging"
	"github.com/holdings-tracker/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		dbType = flag.String("db", "postgres", "Database type: postgres, clickhouse, all")
		steps  = flag.Int("steps", 1, "Number of migrations to roll back with -action=down")
		dir    = flag.String("dir", "migrations", "Directory holding the postgres/ and clickhouse/ migrations")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load config: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	ctx := context.Background()

	switch *dbType {
	case "postgres":
		err = runPostgresMigrations(cfg, *action, *steps, *dir+"/postgres")
	case "clickhouse":
		err = runClickHouseMigrations(ctx, cfg, *action, *dir+"/clickhouse")
	case "all":
		if err = runPostgresMigrations(cfg, *action, *steps, *dir+"/postgres"); err == nil {
			err = runClickHouseMigrations(ctx, cfg, *action, *dir+"/clickhouse")
		}
	default:
		err = fmt.Errorf("unknown database type: %s", *dbType)
	}
	if err != nil {
		logging.WithField("db", *dbType).WithError(err).Fatal("Migration failed")
	}
}

func runPostgresMigrations(cfg *config.Config, action string, steps int, path string) error {
	databaseURL := storage.PostgresURL(&cfg.Database.Postgres)
	logger := logging.WithField("db", "postgres")

	switch action {
	case "up":
		logger.Info("Running Postgres migrations")
		if err := storage.RunMigrations(databaseURL, path); err != nil {
			return err
		}
		logger.Info("Postgres migrations completed successfully")

	case "down":
		logger.WithField("steps", steps).Info("Rolling back Postgres migrations")
		if err := storage.RollbackMigrations(databaseURL, path, steps); err != nil {
			return err
		}
		logger.Info("Postgres migrations rolled back successfully")

	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, path)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{"version": version, "dirty": dirty}).Info("Current Postgres migration version")

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}

func runClickHouseMigrations(ctx context.Context, cfg *config.Config, action, path string) error {
	if action != "up" {
		return fmt.Errorf("ClickHouse migrations only support 'up' action")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", path)
	}

	db, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.WithError(err).Warn("Error closing ClickHouse connection")
		}
	}()

	return storage.RunClickHouseMigrations(ctx, db, path)
}
