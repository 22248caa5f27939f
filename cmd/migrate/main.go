// Package main provides a CLI tool for running database migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mint-scanner/internal/config"
	"github.com/mint-scanner/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		dbType = flag.String("db", "postgres", "Database type: postgres, clickhouse, all")
		steps  = flag.Int("steps", 1, "Number of migrations to roll back with -action down")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch *dbType {
	case "postgres":
		err = runPostgresMigrations(cfg, *action, *steps)
	case "clickhouse":
		err = runClickHouseMigrations(cfg, *action)
	case "all":
		err = runPostgresMigrations(cfg, *action, *steps)
		if err == nil && cfg.Database.ClickHouse.Enabled {
			err = runClickHouseMigrations(cfg, *action)
		}
	default:
		log.Fatalf("Unknown database type: %s", *dbType)
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

func runPostgresMigrations(cfg *config.Config, action string, steps int) error {
	databaseURL := cfg.Database.Postgres.URL()
	migrationsPath := cfg.Database.Postgres.MigrationsPath

	switch action {
	case "up":
		log.Println("Running Postgres migrations...")
		if err := storage.RunMigrations(databaseURL, migrationsPath); err != nil {
			return err
		}
		log.Println("Postgres migrations completed successfully")

	case "down":
		log.Printf("Rolling back %d Postgres migration(s)...", steps)
		if err := storage.RollbackMigrations(databaseURL, migrationsPath, steps); err != nil {
			return err
		}
		log.Println("Postgres migration rolled back successfully")

	case "version":
		status, err := storage.GetMigrationStatus(databaseURL, migrationsPath)
		if err != nil {
			return err
		}
		log.Printf("Current Postgres migration version: %d (dirty: %v)", status.Version, status.Dirty)

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}

func runClickHouseMigrations(cfg *config.Config, action string) error {
	if action != "up" {
		return fmt.Errorf("ClickHouse migrations only support 'up' action")
	}

	migrationsPath := cfg.Database.ClickHouse.MigrationsPath
	if _, err := os.Stat(migrationsPath); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", migrationsPath)
	}

	ctx := context.Background()
	log.Println("Connecting to ClickHouse...")
	db, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing ClickHouse connection: %v", err)
		}
	}()

	log.Println("Running ClickHouse migrations...")
	applied, err := storage.RunClickHouseMigrations(ctx, db, migrationsPath)
	if err != nil {
		return err
	}

	log.Printf("ClickHouse migrations completed successfully (%d applied)", applied)
	return nil
}
