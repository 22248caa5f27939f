package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/mint-scanner/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// testPostgres connects to the integration database and applies migrations,
// skipping the test in -short mode or when Postgres is unreachable.
func testPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.PostgresConfig{
		Host:           envOr("POSTGRES_HOST", "localhost"),
		Port:           envOr("POSTGRES_PORT", "5432"),
		Database:       envOr("POSTGRES_DB", "mint_scanner_test"),
		User:           envOr("POSTGRES_USER", "scanner"),
		Password:       envOr("POSTGRES_PASSWORD", "scanner_dev_password"),
		MaxConnections: 5,
	}

	db, err := NewPostgresDB(testContext(t), cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := RunMigrations(cfg.URL(), envOr("POSTGRES_MIGRATIONS_PATH", "../../migrations/postgres")); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	return db
}
