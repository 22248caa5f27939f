package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mint-scanner/internal/logging"
)

const clickHouseMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    name       String,
    applied_at DateTime DEFAULT now()
) ENGINE = MergeTree()
ORDER BY name`

// RunClickHouseMigrations applies the *.sql files in migrationsPath in name
// order, skipping files already recorded in schema_migrations.
func RunClickHouseMigrations(ctx context.Context, db *ClickHouseDB, migrationsPath string) (int, error) {
	logger := logging.FromContext(ctx).WithComponent("clickhouse_migrate")

	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		logger.Info("No ClickHouse migration files found")
		return 0, nil
	}

	if err := db.conn.Exec(ctx, clickHouseMigrationsTable); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	applied, err := appliedClickHouseMigrations(ctx, db)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, name := range files {
		if applied[name] {
			continue
		}

		content, err := os.ReadFile(filepath.Join(migrationsPath, name)) // #nosec G304 - path is built from the configured migrations dir
		if err != nil {
			return count, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}

		for i, stmt := range splitSQLStatements(string(content)) {
			logger.Debugf("%s: executing statement %d", name, i+1)
			if err := db.conn.Exec(ctx, stmt); err != nil {
				return count, fmt.Errorf("failed to execute statement %d in %s: %w", i+1, name, err)
			}
		}

		if err := db.conn.Exec(ctx, "INSERT INTO schema_migrations (name) VALUES (?)", name); err != nil {
			return count, fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		logger.WithField("file", name).Info("Applied ClickHouse migration")
		count++
	}

	return count, nil
}

func appliedClickHouseMigrations(ctx context.Context, db *ClickHouseDB) (map[string]bool, error) {
	rows, err := db.conn.Query(ctx, "SELECT name FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan migration name: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// splitSQLStatements splits a migration file on statement-ending semicolons,
// dropping blank and comment-only lines. ClickHouse rejects multi-statement
// queries so each one is sent separately.
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return statements
}
