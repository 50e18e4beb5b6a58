// Package db provides the Postgres connection helper and schema migrations
// for the ledger tables.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres pool for dsn and verifies it answers. A ledger
// store that cannot be reached is fatal for the caller, so the ping error
// is returned rather than deferred to the first query.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	database.SetMaxOpenConns(10)
	database.SetMaxIdleConns(5)
	database.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		if cerr := database.Close(); cerr != nil {
			slog.Warn("failed to close database after ping failure", slog.Any("err", cerr))
		}
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return database, nil
}

// Migrate applies the idempotent embedded schema. It is the fallback used
// when versioned migrations cannot run (for example, a database created
// before schema_migrations existed).
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_balances (
			id BIGSERIAL PRIMARY KEY,
			ledger TEXT NOT NULL,
			username TEXT NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ,
			UNIQUE (ledger, username)
		)`,
		`CREATE TABLE IF NOT EXISTS attendance (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			dates TEXT[] NOT NULL DEFAULT '{}',
			last_day TEXT,
			streak INTEGER NOT NULL DEFAULT 1 CHECK (streak >= 1),
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_balances_ledger_balance ON ledger_balances (ledger, balance DESC)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}
