package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the initial schema migration.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS users (
			id                  TEXT PRIMARY KEY,
			name                TEXT NOT NULL DEFAULT '',
			email               TEXT NOT NULL UNIQUE,
			password            TEXT NOT NULL,
			role                TEXT NOT NULL DEFAULT 'user',
			phone               TEXT NOT NULL DEFAULT '',
			phone_verified      BOOLEAN NOT NULL DEFAULT FALSE,
			subscription_tier   TEXT NOT NULL DEFAULT 'none',
			subscription_status TEXT NOT NULL DEFAULT 'inactive',
			subscription_end    DATE,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
		CREATE INDEX IF NOT EXISTS idx_users_phone ON users(phone);

		CREATE TABLE IF NOT EXISTS otp_challenges (
			id         TEXT PRIMARY KEY,
			phone      TEXT NOT NULL,
			code       TEXT NOT NULL,
			issued_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL,
			verified   BOOLEAN NOT NULL DEFAULT FALSE,
			attempts   INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_otp_challenges_phone ON otp_challenges(phone, issued_at DESC);

		CREATE TABLE IF NOT EXISTS payment_intents (
			external_id        TEXT PRIMARY KEY,
			user_id            TEXT NOT NULL,
			plan_id            TEXT NOT NULL,
			amount_halalas     BIGINT NOT NULL,
			currency           TEXT NOT NULL,
			status             TEXT NOT NULL DEFAULT 'pending',
			gateway_metadata   JSONB,
			applied_tier       TEXT NOT NULL DEFAULT '',
			applied_expires_on DATE,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_payment_intents_user ON payment_intents(user_id, created_at DESC);
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
