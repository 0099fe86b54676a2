package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied on relay start. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS latest_locations (
		entity_id   TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL CHECK (entity_type IN ('driver', 'passenger')),
		latitude    DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
		longitude   DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
		ride_id     TEXT,
		sampled_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS replies (
		id             BIGSERIAL PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		event          TEXT NOT NULL,
		sender_id      TEXT NOT NULL,
		recipient_id   TEXT,
		in_reply_to    TEXT,
		message        TEXT NOT NULL,
		metadata       JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS latest_locations_sampled_idx ON latest_locations (sampled_at)`,
	`CREATE INDEX IF NOT EXISTS replies_created_idx ON replies (created_at)`,
	`CREATE INDEX IF NOT EXISTS replies_recipient_idx ON replies (recipient_id, created_at)`,
}

// EnsureSchema creates the relay tables when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres ensure schema: %w", err)
		}
	}
	return nil
}
