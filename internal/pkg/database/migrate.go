package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// schema is idempotent; it runs on every start when auto_migrate is on.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

	`CREATE TABLE IF NOT EXISTS rooms (
		id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		owner_id         TEXT NOT NULL,
		name             VARCHAR(100) NOT NULL,
		description      TEXT,
		is_private       BOOLEAN NOT NULL DEFAULT FALSE,
		max_capacity     INTEGER NOT NULL CHECK (max_capacity > 0),
		current_media_id TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS room_members (
		id        UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		room_id   UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id   TEXT NOT NULL,
		role      VARCHAR(16) NOT NULL CHECK (role IN ('OWNER', 'VIEWER')),
		joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (room_id, user_id)
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS room_members_one_owner
		ON room_members (room_id) WHERE role = 'OWNER'`,

	`CREATE INDEX IF NOT EXISTS room_members_user_id ON room_members (user_id)`,

	`CREATE TABLE IF NOT EXISTS playback_states (
		room_id          UUID PRIMARY KEY REFERENCES rooms(id) ON DELETE CASCADE,
		media_id         TEXT,
		position_seconds DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (position_seconds >= 0),
		duration_seconds DOUBLE PRECISION,
		is_playing       BOOLEAN NOT NULL DEFAULT FALSE,
		version          BIGINT NOT NULL DEFAULT 0,
		last_updated_by  TEXT,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate applies the schema
func Migrate(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i, err)
		}
	}

	logger.Info("Database schema up to date", zap.Int("statements", len(schema)))
	return nil
}
