package database

import (
	"context"
	"database/sql"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS notification_batches (
		id                UUID PRIMARY KEY,
		user_id           TEXT NOT NULL,
		user_email        TEXT NOT NULL,
		resource_id       TEXT NOT NULL,
		resource_name     TEXT NOT NULL,
		notification_type VARCHAR(32) NOT NULL,
		subject           TEXT NOT NULL,
		status            VARCHAR(16) NOT NULL,
		sent_at           TIMESTAMPTZ NULL,
		error             TEXT NULL,
		auths             JSONB NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notification_batches_user_status_idx
		ON notification_batches (user_id, status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id                UUID PRIMARY KEY,
		batch_id          UUID NOT NULL REFERENCES notification_batches(id),
		user_id           TEXT NOT NULL,
		user_email        TEXT NOT NULL,
		resource_id       TEXT NOT NULL,
		resource_name     TEXT NOT NULL,
		auth_id           BIGINT NOT NULL,
		map_id            BIGINT NOT NULL,
		auth_name         TEXT NOT NULL,
		expiry_date       DATE NOT NULL,
		notification_type VARCHAR(32) NOT NULL,
		sent_at           TIMESTAMPTZ NULL,
		status            VARCHAR(16) NOT NULL,
		error             TEXT NULL,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_auth_id_idx ON notifications (auth_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS notifications_auth_sent_unique
		ON notifications (auth_id) WHERE status = 'sent'`,
	`CREATE TABLE IF NOT EXISTS api_users (
		name         TEXT PRIMARY KEY,
		api_key_hash TEXT NOT NULL UNIQUE,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS notification_batches (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		user_email        TEXT NOT NULL,
		resource_id       TEXT NOT NULL,
		resource_name     TEXT NOT NULL,
		notification_type TEXT NOT NULL,
		subject           TEXT NOT NULL,
		status            TEXT NOT NULL,
		sent_at           TIMESTAMP NULL,
		error             TEXT NULL,
		auths             TEXT NOT NULL,
		created_at        TIMESTAMP NOT NULL,
		updated_at        TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notification_batches_user_status_idx
		ON notification_batches (user_id, status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id                TEXT PRIMARY KEY,
		batch_id          TEXT NOT NULL REFERENCES notification_batches(id),
		user_id           TEXT NOT NULL,
		user_email        TEXT NOT NULL,
		resource_id       TEXT NOT NULL,
		resource_name     TEXT NOT NULL,
		auth_id           INTEGER NOT NULL,
		map_id            INTEGER NOT NULL,
		auth_name         TEXT NOT NULL,
		expiry_date       TIMESTAMP NOT NULL,
		notification_type TEXT NOT NULL,
		sent_at           TIMESTAMP NULL,
		status            TEXT NOT NULL,
		error             TEXT NULL,
		created_at        TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_auth_id_idx ON notifications (auth_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS notifications_auth_sent_unique
		ON notifications (auth_id) WHERE status = 'sent'`,
	`CREATE TABLE IF NOT EXISTS api_users (
		name         TEXT PRIMARY KEY,
		api_key_hash TEXT NOT NULL UNIQUE,
		created_at   TIMESTAMP NOT NULL
	)`,
}

// EnsureSchema creates the tables and indexes for d if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply %s schema: %w", d.Name, err)
		}
	}
	return nil
}
