package main

import (
	"context"
	"database/sql"
	"fmt"

	"auth_expiry_notifier/internal/domain/apikey"
	"auth_expiry_notifier/internal/domain/notification"
	"auth_expiry_notifier/internal/infra/config"
	idb "auth_expiry_notifier/internal/infra/database"
)

type stores struct {
	db            *sql.DB // nil for the memory driver
	notifications notification.Repository
	apiKeys       apikey.Repository
}

func (s *stores) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// openStores connects the configured driver and makes sure the schema exists.
func openStores(ctx context.Context, cfg *config.AppConfig) (*stores, error) {
	var (
		db      *sql.DB
		dialect idb.Dialect
		err     error
	)
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return &stores{
			notifications: idb.NewMemoryNotificationRepository(),
			apiKeys:       idb.NewMemoryAPIKeyRepository(),
		}, nil
	case config.DriverSQLite:
		db, err = idb.NewSQLiteConnection(cfg.Store.DatabaseURL)
		dialect = idb.SQLite
	case config.DriverPostgres:
		db, err = idb.NewPostgresConnection(cfg.Store.DatabaseURL)
		dialect = idb.Postgres
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := idb.EnsureSchema(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return &stores{
		db:            db,
		notifications: idb.NewSQLNotificationRepository(db, dialect),
		apiKeys:       idb.NewSQLAPIKeyRepository(db, dialect),
	}, nil
}
