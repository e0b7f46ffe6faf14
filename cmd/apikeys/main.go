// Command apikeys creates or rotates an API key for the notifier HTTP API.
// The plaintext key is printed once; only its hash is stored.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"auth_expiry_notifier/internal/domain/apikey"
	"auth_expiry_notifier/internal/infra/config"
	idb "auth_expiry_notifier/internal/infra/database"
	"auth_expiry_notifier/internal/infra/logger"
)

func main() {
	name := flag.String("name", "", "name of the API user to create or rotate")
	flag.Parse()
	if *name == "" {
		flag.Usage()
		os.Exit(2)
	}

	log := logger.Component("apikeys")
	cfg, err := config.LoadStore()
	if err != nil {
		log.WithError(err).Fatal("Could not load store configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, closeDB, err := openAPIKeyRepository(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Could not open store")
	}
	defer closeDB()

	key, err := apikey.GenerateKey()
	if err != nil {
		log.WithError(err).Fatal("Could not generate key")
	}
	created, err := repo.Upsert(ctx, &apikey.User{Name: *name, KeyHash: apikey.HashKey(key)})
	if err != nil {
		log.WithError(err).Fatal("Could not save API user")
	}

	action := "Rotated"
	if created {
		action = "Created"
	}
	fmt.Printf("%s API key for %q. Store it now, it will not be shown again:\n%s\n", action, *name, key)
}

func openAPIKeyRepository(ctx context.Context, cfg *config.StoreConfig) (apikey.Repository, func(), error) {
	open, dialect := idb.NewPostgresConnection, idb.Postgres
	if cfg.Driver == config.DriverSQLite {
		open, dialect = idb.NewSQLiteConnection, idb.SQLite
	}
	db, err := open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := idb.EnsureSchema(ctx, db, dialect); err != nil {
		db.Close()
		return nil, nil, err
	}
	return idb.NewSQLAPIKeyRepository(db, dialect), func() { db.Close() }, nil
}
