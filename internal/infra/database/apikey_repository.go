package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"auth_expiry_notifier/internal/domain/apikey"
	"auth_expiry_notifier/internal/domain/errs"
)

var ErrAPIUserNotFound = fmt.Errorf("api user not found: %w", errs.ErrNotFound)

type SQLAPIKeyRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLAPIKeyRepository(db *sql.DB, dialect Dialect) *SQLAPIKeyRepository {
	return &SQLAPIKeyRepository{db: db, dialect: dialect, now: time.Now}
}

func (r *SQLAPIKeyRepository) Upsert(ctx context.Context, user *apikey.User) (bool, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction for api user upsert: %w", err)
	}
	defer txn.Rollback()

	res, err := txn.ExecContext(ctx, r.dialect.rebind(`UPDATE api_users SET api_key_hash = ? WHERE name = ?`), user.KeyHash, user.Name)
	if err != nil {
		return false, r.wrapWriteErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading api user update result: %w", err)
	}
	created := affected == 0
	if created {
		user.CreatedAt = r.now().UTC()
		_, err = txn.ExecContext(ctx, r.dialect.rebind(`INSERT INTO api_users (name, api_key_hash, created_at) VALUES (?, ?, ?)`),
			user.Name, user.KeyHash, dbTime{Time: user.CreatedAt, Valid: true})
		if err != nil {
			return false, r.wrapWriteErr(err)
		}
	}
	if err := txn.Commit(); err != nil {
		return false, fmt.Errorf("error committing api user upsert: %w", err)
	}
	return created, nil
}

func (r *SQLAPIKeyRepository) wrapWriteErr(err error) error {
	if r.dialect.isUniqueViolation(err) {
		return fmt.Errorf("api key already assigned: %w", errs.ErrConflict)
	}
	return fmt.Errorf("error saving api user: %w", err)
}

func (r *SQLAPIKeyRepository) GetByKeyHash(ctx context.Context, hash string) (*apikey.User, error) {
	var (
		u       apikey.User
		created dbTime
	)
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(`SELECT name, api_key_hash, created_at FROM api_users WHERE api_key_hash = ?`), hash).
		Scan(&u.Name, &u.KeyHash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAPIUserNotFound
		}
		return nil, fmt.Errorf("error getting api user by key hash: %w", err)
	}
	u.CreatedAt = created.Time
	return &u, nil
}

// MemoryAPIKeyRepository is an in-process apikey.Repository.
type MemoryAPIKeyRepository struct {
	mu     sync.RWMutex
	byName map[string]apikey.User
}

func NewMemoryAPIKeyRepository() *MemoryAPIKeyRepository {
	return &MemoryAPIKeyRepository{byName: make(map[string]apikey.User)}
}

func (r *MemoryAPIKeyRepository) Upsert(_ context.Context, user *apikey.User) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, u := range r.byName {
		if name != user.Name && u.KeyHash == user.KeyHash {
			return false, fmt.Errorf("api key already assigned: %w", errs.ErrConflict)
		}
	}
	existing, ok := r.byName[user.Name]
	if ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = time.Now().UTC()
	}
	r.byName[user.Name] = *user
	return !ok, nil
}

func (r *MemoryAPIKeyRepository) GetByKeyHash(_ context.Context, hash string) (*apikey.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.byName {
		if u.KeyHash == hash {
			c := u
			return &c, nil
		}
	}
	return nil, ErrAPIUserNotFound
}
