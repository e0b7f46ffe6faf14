package apikey

import "context"

// Repository persists API users.
type Repository interface {
	// Upsert creates the user or replaces the key of an existing user with the same name.
	// It reports whether a new user was created.
	Upsert(ctx context.Context, user *User) (created bool, err error)
	// GetByKeyHash returns the user owning hash or an error wrapping errs.ErrNotFound.
	GetByKeyHash(ctx context.Context, hash string) (*User, error)
}
