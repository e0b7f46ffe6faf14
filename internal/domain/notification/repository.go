// internal/domain/notification/repository.go
package notification

import "context"

// Repository is the durable ledger for batches and per-auth notifications.
// It holds no business rules; status transitions are decided by the caller.
type Repository interface {
	// ListByAuthID returns every notification recorded for authID (the dedup lookup).
	// An empty slice means the auth was never attempted.
	ListByAuthID(ctx context.Context, authID int64) ([]*Notification, error)

	// CreateBatchWithNotifications inserts a sent or failed batch and its notifications in
	// one transaction and fills in the generated ids once committed.
	CreateBatchWithNotifications(ctx context.Context, batch *Batch, notifications []*Notification) error
	// CreatePendingBatch inserts a pending batch without notifications.
	CreatePendingBatch(ctx context.Context, batch *Batch) error
	// GetBatchByID returns the batch or an error wrapping errs.ErrNotFound.
	GetBatchByID(ctx context.Context, id string) (*Batch, error)
	// ListPendingBatchesForUser returns every pending batch for userID, newest first.
	ListPendingBatchesForUser(ctx context.Context, userID string) ([]*Batch, error)
	// FinalizeBatch applies a terminal outcome to a pending batch and inserts its
	// notifications in one transaction. Unknown ids wrap errs.ErrNotFound; a batch
	// that is no longer pending wraps errs.ErrInvalidState.
	FinalizeBatch(ctx context.Context, batchID string, outcome Outcome, notifications []*Notification) error

	Ping(ctx context.Context) error
}
