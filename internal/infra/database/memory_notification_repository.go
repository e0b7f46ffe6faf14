package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"auth_expiry_notifier/internal/domain/errs"
	"auth_expiry_notifier/internal/domain/notification"

	"github.com/google/uuid"
)

// MemoryNotificationRepository keeps the ledger in process memory. It applies
// the same constraints as the SQL store, including at most one sent
// notification per auth. Callers get copies; stored values are never shared.
type MemoryNotificationRepository struct {
	mu            sync.RWMutex
	batches       map[string]*notification.Batch
	batchOrder    []string
	notifications []*notification.Notification
	now           func() time.Time
}

func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{
		batches: make(map[string]*notification.Batch),
		now:     time.Now,
	}
}

func (r *MemoryNotificationRepository) Ping(context.Context) error { return nil }

func (r *MemoryNotificationRepository) ListByAuthID(_ context.Context, authID int64) ([]*notification.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*notification.Notification{}
	for _, n := range r.notifications {
		if n.AuthID == authID {
			c := *n
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *MemoryNotificationRepository) CreateBatchWithNotifications(_ context.Context, batch *notification.Batch, notifications []*notification.Notification) error {
	if !batch.Status.IsTerminal() {
		return fmt.Errorf("cannot create batch with notifications in status %s: %w", batch.Status, errs.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	id := batch.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := r.batches[id]; exists {
		return fmt.Errorf("batch %s already exists: %w", id, errs.ErrConflict)
	}
	staged, err := r.stage(id, notifications, now)
	if err != nil {
		return err
	}

	batch.ID = id
	batch.CreatedAt, batch.UpdatedAt = now, now
	r.putBatch(batch)
	r.commit(notifications, staged)
	return nil
}

func (r *MemoryNotificationRepository) CreatePendingBatch(_ context.Context, batch *notification.Batch) error {
	if batch.Status != notification.StatusPending {
		return fmt.Errorf("cannot create batch with status %s as pending: %w", batch.Status, errs.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := batch.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := r.batches[id]; exists {
		return fmt.Errorf("batch %s already exists: %w", id, errs.ErrConflict)
	}
	now := r.now().UTC()
	batch.ID = id
	batch.CreatedAt, batch.UpdatedAt = now, now
	r.putBatch(batch)
	return nil
}

func (r *MemoryNotificationRepository) GetBatchByID(_ context.Context, id string) (*notification.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, ErrBatchNotFound)
	}
	return cloneBatch(b), nil
}

func (r *MemoryNotificationRepository) ListPendingBatchesForUser(_ context.Context, userID string) ([]*notification.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*notification.Batch{}
	for i := len(r.batchOrder) - 1; i >= 0; i-- {
		b := r.batches[r.batchOrder[i]]
		if b.UserID == userID && b.Status == notification.StatusPending {
			out = append(out, cloneBatch(b))
		}
	}
	return out, nil
}

func (r *MemoryNotificationRepository) FinalizeBatch(_ context.Context, batchID string, outcome notification.Outcome, notifications []*notification.Notification) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("cannot finalize batch with status %s: %w", outcome.Status, errs.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %s: %w", batchID, ErrBatchNotFound)
	}
	if b.Status != notification.StatusPending {
		return fmt.Errorf("batch %s is %s: %w", batchID, b.Status, ErrBatchNotPending)
	}
	now := r.now().UTC()
	staged, err := r.stage(batchID, notifications, now)
	if err != nil {
		return err
	}

	b.Status = outcome.Status
	b.SentAt = outcome.SentAt
	b.Error = outcome.Error
	b.UpdatedAt = now
	r.commit(notifications, staged)
	return nil
}

// stage validates and copies notifications without touching stored state.
func (r *MemoryNotificationRepository) stage(batchID string, notifications []*notification.Notification, now time.Time) ([]*notification.Notification, error) {
	sent := make(map[int64]bool)
	for _, n := range r.notifications {
		if n.Status == notification.StatusSent {
			sent[n.AuthID] = true
		}
	}
	staged := make([]*notification.Notification, 0, len(notifications))
	for _, n := range notifications {
		c := *n
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.BatchID = batchID
		c.CreatedAt = now
		if c.Status == notification.StatusSent {
			if sent[c.AuthID] {
				return nil, fmt.Errorf("error in notification insert (auth %d): %w", c.AuthID, ErrDuplicateSentNotification)
			}
			sent[c.AuthID] = true
		}
		staged = append(staged, &c)
	}
	return staged, nil
}

func (r *MemoryNotificationRepository) commit(caller, staged []*notification.Notification) {
	for i, n := range staged {
		caller[i].ID, caller[i].BatchID, caller[i].CreatedAt = n.ID, n.BatchID, n.CreatedAt
		r.notifications = append(r.notifications, n)
	}
}

func (r *MemoryNotificationRepository) putBatch(b *notification.Batch) {
	r.batches[b.ID] = cloneBatch(b)
	r.batchOrder = append(r.batchOrder, b.ID)
}

func cloneBatch(b *notification.Batch) *notification.Batch {
	c := *b
	c.Auths = append([]notification.AuthSummary(nil), b.Auths...)
	c.SentAt = sql.NullTime{Time: b.SentAt.Time, Valid: b.SentAt.Valid}
	return &c
}
