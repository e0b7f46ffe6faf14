package notification

import (
	"database/sql"
	"fmt"
	"time"

	"auth_expiry_notifier/internal/domain/errs"
)

// AuthSummary is one auth as listed inside a batch email.
type AuthSummary struct {
	AuthID     int64     `json:"authId"`
	MapID      int64     `json:"mapId"`
	AuthName   string    `json:"authName"`
	ExpiryDate time.Time `json:"expiryDate"`
}

// Batch is a single email to one recipient covering one or more auths.
// Corresponds to the 'notification_batches' table.
//
// A batch is created pending and moves once to sent or failed.
type Batch struct {
	ID           string
	UserID       string
	UserEmail    string
	ResourceID   string
	ResourceName string
	Category     Category
	Subject      string
	Status       Status
	SentAt       sql.NullTime
	Error        sql.NullString
	Auths        []AuthSummary // ascending by ExpiryDate
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MarkSent moves a pending batch to sent.
func (b *Batch) MarkSent(at time.Time) error {
	if b.Status != StatusPending {
		return fmt.Errorf("batch %s cannot move from %s to %s: %w", b.ID, b.Status, StatusSent, errs.ErrInvalidState)
	}
	b.Status = StatusSent
	b.SentAt = sql.NullTime{Time: at, Valid: true}
	b.Error = sql.NullString{}
	return nil
}

// MarkFailed moves a pending batch to failed and records the cause.
func (b *Batch) MarkFailed(cause error) error {
	if b.Status != StatusPending {
		return fmt.Errorf("batch %s cannot move from %s to %s: %w", b.ID, b.Status, StatusFailed, errs.ErrInvalidState)
	}
	b.Status = StatusFailed
	b.SentAt = sql.NullTime{}
	if cause != nil {
		b.Error = sql.NullString{String: cause.Error(), Valid: true}
	}
	return nil
}

// Contains reports whether the batch already lists authID.
func (b *Batch) Contains(authID int64) bool {
	for _, a := range b.Auths {
		if a.AuthID == authID {
			return true
		}
	}
	return false
}

// Notifications expands the batch into one ledger entry per auth, carrying
// the batch's current status, sent time and error.
func (b *Batch) Notifications() []*Notification {
	out := make([]*Notification, 0, len(b.Auths))
	for _, a := range b.Auths {
		out = append(out, &Notification{
			BatchID:      b.ID,
			UserID:       b.UserID,
			UserEmail:    b.UserEmail,
			ResourceID:   b.ResourceID,
			ResourceName: b.ResourceName,
			AuthID:       a.AuthID,
			MapID:        a.MapID,
			AuthName:     a.AuthName,
			ExpiryDate:   a.ExpiryDate,
			Category:     b.Category,
			SentAt:       b.SentAt,
			Status:       b.Status,
			Error:        b.Error,
		})
	}
	return out
}

// Outcome is the terminal result applied to a pending batch at finalize time.
type Outcome struct {
	Status Status
	SentAt sql.NullTime
	Error  sql.NullString
}
