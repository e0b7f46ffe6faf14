// internal/domain/notification/status.go
package notification

import (
	"database/sql"
	"time"
)

// Notification is the ledger entry for one (auth, recipient) delivery attempt.
// Corresponds to the 'notifications' table.
type Notification struct {
	ID           string
	BatchID      string
	UserID       string
	UserEmail    string
	ResourceID   string
	ResourceName string
	AuthID       int64
	MapID        int64
	AuthName     string
	ExpiryDate   time.Time
	Category     Category
	SentAt       sql.NullTime
	Status       Status
	Error        sql.NullString
	CreatedAt    time.Time
}

// Owed reports whether a new notification is due given the prior attempts
// recorded for one auth. Sent or pending attempts block; failed ones do not.
func Owed(existing []*Notification) bool {
	for _, n := range existing {
		if n.Status.BlocksResend() {
			return false
		}
	}
	return true
}
