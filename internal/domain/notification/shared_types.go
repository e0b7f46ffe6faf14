// internal/domain/notification/shared_types.go
package notification

// Category distinguishes an early warning from an already-expired alert.
type Category string

const (
	CategoryExpiringSoon Category = "expiring_soon"
	CategoryExpired      Category = "expired"
)

func (c Category) IsValid() bool {
	switch c {
	case CategoryExpiringSoon, CategoryExpired:
		return true
	}
	return false
}

// Status is the delivery state shared by batches and per-auth notifications.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// BlocksResend reports whether an existing notification in this status
// means the auth must not be notified again.
func (s Status) BlocksResend() bool {
	return s == StatusSent || s == StatusPending
}
