package registry

import (
	"context"
	"time"
)

// Client is the read side of the STARS registry used by the notification service.
// Failures wrap errs.ErrTransport (network or non-2xx) or errs.ErrNotFound.
type Client interface {
	// ListExpiring returns authorisations in unitID expiring before the given date.
	// An empty result is not an error.
	ListExpiring(ctx context.Context, unitID string, before time.Time) ([]*Auth, error)
	// ListCurrent returns the current authorisations held by one resource.
	ListCurrent(ctx context.Context, resourceID string) ([]*Auth, error)
	// ResolveRecipient maps a resource id to an email-capable user.
	ResolveRecipient(ctx context.Context, resourceID string) (*Recipient, error)
}
