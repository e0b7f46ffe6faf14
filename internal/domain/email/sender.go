package email

import (
	"context"

	"auth_expiry_notifier/internal/domain/notification"
)

// Sender delivers one batch email. Rendering happens inside the implementation;
// a returned error means the message was not accepted by the provider.
type Sender interface {
	SendBatch(ctx context.Context, batch *notification.Batch) error
}
