package queue

import (
	"context"
	"time"
)

// SendJob asks the webhook to send and finalize one pending batch.
type SendJob struct {
	BatchID string `json:"batch_id"`
}

// Dispatcher schedules a SendJob for delivery after delay and returns the queue's job id.
type Dispatcher interface {
	Enqueue(ctx context.Context, job SendJob, delay time.Duration) (string, error)
}
