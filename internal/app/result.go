package app

import (
	"time"

	"auth_expiry_notifier/internal/domain/notification"
	"auth_expiry_notifier/internal/domain/registry"
)

// Scope selects which auths a pass looks at. Zero values fall back to the
// service defaults.
type Scope struct {
	UnitID      string
	WarningDays *int
}

// PassSummary carries the aggregate counters of a pass.
type PassSummary struct {
	TotalExpiringRecords int `json:"total_expiring_records"`
	RecipientsProcessed  int `json:"recipients_processed"`
	EmailsSent           int `json:"emails_sent"`
}

// PassResult is the flat outcome of one orchestration pass. A pass never
// returns a raw error; failures are described in Errors.
type PassResult struct {
	Success             bool        `json:"success"`
	NotificationsSent   int         `json:"notifications_sent"`
	NotificationsFailed int         `json:"notifications_failed"`
	NotificationsQueued int         `json:"notifications_queued"`
	Summary             PassSummary `json:"summary"`
	Errors              []string    `json:"errors"`
}

func emptyResult() *PassResult {
	return &PassResult{Success: true, Errors: []string{}}
}

func fatalResult(err error) *PassResult {
	return &PassResult{Success: false, Errors: []string{err.Error()}}
}

func (r *PassResult) recordSent() {
	r.NotificationsSent++
	r.Summary.EmailsSent++
}

func (r *PassResult) recordFailed(msg string) {
	r.NotificationsFailed++
	r.Errors = append(r.Errors, msg)
}

// SendResult describes the outcome of sending one queued batch.
type SendResult struct {
	Success          bool                `json:"success"`
	BatchID          string              `json:"batch_id"`
	Status           notification.Status `json:"status"`
	Error            string              `json:"error,omitempty"`
	AlreadyFinalized bool                `json:"already_finalized,omitempty"`
}

// ExpiringList is the read-only listing returned by ListExpiring.
type ExpiringList struct {
	UnitID      string           `json:"unit_id"`
	ExpiryDate  string           `json:"expiry_date"`
	WarningDays int              `json:"warning_days"`
	Count       int              `json:"count"`
	Auths       []*registry.Auth `json:"auths"`
}

// Metrics receives pass and delivery outcomes. A nil Metrics is replaced by a no-op.
type Metrics interface {
	RecordPass(mode string, result *PassResult, elapsed time.Duration)
	RecordFinalize(status notification.Status)
}

type noopMetrics struct{}

func (noopMetrics) RecordPass(string, *PassResult, time.Duration) {}
func (noopMetrics) RecordFinalize(notification.Status)            {}
