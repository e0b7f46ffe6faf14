package metrics

import (
	"time"

	"auth_expiry_notifier/internal/app"
	"auth_expiry_notifier/internal/domain/notification"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks notification pass outcomes.
type Metrics struct {
	Passes              *prometheus.CounterVec
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	NotificationsQueued prometheus.Counter
	ExpiringAuths       prometheus.Gauge
	BatchesFinalized    *prometheus.CounterVec
	PassDuration        *prometheus.HistogramVec
}

var _ app.Metrics = (*Metrics)(nil)

// New registers all notifier metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Passes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_expiry_passes_total",
			Help: "Notification passes run, by mode and outcome",
		}, []string{"mode", "outcome"}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_expiry_notifications_sent_total",
			Help: "Notification emails sent, by pass mode",
		}, []string{"mode"}),
		NotificationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_expiry_notifications_failed_total",
			Help: "Per-recipient failures, by pass mode",
		}, []string{"mode"}),
		NotificationsQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "auth_expiry_notifications_queued_total",
			Help: "Send jobs queued by deferred passes",
		}),
		ExpiringAuths: f.NewGauge(prometheus.GaugeOpts{
			Name: "auth_expiry_expiring_auths",
			Help: "Expiring auths seen by the most recent pass",
		}),
		BatchesFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_expiry_batches_finalized_total",
			Help: "Queued batches finalized, by terminal status",
		}, []string{"status"}),
		PassDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auth_expiry_pass_duration_seconds",
			Help:    "Duration of notification passes",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),
	}
}

func (m *Metrics) RecordPass(mode string, result *app.PassResult, elapsed time.Duration) {
	outcome := "success"
	if !result.Success {
		outcome = "fatal"
	}
	m.Passes.WithLabelValues(mode, outcome).Inc()
	m.NotificationsSent.WithLabelValues(mode).Add(float64(result.NotificationsSent))
	m.NotificationsFailed.WithLabelValues(mode).Add(float64(result.NotificationsFailed))
	m.NotificationsQueued.Add(float64(result.NotificationsQueued))
	if result.Success && mode != app.ModeSingle {
		m.ExpiringAuths.Set(float64(result.Summary.TotalExpiringRecords))
	}
	m.PassDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordFinalize(status notification.Status) {
	m.BatchesFinalized.WithLabelValues(string(status)).Inc()
}
