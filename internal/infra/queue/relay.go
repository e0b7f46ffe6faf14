package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const claimBatchSize = 50

type jobStore interface {
	claimDue(ctx context.Context, limit int) ([]job, error)
	retry(ctx context.Context, j job, after time.Duration) error
}

// GiveUpFunc is told about a job the relay will never deliver.
type GiveUpFunc func(ctx context.Context, batchID string, cause error)

type RelayConfig struct {
	TargetURL     string
	APIKeyHeader  string
	APIKey        string
	PollInterval  time.Duration
	MaxAttempts   int
	RatePerSecond float64
	Timeout       time.Duration
	OnGiveUp      GiveUpFunc // optional
}

// Relay polls the queue and POSTs due jobs to the send webhook.
type Relay struct {
	store      jobStore
	cfg        RelayConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Entry
	backoff    func(attempt int) time.Duration
}

func NewRelay(q *RedisQueue, cfg RelayConfig, logger *logrus.Entry) *Relay {
	return newRelay(q, cfg, logger)
}

func newRelay(store jobStore, cfg RelayConfig, logger *logrus.Entry) *Relay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Relay{
		store:      store,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		logger:     logger,
		backoff:    exponentialBackoff,
	}
}

// exponentialBackoff doubles from 10s, capped at 10 minutes.
func exponentialBackoff(attempt int) time.Duration {
	d := 10 * time.Second
	for i := 1; i < attempt && d < 10*time.Minute; i++ {
		d *= 2
	}
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.WithField("target", r.cfg.TargetURL).Info("Queue relay started")
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.drain(ctx); err != nil && ctx.Err() == nil {
			r.logger.WithError(err).Error("Queue relay poll failed")
		}
		select {
		case <-ctx.Done():
			r.logger.Info("Queue relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// drain delivers every job that is currently due.
func (r *Relay) drain(ctx context.Context) error {
	for {
		jobs, err := r.store.claimDue(ctx, claimBatchSize)
		if err != nil {
			return err
		}
		for i, j := range jobs {
			if err := r.limiter.Wait(ctx); err != nil {
				// put back what we claimed but did not deliver
				r.requeue(context.WithoutCancel(ctx), jobs[i:])
				return err
			}
			r.handle(ctx, j)
		}
		if len(jobs) < claimBatchSize {
			return nil
		}
	}
}

func (r *Relay) requeue(ctx context.Context, jobs []job) {
	for _, j := range jobs {
		if err := r.store.retry(ctx, j, 0); err != nil {
			r.logger.WithError(err).WithField("batch_id", j.BatchID).Error("Failed to return send job to queue")
		}
	}
}

func (r *Relay) handle(ctx context.Context, j job) {
	log := r.logger.WithFields(logrus.Fields{"job_id": j.ID, "batch_id": j.BatchID, "attempt": j.Attempts + 1})

	err := r.deliver(ctx, j)
	if err == nil {
		log.Info("Send job delivered")
		return
	}
	var perm permanentError
	if errors.As(err, &perm) {
		log.WithError(err).Error("Send job rejected, dropping")
		r.giveUp(ctx, j, err)
		return
	}

	j.Attempts++
	if j.Attempts >= r.cfg.MaxAttempts {
		log.WithError(err).Error("Send job failed, giving up")
		r.giveUp(ctx, j, fmt.Errorf("gave up after %d attempts: %w", j.Attempts, err))
		return
	}
	after := r.backoff(j.Attempts)
	if rerr := r.store.retry(context.WithoutCancel(ctx), j, after); rerr != nil {
		log.WithError(rerr).Error("Failed to reschedule send job")
		return
	}
	log.WithError(err).WithField("retry_in", after.String()).Warn("Send job failed, retrying")
}

func (r *Relay) giveUp(ctx context.Context, j job, cause error) {
	if r.cfg.OnGiveUp != nil {
		r.cfg.OnGiveUp(context.WithoutCancel(ctx), j.BatchID, cause)
	}
}

// permanentError marks webhook responses that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }

func (r *Relay) deliver(ctx context.Context, j job) error {
	body, err := json.Marshal(map[string]string{"batch_id": j.BatchID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.TargetURL, bytes.NewReader(body))
	if err != nil {
		return permanentError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set(r.cfg.APIKeyHeader, r.cfg.APIKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	default:
		return permanentError{err: fmt.Errorf("webhook returned %d", resp.StatusCode)}
	}
}
