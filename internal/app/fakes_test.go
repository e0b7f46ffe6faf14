package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"auth_expiry_notifier/internal/domain/errs"
	"auth_expiry_notifier/internal/domain/notification"
	"auth_expiry_notifier/internal/domain/queue"
	"auth_expiry_notifier/internal/domain/registry"
	"auth_expiry_notifier/internal/infra/database"

	"github.com/sirupsen/logrus"
)

var today = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return today.Add(9 * time.Hour) }

func daysFromToday(n int) *time.Time {
	t := today.AddDate(0, 0, n)
	return &t
}

func auth(id int64, resourceID string, expiresInDays int) *registry.Auth {
	return &registry.Auth{
		ID:           id,
		MapID:        id * 100,
		MapName:      fmt.Sprintf("Map %d", id),
		ResourceID:   resourceID,
		ResourceName: "Name " + resourceID,
		OrgUnitID:    42,
		Expiry:       daysFromToday(expiresInDays),
	}
}

type fakeRegistry struct {
	expiring    []*registry.Auth
	expiringErr error
	current     map[string][]*registry.Auth
	resolveErr  map[string]error
	lastBefore  time.Time
	lastUnit    string
}

func (f *fakeRegistry) ListExpiring(_ context.Context, unitID string, before time.Time) ([]*registry.Auth, error) {
	f.lastUnit, f.lastBefore = unitID, before
	return f.expiring, f.expiringErr
}

func (f *fakeRegistry) ListCurrent(_ context.Context, resourceID string) ([]*registry.Auth, error) {
	return f.current[resourceID], nil
}

func (f *fakeRegistry) ResolveRecipient(_ context.Context, resourceID string) (*registry.Recipient, error) {
	if err := f.resolveErr[resourceID]; err != nil {
		return nil, err
	}
	return &registry.Recipient{
		UserID:     "user-" + resourceID,
		ResourceID: resourceID,
		Name:       "Name " + resourceID,
		Email:      resourceID + "@example.org",
	}, nil
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []*notification.Batch
	failFor map[string]error // by recipient email
}

func (f *fakeSender) SendBatch(_ context.Context, b *notification.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[b.UserEmail]; err != nil {
		return err
	}
	c := *b
	f.sent = append(f.sent, &c)
	return nil
}

type enqueued struct {
	job   queue.SendJob
	delay time.Duration
}

type fakeDispatcher struct {
	jobs []enqueued
	err  error
}

func (f *fakeDispatcher) Enqueue(_ context.Context, job queue.SendJob, delay time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.jobs = append(f.jobs, enqueued{job: job, delay: delay})
	return fmt.Sprintf("job-%d", len(f.jobs)), nil
}

// faultyRepo wraps the memory repository and fails selected calls.
type faultyRepo struct {
	*database.MemoryNotificationRepository
	listErr    error
	createErr  error
	pendingErr error
}

func (r *faultyRepo) ListPendingBatchesForUser(ctx context.Context, userID string) ([]*notification.Batch, error) {
	if r.pendingErr != nil {
		return nil, r.pendingErr
	}
	return r.MemoryNotificationRepository.ListPendingBatchesForUser(ctx, userID)
}

func (r *faultyRepo) ListByAuthID(ctx context.Context, authID int64) ([]*notification.Notification, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.MemoryNotificationRepository.ListByAuthID(ctx, authID)
}

func (r *faultyRepo) CreateBatchWithNotifications(ctx context.Context, b *notification.Batch, ns []*notification.Notification) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.MemoryNotificationRepository.CreateBatchWithNotifications(ctx, b, ns)
}

type recordingMetrics struct {
	passes    []string
	finalized []notification.Status
}

func (m *recordingMetrics) RecordPass(mode string, _ *PassResult, _ time.Duration) {
	m.passes = append(m.passes, mode)
}

func (m *recordingMetrics) RecordFinalize(s notification.Status) {
	m.finalized = append(m.finalized, s)
}

type harness struct {
	registry   *fakeRegistry
	repo       *faultyRepo
	sender     *fakeSender
	dispatcher *fakeDispatcher
	metrics    *recordingMetrics
	svc        *NotificationServiceImpl
}

func newHarness(auths ...*registry.Auth) *harness {
	h := &harness{
		registry:   &fakeRegistry{expiring: auths, current: map[string][]*registry.Auth{}, resolveErr: map[string]error{}},
		repo:       &faultyRepo{MemoryNotificationRepository: database.NewMemoryNotificationRepository()},
		sender:     &fakeSender{failFor: map[string]error{}},
		dispatcher: &fakeDispatcher{},
		metrics:    &recordingMetrics{},
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	h.svc = NewNotificationServiceImpl(h.registry, h.repo, h.sender, h.dispatcher, h.metrics, logrus.NewEntry(l), Options{
		DefaultUnitID:      "42",
		DefaultWarningDays: 30,
		Stagger:            20 * time.Second,
		PendingTTL:         24 * time.Hour,
		Now:                fixedNow,
	})
	return h
}

func (h *harness) notificationsFor(authID int64) []*notification.Notification {
	ns, _ := h.repo.MemoryNotificationRepository.ListByAuthID(context.Background(), authID)
	return ns
}

var errBoom = errors.New("boom")

var errRegistryDown = fmt.Errorf("%w: registry unavailable", errs.ErrTransport)
