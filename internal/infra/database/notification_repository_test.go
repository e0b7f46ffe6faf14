package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"auth_expiry_notifier/internal/domain/errs"
	"auth_expiry_notifier/internal/domain/notification"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

// RepositorySuite runs the same ledger checks against every backend.
type RepositorySuite struct {
	suite.Suite
	newRepo func(t *testing.T) notification.Repository
	repo    notification.Repository
	ctx     context.Context
}

func (s *RepositorySuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = s.newRepo(s.T())
}

func TestMemoryNotificationRepository(t *testing.T) {
	suite.Run(t, &RepositorySuite{newRepo: func(*testing.T) notification.Repository {
		return NewMemoryNotificationRepository()
	}})
}

func TestSQLiteNotificationRepository(t *testing.T) {
	suite.Run(t, &RepositorySuite{newRepo: func(t *testing.T) notification.Repository {
		db, err := NewSQLiteConnection(filepath.Join(t.TempDir(), "ledger.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		if err := EnsureSchema(context.Background(), db, SQLite); err != nil {
			t.Fatalf("schema: %v", err)
		}
		repo := NewSQLNotificationRepository(db, SQLite)
		repo.now = steppingClock()
		return repo
	}})
}

// steppingClock returns strictly increasing times so created_at ordering is stable.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

var expiry = time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

func newPendingBatch(userID string, category notification.Category, authIDs ...int64) *notification.Batch {
	b := &notification.Batch{
		UserID:       userID,
		UserEmail:    userID + "@example.org",
		ResourceID:   "res-" + userID,
		ResourceName: "Resource " + userID,
		Category:     category,
		Subject:      "subject",
		Status:       notification.StatusPending,
	}
	for _, id := range authIDs {
		b.Auths = append(b.Auths, notification.AuthSummary{AuthID: id, MapID: id * 10, AuthName: "Map", ExpiryDate: expiry})
	}
	return b
}

func (s *RepositorySuite) TestCreateBatchWithNotificationsRoundTrip() {
	b := newPendingBatch("u1", notification.CategoryExpiringSoon, 1, 2)
	s.Require().NoError(b.MarkSent(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))

	s.Require().NoError(s.repo.CreateBatchWithNotifications(s.ctx, b, b.Notifications()))
	s.NotEmpty(b.ID)

	got, err := s.repo.GetBatchByID(s.ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(notification.StatusSent, got.Status)
	s.True(got.SentAt.Valid)
	s.Equal(notification.CategoryExpiringSoon, got.Category)
	s.Require().Len(got.Auths, 2)
	s.Equal(int64(1), got.Auths[0].AuthID)
	s.True(expiry.Equal(got.Auths[0].ExpiryDate))

	ns, err := s.repo.ListByAuthID(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(ns, 1)
	s.Equal(b.ID, ns[0].BatchID)
	s.Equal(notification.StatusSent, ns[0].Status)
	s.Equal(int64(20), ns[0].MapID)
	s.True(expiry.Equal(ns[0].ExpiryDate))
}

func (s *RepositorySuite) TestListByAuthIDUnknownIsEmpty() {
	ns, err := s.repo.ListByAuthID(s.ctx, 404)
	s.Require().NoError(err)
	s.Empty(ns)
}

func (s *RepositorySuite) TestSecondSentNotificationForAuthIsRejectedAtomically() {
	first := newPendingBatch("u1", notification.CategoryExpiringSoon, 7)
	s.Require().NoError(first.MarkSent(time.Now()))
	s.Require().NoError(s.repo.CreateBatchWithNotifications(s.ctx, first, first.Notifications()))

	second := newPendingBatch("u2", notification.CategoryExpiringSoon, 8, 7)
	s.Require().NoError(second.MarkSent(time.Now()))
	siblings := second.Notifications()
	err := s.repo.CreateBatchWithNotifications(s.ctx, second, siblings)
	s.Require().Error(err)
	s.True(errors.Is(err, errs.ErrConflict))

	// ids are only handed out for committed rows
	s.Empty(second.ID)
	s.True(second.CreatedAt.IsZero())
	for _, n := range siblings {
		s.Empty(n.ID)
	}

	// nothing from the rejected write is visible
	ns, err := s.repo.ListByAuthID(s.ctx, 8)
	s.Require().NoError(err)
	s.Empty(ns)
	pending, err := s.repo.ListPendingBatchesForUser(s.ctx, "u2")
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *RepositorySuite) TestCreateBatchWithNotificationsRequiresTerminalStatus() {
	b := newPendingBatch("u1", notification.CategoryExpiringSoon, 1)
	err := s.repo.CreateBatchWithNotifications(s.ctx, b, b.Notifications())
	s.True(errors.Is(err, errs.ErrValidation))
	s.Empty(b.ID)

	ns, err := s.repo.ListByAuthID(s.ctx, 1)
	s.Require().NoError(err)
	s.Empty(ns)
}

func (s *RepositorySuite) TestCreateBatchWithNotificationsAssignsIDs() {
	b := newPendingBatch("u1", notification.CategoryExpiringSoon, 1, 2)
	s.Require().NoError(b.MarkFailed(errors.New("bounced")))
	siblings := b.Notifications()
	s.Require().NoError(s.repo.CreateBatchWithNotifications(s.ctx, b, siblings))

	s.NotEmpty(b.ID)
	s.False(b.CreatedAt.IsZero())
	for _, n := range siblings {
		s.NotEmpty(n.ID)
		s.Equal(b.ID, n.BatchID)
	}
}

func (s *RepositorySuite) TestFailedNotificationsDoNotConflict() {
	for i := 0; i < 2; i++ {
		b := newPendingBatch("u1", notification.CategoryExpired, 5)
		s.Require().NoError(b.MarkFailed(errors.New("smtp down")))
		s.Require().NoError(s.repo.CreateBatchWithNotifications(s.ctx, b, b.Notifications()))
	}
	ns, err := s.repo.ListByAuthID(s.ctx, 5)
	s.Require().NoError(err)
	s.Len(ns, 2)
	s.Equal("smtp down", ns[0].Error.String)
	s.True(notification.Owed(ns))
}

func (s *RepositorySuite) TestPendingBatchLifecycle() {
	b := newPendingBatch("u1", notification.CategoryExpiringSoon, 11, 12)
	s.Require().NoError(s.repo.CreatePendingBatch(s.ctx, b))

	ns, err := s.repo.ListByAuthID(s.ctx, 11)
	s.Require().NoError(err)
	s.Empty(ns, "pending batches carry no notifications")

	got, err := s.repo.GetBatchByID(s.ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(notification.StatusPending, got.Status)
	s.False(got.SentAt.Valid)

	s.Require().NoError(got.MarkSent(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	outcome := notification.Outcome{Status: got.Status, SentAt: got.SentAt, Error: got.Error}
	s.Require().NoError(s.repo.FinalizeBatch(s.ctx, got.ID, outcome, got.Notifications()))

	got, err = s.repo.GetBatchByID(s.ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(notification.StatusSent, got.Status)
	s.True(got.SentAt.Valid)

	ns, err = s.repo.ListByAuthID(s.ctx, 12)
	s.Require().NoError(err)
	s.Require().Len(ns, 1)
	s.Equal(b.ID, ns[0].BatchID)

	err = s.repo.FinalizeBatch(s.ctx, b.ID, outcome, got.Notifications())
	s.True(errors.Is(err, errs.ErrInvalidState))
	ns, err = s.repo.ListByAuthID(s.ctx, 12)
	s.Require().NoError(err)
	s.Len(ns, 1, "rejected finalize leaves no rows behind")
}

func (s *RepositorySuite) TestFinalizeUnknownBatch() {
	outcome := notification.Outcome{Status: notification.StatusFailed, Error: sql.NullString{String: "x", Valid: true}}
	err := s.repo.FinalizeBatch(s.ctx, uuid.NewString(), outcome, nil)
	s.True(errors.Is(err, errs.ErrNotFound))

	_, err = s.repo.GetBatchByID(s.ctx, uuid.NewString())
	s.True(errors.Is(err, errs.ErrNotFound))
}

func (s *RepositorySuite) TestFinalizeRejectsPendingOutcome() {
	b := newPendingBatch("u1", notification.CategoryExpiringSoon, 1)
	s.Require().NoError(s.repo.CreatePendingBatch(s.ctx, b))
	err := s.repo.FinalizeBatch(s.ctx, b.ID, notification.Outcome{Status: notification.StatusPending}, nil)
	s.True(errors.Is(err, errs.ErrValidation))
}

func (s *RepositorySuite) TestFinalizeRollsBackOnDuplicateSent() {
	sent := newPendingBatch("u1", notification.CategoryExpiringSoon, 9)
	s.Require().NoError(sent.MarkSent(time.Now()))
	s.Require().NoError(s.repo.CreateBatchWithNotifications(s.ctx, sent, sent.Notifications()))

	pending := newPendingBatch("u1", notification.CategoryExpiringSoon, 9)
	s.Require().NoError(s.repo.CreatePendingBatch(s.ctx, pending))
	s.Require().NoError(pending.MarkSent(time.Now()))
	outcome := notification.Outcome{Status: pending.Status, SentAt: pending.SentAt}
	siblings := pending.Notifications()
	err := s.repo.FinalizeBatch(s.ctx, pending.ID, outcome, siblings)
	s.True(errors.Is(err, errs.ErrConflict))
	s.Empty(siblings[0].ID)

	got, err := s.repo.GetBatchByID(s.ctx, pending.ID)
	s.Require().NoError(err)
	s.Equal(notification.StatusPending, got.Status)
}

func (s *RepositorySuite) TestListPendingBatchesForUser() {
	soon := newPendingBatch("u1", notification.CategoryExpiringSoon, 1)
	s.Require().NoError(s.repo.CreatePendingBatch(s.ctx, soon))
	expired := newPendingBatch("u1", notification.CategoryExpired, 2)
	s.Require().NoError(s.repo.CreatePendingBatch(s.ctx, expired))
	done := newPendingBatch("u1", notification.CategoryExpiringSoon, 3)
	s.Require().NoError(s.repo.CreatePendingBatch(s.ctx, done))
	s.Require().NoError(s.repo.FinalizeBatch(s.ctx, done.ID, notification.Outcome{Status: notification.StatusFailed}, nil))
	other := newPendingBatch("u2", notification.CategoryExpiringSoon, 4)
	s.Require().NoError(s.repo.CreatePendingBatch(s.ctx, other))

	got, err := s.repo.ListPendingBatchesForUser(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(expired.ID, got[0].ID)
	s.Equal(soon.ID, got[1].ID)
	s.True(got[1].Contains(1))

	got, err = s.repo.ListPendingBatchesForUser(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Empty(got)
}

func (s *RepositorySuite) TestCreatePendingBatchRejectsTerminal() {
	b := newPendingBatch("u1", notification.CategoryExpiringSoon, 1)
	s.Require().NoError(b.MarkFailed(nil))
	err := s.repo.CreatePendingBatch(s.ctx, b)
	s.True(errors.Is(err, errs.ErrValidation))
}

func (s *RepositorySuite) TestPing() {
	s.NoError(s.repo.Ping(s.ctx))
}
