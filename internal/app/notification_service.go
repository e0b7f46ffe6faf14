// internal/app/notification_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"auth_expiry_notifier/internal/domain/email"
	"auth_expiry_notifier/internal/domain/errs"
	"auth_expiry_notifier/internal/domain/notification"
	"auth_expiry_notifier/internal/domain/queue"
	"auth_expiry_notifier/internal/domain/registry"

	"github.com/sirupsen/logrus"
)

// Pass modes, used as metric labels and in logs.
const (
	ModeImmediate = "immediate"
	ModeDeferred  = "deferred"
	ModeSingle    = "single"
)

var ErrDispatchNotConfigured = fmt.Errorf("deferred dispatch is not configured: %w", errs.ErrValidation)

// errDedupLookup marks a failed dedup read. It aborts the whole pass so an
// unknown dedup state never leads to a send.
var errDedupLookup = errors.New("dedup lookup failed")

// NotificationService drives expiry notification passes.
type NotificationService interface {
	// CheckAndNotify runs an immediate pass: dedup, send and persist per recipient.
	CheckAndNotify(ctx context.Context, scope Scope) *PassResult
	// QueueExpiring runs a deferred pass: persist pending batches and enqueue staggered send jobs.
	QueueExpiring(ctx context.Context, scope Scope) *PassResult
	// NotifyForResource sends one untracked email for a single resource, bypassing dedup.
	NotifyForResource(ctx context.Context, resourceID string, scope Scope) *PassResult
	// SendQueuedBatch sends a pending batch and finalizes it with its notifications.
	SendQueuedBatch(ctx context.Context, batchID string) (*SendResult, error)
	// ListExpiring returns the expiring auths for a scope without side effects.
	ListExpiring(ctx context.Context, scope Scope) (*ExpiringList, error)
	// SendTestEmail delivers a sample batch to emailAddr.
	SendTestEmail(ctx context.Context, emailAddr, resourceID string) error
}

// Options holds the pass defaults.
type Options struct {
	DefaultUnitID      string
	DefaultWarningDays int
	// Stagger is the delay added per successive recipient in a deferred pass.
	Stagger time.Duration
	// PendingTTL is how long a pending batch keeps its auths in flight. Older
	// pending batches no longer block their auths; zero means never expire.
	PendingTTL time.Duration
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

// NotificationServiceImpl implements the NotificationService interface.
type NotificationServiceImpl struct {
	registryClient registry.Client
	notifRepo      notification.Repository
	sender         email.Sender
	dispatcher     queue.Dispatcher // nil disables deferred passes
	metrics        Metrics
	logger         *logrus.Entry
	opts           Options
}

func NewNotificationServiceImpl(
	rc registry.Client,
	nr notification.Repository,
	sender email.Sender,
	dispatcher queue.Dispatcher,
	metrics Metrics,
	logger *logrus.Entry,
	opts Options,
) *NotificationServiceImpl {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &NotificationServiceImpl{
		registryClient: rc,
		notifRepo:      nr,
		sender:         sender,
		dispatcher:     dispatcher,
		metrics:        metrics,
		logger:         logger,
		opts:           opts,
	}
}

type resolvedScope struct {
	unitID      string
	warningDays int
	today       time.Time
	horizon     time.Time
}

func (s *NotificationServiceImpl) resolveScope(scope Scope) (resolvedScope, error) {
	rs := resolvedScope{unitID: scope.UnitID, warningDays: s.opts.DefaultWarningDays}
	if rs.unitID == "" {
		rs.unitID = s.opts.DefaultUnitID
	}
	if scope.WarningDays != nil {
		rs.warningDays = *scope.WarningDays
	}
	if rs.warningDays < 0 {
		return rs, fmt.Errorf("warning days must not be negative, got %d: %w", rs.warningDays, errs.ErrValidation)
	}
	rs.today = dateOf(s.opts.Now())
	rs.horizon = rs.today.AddDate(0, 0, rs.warningDays)
	return rs, nil
}

// CheckAndNotify runs the immediate pass.
func (s *NotificationServiceImpl) CheckAndNotify(ctx context.Context, scope Scope) *PassResult {
	start := s.opts.Now()
	result := s.checkAndNotify(ctx, scope)
	s.metrics.RecordPass(ModeImmediate, result, s.opts.Now().Sub(start))
	return result
}

func (s *NotificationServiceImpl) checkAndNotify(ctx context.Context, scope Scope) *PassResult {
	rs, err := s.resolveScope(scope)
	if err != nil {
		return fatalResult(err)
	}
	log := s.logger.WithFields(logrus.Fields{"mode": ModeImmediate, "unit_id": rs.unitID, "horizon": rs.horizon.Format("2006-01-02")})
	log.Info("Checking for expiring auths")

	auths, err := s.registryClient.ListExpiring(ctx, rs.unitID, rs.horizon)
	if err != nil {
		log.WithError(err).Error("Fatal error fetching expiring auths")
		return fatalResult(err)
	}
	if len(auths) == 0 {
		log.Info("No expiring authorisations found")
		return emptyResult()
	}

	groups := GroupByResource(auths)
	result := emptyResult()
	result.Summary.TotalExpiringRecords = len(auths)
	result.Summary.RecipientsProcessed = len(groups)

	for _, group := range groups {
		glog := log.WithField("resource_id", group.ResourceID)
		glog.Infof("Processing %d auths", len(group.Auths))

		batch, err := s.prepareBatch(ctx, group, rs.today)
		if err != nil {
			if errors.Is(err, errDedupLookup) {
				glog.WithError(err).Error("Fatal error during dedup lookup")
				return fatalResult(err)
			}
			glog.WithError(err).Error("Failed to prepare notification batch")
			result.recordFailed(fmt.Sprintf("failed to process notifications for %s: %v", group.ResourceID, err))
			continue
		}
		if batch == nil {
			glog.Info("All auths already notified, skipping")
			continue
		}
		glog = glog.WithField("user_email", batch.UserEmail)

		if sendErr := s.sender.SendBatch(ctx, batch); sendErr != nil {
			_ = batch.MarkFailed(sendErr)
			result.recordFailed(fmt.Sprintf("failed to send email to %s: %v", batch.UserEmail, sendErr))
			glog.WithError(sendErr).Error("Failed to send notification")
		} else {
			_ = batch.MarkSent(s.opts.Now())
			result.recordSent()
			glog.Info("Notification sent")
		}

		if err := s.notifRepo.CreateBatchWithNotifications(ctx, batch, batch.Notifications()); err != nil {
			glog.WithError(err).Error("Failed to save notification batch")
			result.recordFailed(fmt.Sprintf("failed to save notification batch for %s: %v", group.ResourceID, err))
			continue
		}
		glog.WithField("batch_id", batch.ID).Debug("Notification batch saved")
	}

	log.WithFields(logrus.Fields{
		"sent":   result.NotificationsSent,
		"failed": result.NotificationsFailed,
	}).Info("Notification check complete")
	return result
}

// prepareBatch resolves the recipient, drops auths that are no longer owed and
// builds the batch. A nil batch with a nil error means nothing is owed.
func (s *NotificationServiceImpl) prepareBatch(ctx context.Context, group AuthGroup, today time.Time) (*notification.Batch, error) {
	recipient, err := s.registryClient.ResolveRecipient(ctx, group.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}
	queued, err := s.queuedAuths(ctx, recipient.UserID)
	if err != nil {
		return nil, err
	}

	owed := make([]*registry.Auth, 0, len(group.Auths))
	for _, a := range group.Auths {
		if queued[a.ID] {
			s.logger.WithField("auth_id", a.ID).Debug("Auth is already queued for sending, skipping")
			continue
		}
		ok, err := s.isOwed(ctx, a)
		if err != nil {
			return nil, err
		}
		if ok {
			owed = append(owed, a)
		}
	}
	if len(owed) == 0 {
		return nil, nil
	}
	return BuildBatch(recipient, owed, today), nil
}

// queuedAuths returns the auths listed in any of the user's live pending
// batches. Those auths have no notification rows until the batch is
// finalized, so the ledger lookup alone cannot see them.
func (s *NotificationServiceImpl) queuedAuths(ctx context.Context, userID string) (map[int64]bool, error) {
	pending, err := s.notifRepo.ListPendingBatchesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w for user %s: %v", errDedupLookup, userID, err)
	}
	queued := make(map[int64]bool)
	for _, b := range pending {
		if s.isStale(b) {
			s.logger.WithFields(logrus.Fields{"batch_id": b.ID, "created_at": b.CreatedAt}).Warn("Ignoring stale pending batch")
			continue
		}
		for _, a := range b.Auths {
			queued[a.AuthID] = true
		}
	}
	return queued, nil
}

func (s *NotificationServiceImpl) isStale(b *notification.Batch) bool {
	return s.opts.PendingTTL > 0 && s.opts.Now().Sub(b.CreatedAt) > s.opts.PendingTTL
}

// isOwed is the dedup gate for a single auth.
func (s *NotificationServiceImpl) isOwed(ctx context.Context, a *registry.Auth) (bool, error) {
	existing, err := s.notifRepo.ListByAuthID(ctx, a.ID)
	if err != nil {
		return false, fmt.Errorf("%w for auth %d: %v", errDedupLookup, a.ID, err)
	}
	if !notification.Owed(existing) {
		s.logger.WithField("auth_id", a.ID).Debug("Notification already exists for auth, skipping")
		return false, nil
	}
	return true, nil
}

// QueueExpiring runs the deferred pass.
func (s *NotificationServiceImpl) QueueExpiring(ctx context.Context, scope Scope) *PassResult {
	start := s.opts.Now()
	result := s.queueExpiring(ctx, scope)
	s.metrics.RecordPass(ModeDeferred, result, s.opts.Now().Sub(start))
	return result
}

func (s *NotificationServiceImpl) queueExpiring(ctx context.Context, scope Scope) *PassResult {
	if s.dispatcher == nil {
		return fatalResult(ErrDispatchNotConfigured)
	}
	rs, err := s.resolveScope(scope)
	if err != nil {
		return fatalResult(err)
	}
	log := s.logger.WithFields(logrus.Fields{"mode": ModeDeferred, "unit_id": rs.unitID, "horizon": rs.horizon.Format("2006-01-02")})
	log.Info("Queueing notifications for expiring auths")

	auths, err := s.registryClient.ListExpiring(ctx, rs.unitID, rs.horizon)
	if err != nil {
		log.WithError(err).Error("Fatal error fetching expiring auths")
		return fatalResult(err)
	}
	if len(auths) == 0 {
		log.Info("No expiring authorisations found")
		return emptyResult()
	}

	groups := GroupByResource(auths)
	result := emptyResult()
	result.Summary.TotalExpiringRecords = len(auths)
	result.Summary.RecipientsProcessed = len(groups)

	slot := 0
	for _, group := range groups {
		glog := log.WithField("resource_id", group.ResourceID)

		batch, err := s.prepareBatch(ctx, group, rs.today)
		if err != nil {
			if errors.Is(err, errDedupLookup) {
				glog.WithError(err).Error("Fatal error during dedup lookup")
				return fatalResult(err)
			}
			glog.WithError(err).Error("Failed to prepare notification batch")
			result.recordFailed(fmt.Sprintf("failed to process notifications for %s: %v", group.ResourceID, err))
			continue
		}
		if batch == nil {
			glog.Info("All auths already notified or queued, skipping")
			continue
		}

		if err := s.notifRepo.CreatePendingBatch(ctx, batch); err != nil {
			glog.WithError(err).Error("Failed to save pending batch")
			result.recordFailed(fmt.Sprintf("failed to save pending batch for %s: %v", group.ResourceID, err))
			continue
		}
		glog = glog.WithField("batch_id", batch.ID)

		delay := time.Duration(slot) * s.opts.Stagger
		slot++
		jobID, err := s.dispatcher.Enqueue(ctx, queue.SendJob{BatchID: batch.ID}, delay)
		if err != nil {
			glog.WithError(err).Error("Failed to enqueue send job")
			result.recordFailed(fmt.Sprintf("failed to queue notification for %s: %v", batch.UserEmail, err))
			s.abandonPending(ctx, batch, err, glog)
			continue
		}
		result.NotificationsQueued++
		glog.WithFields(logrus.Fields{"job_id": jobID, "delay": delay.String()}).Info("Send job queued")
	}

	log.WithFields(logrus.Fields{
		"queued": result.NotificationsQueued,
		"failed": result.NotificationsFailed,
	}).Info("Notification queueing complete")
	return result
}

// abandonPending closes a pending batch whose send job could not be queued,
// so it does not linger as in-flight.
func (s *NotificationServiceImpl) abandonPending(ctx context.Context, batch *notification.Batch, cause error, log *logrus.Entry) {
	if err := s.finalizeFailed(ctx, batch, cause); err != nil {
		log.WithError(err).Error("Failed to mark unqueued batch as failed")
	}
}

// finalizeFailed moves a pending batch to failed together with failed
// notifications for its auths, so they are offered again by the next pass.
func (s *NotificationServiceImpl) finalizeFailed(ctx context.Context, batch *notification.Batch, cause error) error {
	if err := batch.MarkFailed(cause); err != nil {
		return err
	}
	outcome := notification.Outcome{Status: batch.Status, SentAt: batch.SentAt, Error: batch.Error}
	if err := s.notifRepo.FinalizeBatch(ctx, batch.ID, outcome, batch.Notifications()); err != nil {
		return err
	}
	s.metrics.RecordFinalize(batch.Status)
	return nil
}

// FailQueuedBatch marks a pending batch as failed when its send job will never
// be delivered. A batch that is already finalized is left alone.
func (s *NotificationServiceImpl) FailQueuedBatch(ctx context.Context, batchID string, cause error) error {
	log := s.logger.WithField("batch_id", batchID)
	batch, err := s.notifRepo.GetBatchByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("get batch %s: %w", batchID, err)
	}
	if batch.Status.IsTerminal() {
		log.WithField("status", batch.Status).Info("Undelivered batch already finalized")
		return nil
	}
	if err := s.finalizeFailed(ctx, batch, cause); err != nil {
		if errors.Is(err, errs.ErrInvalidState) {
			return nil
		}
		return fmt.Errorf("fail batch %s: %w", batchID, err)
	}
	log.WithError(cause).Warn("Undelivered batch marked as failed")
	return nil
}

// withoutDeliveredAuths drops auths that another batch has delivered since this
// one was queued. The subject and category follow the remaining auths.
func (s *NotificationServiceImpl) withoutDeliveredAuths(ctx context.Context, batch *notification.Batch) (*notification.Batch, error) {
	remaining := make([]*registry.Auth, 0, len(batch.Auths))
	for _, a := range batch.Auths {
		existing, err := s.notifRepo.ListByAuthID(ctx, a.AuthID)
		if err != nil {
			return nil, fmt.Errorf("list notifications for auth %d: %w", a.AuthID, err)
		}
		if !notification.Owed(existing) {
			s.logger.WithFields(logrus.Fields{"batch_id": batch.ID, "auth_id": a.AuthID}).Warn("Auth already notified, dropping it from queued batch")
			continue
		}
		expiry := a.ExpiryDate
		remaining = append(remaining, &registry.Auth{
			ID:           a.AuthID,
			MapID:        a.MapID,
			MapName:      a.AuthName,
			ResourceID:   batch.ResourceID,
			ResourceName: batch.ResourceName,
			Expiry:       &expiry,
		})
	}
	if len(remaining) == len(batch.Auths) {
		return batch, nil
	}
	if len(remaining) == 0 {
		narrowed := *batch
		narrowed.Auths = nil
		return &narrowed, nil
	}

	recipient := &registry.Recipient{UserID: batch.UserID, ResourceID: batch.ResourceID, Name: batch.ResourceName, Email: batch.UserEmail}
	narrowed := BuildBatch(recipient, remaining, s.opts.Now())
	narrowed.ID, narrowed.CreatedAt, narrowed.UpdatedAt = batch.ID, batch.CreatedAt, batch.UpdatedAt
	return narrowed, nil
}

// NotifyForResource is the ad-hoc single-recipient pass. It neither consults
// nor writes the notification ledger.
func (s *NotificationServiceImpl) NotifyForResource(ctx context.Context, resourceID string, scope Scope) *PassResult {
	start := s.opts.Now()
	result := s.notifyForResource(ctx, resourceID, scope)
	s.metrics.RecordPass(ModeSingle, result, s.opts.Now().Sub(start))
	return result
}

func (s *NotificationServiceImpl) notifyForResource(ctx context.Context, resourceID string, scope Scope) *PassResult {
	if resourceID == "" {
		return fatalResult(fmt.Errorf("resource id is required: %w", errs.ErrValidation))
	}
	rs, err := s.resolveScope(scope)
	if err != nil {
		return fatalResult(err)
	}
	log := s.logger.WithFields(logrus.Fields{"mode": ModeSingle, "resource_id": resourceID, "unit_id": rs.unitID})
	log.Infof("Checking expiring auths before %s", rs.horizon.Format("2006-01-02"))

	current, err := s.registryClient.ListCurrent(ctx, resourceID)
	if err != nil {
		log.WithError(err).Error("Fatal error fetching current auths")
		return fatalResult(err)
	}
	expiring := make([]*registry.Auth, 0, len(current))
	for _, a := range current {
		if !a.HasExpiry() || dateOf(*a.Expiry).After(rs.horizon) {
			continue
		}
		if rs.unitID != "" && strconv.FormatInt(a.OrgUnitID, 10) != rs.unitID {
			continue
		}
		expiring = append(expiring, a)
	}
	if len(expiring) == 0 {
		log.Info("No expiring authorisations found")
		return emptyResult()
	}

	recipient, err := s.registryClient.ResolveRecipient(ctx, resourceID)
	if err != nil {
		log.WithError(err).Error("Fatal error resolving recipient")
		return fatalResult(err)
	}

	result := emptyResult()
	result.Summary.TotalExpiringRecords = len(expiring)
	result.Summary.RecipientsProcessed = 1

	batch := BuildBatch(recipient, expiring, rs.today)
	if sendErr := s.sender.SendBatch(ctx, batch); sendErr != nil {
		result.recordFailed(fmt.Sprintf("failed to send email to %s: %v", recipient.Email, sendErr))
		log.WithError(sendErr).Error("Failed to send notification")
		return result
	}
	result.recordSent()
	log.WithField("user_email", recipient.Email).Info("Notification sent")
	return result
}

// ListExpiring returns what a pass would look at, without sending anything.
func (s *NotificationServiceImpl) ListExpiring(ctx context.Context, scope Scope) (*ExpiringList, error) {
	rs, err := s.resolveScope(scope)
	if err != nil {
		return nil, err
	}
	auths, err := s.registryClient.ListExpiring(ctx, rs.unitID, rs.horizon)
	if err != nil {
		return nil, fmt.Errorf("list expiring auths: %w", err)
	}
	if auths == nil {
		auths = []*registry.Auth{}
	}
	return &ExpiringList{
		UnitID:      rs.unitID,
		ExpiryDate:  rs.horizon.Format("2006-01-02"),
		WarningDays: rs.warningDays,
		Count:       len(auths),
		Auths:       auths,
	}, nil
}

// SendTestEmail sends a fixed sample batch. Nothing is persisted.
func (s *NotificationServiceImpl) SendTestEmail(ctx context.Context, emailAddr, resourceID string) error {
	if emailAddr == "" {
		return fmt.Errorf("email is required: %w", errs.ErrValidation)
	}
	expiry := dateOf(s.opts.Now()).AddDate(0, 0, 15)
	batch := BuildBatch(
		&registry.Recipient{UserID: "test-user-id", ResourceID: resourceID, Name: "Test User", Email: emailAddr},
		[]*registry.Auth{{ID: 999999, MapID: 3209, MapName: "TEST01 Test Authorisation", ResourceID: resourceID, ResourceName: "Test User", Expiry: &expiry}},
		s.opts.Now(),
	)
	batch.Subject = "STARS Authorisations Expiring Soon - Test Email"
	if err := s.sender.SendBatch(ctx, batch); err != nil {
		return fmt.Errorf("send test email: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"user_email": emailAddr, "resource_id": resourceID}).Info("Test email sent")
	return nil
}
