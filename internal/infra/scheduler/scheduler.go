package scheduler

import (
	"context"
	"fmt"
	"time"

	"auth_expiry_notifier/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Reporter receives the result of every scheduled pass.
type Reporter interface {
	ReportPass(mode string, result *app.PassResult)
}

type NotificationScheduler struct {
	cronEngine   *cron.Cron
	notifService app.NotificationService
	reporter     Reporter // optional
	logger       *logrus.Entry
	cronSpec     string
	mode         string
	passTimeout  time.Duration
}

func NewNotificationScheduler(
	notifService app.NotificationService,
	reporter Reporter,
	logger *logrus.Entry,
	cronSpec string, // e.g., "0 8 * * *" (08:00 daily)
	mode string, // app.ModeImmediate or app.ModeDeferred
) *NotificationScheduler {
	engine := cron.New(
		cron.WithLocation(time.UTC),
		// a pass still running when the next tick fires makes that tick a no-op
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
	)
	return &NotificationScheduler{
		cronEngine:   engine,
		notifService: notifService,
		reporter:     reporter,
		logger:       logger,
		cronSpec:     cronSpec,
		mode:         mode,
		passTimeout:  30 * time.Minute,
	}
}

// Start registers the pass job and starts the cron engine.
func (s *NotificationScheduler) Start() error {
	s.logger.WithFields(logrus.Fields{"cron_spec": s.cronSpec, "mode": s.mode}).Info("Starting notification scheduler")

	if s.mode != app.ModeImmediate && s.mode != app.ModeDeferred {
		return fmt.Errorf("unsupported scheduled pass mode %q", s.mode)
	}
	if _, err := s.cronEngine.AddFunc(s.cronSpec, s.runPass); err != nil {
		return fmt.Errorf("could not add notification pass cron job: %w", err)
	}

	s.cronEngine.Start()
	s.logger.Info("Notification scheduler started")
	return nil
}

func (s *NotificationScheduler) runPass() {
	s.logger.WithField("mode", s.mode).Info("Cron job triggered for notification pass")
	ctx, cancel := context.WithTimeout(context.Background(), s.passTimeout)
	defer cancel()

	var result *app.PassResult
	if s.mode == app.ModeDeferred {
		result = s.notifService.QueueExpiring(ctx, app.Scope{})
	} else {
		result = s.notifService.CheckAndNotify(ctx, app.Scope{})
	}

	log := s.logger.WithFields(logrus.Fields{
		"mode":    s.mode,
		"success": result.Success,
		"sent":    result.NotificationsSent,
		"queued":  result.NotificationsQueued,
		"failed":  result.NotificationsFailed,
	})
	if result.Success {
		log.Info("Scheduled notification pass finished")
	} else {
		log.WithField("errors", result.Errors).Error("Scheduled notification pass aborted")
	}

	if s.reporter != nil {
		s.reporter.ReportPass(s.mode, result)
	}
}

func (s *NotificationScheduler) Stop() {
	s.logger.Info("Stopping notification scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Notification scheduler gracefully stopped.")
}
