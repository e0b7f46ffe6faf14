package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"auth_expiry_notifier/internal/app"
	"auth_expiry_notifier/internal/domain/queue"
	"auth_expiry_notifier/internal/infra/config"
	"auth_expiry_notifier/internal/infra/email"
	"auth_expiry_notifier/internal/infra/httpapi"
	"auth_expiry_notifier/internal/infra/logger"
	"auth_expiry_notifier/internal/infra/metrics"
	iqueue "auth_expiry_notifier/internal/infra/queue"
	"auth_expiry_notifier/internal/infra/scheduler"
	"auth_expiry_notifier/internal/infra/stars"
	"auth_expiry_notifier/internal/infra/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/telebot.v3"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{"environment": cfg.Environment, "store": cfg.Store.Driver}).Info("Auth expiry notifier starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not open store")
	}
	defer st.Close()
	mainLogger.Info("Store initialized.")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(reg)

	starsClient := stars.NewClient(cfg.Stars.URI, cfg.Stars.APIKey, cfg.Stars.Timeout, logger.Component("stars"))
	sender := email.NewSendGridSender(email.Config{
		APIKey:             cfg.Email.SendGridAPIKey,
		FromEmail:          cfg.Email.FromEmail,
		FromName:           cfg.Email.FromName,
		UnsubscribeGroupID: cfg.Email.UnsubscribeGroupID,
	}, logger.Component("email"))

	checks := map[string]httpapi.ReadinessCheck{
		"database":  st.notifications.Ping,
		"stars_api": starsClient.CheckCredentials,
	}

	var (
		dispatcher queue.Dispatcher
		redisQueue *iqueue.RedisQueue
		relay      *iqueue.Relay
	)
	if cfg.QueueEnabled() {
		opts, err := redis.ParseURL(cfg.Queue.RedisURL)
		if err != nil {
			mainLogger.WithError(err).Fatal("Invalid REDIS_URL")
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		redisQueue = iqueue.NewRedisQueue(redisClient, cfg.Queue.Key)
		dispatcher = redisQueue
		checks["queue"] = redisQueue.Ping
		mainLogger.Info("Deferred dispatch queue initialized.")
	}

	notifService := app.NewNotificationServiceImpl(
		starsClient,
		st.notifications,
		sender,
		dispatcher,
		appMetrics,
		logger.Component("notification_service"),
		app.Options{
			DefaultUnitID:      cfg.Stars.OrgUnitID,
			DefaultWarningDays: cfg.ExpiryWarningDays,
			Stagger:            cfg.DispatchStagger,
			PendingTTL:         cfg.PendingBatchTTL,
		},
	)

	if redisQueue != nil {
		relayLogger := logger.Component("queue_relay")
		relay = iqueue.NewRelay(redisQueue, iqueue.RelayConfig{
			TargetURL:     cfg.Queue.TargetURL,
			APIKeyHeader:  cfg.APIKeyHeaderName,
			APIKey:        cfg.Queue.APIKey,
			PollInterval:  cfg.Queue.PollInterval,
			MaxAttempts:   cfg.Queue.MaxAttempts,
			RatePerSecond: cfg.Queue.RatePerSecond,
			OnGiveUp: func(ctx context.Context, batchID string, cause error) {
				if err := notifService.FailQueuedBatch(ctx, batchID, cause); err != nil {
					relayLogger.WithError(err).WithField("batch_id", batchID).Error("Could not mark undelivered batch as failed")
				}
			},
		}, relayLogger)
	}

	var reporter scheduler.Reporter
	var bot *telebot.Bot
	if cfg.OpsReportsEnabled() {
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.Ops.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, _ telebot.Context) {
				logger.Log.WithError(err).Error("Telebot error")
			},
		})
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		reporter = telegram.NewPassReporter(telegram.NewTelebotAdapter(bot), cfg.Ops.TelegramChatID, logger.Component("ops_reporter"))
		telegram.RegisterOpsCommands(ctx, bot, notifService, cfg.Ops.TelegramChatID, logger.Component("ops_bot"))
		mainLogger.WithField("chat_id", cfg.Ops.TelegramChatID).Info("Ops Telegram bot initialized.")
	}

	var notifScheduler *scheduler.NotificationScheduler
	if cfg.Schedule.CronSpecCheck != "" {
		notifScheduler = scheduler.NewNotificationScheduler(notifService, reporter, logger.Component("scheduler"), cfg.Schedule.CronSpecCheck, cfg.Schedule.DispatchMode)
		if err := notifScheduler.Start(); err != nil {
			mainLogger.WithError(err).Fatal("Could not start scheduler")
		}
	}

	server := httpapi.NewServer(notifService, st.apiKeys, checks, reg, httpapi.Config{
		APIKeyHeader: cfg.APIKeyHeaderName,
		ServiceName:  "STARS Auth Expiry Notifier",
		Version:      version,
	}, logger.Component("http"))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	if bot != nil {
		g.Go(func() error {
			go bot.Start()
			<-gctx.Done()
			bot.Stop()
			return nil
		})
	}

	mainLogger.Info("Application setup complete.")
	if err := g.Wait(); err != nil {
		mainLogger.WithError(err).Error("Application stopped with error")
	}

	mainLogger.Info("Shutting down application...")
	if notifScheduler != nil {
		notifScheduler.Stop()
	}
	mainLogger.Info("Application shut down gracefully.")
}
