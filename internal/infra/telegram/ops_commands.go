package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"auth_expiry_notifier/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const maxListedAuths = 30

// RegisterOpsCommands registers the operator commands. Only the configured
// ops chat may use them.
func RegisterOpsCommands(ctx context.Context, b *telebot.Bot, svc app.NotificationService, opsChatID int64, baseLogger *logrus.Entry) {
	opsLogger := baseLogger.WithField("handler_group", "ops")

	authorised := func(next telebot.HandlerFunc) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			if c.Chat() == nil || c.Chat().ID != opsChatID {
				opsLogger.WithField("chat_id", chatID(c)).Warn("Unauthorized access attempt")
				return c.Send("You are not allowed to use this command.")
			}
			return next(c)
		}
	}

	b.Handle("/help", authorised(func(c telebot.Context) error {
		return c.Send(helpText)
	}))

	b.Handle("/expiring", authorised(func(c telebot.Context) error {
		logCtx := opsLogger.WithField("command", "/expiring")
		days, err := parseDaysArg(c.Args())
		if err != nil {
			return c.Send(err.Error())
		}
		jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		list, err := svc.ListExpiring(jobCtx, app.Scope{WarningDays: days})
		if err != nil {
			logCtx.WithError(err).Error("Failed to list expiring auths")
			return c.Send(fmt.Sprintf("Failed to list expiring auths: %v", err))
		}
		return c.Send(FormatExpiring(list))
	}))

	b.Handle("/check", authorised(func(c telebot.Context) error {
		logCtx := opsLogger.WithField("command", "/check")
		days, err := parseDaysArg(c.Args())
		if err != nil {
			return c.Send(err.Error())
		}
		logCtx.Info("Running notification pass from ops chat")
		jobCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()

		result := svc.CheckAndNotify(jobCtx, app.Scope{WarningDays: days})
		return c.Send(FormatPass(app.ModeImmediate, result))
	}))
}

const helpText = `Available commands:

/expiring [days] - list auths expiring within the warning window
/check [days] - run a notification pass now
/help - show this message`

func chatID(c telebot.Context) int64 {
	if c.Chat() == nil {
		return 0
	}
	return c.Chat().ID
}

// parseDaysArg reads the optional warning-days argument.
func parseDaysArg(args []string) (*int, error) {
	if len(args) == 0 {
		return nil, nil
	}
	if len(args) > 1 {
		return nil, fmt.Errorf("Usage: /command [days]")
	}
	days, err := strconv.Atoi(args[0])
	if err != nil || days < 0 {
		return nil, fmt.Errorf("Days must be a non-negative number.")
	}
	return &days, nil
}

// FormatExpiring renders the expiring listing, one auth per line.
func FormatExpiring(list *app.ExpiringList) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d auth(s) in unit %s expiring before %s", list.Count, list.UnitID, list.ExpiryDate)
	for i, a := range list.Auths {
		if i == maxListedAuths {
			fmt.Fprintf(&b, "\n... and %d more", len(list.Auths)-maxListedAuths)
			break
		}
		expiry := "no expiry"
		if a.HasExpiry() {
			expiry = a.Expiry.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "\n- %s: %s (%s)", a.ResourceName, a.MapName, expiry)
	}
	return b.String()
}
