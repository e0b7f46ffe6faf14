package telegram

import (
	"fmt"
	"strings"

	"auth_expiry_notifier/internal/app"
	"auth_expiry_notifier/internal/domain/telegram"

	"github.com/sirupsen/logrus"
)

// maxReportedErrors caps how many pass errors go into one message.
const maxReportedErrors = 10

// PassReporter posts a summary of each scheduled pass to the ops chat.
type PassReporter struct {
	client telegram.Client
	chatID int64
	logger *logrus.Entry
}

func NewPassReporter(client telegram.Client, chatID int64, logger *logrus.Entry) *PassReporter {
	return &PassReporter{client: client, chatID: chatID, logger: logger}
}

func (r *PassReporter) ReportPass(mode string, result *app.PassResult) {
	if err := r.client.SendMessage(r.chatID, FormatPass(mode, result)); err != nil {
		r.logger.WithError(err).WithField("chat_id", r.chatID).Error("Failed to send pass report")
	}
}

// FormatPass renders a pass result as a short plain text report.
func FormatPass(mode string, result *app.PassResult) string {
	var b strings.Builder
	status := "OK"
	if !result.Success {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "Auth expiry pass (%s): %s\n", mode, status)
	fmt.Fprintf(&b, "Expiring auths: %d\n", result.Summary.TotalExpiringRecords)
	fmt.Fprintf(&b, "Recipients: %d\n", result.Summary.RecipientsProcessed)
	if mode == app.ModeDeferred {
		fmt.Fprintf(&b, "Queued: %d\n", result.NotificationsQueued)
	} else {
		fmt.Fprintf(&b, "Sent: %d\n", result.NotificationsSent)
	}
	fmt.Fprintf(&b, "Failed: %d", result.NotificationsFailed)

	if len(result.Errors) > 0 {
		b.WriteString("\n\nErrors:")
		for i, e := range result.Errors {
			if i == maxReportedErrors {
				fmt.Fprintf(&b, "\n... and %d more", len(result.Errors)-maxReportedErrors)
				break
			}
			b.WriteString("\n- " + e)
		}
	}
	return b.String()
}
