package email

import (
	"context"
	"fmt"

	"auth_expiry_notifier/internal/domain/email"
	"auth_expiry_notifier/internal/domain/errs"
	"auth_expiry_notifier/internal/domain/notification"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
)

type mailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type Config struct {
	APIKey             string
	FromEmail          string
	FromName           string
	UnsubscribeGroupID int
}

// SendGridSender delivers batches through the SendGrid v3 mail API.
type SendGridSender struct {
	client mailClient
	cfg    Config
	logger *logrus.Entry
}

var _ email.Sender = (*SendGridSender)(nil)

func NewSendGridSender(cfg Config, logger *logrus.Entry) *SendGridSender {
	return &SendGridSender{client: sendgrid.NewSendClient(cfg.APIKey), cfg: cfg, logger: logger}
}

func (s *SendGridSender) SendBatch(ctx context.Context, batch *notification.Batch) error {
	log := s.logger.WithFields(logrus.Fields{"user_email": batch.UserEmail, "auths": len(batch.Auths)})
	log.Info("Sending notification email")

	message, err := s.buildMessage(batch)
	if err != nil {
		return err
	}
	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		log.WithError(err).Error("Error sending email")
		return fmt.Errorf("%w: sendgrid: %v", errs.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithFields(logrus.Fields{"status": resp.StatusCode, "body": resp.Body}).Error("SendGrid rejected email")
		return fmt.Errorf("%w: sendgrid returned status %d", errs.ErrTransport, resp.StatusCode)
	}
	log.WithField("status", resp.StatusCode).Info("Email sent successfully")
	return nil
}

func (s *SendGridSender) buildMessage(batch *notification.Batch) (*mail.SGMailV3, error) {
	if batch.UserEmail == "" {
		return nil, fmt.Errorf("batch has no recipient address: %w", errs.ErrValidation)
	}
	html, text, err := Render(batch)
	if err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}

	from := mail.NewEmail(s.cfg.FromName, s.cfg.FromEmail)
	to := mail.NewEmail(batch.ResourceName, batch.UserEmail)
	message := mail.NewSingleEmail(from, batch.Subject, to, text, html)
	if s.cfg.UnsubscribeGroupID > 0 {
		// preference page only; link scanners must not unsubscribe in one click
		asm := mail.NewASM()
		asm.SetGroupID(s.cfg.UnsubscribeGroupID)
		asm.AddGroupsToDisplay(s.cfg.UnsubscribeGroupID)
		message.SetASM(asm)
	}
	return message, nil
}
