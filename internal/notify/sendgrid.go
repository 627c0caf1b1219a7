package notify

import (
	"context"
	"errors"
	"fmt"

	"carinspect/internal/config"
	"carinspect/internal/domain"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridMailer delivers rendered emails through the SendGrid v3 API.
type SendGridMailer struct {
	apiKey    string
	fromEmail string
	fromName  string
	baseURL   string
}

func NewSendGridMailer(cfg config.NotificationsConfig) *SendGridMailer {
	return &SendGridMailer{
		apiKey:    cfg.SendGridAPIKey,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}
}

func (s *SendGridMailer) Send(ctx context.Context, msg domain.EmailMessage) error {
	if msg.ToAddress == "" {
		return errors.New("recipient address is required")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.ToAddress)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.PlainText, msg.HTML)

	client := sendgrid.NewSendClient(s.apiKey)
	if s.baseURL != "" {
		client.BaseURL = s.baseURL
	}

	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}

// LogMailer stands in for SendGrid when delivery is disabled.
type LogMailer struct {
	logger *zerolog.Logger
}

func NewLogMailer(logger *zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (l *LogMailer) Send(_ context.Context, msg domain.EmailMessage) error {
	l.logger.Info().Str("to", msg.ToAddress).Str("subject", msg.Subject).Msg("email delivery disabled, message dropped")
	return nil
}
