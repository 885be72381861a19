package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

// EmailSender delivers one staff alert.
type EmailSender interface {
	Send(ctx context.Context, msg Email) error
}

// Email is a single outbound alert.
type Email struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Address is the sending identity alerts go out under.
type Address struct {
	Email string
	Name  string
}

func (a Address) withDefaultName() Address {
	if a.Name == "" {
		a.Name = "InkFlow"
	}
	return a
}

// SendGridSender delivers alerts through the SendGrid API.
type SendGridSender struct {
	client *sendgrid.Client
	from   Address
	logger *logging.Logger
}

// NewSendGridSender returns nil when no API key is set, which the
// service treats as alerts being disabled.
func NewSendGridSender(apiKey string, from Address, logger *logging.Logger) *SendGridSender {
	if apiKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   from.withDefaultName(),
		logger: logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg Email) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid sender not configured")
	}

	html := msg.HTML
	if html == "" {
		html = msg.Text
	}
	payload := mail.NewSingleEmail(
		mail.NewEmail(s.from.Name, s.from.Email),
		msg.Subject,
		mail.NewEmail(msg.ToName, msg.To),
		msg.Text,
		html,
	)

	resp, err := s.client.SendWithContext(ctx, payload)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send to %s: %w", msg.To, err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error("sendgrid rejected alert", "status", resp.StatusCode, "body", resp.Body, "to", msg.To)
		return fmt.Errorf("notify: sendgrid status %d", resp.StatusCode)
	}

	s.logger.Info("staff alert sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// LogSender writes alerts to the log instead of delivering them. It is
// the fallback when no email provider is configured.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Email) error {
	s.logger.Info("staff alert (email disabled)", "to", msg.To, "subject", msg.Subject)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*LogSender)(nil)
)
