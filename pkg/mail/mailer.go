package mail

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// Message is a single outbound email.
type Message struct {
	ToName    string
	ToAddress string
	Subject   string
	PlainBody string
	HTMLBody  string
}

// Mailer sends transactional email. Reminder delivery depends on this.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridMailer delivers mail through the SendGrid v3 API.
type SendGridMailer struct {
	client      *sendgrid.Client
	fromName    string
	fromAddress string
}

// NewSendGridMailer constructs a mailer with the given API key and sender.
func NewSendGridMailer(apiKey, fromName, fromAddress string) (*SendGridMailer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("sendgrid api key required")
	}
	if fromAddress == "" {
		return nil, fmt.Errorf("sender address required")
	}
	return &SendGridMailer{
		client:      sendgrid.NewSendClient(apiKey),
		fromName:    fromName,
		fromAddress: fromAddress,
	}, nil
}

// Send delivers a single message. Non-2xx responses are returned as errors
// so the job queue can retry.
func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	from := sgmail.NewEmail(m.fromName, m.fromAddress)
	to := sgmail.NewEmail(msg.ToName, msg.ToAddress)
	html := msg.HTMLBody
	if html == "" {
		html = msg.PlainBody
	}
	email := sgmail.NewSingleEmail(from, msg.Subject, to, msg.PlainBody, html)

	resp, err := m.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// LogMailer records messages instead of sending them. Used in development
// and whenever email delivery is disabled.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send logs the message and succeeds.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Sugar().Infow("email suppressed",
		"to", msg.ToAddress,
		"subject", msg.Subject,
	)
	return nil
}
