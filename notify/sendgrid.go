// Package notify delivers library notifications by e-mail.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"school-library/library"
)

const sendEndpoint = "/v3/mail/send"

// Mailer sends notifications through the SendGrid v3 API. Users without an
// e-mail address are skipped; they still see the in-app copy.
type Mailer struct {
	apiKey string
	from   *mail.Email
	host   string
	log    *slog.Logger
}

type MailerOption func(*Mailer)

// WithHost points the mailer at another API host, e.g. a local stub.
func WithHost(host string) MailerOption {
	return func(m *Mailer) { m.host = host }
}

func WithLogger(l *slog.Logger) MailerOption {
	return func(m *Mailer) { m.log = l }
}

func NewMailer(apiKey, from string, opts ...MailerOption) *Mailer {
	m := &Mailer{
		apiKey: apiKey,
		from:   mail.NewEmail("School Library", from),
		host:   "https://api.sendgrid.com",
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ library.Notifier = (*Mailer)(nil)

func (m *Mailer) Notify(ctx context.Context, n *library.Notification) error {
	if n.Email == "" {
		return nil
	}
	if m.apiKey == "" {
		return fmt.Errorf("sendgrid api key is empty")
	}

	msg := mail.NewSingleEmail(
		m.from,
		n.Title,
		mail.NewEmail("", n.Email),
		n.Message,
		fmt.Sprintf("<p>%s</p>", html.EscapeString(n.Message)),
	)
	msg.SetHeader("X-Library-Notification", string(n.Type))

	req := sendgrid.GetRequest(m.apiKey, sendEndpoint, m.host)
	req.Method = "POST"
	req.Body = mail.GetRequestBody(msg)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid send error: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d, body=%s", resp.StatusCode, resp.Body)
	}
	m.log.Debug("mail sent", "status", resp.StatusCode, "user_id", n.UserID, "type", n.Type)
	return nil
}
