// Package mail sends transactional email. The SMTP sender covers the
// password reset flow; the log sender stands in wherever no relay is
// configured, so development environments never need SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"metasaas.org/internal/obs"
)

// Mailer sends a single plain-text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer delivers through a configured relay.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPMailer builds a relay-backed mailer. Username may be empty for
// unauthenticated relays.
func NewSMTPMailer(host string, port int, username, password, from string) (*SMTPMailer, error) {
	if strings.TrimSpace(host) == "" {
		return nil, errors.New("mail: smtp host is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("mail: from address is required")
	}
	m := &SMTPMailer{
		addr: fmt.Sprintf("%s:%d", host, port),
		from: from,
	}
	if username != "" {
		m.auth = smtp.PlainAuth("", username, password, host)
	}
	return m, nil
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		body,
	}, "\r\n")
	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("mail: send to %s: %w", to, err)
	}
	return nil
}

// LogMailer writes messages to the structured log instead of delivering
// them. Bodies are not logged; reset tokens must not land in log storage.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to, subject, _ string) error {
	obs.LogJSON(map[string]any{
		"level":   "info",
		"msg":     "mail suppressed, no smtp relay configured",
		"to":      to,
		"subject": subject,
	})
	return nil
}
