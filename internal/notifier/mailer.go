package notifier

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/frahmantamala/fleet-billing/internal"
)

// Mailer sends a single plain-text message.
type Mailer interface {
	Send(to []string, subject, body string) error
}

// SMTPMailer delivers via a plain SMTP relay inside the deployment network,
// so no auth is configured.
type SMTPMailer struct {
	addr string
	from string
}

func NewSMTPMailer(cfg internal.NotifierConfig) *SMTPMailer {
	return &SMTPMailer{
		addr: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		from: cfg.From,
	}
}

func (m *SMTPMailer) Send(to []string, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	return smtp.SendMail(m.addr, nil, m.from, to, []byte(msg))
}

// NoopMailer is wired when the notifier is disabled so the event handlers
// still run and flip the sent flags in tests and local setups.
type NoopMailer struct{}

func (NoopMailer) Send(to []string, subject, body string) error {
	return nil
}
