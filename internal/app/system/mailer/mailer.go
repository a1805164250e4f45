// Package mailer sends transactional email over SMTP.
//
// Invitation dispatch is fire-and-forget: the membership workflow records
// invites first, then hands the batch to SendInviteBatch after commit.
// Per-recipient failures are logged and counted, never propagated back to
// the inviting request.
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/arborhq/arbor/internal/app/system/metrics"
	"go.uber.org/zap"
)

// Email is a single outbound message with both plain-text and HTML bodies.
type Email struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Mailer sends email through a single SMTP endpoint.
type Mailer struct {
	host     string
	port     int
	user     string
	pass     string
	from     string
	fromName string
	log      *zap.Logger
}

// New builds a Mailer. user/pass may be empty for unauthenticated relays
// (e.g. Mailpit in dev).
func New(host string, port int, user, pass, from, fromName string, logger *zap.Logger) *Mailer {
	return &Mailer{
		host:     host,
		port:     port,
		user:     user,
		pass:     pass,
		from:     from,
		fromName: fromName,
		log:      logger,
	}
}

// Send delivers one email. MIME multipart/alternative with text + HTML parts.
func (m *Mailer) Send(e Email) error {
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	msg := m.buildMessage(e)
	if err := smtp.SendMail(addr, auth, m.from, []string{e.To}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", e.To, err)
	}
	return nil
}

// SendInviteBatch delivers a batch of invitation emails, logging and counting
// failures without stopping. Intended to run in a goroutine after the invite
// records have committed.
func (m *Mailer) SendInviteBatch(emails []Email) {
	for _, e := range emails {
		if err := m.Send(e); err != nil {
			metrics.InviteDispatchErrors.Inc()
			m.log.Error("invite dispatch failed",
				zap.String("to", e.To),
				zap.Error(err))
			continue
		}
		m.log.Info("invite dispatched", zap.String("to", e.To))
	}
}

const boundary = "arbor-mime-boundary"

func (m *Mailer) buildMessage(e Email) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s <%s>\r\n", m.fromName, m.from)
	fmt.Fprintf(&b, "To: %s\r\n", e.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", e.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(e.TextBody)
	b.WriteString("\r\n")

	if e.HTMLBody != "" {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(e.HTMLBody)
		b.WriteString("\r\n")
	}

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}
