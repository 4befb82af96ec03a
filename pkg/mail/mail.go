// Package mail defines the outbound email collaborator and its SMTP
// implementation.
//
// Sends happen inside the same datastore transaction as the record writes
// they accompany, so a send failure rolls the write back too. That is
// deliberate: it prevents orphaned accounts that have no way to ever set
// a password.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/jordan-wright/email"
)

// Sender delivers a plain-text message to a single recipient. Failures
// are fatal to the enclosing operation.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig contains configuration for the SMTP sender.
type SMTPConfig struct {
	// Host and Port locate the SMTP relay.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Username and Password are the relay credentials. Leave both empty
	// for an unauthenticated relay.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// From is the sender address placed on every message.
	From string `yaml:"from"`
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	config *SMTPConfig
	logger *slog.Logger
}

// NewSMTPSender creates an SMTP-backed Sender.
func NewSMTPSender(config *SMTPConfig) *SMTPSender {
	return &SMTPSender{
		config: config,
		logger: slog.Default().With("component", "mail"),
	}
}

// Send implements the Sender interface.
func (s *SMTPSender) Send(_ context.Context, to, subject, body string) error {
	msg := email.NewEmail()
	msg.From = s.config.From
	msg.To = []string{to}
	msg.Subject = subject
	msg.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	var a smtp.Auth
	if s.config.Username != "" {
		a = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}
	if err := msg.Send(addr, a); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	s.logger.Debug("mail sent", "to", to, "subject", subject)
	return nil
}
