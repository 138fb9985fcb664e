// Package email delivers manager notifications and admin alerts over SMTP.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"

	"github.com/krapivin/consultbot/store"
)

// Config is the SMTP configuration.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Recipients receive lead notifications and alerts.
	Recipients []string
}

// Validate checks the configuration before the sender is constructed.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("SMTP host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("SMTP port must be between 1 and 65535")
	}
	if c.From == "" {
		return errors.New("from address is required")
	}
	if len(c.Recipients) == 0 {
		return errors.New("at least one recipient is required")
	}
	return nil
}

func (c *Config) serverAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// sendFunc matches smtp.SendMail; swapped in tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier sends lead notifications and alerts by email. It satisfies
// lead.Notifier and hybridlog.Alerter.
type Notifier struct {
	config *Config
	send   sendFunc
}

func NewNotifier(config *Config) (*Notifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Notifier{config: config, send: smtp.SendMail}, nil
}

func (n *Notifier) Name() string { return "email" }

// NotifyLead mails the lead summary to every configured manager.
func (n *Notifier) NotifyLead(_ context.Context, lead *store.Lead) error {
	return n.deliver("Новый лид: "+lead.LastName, leadBody(lead))
}

// Alert mails a critical system alert.
func (n *Notifier) Alert(_ context.Context, message string) error {
	return n.deliver("CRITICAL: сбой в работе бота", message)
}

func (n *Notifier) deliver(subject, body string) error {
	var auth smtp.Auth
	if n.config.Username != "" {
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
	}
	msg := buildMessage(n.config.From, n.config.Recipients, subject, body)
	return errors.Wrap(
		n.send(n.config.serverAddress(), auth, n.config.From, n.config.Recipients, msg),
		"failed to send email",
	)
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func leadBody(lead *store.Lead) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Фамилия: %s\n", lead.LastName)
	if lead.Phone != "" {
		fmt.Fprintf(&b, "Телефон: %s\n", lead.Phone)
	}
	if lead.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", lead.Email)
	}
	if lead.Company != "" {
		fmt.Fprintf(&b, "Компания: %s\n", lead.Company)
	}
	if lead.Question != "" {
		fmt.Fprintf(&b, "Вопрос: %s\n", lead.Question)
	}
	fmt.Fprintf(&b, "Источник: %s\n", lead.Source)
	if lead.AutoCreated {
		b.WriteString("Создан автоматически по неактивности пользователя.\n")
	}
	return b.String()
}
