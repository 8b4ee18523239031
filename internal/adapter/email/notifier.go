// Package email provides an SMTP-based notifier.Notifier.
package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/Strob0t/elicitor/internal/port/notifier"
)

const providerName = "email"

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	User     string // defaults to From
	Password string
	Domain   string // appended to recipients without '@'
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier sends notifications as plain-text email.
type Notifier struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewNotifier creates a new email notifier.
func NewNotifier(cfg SMTPConfig) *Notifier {
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	return &Notifier{cfg: cfg, send: smtp.SendMail}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		RichFormatting: false,
		DirectMessage:  true,
	}
}

// Send delivers the notification to its recipient. net/smtp has no context
// support, so cancellation is only honored before dialing.
func (n *Notifier) Send(ctx context.Context, nt notifier.Notification) error {
	if n.cfg.Host == "" || n.cfg.From == "" {
		return notifier.ErrNotConfigured
	}
	to, err := n.address(nt.Recipient)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if n.cfg.Password != "" {
		user := n.cfg.User
		if user == "" {
			user = n.cfg.From
		}
		auth = smtp.PlainAuth("", user, n.cfg.Password, n.cfg.Host)
	}

	addr := net.JoinHostPort(n.cfg.Host, n.cfg.Port)
	if err := n.send(addr, auth, n.cfg.From, []string{to}, n.compose(to, nt)); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

func (n *Notifier) address(recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", fmt.Errorf("email: recipient required")
	}
	if strings.ContainsAny(recipient, "\r\n") {
		return "", fmt.Errorf("email: invalid recipient %q", recipient)
	}
	if strings.Contains(recipient, "@") {
		return recipient, nil
	}
	if n.cfg.Domain == "" {
		return "", fmt.Errorf("email: no domain configured for recipient %q", recipient)
	}
	return recipient + "@" + n.cfg.Domain, nil
}

func (n *Notifier) compose(to string, nt notifier.Notification) []byte {
	subject := strings.NewReplacer("\r", " ", "\n", " ").Replace(nt.Title)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(nt.Message)
	b.WriteString("\r\n")
	if nt.Link != "" {
		fmt.Fprintf(&b, "\r\n%s\r\n", nt.Link)
	}
	if nt.Source != "" {
		fmt.Fprintf(&b, "\r\n-- %s\r\n", nt.Source)
	}
	return []byte(b.String())
}
