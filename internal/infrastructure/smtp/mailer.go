package smtp

import (
	"context"
	"fmt"

	"github.com/agrisense-api/internal/config"
	"github.com/agrisense-api/internal/pkg/id"
	"gopkg.in/gomail.v2"
)

// Message is an outbound email. HTML is optional; Text is always sent.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer sends emails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type mailer struct {
	from   string
	domain string
	send   func(...*gomail.Message) error
}

func NewMailer(cfg *config.Config) Mailer {
	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	return newMailer(cfg.SMTPFrom, d.DialAndSend)
}

func newMailer(from string, send func(...*gomail.Message) error) *mailer {
	return &mailer{from: from, domain: hostOf(from), send: send}
}

func (m *mailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", id.New(), m.domain))
	gm.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		gm.AddAlternative("text/html", msg.HTML)
	}
	if err := m.send(gm); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

// hostOf returns the domain part of an address such as "AgriSense <noreply@agrisense.com>".
func hostOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == '@' {
			host := addr[i+1:]
			if n := len(host); n > 0 && host[n-1] == '>' {
				host = host[:n-1]
			}
			return host
		}
	}
	return "localhost"
}
