package outreach

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Email is one outgoing message.
type Email struct {
	From       string
	To         string
	Subject    string
	Body       string
	TrackingID string // sent as X-Creatorhub-Tracking-ID
}

// Mailer delivers an Email.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// LogMailer logs emails instead of sending them. It is used when no SMTP
// host is configured, so a dev setup can run sequences end to end.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With(slog.String("component", "mailer"))}
}

func (m *LogMailer) Send(_ context.Context, e Email) error {
	m.logger.Info("email not sent (log mailer)",
		slog.String("to", e.To),
		slog.String("subject", e.Subject),
		slog.String("trackingID", e.TrackingID),
	)
	return nil
}

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPMailer sends through an SMTP relay with STARTTLS and PLAIN auth.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// Send delivers e. smtp.SendMail has no context parameter, so ctx is only
// checked before dialing.
func (m *SMTPMailer) Send(ctx context.Context, e Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from, err := mail.ParseAddress(e.From)
	if err != nil {
		return fmt.Errorf("outreach: invalid from address %q: %w", e.From, err)
	}
	to, err := mail.ParseAddress(e.To)
	if err != nil {
		return fmt.Errorf("outreach: invalid recipient %q: %w", e.To, err)
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, from.Address, []string{to.Address}, buildMessage(e, from, to)); err != nil {
		return fmt.Errorf("outreach: sending to %s: %w", to.Address, err)
	}
	return nil
}

// buildMessage renders a plain-text RFC 5322 message.
func buildMessage(e Email, from, to *mail.Address) []byte {
	var b strings.Builder
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}

	header("From", from.String())
	header("To", to.String())
	header("Subject", mimeHeader(e.Subject))
	header("Date", time.Now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	if e.TrackingID != "" {
		header("X-Creatorhub-Tracking-ID", e.TrackingID)
	}
	b.WriteString("\r\n")

	// SMTP needs CRLF line endings in the body too.
	body := strings.ReplaceAll(e.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// mimeHeader Q-encodes non-ASCII subjects and strips header injection.
func mimeHeader(s string) string {
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	for _, r := range s {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", s)
		}
	}
	return s
}
