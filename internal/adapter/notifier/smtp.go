package notifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds mail relay settings.
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
}

// SMTP sends messages through a mail relay. STARTTLS is used when the relay
// offers it.
type SMTP struct {
	cfg  SMTPConfig
	send func(ctx context.Context, msgs ...*mail.Msg) error
	now  func() time.Time
}

// NewSMTP creates an SMTP notifier. PLAIN authentication is used when a
// username is configured.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Addr == "" {
		return nil, errors.New("smtp notifier: empty address")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp notifier: empty sender")
	}
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("smtp notifier: address %q: %w", cfg.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("smtp notifier: port %q: %w", portStr, err)
	}
	// Validate the sender once so a bad SMTP_FROM fails at startup.
	if err := mail.NewMsg().From(cfg.From); err != nil {
		return nil, fmt.Errorf("smtp notifier: sender %q: %w", cfg.From, err)
	}

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp notifier: client: %w", err)
	}
	return &SMTP{cfg: cfg, send: client.DialAndSendWithContext, now: time.Now}, nil
}

// Send delivers one message to all recipients.
func (s *SMTP) Send(ctx context.Context, recipients []string, subject, body string, isHTML bool) error {
	if len(recipients) == 0 {
		return errors.New("smtp notifier: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := buildMessage(s.cfg.From, recipients, subject, body, isHTML, s.now())
	if err != nil {
		return fmt.Errorf("smtp notifier: %w", err)
	}
	if err := s.send(ctx, msg); err != nil {
		return fmt.Errorf("smtp notifier: %w", err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, body string, isHTML bool, now time.Time) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	if err := m.To(to...); err != nil {
		return nil, fmt.Errorf("recipients: %w", err)
	}
	m.Subject(subject)
	m.SetDateWithValue(now)
	contentType := mail.TypeTextPlain
	if isHTML {
		contentType = mail.TypeTextHTML
	}
	m.SetBodyString(contentType, body)
	return m, nil
}
