package notifier

import (
	"fmt"
	"log/slog"

	"github.com/couchcryptid/nowcast-alert-service/internal/notify"
)

// Transport names accepted by New.
const (
	TransportWebhook = "webhook"
	TransportSMTP    = "smtp"
	TransportLog     = "log"
	TransportNone    = "none"
)

// Config selects and configures a transport.
type Config struct {
	Transport  string
	WebhookURL string
	SMTP       SMTPConfig
}

// New builds the configured notifier. TransportNone yields a nil notifier,
// which disables sending.
func New(cfg Config, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.Transport {
	case TransportWebhook:
		w, err := NewWebhook(cfg.WebhookURL)
		if err != nil {
			return nil, err
		}
		return w, nil
	case TransportSMTP:
		s, err := NewSMTP(cfg.SMTP)
		if err != nil {
			return nil, err
		}
		return s, nil
	case TransportLog, "":
		return NewLog(logger), nil
	case TransportNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown notify transport %q", cfg.Transport)
	}
}
