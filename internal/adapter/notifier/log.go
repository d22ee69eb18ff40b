package notifier

import (
	"context"
	"log/slog"
)

// Log writes messages to the structured log instead of delivering them.
// It is the default transport so alerts are visible before a real one is
// configured.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Send logs the message.
func (l *Log) Send(_ context.Context, recipients []string, subject, body string, _ bool) error {
	l.logger.Info("notification", "recipients", recipients, "subject", subject, "body", body)
	return nil
}
