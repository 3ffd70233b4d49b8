package notifier

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Log is a dry-run notifier: it logs the message and reports success.
type Log struct {
	logger *slog.Logger
	sink   func(recipient, text string)
}

// NewLog creates a dry-run notifier. sink, when non-nil, also receives every
// message (the chat console prints them).
func NewLog(logger *slog.Logger, sink func(recipient, text string)) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notifier", "backend", "log"), sink: sink}
}

// Deliver implements Notifier.
func (l *Log) Deliver(_ context.Context, recipient, text string) (string, error) {
	id := uuid.NewString()
	l.logger.Info("message delivered (dry run)", "recipient", recipient, "text", text, "delivery_id", id)
	if l.sink != nil {
		l.sink(recipient, text)
	}
	return id, nil
}
