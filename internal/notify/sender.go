package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

var ErrInvalidMessage = errors.New("invalid email message")

// Message is one outbound HTML email.
type Message struct {
	Kind    string
	To      string
	Subject string
	HTML    string
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" || strings.TrimSpace(m.Subject) == "" {
		return ErrInvalidMessage
	}
	return nil
}

//go:generate mockgen -source=sender.go -destination=gomock/sender_mock.go -package=gomock

// Sender delivers a single message. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the logger instead of sending them. Used when SMTP is disabled.
type LogSender struct {
	logger      *slog.Logger
	includeBody bool
}

func NewLogSender(logger *slog.Logger, includeBody bool) *LogSender {
	return &LogSender{logger: logger, includeBody: includeBody}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	attrs := []any{"kind", msg.Kind, "to", msg.To, "subject", msg.Subject}
	if s.includeBody {
		attrs = append(attrs, "html", msg.HTML)
	}
	s.logger.InfoContext(ctx, "email captured", attrs...)
	return nil
}
