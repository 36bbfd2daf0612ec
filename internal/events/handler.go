// internal/events/handler.go
package events

import (
	"context"

	"go.uber.org/zap"
)

// Sink delivers a rendered notification to one channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification, text string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc struct {
	ID string
	Fn func(ctx context.Context, n Notification, text string) error
}

func (f SinkFunc) Name() string { return f.ID }

func (f SinkFunc) Send(ctx context.Context, n Notification, text string) error {
	return f.Fn(ctx, n, text)
}

// LogSink writes notifications to the structured log. It is used when no
// chat channel is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("notify_log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, n Notification, text string) error {
	s.logger.Info("Notification",
		zap.String("id", n.ID),
		zap.String("kind", string(n.Kind)),
		zap.Bool("urgent", n.Urgent()),
		zap.String("text", text))
	return nil
}
