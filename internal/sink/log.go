package sink

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.sqsbinder.tech/internal/queue"
)

// LogSink writes every message to the log. Useful for bindings that are
// wired up before their real consumer exists.
type LogSink struct {
	binding string
	level   zerolog.Level
}

// NewLogSink creates a log sink for binding at info level
func NewLogSink(binding string) *LogSink {
	return &LogSink{binding: binding, level: zerolog.InfoLevel}
}

// Handle logs msg and never fails
func (s *LogSink) Handle(_ context.Context, msg queue.Message) error {
	log.WithLevel(s.level).
		Str("binding", s.binding).
		Str("messageId", msg.Metadata.MessageID).
		Str("queue", msg.Metadata.ReceivedQueue).
		Str("body", msg.Body).
		Msg("Message received")
	return nil
}
