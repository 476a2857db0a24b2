package transport

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/iho/transactai/internal/protocol"
)

// LogSender writes envelopes to the log instead of delivering them. It is
// the last route for agents that are neither connected nor in the address
// book.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "outbox").Logger()}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, env *protocol.Envelope) error {
	event := s.logger.Info().
		Str("target", env.Target).
		Str("session", env.Session).
		Str("schema", env.Schema)
	if msg, err := env.Message(); err == nil {
		if md, err := msg.Metadata(); err == nil {
			event = event.Interface("metadata", md)
		}
	}
	event.Msg("undeliverable envelope")
	return nil
}
