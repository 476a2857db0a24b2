// Package transport delivers envelopes to other agents.
package transport

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/iho/transactai/internal/infrastructure/metrics"
	"github.com/iho/transactai/internal/protocol"
)

//go:generate mockgen -source=sender.go -destination=mocks/mock_sender.go -package=mocks

// ErrNoRoute means a sender cannot reach the envelope's target.
var ErrNoRoute = errors.New("no route to agent")

// Sender delivers an envelope to env.Target.
type Sender interface {
	Send(ctx context.Context, env *protocol.Envelope) error
}

// Route is a named Sender tried by Multi.
type Route struct {
	Name   string
	Sender Sender
}

// Multi tries its routes in order. A route answering ErrNoRoute passes the
// envelope to the next one; any other error stops delivery.
type Multi struct {
	routes  []Route
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewMulti creates a Multi.
func NewMulti(m *metrics.Metrics, logger zerolog.Logger, routes ...Route) *Multi {
	return &Multi{
		routes:  routes,
		metrics: m,
		logger:  logger.With().Str("component", "transport").Logger(),
	}
}

// Send implements Sender.
func (s *Multi) Send(ctx context.Context, env *protocol.Envelope) error {
	for _, route := range s.routes {
		err := route.Sender.Send(ctx, env)
		switch {
		case err == nil:
			s.observe(route.Name, "sent")
			return nil
		case errors.Is(err, ErrNoRoute):
			continue
		default:
			s.observe(route.Name, "failed")
			s.logger.Warn().Err(err).
				Str("route", route.Name).
				Str("target", env.Target).
				Str("session", env.Session).
				Msg("delivery failed")
			return err
		}
	}
	s.observe("none", "unroutable")
	return ErrNoRoute
}

func (s *Multi) observe(route, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.OutboundSends.WithLabelValues(route, status).Inc()
}
