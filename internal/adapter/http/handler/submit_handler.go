package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/iho/transactai/internal/adapter/agent"
	"github.com/iho/transactai/internal/protocol"
)

// EnvelopeHandler accepts inbound envelopes.
type EnvelopeHandler interface {
	HandleEnvelope(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error)
}

// SubmitHandler receives envelopes posted by other agents.
type SubmitHandler struct {
	agent  EnvelopeHandler
	logger zerolog.Logger
}

// NewSubmitHandler creates a new SubmitHandler.
func NewSubmitHandler(a EnvelopeHandler, logger zerolog.Logger) *SubmitHandler {
	return &SubmitHandler{agent: a, logger: logger.With().Str("component", "submit").Logger()}
}

// Submit handles POST /submit. The acknowledgement is returned before the
// message is processed.
func (h *SubmitHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var env protocol.Envelope
	if err := decodeJSON(w, r, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope", err.Error())
		return
	}

	if identity, ok := IdentityFromContext(r.Context()); ok && identity != env.Sender {
		writeError(w, http.StatusForbidden, "sender mismatch", "token subject does not match envelope sender")
		return
	}

	ack, err := h.agent.HandleEnvelope(r.Context(), &env)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrInvalidEnvelope), errors.Is(err, protocol.ErrInvalidContent),
			errors.Is(err, agent.ErrWrongTarget):
			writeError(w, http.StatusBadRequest, "invalid envelope", err.Error())
		case errors.Is(err, agent.ErrShuttingDown):
			writeError(w, http.StatusServiceUnavailable, "shutting down", "")
		default:
			h.logger.Error().Err(err).Str("sender", env.Sender).Msg("submit failed")
			writeError(w, http.StatusInternalServerError, "internal error", "")
		}
		return
	}

	if ack == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}
