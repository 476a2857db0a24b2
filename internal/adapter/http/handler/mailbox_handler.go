package handler

import (
	"net/http"

	"github.com/iho/transactai/internal/domain"
)

// MailboxServer streams envelopes to a connected agent.
type MailboxServer interface {
	Serve(w http.ResponseWriter, r *http.Request, address string)
}

// MailboxHandler serves GET /mailbox.
type MailboxHandler struct {
	mailbox MailboxServer
}

// NewMailboxHandler creates a new MailboxHandler.
func NewMailboxHandler(mailbox MailboxServer) *MailboxHandler {
	return &MailboxHandler{mailbox: mailbox}
}

// Connect upgrades to a websocket for the authenticated agent, or for the
// address query parameter when authentication is disabled.
func (h *MailboxHandler) Connect(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if identity, ok := IdentityFromContext(r.Context()); ok {
		if address != "" && address != identity {
			writeError(w, http.StatusForbidden, "address mismatch", "token subject does not match mailbox address")
			return
		}
		address = identity
	}

	if err := domain.ValidateAgentAddress(address); err != nil {
		writeError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}

	h.mailbox.Serve(w, r, address)
}
