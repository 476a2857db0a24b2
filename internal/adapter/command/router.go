// Package command maps metadata commands onto the ledger use cases and
// renders their outcomes as response and notification metadata.
package command

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/transactai/internal/infrastructure/metrics"
	"github.com/iho/transactai/internal/usecase"
)

// Metadata keys and values shared by every command.
const (
	KeyCommand = "command"
	KeyType    = "type"
	KeyStatus  = "status"
	KeyReason  = "reason"
	KeyMessage = "message"
	KeyBalance = "balance"

	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Outbound is a metadata message to deliver to another agent.
type Outbound struct {
	To       string
	Metadata map[string]string
}

// Reply is the outcome of one command: the response for the requester and
// notifications for third parties.
type Reply struct {
	Response      map[string]string
	Notifications []Outbound
}

// UseCases groups the operations the router dispatches to.
type UseCases struct {
	Accounts    *usecase.AccountUseCase
	Payments    *usecase.PaymentUseCase
	Escrows     *usecase.EscrowUseCase
	Deposits    *usecase.DepositUseCase
	Withdrawals *usecase.WithdrawalUseCase
}

type handler struct {
	responseType string
	handle       func(ctx context.Context, sender string, req request) (*Reply, error)
}

// Router dispatches commands.
type Router struct {
	uc       UseCases
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	handlers map[string]handler
}

// NewRouter creates a Router.
func NewRouter(uc UseCases, m *metrics.Metrics, logger zerolog.Logger) *Router {
	r := &Router{
		uc:      uc,
		metrics: m,
		logger:  logger.With().Str("component", "command").Logger(),
	}
	r.handlers = map[string]handler{
		"register":        {"register_response", r.register},
		"register_wallet": {"register_wallet_response", r.registerWallet},
		"balance":         {"balance_response", r.balance},
		"payment":         {"payment_confirmation", r.payment},
		"escrow":          {"escrow_confirmation", r.createEscrow},
		"release_escrow":  {"escrow_update", r.releaseEscrow},
		"escrow_status":   {"escrow_status_response", r.escrowStatus},
		"deposit":         {"deposit_response", r.deposit},
		"withdraw":        {"withdraw_confirmation", r.withdraw},
	}
	return r
}

// Dispatch runs one command for sender. It never returns an error: every
// failure, including a panic in a handler, becomes a failure response.
func (r *Router) Dispatch(ctx context.Context, sender string, md map[string]string) (reply Reply) {
	start := time.Now()
	name := md[KeyCommand]
	log := r.logger.With().Str("sender", sender).Str("command", name).Logger()

	h, ok := r.handlers[name]
	if !ok {
		r.observe("unknown", StatusFailed, start)
		return Reply{Response: map[string]string{
			KeyType:    "error",
			KeyStatus:  StatusFailed,
			KeyReason:  ReasonUnknownCommand,
			KeyMessage: fmt.Sprintf("unknown command %q", name),
		}}
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("command panicked")
			reply = Reply{Response: r.failure(ctx, h.responseType, sender, ReasonInternalError, "internal error")}
		}
		r.observe(name, reply.Response[KeyStatus], start)
	}()

	out, err := h.handle(ctx, sender, request(md))
	if err != nil {
		reason := Reason(err)
		msg := err.Error()
		if reason == ReasonInternalError {
			log.Error().Err(err).Msg("command failed")
			msg = "internal error"
		} else {
			log.Info().Str("reason", reason).Msg("command rejected")
		}
		return Reply{Response: r.failure(ctx, h.responseType, sender, reason, msg)}
	}

	out.Response[KeyType] = h.responseType
	return *out
}

// failure builds a failure response, adding the requester's balance when the
// requester has an account.
func (r *Router) failure(ctx context.Context, responseType, sender, reason, msg string) map[string]string {
	resp := map[string]string{
		KeyType:    responseType,
		KeyStatus:  StatusFailed,
		KeyReason:  reason,
		KeyMessage: msg,
	}
	if r.uc.Accounts != nil {
		if acc, err := r.uc.Accounts.GetAccount(ctx, sender); err == nil {
			resp[KeyBalance] = formatAmount(acc.Balance)
		}
	}
	return resp
}

func (r *Router) observe(command, status string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.Commands.WithLabelValues(command, status).Inc()
	r.metrics.CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
}
