// Package agent runs the inbound message loop: it acknowledges envelopes,
// drops duplicates, dispatches metadata commands on a bounded worker pool and
// delivers responses and notifications.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iho/transactai/internal/adapter/command"
	"github.com/iho/transactai/internal/adapter/transport"
	"github.com/iho/transactai/internal/infrastructure/metrics"
	"github.com/iho/transactai/internal/protocol"
	"github.com/iho/transactai/internal/usecase"
)

const (
	defaultMaxInFlight    = 64
	defaultProcessTimeout = 2 * time.Minute
	defaultDedupTTL       = 24 * time.Hour
)

var (
	ErrShuttingDown = errors.New("agent shutting down")
	ErrWrongTarget  = errors.New("envelope not addressed to this agent")
)

var (
	processingMarker = []byte("processing")
	failedMarker     = []byte("failed")
)

const finalizeTimeout = 5 * time.Second

// Dispatcher runs one metadata command.
type Dispatcher interface {
	Dispatch(ctx context.Context, sender string, md map[string]string) command.Reply
}

// Config configures an Agent.
type Config struct {
	Address        string
	MaxInFlight    int
	ProcessTimeout time.Duration
	DedupTTL       time.Duration
}

// Agent handles envelopes addressed to Config.Address.
type Agent struct {
	cfg        Config
	dispatcher Dispatcher
	sender     transport.Sender
	dedup      usecase.IdempotencyStore
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
	seal       func(sender, target, session string, msg *protocol.AgentMessage) (*protocol.Envelope, error)

	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// New creates an Agent.
func New(cfg Config, d Dispatcher, sender transport.Sender, dedup usecase.IdempotencyStore, m *metrics.Metrics, logger zerolog.Logger) *Agent {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	return &Agent{
		cfg:        cfg,
		dispatcher: d,
		sender:     sender,
		dedup:      dedup,
		metrics:    m,
		logger:     logger.With().Str("component", "agent").Str("address", cfg.Address).Logger(),
		now:        time.Now,
		seal:       protocol.Seal,
		sem:        make(chan struct{}, cfg.MaxInFlight),
	}
}

// Address returns the agent's own address.
func (a *Agent) Address() string {
	return a.cfg.Address
}

// HandleEnvelope acknowledges an inbound agent_message and schedules its
// processing. The returned envelope carries the acknowledgement; it is nil
// for inbound acknowledgements, which need no answer. A duplicate msg_id from
// the same sender is acknowledged again and its stored response re-delivered,
// but it is not processed twice.
func (a *Agent) HandleEnvelope(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.Target != a.cfg.Address {
		return nil, fmt.Errorf("%w: %s", ErrWrongTarget, env.Target)
	}
	if env.Schema == protocol.SchemaAcknowledgement {
		if ack, err := env.Acknowledgement(); err == nil {
			a.logger.Debug().Str("sender", env.Sender).Stringer("msg_id", ack.AcknowledgedMsgID).Msg("acknowledged")
		}
		return nil, nil
	}

	msg, err := env.Message()
	if err != nil {
		return nil, err
	}
	session := env.Session
	if session == "" {
		session = msg.MsgID.String()
	}
	ack, err := protocol.SealAcknowledgement(a.cfg.Address, env.Sender, session, protocol.NewAcknowledgement(a.now(), msg.MsgID))
	if err != nil {
		return nil, err
	}

	if !a.enter() {
		return nil, ErrShuttingDown
	}
	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		a.wg.Done()
		return nil, ctx.Err()
	}
	release := func() {
		<-a.sem
		a.wg.Done()
	}

	key := dedupKey(env.Sender, msg.MsgID)
	seen, stored, err := a.dedup.CheckAndSet(ctx, key, nil, a.cfg.DedupTTL)
	if err != nil {
		release()
		return nil, fmt.Errorf("dedup: %w", err)
	}
	log := a.logger.With().Str("sender", env.Sender).Stringer("msg_id", msg.MsgID).Str("session", session).Logger()
	if seen {
		if a.metrics != nil {
			a.metrics.DuplicateMsgs.Inc()
		}
		log.Info().Msg("duplicate message")
		if len(stored) == 0 || bytes.Equal(stored, processingMarker) || bytes.Equal(stored, failedMarker) {
			release()
			return ack, nil
		}
		go func() {
			defer release()
			a.redeliver(log, stored)
		}()
		return ack, nil
	}

	go func() {
		defer release()
		a.process(log, key, env.Sender, session, msg)
	}()
	return ack, nil
}

// Deliver sends notifications to third-party agents, each in a new session.
func (a *Agent) Deliver(ctx context.Context, outs []command.Outbound) error {
	var errs []error
	for _, out := range outs {
		env, err := protocol.Seal(a.cfg.Address, out.To, uuid.NewString(), protocol.NewMetadataMessage(a.now(), out.Metadata))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := a.sender.Send(ctx, env); err != nil {
			a.logger.Warn().Err(err).Str("target", out.To).Str("type", out.Metadata[command.KeyType]).Msg("notification not delivered")
			errs = append(errs, fmt.Errorf("notify %s: %w", out.To, err))
		}
	}
	return errors.Join(errs...)
}

// Notifier turns a producer of notifications, such as the escrow sweep,
// into a job body that delivers what the producer returns. Outbounds are
// delivered even when the producer also reports an error.
func (a *Agent) Notifier(produce func(ctx context.Context) ([]command.Outbound, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		outs, err := produce(ctx)
		if len(outs) > 0 {
			_ = a.Deliver(ctx, outs)
		}
		return err
	}
}

// Shutdown stops accepting envelopes and waits for in-flight processing.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) enter() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false
	}
	a.wg.Add(1)
	return true
}

func (a *Agent) process(log zerolog.Logger, key, sender, session string, msg *protocol.AgentMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ProcessTimeout)
	defer cancel()

	var reply command.Reply
	md, err := msg.Metadata()
	if err != nil {
		reply.Response = map[string]string{
			command.KeyType:    "error",
			command.KeyStatus:  command.StatusFailed,
			command.KeyReason:  command.ReasonInvalidRequest,
			command.KeyMessage: "message carries no metadata command",
		}
	} else {
		reply = a.dispatcher.Dispatch(ctx, sender, md)
	}

	resp, err := a.seal(a.cfg.Address, sender, session, protocol.NewMetadataMessage(a.now(), reply.Response))
	if err != nil {
		log.Error().Err(err).Msg("seal response")
		resp, err = a.seal(a.cfg.Address, sender, session, protocol.NewMetadataMessage(a.now(), internalError(reply.Response)))
	}
	if err != nil {
		log.Error().Err(err).Msg("seal fallback response")
		a.finalize(ctx, log, key, failedMarker)
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		data = failedMarker
	}
	a.finalize(ctx, log, key, data)

	if err := a.sender.Send(ctx, resp); err != nil {
		log.Warn().Err(err).Str("type", reply.Response[command.KeyType]).Msg("response not delivered")
	}
	if len(reply.Notifications) > 0 {
		_ = a.Deliver(ctx, reply.Notifications)
	}
}

// finalize replaces the processing marker for key. The command has already
// run, so the entry is written even when ctx has expired.
func (a *Agent) finalize(ctx context.Context, log zerolog.Logger, key string, data []byte) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := a.dedup.Update(ctx, key, data, a.cfg.DedupTTL); err != nil {
		log.Warn().Err(err).Msg("store response for duplicates")
	}
}

func internalError(resp map[string]string) map[string]string {
	typ := resp[command.KeyType]
	if typ == "" {
		typ = "error"
	}
	return map[string]string{
		command.KeyType:   typ,
		command.KeyStatus: command.StatusFailed,
		command.KeyReason: command.ReasonInternalError,
	}
}

func (a *Agent) redeliver(log zerolog.Logger, stored []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ProcessTimeout)
	defer cancel()

	var resp protocol.Envelope
	if err := json.Unmarshal(stored, &resp); err != nil {
		log.Warn().Err(err).Msg("stored response unreadable")
		return
	}
	if err := a.sender.Send(ctx, &resp); err != nil {
		log.Warn().Err(err).Msg("response not re-delivered")
	}
}

func dedupKey(sender string, msgID uuid.UUID) string {
	return "agent:msg:" + sender + ":" + msgID.String()
}
