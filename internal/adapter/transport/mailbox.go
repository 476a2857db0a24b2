package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/iho/transactai/internal/protocol"
)

const (
	wsWriteTimeout   = 10 * time.Second
	defaultQueueSize = 64
)

// ErrMailboxFull means the connected agent is not draining its mailbox.
var ErrMailboxFull = errors.New("mailbox full")

type mailboxConn struct {
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func (c *mailboxConn) close() {
	c.once.Do(func() { close(c.done) })
}

// Mailbox pushes envelopes to agents over a websocket they opened. One
// connection per address; a newer connection replaces the older one.
type Mailbox struct {
	mu        sync.Mutex
	conns     map[string]*mailboxConn
	queueSize int
	logger    zerolog.Logger
}

// NewMailbox creates a Mailbox. queueSize <= 0 uses the default.
func NewMailbox(queueSize int, logger zerolog.Logger) *Mailbox {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Mailbox{
		conns:     make(map[string]*mailboxConn),
		queueSize: queueSize,
		logger:    logger.With().Str("component", "mailbox").Logger(),
	}
}

// Serve upgrades the request and streams envelopes for address until the
// client disconnects or is replaced.
func (m *Mailbox) Serve(w http.ResponseWriter, r *http.Request, address string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		m.logger.Warn().Err(err).Str("address", address).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "mailbox closed")

	mc := m.register(address)
	defer m.unregister(address, mc)
	m.logger.Info().Str("address", address).Msg("mailbox connected")

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-mc.done:
			_ = conn.Close(websocket.StatusPolicyViolation, "superseded by a newer connection")
			return
		case data := <-mc.queue:
			if err := write(ctx, conn, data); err != nil {
				if websocket.CloseStatus(err) == -1 {
					m.logger.Warn().Err(err).Str("address", address).Msg("mailbox write failed")
				}
				return
			}
		}
	}
}

// Send implements Sender.
func (m *Mailbox) Send(ctx context.Context, env *protocol.Envelope) error {
	m.mu.Lock()
	mc, ok := m.conns[env.Target]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s not connected", ErrNoRoute, env.Target)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	// A closed connection must never win the enqueue race below.
	select {
	case <-mc.done:
		return fmt.Errorf("%w: %s disconnected", ErrNoRoute, env.Target)
	default:
	}

	select {
	case mc.queue <- data:
		return nil
	case <-mc.done:
		return fmt.Errorf("%w: %s disconnected", ErrNoRoute, env.Target)
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("%w: %s", ErrMailboxFull, env.Target)
	}
}

// Connected reports whether address has an open mailbox.
func (m *Mailbox) Connected(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[address]
	return ok
}

// Close disconnects every mailbox.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for address, mc := range m.conns {
		mc.close()
		delete(m.conns, address)
	}
}

func (m *Mailbox) register(address string) *mailboxConn {
	mc := &mailboxConn{
		queue: make(chan []byte, m.queueSize),
		done:  make(chan struct{}),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.conns[address]; ok {
		old.close()
	}
	m.conns[address] = mc
	return mc
}

func (m *Mailbox) unregister(address string, mc *mailboxConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns[address] == mc {
		delete(m.conns, address)
	}
	mc.close()
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
