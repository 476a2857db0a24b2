package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/transactai/internal/protocol"
)

func TestMailbox_SendToClosedConnectionFallsThrough(t *testing.T) {
	mb := NewMailbox(8, zerolog.Nop())
	mc := mb.register("agent1bob")
	// Closed but not yet unregistered, as between a disconnect and its cleanup.
	mc.close()

	env, err := protocol.Seal("agent1transactai", "agent1bob", "s1",
		protocol.NewMetadataMessage(time.Now(), map[string]string{"type": "payment_received"}))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	for i := 0; i < 100; i++ {
		if err := mb.Send(context.Background(), env); !errors.Is(err, ErrNoRoute) {
			t.Fatalf("attempt %d: expected ErrNoRoute, got %v", i, err)
		}
	}
	if n := len(mc.queue); n != 0 {
		t.Fatalf("expected nothing queued on a closed connection, got %d", n)
	}
}
