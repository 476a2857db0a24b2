package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope schemas.
const (
	SchemaMessage         = "agent_message"
	SchemaAcknowledgement = "agent_acknowledgement"
)

// EnvelopeVersion is the only envelope version understood.
const EnvelopeVersion = 1

var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope addresses a payload from one agent to another. Session threads
// replies to the request that caused them.
type Envelope struct {
	Version int             `json:"version"`
	Sender  string          `json:"sender"`
	Target  string          `json:"target"`
	Session string          `json:"session"`
	Schema  string          `json:"schema"`
	Payload json.RawMessage `json:"payload"`
}

// Seal wraps a message into an envelope.
func Seal(sender, target, session string, msg *AgentMessage) (*Envelope, error) {
	return seal(sender, target, session, SchemaMessage, msg)
}

// SealAcknowledgement wraps an acknowledgement into an envelope.
func SealAcknowledgement(sender, target, session string, ack *AgentAcknowledgement) (*Envelope, error) {
	return seal(sender, target, session, SchemaAcknowledgement, ack)
}

func seal(sender, target, session, schema string, v any) (*Envelope, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", schema, err)
	}
	return &Envelope{
		Version: EnvelopeVersion,
		Sender:  sender,
		Target:  target,
		Session: session,
		Schema:  schema,
		Payload: payload,
	}, nil
}

// Validate checks addressing and schema.
func (e *Envelope) Validate() error {
	switch {
	case e.Version != EnvelopeVersion:
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, e.Version)
	case e.Sender == "":
		return fmt.Errorf("%w: missing sender", ErrInvalidEnvelope)
	case e.Target == "":
		return fmt.Errorf("%w: missing target", ErrInvalidEnvelope)
	case e.Schema != SchemaMessage && e.Schema != SchemaAcknowledgement:
		return fmt.Errorf("%w: unknown schema %q", ErrInvalidEnvelope, e.Schema)
	case len(e.Payload) == 0:
		return fmt.Errorf("%w: empty payload", ErrInvalidEnvelope)
	}
	return nil
}

// Message decodes an agent_message payload.
func (e *Envelope) Message() (*AgentMessage, error) {
	if e.Schema != SchemaMessage {
		return nil, fmt.Errorf("%w: schema %q is not %s", ErrInvalidEnvelope, e.Schema, SchemaMessage)
	}
	var msg AgentMessage
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Acknowledgement decodes an agent_acknowledgement payload.
func (e *Envelope) Acknowledgement() (*AgentAcknowledgement, error) {
	if e.Schema != SchemaAcknowledgement {
		return nil, fmt.Errorf("%w: schema %q is not %s", ErrInvalidEnvelope, e.Schema, SchemaAcknowledgement)
	}
	var ack AgentAcknowledgement
	if err := json.Unmarshal(e.Payload, &ack); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return &ack, nil
}
