// Package protocol defines the agent message wire format: AgentMessage,
// its tagged content union, AgentAcknowledgement and the transport Envelope.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContentType tags an AgentContent variant.
type ContentType string

// Content variants.
const (
	ContentText         ContentType = "text"
	ContentMetadata     ContentType = "metadata"
	ContentResource     ContentType = "resource"
	ContentStartSession ContentType = "start-session"
	ContentEndSession   ContentType = "end-session"
	ContentStartStream  ContentType = "start-stream"
	ContentEndStream    ContentType = "end-stream"
)

var (
	ErrUnknownContent = errors.New("unknown content type")
	ErrInvalidContent = errors.New("invalid content")
	ErrNoMetadata     = errors.New("message carries no metadata content")
)

// Resource points at an out-of-band payload.
type Resource struct {
	URI      string            `json:"uri"`
	Metadata map[string]string `json:"metadata"`
}

// AgentContent is one element of a message. Type selects which of the other
// fields are meaningful.
type AgentContent struct {
	Type       ContentType
	Text       string
	Metadata   map[string]string
	ResourceID uuid.UUID
	Resource   Resource
	StreamID   uuid.UUID
}

// Text returns a text content.
func Text(text string) AgentContent {
	return AgentContent{Type: ContentText, Text: text}
}

// Metadata returns a metadata content holding a copy of md.
func Metadata(md map[string]string) AgentContent {
	cp := make(map[string]string, len(md))
	for k, v := range md {
		cp[k] = v
	}
	return AgentContent{Type: ContentMetadata, Metadata: cp}
}

type textContent struct {
	Type ContentType `json:"type"`
	Text string      `json:"text"`
}

type metadataContent struct {
	Type     ContentType       `json:"type"`
	Metadata map[string]string `json:"metadata"`
}

type resourceContent struct {
	Type       ContentType `json:"type"`
	ResourceID uuid.UUID   `json:"resource_id"`
	Resource   Resource    `json:"resource"`
}

type streamContent struct {
	Type     ContentType `json:"type"`
	StreamID uuid.UUID   `json:"stream_id"`
}

type sessionContent struct {
	Type ContentType `json:"type"`
}

// MarshalJSON emits only the fields of the tagged variant.
func (c AgentContent) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case ContentText:
		return json.Marshal(textContent{Type: c.Type, Text: c.Text})
	case ContentMetadata:
		md := c.Metadata
		if md == nil {
			md = map[string]string{}
		}
		return json.Marshal(metadataContent{Type: c.Type, Metadata: md})
	case ContentResource:
		return json.Marshal(resourceContent{Type: c.Type, ResourceID: c.ResourceID, Resource: c.Resource})
	case ContentStartStream, ContentEndStream:
		return json.Marshal(streamContent{Type: c.Type, StreamID: c.StreamID})
	case ContentStartSession, ContentEndSession:
		return json.Marshal(sessionContent{Type: c.Type})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownContent, c.Type)
	}
}

// UnmarshalJSON decodes a tagged variant and rejects unknown tags.
func (c *AgentContent) UnmarshalJSON(data []byte) error {
	var head sessionContent
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	out := AgentContent{Type: head.Type}
	switch head.Type {
	case ContentText:
		var v textContent
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		out.Text = v.Text
	case ContentMetadata:
		var v metadataContent
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("%w: metadata values must be strings: %v", ErrInvalidContent, err)
		}
		if v.Metadata == nil {
			v.Metadata = map[string]string{}
		}
		out.Metadata = v.Metadata
	case ContentResource:
		var v resourceContent
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		out.ResourceID, out.Resource = v.ResourceID, v.Resource
	case ContentStartStream, ContentEndStream:
		var v streamContent
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		out.StreamID = v.StreamID
	case ContentStartSession, ContentEndSession:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownContent, head.Type)
	}

	*c = out
	return nil
}

// AgentMessage is the unit of agent-to-agent communication.
type AgentMessage struct {
	Timestamp time.Time      `json:"timestamp"`
	MsgID     uuid.UUID      `json:"msg_id"`
	Content   []AgentContent `json:"content"`
}

// NewMessage builds a message with a fresh msg_id.
func NewMessage(now time.Time, content ...AgentContent) *AgentMessage {
	if content == nil {
		content = []AgentContent{}
	}
	return &AgentMessage{
		Timestamp: now.UTC(),
		MsgID:     uuid.New(),
		Content:   content,
	}
}

// NewMetadataMessage builds a message carrying a single metadata content.
func NewMetadataMessage(now time.Time, md map[string]string) *AgentMessage {
	return NewMessage(now, Metadata(md))
}

// Metadata merges every metadata content of the message, later keys winning.
func (m *AgentMessage) Metadata() (map[string]string, error) {
	var (
		merged map[string]string
		found  bool
	)
	for _, c := range m.Content {
		if c.Type != ContentMetadata {
			continue
		}
		if !found {
			merged = make(map[string]string, len(c.Metadata))
			found = true
		}
		for k, v := range c.Metadata {
			merged[k] = v
		}
	}
	if !found {
		return nil, ErrNoMetadata
	}
	return merged, nil
}

// Validate checks the fields every message must carry.
func (m *AgentMessage) Validate() error {
	if m.MsgID == uuid.Nil {
		return fmt.Errorf("%w: missing msg_id", ErrInvalidContent)
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidContent)
	}
	return nil
}

// AgentAcknowledgement confirms receipt of a message.
type AgentAcknowledgement struct {
	Timestamp         time.Time         `json:"timestamp"`
	AcknowledgedMsgID uuid.UUID         `json:"acknowledged_msg_id"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// NewAcknowledgement acknowledges msgID.
func NewAcknowledgement(now time.Time, msgID uuid.UUID) *AgentAcknowledgement {
	return &AgentAcknowledgement{Timestamp: now.UTC(), AcknowledgedMsgID: msgID}
}
