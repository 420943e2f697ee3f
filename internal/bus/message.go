// Package bus implements the in-process Agent Network Protocol (ANP):
// typed messages, the shared context store, the bounded message history and
// the Network that routes messages between registered agents.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentID identifies a logical participant on the network.
type AgentID string

const (
	AgentFacade        AgentID = "A"
	AgentToolRunner    AgentID = "B"
	AgentPresenter     AgentID = "C" // reserved for the presenter UI
	AgentContextKeeper AgentID = "D"
	AgentUser          AgentID = "USER"

	// AgentNetwork is the identity the Network uses for messages it synthesizes.
	AgentNetwork AgentID = "NETWORK"

	// Broadcast as a target delivers the message to every registered agent.
	Broadcast AgentID = "BROADCAST"
)

// MessageType is the closed set of message kinds.
type MessageType string

const (
	TypeRequest  MessageType = "REQUEST"
	TypeResponse MessageType = "RESPONSE"
	TypeEvent    MessageType = "EVENT"
	TypeError    MessageType = "ERROR"
)

// Valid reports whether t is one of the four known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeRequest, TypeResponse, TypeEvent, TypeError:
		return true
	}
	return false
}

// Action names the operation a message carries.
type Action string

const (
	ActionCallTool          Action = "call_tool"
	ActionToolResult        Action = "tool_result"
	ActionToolFailed        Action = "tool_failed"
	ActionDispatchFailed    Action = "dispatch_failed"
	ActionContextUpdate     Action = "context_update"
	ActionAgentStatusChange Action = "agent_status_change"
	ActionQuery             Action = "query"
)

// ErrInvalidMessage is returned by Dispatch for malformed messages.
var ErrInvalidMessage = errors.New("invalid message")

// Message is the unit of communication on the network. Messages are passed
// by value and never modified after construction.
type Message struct {
	ID            string
	CorrelationID string // id of the request this message answers, if any
	Timestamp     time.Time
	Source        AgentID
	Target        AgentID
	Type          MessageType
	Action        Action
	Payload       Payload
}

// NewMessage builds a message with a fresh id and the current time.
func NewMessage(source, target AgentID, typ MessageType, action Action, payload Payload) Message {
	return Message{
		ID:        NewID(typ),
		Timestamp: time.Now(),
		Source:    source,
		Target:    target,
		Type:      typ,
		Action:    action,
		Payload:   payload,
	}
}

// Reply builds a message from target back to m.Source, correlated with m.
func (m Message) Reply(from AgentID, typ MessageType, action Action, payload Payload) Message {
	r := NewMessage(from, m.Source, typ, action, payload)
	r.CorrelationID = m.ID
	return r
}

// NewID returns a unique message id prefixed by message kind.
func NewID(typ MessageType) string {
	prefix := "msg"
	switch typ {
	case TypeRequest:
		prefix = "req"
	case TypeResponse:
		prefix = "resp"
	case TypeEvent:
		prefix = "evt"
	case TypeError:
		prefix = "err"
	}
	return prefix + "_" + uuid.New().String()
}

// Validate reports structural problems with the message.
func (m Message) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	case m.Source == "":
		return fmt.Errorf("%w: missing source", ErrInvalidMessage)
	case m.Target == "":
		return fmt.Errorf("%w: missing target", ErrInvalidMessage)
	case !m.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	case m.Payload == nil:
		return fmt.Errorf("%w: missing payload", ErrInvalidMessage)
	}
	if sc, ok := m.Payload.(AgentStatusChange); ok && !sc.Status.Valid() {
		return fmt.Errorf("%w: unknown agent status %q", ErrInvalidMessage, sc.Status)
	}
	return nil
}

// IsBroadcast reports whether the message targets every agent.
func (m Message) IsBroadcast() bool { return m.Target == Broadcast }

// wireMessage is the JSON shape shared with the monitor panel.
type wireMessage struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	Source        AgentID         `json:"source"`
	Target        AgentID         `json:"target"`
	Type          MessageType     `json:"type"`
	Action        Action          `json:"action"`
	Payload       json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the timestamp as epoch milliseconds.
func (m Message) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(wireMessage{
		ID:            m.ID,
		CorrelationID: m.CorrelationID,
		Timestamp:     m.Timestamp.UnixMilli(),
		Source:        m.Source,
		Target:        m.Target,
		Type:          m.Type,
		Action:        m.Action,
		Payload:       payload,
	})
}

// UnmarshalJSON decodes the wire shape, choosing the payload type from the
// action. Missing ids and timestamps are filled in.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := DecodePayload(w.Action, w.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", w.Action, err)
	}
	*m = Message{
		ID:            w.ID,
		CorrelationID: w.CorrelationID,
		Source:        w.Source,
		Target:        w.Target,
		Type:          w.Type,
		Action:        w.Action,
		Payload:       payload,
	}
	if m.ID == "" {
		m.ID = NewID(w.Type)
	}
	if w.Timestamp > 0 {
		m.Timestamp = time.UnixMilli(w.Timestamp)
	} else {
		m.Timestamp = time.Now()
	}
	return nil
}
