package bus

import (
	"encoding/json"
)

// Payload is the typed body of a message. The set of implementations is
// closed; switch on the concrete type to handle a message.
type Payload interface {
	isPayload()
}

// CallTool asks the tool runner to invoke a tool with positional params.
type CallTool struct {
	ToolName string `json:"toolName"`
	Params   []any  `json:"params"`
}

// ToolResult carries a tool's return value. It encodes as the bare value.
type ToolResult struct {
	Result any
}

// ToolFailed reports a missing or failing tool. Non-string params are redacted.
type ToolFailed struct {
	Message  string   `json:"message"`
	ToolName string   `json:"toolName"`
	Params   []string `json:"params"`
}

// DispatchFailed is synthesized by the Network when a handler fails.
type DispatchFailed struct {
	OriginalMessage string `json:"originalMessage"`
	Error           string `json:"error"`
}

// ContextUpdate is merged into the shared context. Nil regions and nil
// fields leave the existing values alone.
type ContextUpdate struct {
	UserSession  *SessionPatch     `json:"userSession,omitempty"`
	Environment  *EnvironmentPatch `json:"environment,omitempty"`
	SystemStatus *StatusPatch      `json:"systemStatus,omitempty"`
}

// SessionPatch overrides fields of the user session region.
type SessionPatch struct {
	CurrentSpot *string  `json:"currentSpot,omitempty"`
	LastIntent  *string  `json:"lastIntent,omitempty"`
	History     []string `json:"history,omitempty"`
}

// EnvironmentPatch overrides fields of the environment region.
type EnvironmentPatch struct {
	Weather      *string  `json:"weather,omitempty"`
	ActiveEvents []string `json:"activeEvents,omitempty"`
}

// StatusPatch overrides fields of the system status region.
type StatusPatch struct {
	AgentHealth  map[AgentID]Health `json:"agentHealth,omitempty"`
	PendingTasks *int               `json:"pendingTasks,omitempty"`
}

// Query is free text typed or spoken by the user.
type Query struct {
	Text string `json:"text"`
}

// AgentStatusChange sets an agent's health explicitly.
type AgentStatusChange struct {
	AgentID AgentID `json:"agentId"`
	Status  Health  `json:"status"`
}

// Raw carries payloads of actions the core does not interpret.
type Raw struct {
	Value any
}

func (CallTool) isPayload() {}
func (ToolResult) isPayload() {}
func (ToolFailed) isPayload() {}
func (DispatchFailed) isPayload() {}
func (ContextUpdate) isPayload() {}
func (Query) isPayload() {}
func (AgentStatusChange) isPayload() {}
func (Raw) isPayload() {}

// MarshalJSON encodes the wrapped result directly.
func (p ToolResult) MarshalJSON() ([]byte, error) { return json.Marshal(p.Result) }

// MarshalJSON encodes the wrapped value directly.
func (p Raw) MarshalJSON() ([]byte, error) { return json.Marshal(p.Value) }

// DecodePayload decodes raw JSON into the payload type used for action.
func DecodePayload(action Action, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	switch action {
	case ActionCallTool:
		var p CallTool
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionToolFailed:
		var p ToolFailed
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionDispatchFailed:
		var p DispatchFailed
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionContextUpdate:
		var p ContextUpdate
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionQuery:
		var p Query
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionAgentStatusChange:
		var p AgentStatusChange
		err := json.Unmarshal(raw, &p)
		return p, err
	case ActionToolResult:
		var v any
		err := json.Unmarshal(raw, &v)
		return ToolResult{Result: v}, err
	default:
		var v any
		err := json.Unmarshal(raw, &v)
		return Raw{Value: v}, err
	}
}

// StringPtr returns a pointer to s, for building patches.
func StringPtr(s string) *string { return &s }
