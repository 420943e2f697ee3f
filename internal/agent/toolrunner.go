package agent

import (
	"context"
	"log"
	"time"

	"github.com/dayuer/tourguide-go/internal/bus"
	"github.com/dayuer/tourguide-go/internal/tools"
)

// DefaultSlowThreshold is how long a tool may run before a warning is logged.
const DefaultSlowThreshold = 3 * time.Second

// redacted replaces non-string params in tool_failed payloads.
const redacted = "[Object]"

// Dispatcher sends messages onto the network.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg bus.Message) error
}

// ToolRunner is agent B: it executes call_tool requests against a registry
// and replies to the requester.
type ToolRunner struct {
	net   Dispatcher
	tools tools.Registry
	slow  time.Duration
}

// NewToolRunner creates a tool runner. A zero slow threshold means
// DefaultSlowThreshold.
func NewToolRunner(net Dispatcher, registry tools.Registry, slow time.Duration) *ToolRunner {
	if slow <= 0 {
		slow = DefaultSlowThreshold
	}
	return &ToolRunner{net: net, tools: registry, slow: slow}
}

// Handle is the network handler for agent B. Only REQUEST/call_tool is
// acted on.
func (r *ToolRunner) Handle(ctx context.Context, msg bus.Message) error {
	if msg.Type != bus.TypeRequest || msg.Action != bus.ActionCallTool {
		return nil
	}
	call, ok := msg.Payload.(bus.CallTool)
	if !ok {
		return r.net.Dispatch(ctx, msg.Reply(bus.AgentToolRunner, bus.TypeError, bus.ActionToolFailed, bus.ToolFailed{
			Message: "malformed call_tool payload",
		}))
	}

	// Tools outlive the requester's wait: a facade timeout must not cancel them.
	start := time.Now()
	result, err := r.tools.Invoke(context.WithoutCancel(ctx), call.ToolName, call.Params)
	elapsed := time.Since(start)

	if err != nil {
		log.Printf("[ToolRunner] ❌ Tool '%s' failed: %v", call.ToolName, err)
		return r.net.Dispatch(ctx, msg.Reply(bus.AgentToolRunner, bus.TypeError, bus.ActionToolFailed, bus.ToolFailed{
			Message:  err.Error(),
			ToolName: call.ToolName,
			Params:   redactParams(call.Params),
		}))
	}

	if err := r.net.Dispatch(ctx, msg.Reply(bus.AgentToolRunner, bus.TypeResponse, bus.ActionToolResult, bus.ToolResult{Result: result})); err != nil {
		return err
	}

	if len(call.Params) > 0 {
		if spot, ok := call.Params[0].(string); ok && spot != "" {
			update := bus.NewMessage(bus.AgentToolRunner, bus.AgentContextKeeper, bus.TypeEvent, bus.ActionContextUpdate, bus.ContextUpdate{
				UserSession: &bus.SessionPatch{
					CurrentSpot: bus.StringPtr(spot),
					LastIntent:  bus.StringPtr(call.ToolName),
				},
			})
			if err := r.net.Dispatch(ctx, update); err != nil {
				return err
			}
		}
	}

	if elapsed > r.slow {
		log.Printf("[ToolRunner] ⚠️ Tool '%s' took %dms (slow)", call.ToolName, elapsed.Milliseconds())
	}
	return nil
}

func redactParams(params []any) []string {
	out := make([]string, len(params))
	for i, p := range params {
		if s, ok := p.(string); ok {
			out[i] = s
		} else {
			out[i] = redacted
		}
	}
	return out
}
