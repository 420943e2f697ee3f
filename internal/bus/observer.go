package bus

import (
	"log"
	"sync/atomic"
)

// Observer receives notifications about network activity. Observers run
// synchronously on the dispatching goroutine and must not block.
// OnDispatch calls are serialised in history order; an observer must not
// dispatch from inside them.
type Observer interface {
	OnRegister(id AgentID)
	OnUnregister(id AgentID)
	OnDispatch(msg Message, snapshot SharedContext)
	OnUnroutable(msg Message, strict bool)
	OnHandlerError(msg Message, target AgentID, err error)
	OnHistoryCleared()
}

// DebugSetter is implemented by observers whose output follows debug mode.
type DebugSetter interface {
	SetDebug(enabled bool)
}

// NopObserver implements Observer with no-ops, for embedding.
type NopObserver struct{}

func (NopObserver) OnRegister(AgentID) {}
func (NopObserver) OnUnregister(AgentID) {}
func (NopObserver) OnDispatch(Message, SharedContext) {}
func (NopObserver) OnUnroutable(Message, bool) {}
func (NopObserver) OnHandlerError(Message, AgentID, error) {}
func (NopObserver) OnHistoryCleared() {}

// LogObserver writes routing traffic to a logger while debug mode is on.
// Handler failures and strict-mode drops are always logged.
type LogObserver struct {
	logger *log.Logger
	debug  atomic.Bool
}

// NewLogObserver logs through logger, or the standard logger when nil.
func NewLogObserver(logger *log.Logger) *LogObserver {
	if logger == nil {
		logger = log.Default()
	}
	return &LogObserver{logger: logger}
}

// SetDebug turns traffic logging on or off.
func (o *LogObserver) SetDebug(enabled bool) {
	prev := o.debug.Swap(enabled)
	if enabled && !prev {
		o.logger.Println("[ANP] Debug mode enabled")
	}
}

func (o *LogObserver) OnRegister(id AgentID) {
	if o.debug.Load() {
		o.logger.Printf("[ANP] Agent %s registered", id)
	}
}

func (o *LogObserver) OnUnregister(id AgentID) {
	if o.debug.Load() {
		o.logger.Printf("[ANP] Agent %s unregistered", id)
	}
}

func (o *LogObserver) OnDispatch(msg Message, _ SharedContext) {
	if !o.debug.Load() {
		return
	}
	o.logger.Printf("[ANP] %s → %s %s %s", msg.Source, msg.Target, msg.Type, msg.Action)
	switch p := msg.Payload.(type) {
	case ContextUpdate:
		if msg.Type == TypeEvent {
			o.logger.Printf("[ANP] Context updated by %s", msg.Source)
		}
	case Query:
		if msg.Source == AgentUser {
			o.logger.Printf("[ANP] User query recorded: %s", p.Text)
		}
	}
}

func (o *LogObserver) OnUnroutable(msg Message, strict bool) {
	if strict || o.debug.Load() {
		o.logger.Printf("[ANP] ⚠️ Target agent '%s' not found (message %s)", msg.Target, msg.ID)
	}
}

func (o *LogObserver) OnHandlerError(msg Message, target AgentID, err error) {
	o.logger.Printf("[ANP] ❌ Error dispatching %s to %s: %v", msg.ID, target, err)
}

func (o *LogObserver) OnHistoryCleared() {
	if o.debug.Load() {
		o.logger.Println("[ANP] Message history cleared")
	}
}
