package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrDispatchFailed wraps handler failures reported as dispatch_failed.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrUnroutableTarget is reported in strict mode when no handler exists.
	ErrUnroutableTarget = errors.New("target agent not registered")
)

// Handler processes a message delivered to an agent. A returned error (or a
// panic) is converted into a dispatch_failed message for the sender.
type Handler func(ctx context.Context, msg Message) error

// Options configures a Network.
type Options struct {
	// HistoryLimit bounds the message history (default 100).
	HistoryLimit int

	// StrictRouting reports unroutable targets back to the sender as
	// dispatch_failed errors instead of dropping them silently.
	StrictRouting bool

	// Debug starts the network with debug logging on.
	Debug bool

	// Observers receive network notifications. Nil installs a LogObserver.
	Observers []Observer
}

// Network routes messages between registered agents and owns the shared
// context and message history.
type Network struct {
	mu       sync.RWMutex
	handlers map[AgentID]Handler

	// recordMu keeps history order and context mutation order identical.
	recordMu sync.Mutex
	store    *ContextStore
	history  *History

	strict bool
	debug  atomic.Bool

	obsMu     sync.RWMutex
	observers []Observer
}

// NewNetwork creates an isolated network.
func NewNetwork(opts Options) *Network {
	observers := opts.Observers
	if observers == nil {
		observers = []Observer{NewLogObserver(nil)}
	}
	n := &Network{
		handlers: make(map[AgentID]Handler),
		store:    NewContextStore(),
		history:  NewHistory(opts.HistoryLimit),
		strict:   opts.StrictRouting,
	}
	for _, o := range observers {
		n.AddObserver(o)
	}
	if opts.Debug {
		n.EnableDebugMode()
	}
	return n
}

// AddObserver attaches o to the network.
func (n *Network) AddObserver(o Observer) {
	if o == nil {
		return
	}
	if ds, ok := o.(DebugSetter); ok {
		ds.SetDebug(n.debug.Load())
	}
	n.obsMu.Lock()
	n.observers = append(n.observers, o)
	n.obsMu.Unlock()
}

func (n *Network) notify(fn func(Observer)) {
	n.obsMu.RLock()
	observers := n.observers
	n.obsMu.RUnlock()
	for _, o := range observers {
		fn(o)
	}
}

// Register installs handler for id, replacing any previous one, and marks
// the agent online.
func (n *Network) Register(id AgentID, handler Handler) {
	if handler == nil {
		return
	}
	n.mu.Lock()
	n.handlers[id] = handler
	n.mu.Unlock()
	n.store.setHealth(id, HealthOnline)
	n.notify(func(o Observer) { o.OnRegister(id) })
}

// Unregister removes id's handler and marks the agent offline. Unknown ids
// are ignored.
func (n *Network) Unregister(id AgentID) {
	n.mu.Lock()
	_, ok := n.handlers[id]
	delete(n.handlers, id)
	n.mu.Unlock()
	if !ok {
		return
	}
	n.store.setHealth(id, HealthOffline)
	n.notify(func(o Observer) { o.OnUnregister(id) })
}

// Dispatch records msg in the history, applies it to the shared context and
// delivers it. Broadcasts run every handler concurrently and return once
// all of them have finished. Handler failures are routed back to the sender
// and never returned; the only error is an invalid message.
func (n *Network) Dispatch(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	// Observers are notified under recordMu so they see dispatches in
	// history order.
	n.recordMu.Lock()
	n.history.Append(msg)
	snapshot := n.store.apply(msg)
	n.notify(func(o Observer) { o.OnDispatch(msg, snapshot) })
	n.recordMu.Unlock()

	if msg.IsBroadcast() {
		n.broadcast(ctx, msg)
		return nil
	}

	n.mu.RLock()
	handler, ok := n.handlers[msg.Target]
	n.mu.RUnlock()
	if !ok {
		n.unroutable(ctx, msg)
		return nil
	}
	if err := n.deliver(ctx, msg.Target, handler, msg); err != nil {
		n.fail(ctx, msg, err)
	}
	return nil
}

func (n *Network) broadcast(ctx context.Context, msg Message) {
	n.mu.RLock()
	targets := make(map[AgentID]Handler, len(n.handlers))
	for id, h := range n.handlers {
		targets[id] = h
	}
	n.mu.RUnlock()

	// Every handler runs to completion; Wait reports the first failure.
	var g errgroup.Group
	for id, h := range targets {
		id, h := id, h
		g.Go(func() error { return n.deliver(ctx, id, h, msg) })
	}
	if err := g.Wait(); err != nil {
		n.fail(ctx, msg, err)
	}
}

// deliver runs one handler, turning panics into errors.
func (n *Network) deliver(ctx context.Context, target AgentID, h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s panicked: %v", target, r)
		}
		if err != nil {
			n.notify(func(o Observer) { o.OnHandlerError(msg, target, err) })
		}
	}()
	return h(ctx, msg)
}

func (n *Network) unroutable(ctx context.Context, msg Message) {
	n.notify(func(o Observer) { o.OnUnroutable(msg, n.strict) })
	if n.strict {
		n.fail(ctx, msg, fmt.Errorf("%w: %s", ErrUnroutableTarget, msg.Target))
	}
}

// fail reports cause to the sender of msg. Failures while delivering a
// dispatch_failed message are only logged by the observers.
func (n *Network) fail(ctx context.Context, msg Message, cause error) {
	if msg.Type == TypeError && msg.Action == ActionDispatchFailed {
		return
	}
	errMsg := msg.Reply(AgentNetwork, TypeError, ActionDispatchFailed, DispatchFailed{
		OriginalMessage: msg.ID,
		Error:           fmt.Errorf("%w: %w", ErrDispatchFailed, cause).Error(),
	})
	_ = n.Dispatch(ctx, errMsg)
}

// Context returns a snapshot of the shared context.
func (n *Network) Context() SharedContext {
	return n.store.Snapshot()
}

// MessageHistory returns the newest limit messages (all when limit <= 0).
func (n *Network) MessageHistory(limit int) []Message {
	return n.history.Snapshot(limit)
}

// HistoryLimit returns the history capacity.
func (n *Network) HistoryLimit() int {
	return n.history.Cap()
}

// AgentHealth returns a copy of the per-agent health map.
func (n *Network) AgentHealth() map[AgentID]Health {
	return n.store.AgentHealth()
}

// Agents returns the ids of registered agents, sorted.
func (n *Network) Agents() []AgentID {
	n.mu.RLock()
	ids := make([]AgentID, 0, len(n.handlers))
	for id := range n.handlers {
		ids = append(ids, id)
	}
	n.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ClearHistory empties the message history. The context is untouched.
func (n *Network) ClearHistory() {
	n.recordMu.Lock()
	defer n.recordMu.Unlock()
	n.history.Clear()
	n.notify(func(o Observer) { o.OnHistoryCleared() })
}

// EnableDebugMode turns on traffic logging.
func (n *Network) EnableDebugMode() { n.setDebug(true) }

// DisableDebugMode turns off traffic logging.
func (n *Network) DisableDebugMode() { n.setDebug(false) }

// DebugMode reports whether debug logging is on.
func (n *Network) DebugMode() bool { return n.debug.Load() }

// StrictRouting reports whether unroutable targets are reported.
func (n *Network) StrictRouting() bool { return n.strict }

func (n *Network) setDebug(enabled bool) {
	n.debug.Store(enabled)
	n.notify(func(o Observer) {
		if ds, ok := o.(DebugSetter); ok {
			ds.SetDebug(enabled)
		}
	})
}
