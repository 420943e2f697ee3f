package bus

import (
	"sync"
)

// Health is an agent's reported availability.
type Health string

const (
	HealthOnline  Health = "online"
	HealthBusy    Health = "busy"
	HealthOffline Health = "offline"
)

// Valid reports whether h is one of the known health states.
func (h Health) Valid() bool {
	switch h {
	case HealthOnline, HealthBusy, HealthOffline:
		return true
	}
	return false
}

// SharedContext is the blackboard every dispatch may update.
type SharedContext struct {
	UserSession  UserSession  `json:"userSession"`
	Environment  Environment  `json:"environment"`
	SystemStatus SystemStatus `json:"systemStatus"`
}

// UserSession tracks what the visitor is doing.
type UserSession struct {
	CurrentSpot string   `json:"currentSpot,omitempty"`
	LastIntent  string   `json:"lastIntent,omitempty"`
	History     []string `json:"history"`
}

// Environment holds flags set by external producers (weather, events).
type Environment struct {
	Weather      string   `json:"weather,omitempty"`
	ActiveEvents []string `json:"activeEvents,omitempty"`
}

// SystemStatus tracks agent health and outstanding requests.
type SystemStatus struct {
	AgentHealth  map[AgentID]Health `json:"agentHealth"`
	PendingTasks int                `json:"pendingTasks"`
}

func newSharedContext() SharedContext {
	return SharedContext{
		UserSession:  UserSession{History: []string{}},
		SystemStatus: SystemStatus{AgentHealth: make(map[AgentID]Health)},
	}
}

// clone returns a deep copy safe to hand to readers.
func (c SharedContext) clone() SharedContext {
	out := c
	out.UserSession.History = append([]string{}, c.UserSession.History...)
	if c.Environment.ActiveEvents != nil {
		out.Environment.ActiveEvents = append([]string{}, c.Environment.ActiveEvents...)
	}
	out.SystemStatus.AgentHealth = make(map[AgentID]Health, len(c.SystemStatus.AgentHealth))
	for id, h := range c.SystemStatus.AgentHealth {
		out.SystemStatus.AgentHealth[id] = h
	}
	return out
}

// ContextStore owns the shared context. Only the Network mutates it.
type ContextStore struct {
	mu  sync.RWMutex
	ctx SharedContext
}

// NewContextStore returns a store holding an empty context.
func NewContextStore() *ContextStore {
	return &ContextStore{ctx: newSharedContext()}
}

// Snapshot returns a deep copy of the current context.
func (s *ContextStore) Snapshot() SharedContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx.clone()
}

// AgentHealth returns a copy of the health map.
func (s *ContextStore) AgentHealth() map[AgentID]Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[AgentID]Health, len(s.ctx.SystemStatus.AgentHealth))
	for id, h := range s.ctx.SystemStatus.AgentHealth {
		out[id] = h
	}
	return out
}

func (s *ContextStore) setHealth(id AgentID, h Health) {
	s.mu.Lock()
	s.ctx.SystemStatus.AgentHealth[id] = h
	s.mu.Unlock()
}

// apply runs every mutation rule against msg and returns the resulting
// snapshot. Rules are independent; more than one may fire.
func (s *ContextStore) apply(msg Message) SharedContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Type == TypeEvent && msg.Action == ActionContextUpdate {
		if p, ok := msg.Payload.(ContextUpdate); ok {
			s.merge(p)
		}
	}

	if msg.Source == AgentUser && msg.Action == ActionQuery {
		if p, ok := msg.Payload.(Query); ok {
			s.ctx.UserSession.History = append(s.ctx.UserSession.History, p.Text)
		}
	}

	if msg.Type == TypeEvent && msg.Action == ActionAgentStatusChange {
		if p, ok := msg.Payload.(AgentStatusChange); ok && p.AgentID != "" {
			s.ctx.SystemStatus.AgentHealth[p.AgentID] = p.Status
		}
	}

	switch msg.Type {
	case TypeRequest:
		s.ctx.SystemStatus.PendingTasks++
	case TypeResponse, TypeError:
		if s.ctx.SystemStatus.PendingTasks > 0 {
			s.ctx.SystemStatus.PendingTasks--
		}
	}

	return s.ctx.clone()
}

// merge overrides the fields present in p. Caller holds the lock.
func (s *ContextStore) merge(p ContextUpdate) {
	if us := p.UserSession; us != nil {
		if us.CurrentSpot != nil {
			s.ctx.UserSession.CurrentSpot = *us.CurrentSpot
		}
		if us.LastIntent != nil {
			s.ctx.UserSession.LastIntent = *us.LastIntent
		}
		if us.History != nil {
			s.ctx.UserSession.History = append([]string{}, us.History...)
		}
	}
	if env := p.Environment; env != nil {
		if env.Weather != nil {
			s.ctx.Environment.Weather = *env.Weather
		}
		if env.ActiveEvents != nil {
			s.ctx.Environment.ActiveEvents = append([]string{}, env.ActiveEvents...)
		}
	}
	if st := p.SystemStatus; st != nil {
		for id, h := range st.AgentHealth {
			s.ctx.SystemStatus.AgentHealth[id] = h
		}
		if st.PendingTasks != nil && *st.PendingTasks >= 0 {
			s.ctx.SystemStatus.PendingTasks = *st.PendingTasks
		}
	}
}
