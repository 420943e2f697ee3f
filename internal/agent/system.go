// Package agent implements the facade (A), tool runner (B) and context
// keeper (D) agents that sit on the message network.
package agent

import (
	"time"

	"github.com/dayuer/tourguide-go/internal/bus"
	"github.com/dayuer/tourguide-go/internal/tools"
)

// Config wires the three agents.
type Config struct {
	Facade        FacadeConfig
	SlowThreshold time.Duration
}

// System is the set of agents registered on one network.
type System struct {
	Network    *bus.Network
	Facade     *Facade
	ToolRunner *ToolRunner
	Keeper     *ContextKeeper
}

// Start creates agents A, B and D and registers them on net.
func Start(net *bus.Network, registry tools.Registry, cfg Config) *System {
	s := &System{
		Network:    net,
		Facade:     NewFacade(net, cfg.Facade),
		ToolRunner: NewToolRunner(net, registry, cfg.SlowThreshold),
		Keeper:     NewContextKeeper(),
	}
	net.Register(bus.AgentFacade, s.Facade.Handle)
	net.Register(bus.AgentToolRunner, s.ToolRunner.Handle)
	net.Register(bus.AgentContextKeeper, s.Keeper.Handle)
	return s
}

// Stop unregisters the agents.
func (s *System) Stop() {
	s.Network.Unregister(bus.AgentContextKeeper)
	s.Network.Unregister(bus.AgentToolRunner)
	s.Network.Unregister(bus.AgentFacade)
}
