package agent

import (
	"context"
	"sync/atomic"

	"github.com/dayuer/tourguide-go/internal/bus"
)

// ContextKeeper is agent D. The network merges context updates itself; D
// gives them a live target and counts what it has seen.
type ContextKeeper struct {
	updates atomic.Int64
}

// NewContextKeeper creates agent D.
func NewContextKeeper() *ContextKeeper { return &ContextKeeper{} }

// Handle counts EVENT/context_update messages and ignores the rest.
func (k *ContextKeeper) Handle(_ context.Context, msg bus.Message) error {
	if msg.Type == bus.TypeEvent && msg.Action == bus.ActionContextUpdate {
		k.updates.Add(1)
	}
	return nil
}

// Updates returns the number of context updates observed.
func (k *ContextKeeper) Updates() int64 { return k.updates.Load() }
