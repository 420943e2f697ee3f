package bus

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the messages delivered to one agent.
type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(_ context.Context, msg Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *recorder) received() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message{}, r.msgs...)
}

func (r *recorder) byAction(action Action) []Message {
	var out []Message
	for _, m := range r.received() {
		if m.Action == action {
			out = append(out, m)
		}
	}
	return out
}

// countingObserver counts notifications.
type countingObserver struct {
	NopObserver
	dispatched atomic.Int32
	unroutable atomic.Int32
	failures   atomic.Int32
	debug      atomic.Bool
}

func (o *countingObserver) OnDispatch(Message, SharedContext) { o.dispatched.Add(1) }
func (o *countingObserver) OnUnroutable(Message, bool) { o.unroutable.Add(1) }
func (o *countingObserver) OnHandlerError(Message, AgentID, error) { o.failures.Add(1) }
func (o *countingObserver) SetDebug(enabled bool) { o.debug.Store(enabled) }

func newTestNetwork(opts Options) (*Network, *countingObserver) {
	obs := &countingObserver{}
	opts.Observers = []Observer{obs}
	return NewNetwork(opts), obs
}

func TestNetwork_RegisterSetsOnline(t *testing.T) {
	n, _ := newTestNetwork(Options{})
	n.Register(AgentFacade, (&recorder{}).handle)

	assert.Equal(t, HealthOnline, n.AgentHealth()[AgentFacade])
	assert.Equal(t, []AgentID{AgentFacade}, n.Agents())
}

func TestNetwork_UnregisterSetsOffline(t *testing.T) {
	n, _ := newTestNetwork(Options{})
	n.Register(AgentToolRunner, (&recorder{}).handle)
	n.Unregister(AgentToolRunner)

	assert.Equal(t, HealthOffline, n.AgentHealth()[AgentToolRunner])
	assert.Empty(t, n.Agents())
}

func TestNetwork_UnregisterUnknownIsNoop(t *testing.T) {
	n, _ := newTestNetwork(Options{})
	n.Unregister("Z")
	_, ok := n.AgentHealth()["Z"]
	assert.False(t, ok)
}

func TestNetwork_RegisterReplacesHandler(t *testing.T) {
	n, _ := newTestNetwork(Options{})
	first, second := &recorder{}, &recorder{}
	n.Register(AgentFacade, first.handle)
	n.Register(AgentFacade, second.handle)

	require.NoError(t, n.Dispatch(context.Background(),
		NewMessage(AgentUser, AgentFacade, TypeEvent, "ping", Raw{})))
	assert.Empty(t, first.received())
	assert.Len(t, second.received(), 1)
}

func TestNetwork_UnicastDelivers(t *testing.T) {
	n, obs := newTestNetwork(Options{})
	a, b := &recorder{}, &recorder{}
	n.Register(AgentFacade, a.handle)
	n.Register(AgentToolRunner, b.handle)

	msg := NewMessage(AgentFacade, AgentToolRunner, TypeRequest, ActionCallTool, CallTool{ToolName: "t"})
	require.NoError(t, n.Dispatch(context.Background(), msg))

	require.Len(t, b.received(), 1)
	assert.Equal(t, msg.ID, b.received()[0].ID)
	assert.Empty(t, a.received())
	assert.Equal(t, int32(1), obs.dispatched.Load())
	assert.Equal(t, 1, n.Context().SystemStatus.PendingTasks)
}

func TestNetwork_BroadcastWaitsForAllHandlers(t *testing.T) {
	n, _ := newTestNetwork(Options{})
	var calls atomic.Int32
	var slowDone atomic.Bool

	fast := func(context.Context, Message) error { calls.Add(1); return nil }
	n.Register(AgentFacade, fast)
	n.Register(AgentToolRunner, fast)
	n.Register(AgentContextKeeper, func(context.Context, Message) error {
		time.Sleep(50 * time.Millisecond)
		calls.Add(1)
		slowDone.Store(true)
		return nil
	})

	require.NoError(t, n.Dispatch(context.Background(),
		NewMessage(AgentUser, Broadcast, TypeEvent, "announce", Raw{Value: "hi"})))

	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, slowDone.Load())
}

func TestNetwork_BroadcastFailureIsIsolated(t *testing.T) {
	n, obs := newTestNetwork(Options{})
	sender, other := &recorder{}, &recorder{}
	n.Register(AgentUser, sender.handle)
	n.Register(AgentFacade, other.handle)
	n.Register(AgentToolRunner, func(context.Context, Message) error {
		return errors.New("boom")
	})

	msg := NewMessage(AgentUser, Broadcast, TypeEvent, "announce", Raw{})
	require.NoError(t, n.Dispatch(context.Background(), msg))

	assert.Len(t, other.received(), 1)
	failed := sender.byAction(ActionDispatchFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, TypeError, failed[0].Type)
	assert.Equal(t, AgentNetwork, failed[0].Source)
	assert.Equal(t, msg.ID, failed[0].CorrelationID)
	p, ok := failed[0].Payload.(DispatchFailed)
	require.True(t, ok)
	assert.Equal(t, msg.ID, p.OriginalMessage)
	assert.Equal(t, ErrDispatchFailed.Error()+": boom", p.Error)
	assert.Equal(t, int32(1), obs.failures.Load())
}

func TestNetwork_HandlerPanicBecomesError(t *testing.T) {
	n, _ := newTestNetwork(Options{})
	sender := &recorder{}
	n.Register(AgentFacade, sender.handle)
	n.Register(AgentToolRunner, func(context.Context, Message) error { panic("bad tool runner") })

	require.NotPanics(t, func() {
		_ = n.Dispatch(context.Background(),
			NewMessage(AgentFacade, AgentToolRunner, TypeRequest, ActionCallTool, CallTool{}))
	})

	failed := sender.byAction(ActionDispatchFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Payload.(DispatchFailed).Error, "bad tool runner")
	// The request and the synthetic error cancel out.
	assert.Equal(t, 0, n.Context().SystemStatus.PendingTasks)
}

func TestNetwork_FailingSenderDoesNotRecurse(t *testing.T) {
	n, obs := newTestNetwork(Options{})
	n.Register(AgentFacade, func(context.Context, Message) error { return errors.New("facade down") })
	n.Register(AgentToolRunner, func(context.Context, Message) error { return errors.New("runner down") })

	require.NoError(t, n.Dispatch(context.Background(),
		NewMessage(AgentFacade, AgentToolRunner, TypeRequest, ActionCallTool, CallTool{})))

	// request, dispatch_failed to the facade; the facade's failure stops there.
	assert.Len(t, n.MessageHistory(0), 2)
	assert.Equal(t, int32(2), obs.failures.Load())
}

func TestNetwork_UnroutableIsDroppedSilently(t *testing.T) {
	n, obs := newTestNetwork(Options{})
	sender := &recorder{}
	n.Register(AgentFacade, sender.handle)

	req := NewMessage(AgentFacade, "Z", TypeRequest, ActionCallTool, CallTool{})
	require.NoError(t, n.Dispatch(context.Background(), req))
	assert.Equal(t, 1, n.Context().SystemStatus.PendingTasks)

	resp := NewMessage(AgentFacade, "Z", TypeResponse, ActionToolResult, ToolResult{})
	require.NoError(t, n.Dispatch(context.Background(), resp))
	assert.Equal(t, 0, n.Context().SystemStatus.PendingTasks)

	history := n.MessageHistory(0)
	require.Len(t, history, 2)
	assert.Equal(t, req.ID, history[0].ID)
	assert.Empty(t, sender.received())
	assert.Equal(t, int32(2), obs.unroutable.Load())
}

func TestNetwork_StrictRoutingReportsUnroutable(t *testing.T) {
	n, _ := newTestNetwork(Options{StrictRouting: true})
	sender := &recorder{}
	n.Register(AgentFacade, sender.handle)

	msg := NewMessage(AgentFacade, "Z", TypeEvent, "hello", Raw{})
	require.NoError(t, n.Dispatch(context.Background(), msg))

	failed := sender.byAction(ActionDispatchFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Payload.(DispatchFailed).Error, ErrUnroutableTarget.Error())
	assert.True(t, n.StrictRouting())
}

func TestNetwork_StrictRoutingUnknownSenderTerminates(t *testing.T) {
	n, obs := newTestNetwork(Options{StrictRouting: true})

	msg := NewMessage("ghost", "Z", TypeEvent, "hello", Raw{})
	require.NoError(t, n.Dispatch(context.Background(), msg))

	// original + dispatch_failed to the unregistered sender
	assert.Len(t, n.MessageHistory(0), 2)
	assert.Equal(t, int32(2), obs.unroutable.Load())
}

func TestNetwork_DispatchRejectsInvalidMessage(t *testing.T) {
	n, _ := newTestNetwork(Options{})
	err := n.Dispatch(context.Background(), Message{ID: "x", Source: AgentUser, Target: AgentFacade, Type: "BOGUS", Payload: Raw{}})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.Empty(t, n.MessageHistory(0))
}

func TestNetwork_HistoryBounded(t *testing.T) {
	n, _ := newTestNetwork(Options{HistoryLimit: 100})
	var last Message
	for i := 0; i < 130; i++ {
		last = NewMessage(AgentUser, AgentFacade, TypeEvent, "tick", Raw{Value: i})
		require.NoError(t, n.Dispatch(context.Background(), last))
	}
	history := n.MessageHistory(0)
	require.Len(t, history, 100)
	assert.Equal(t, last.ID, history[99].ID)
	assert.Equal(t, 30, history[0].Payload.(Raw).Value)
	assert.Equal(t, 100, n.HistoryLimit())
}

func TestNetwork_ClearHistoryKeepsContext(t *testing.T) {
	n, _ := newTestNetwork(Options{})
	require.NoError(t, n.Dispatch(context.Background(),
		NewMessage(AgentUser, AgentFacade, TypeEvent, ActionQuery, Query{Text: "hello"})))
	n.ClearHistory()

	assert.Empty(t, n.MessageHistory(0))
	assert.Equal(t, []string{"hello"}, n.Context().UserSession.History)
}

func TestNetwork_ContextVisibleAfterDispatch(t *testing.T) {
	n, _ := newTestNetwork(Options{})
	require.NoError(t, n.Dispatch(context.Background(),
		NewMessage(AgentToolRunner, AgentContextKeeper, TypeEvent, ActionContextUpdate,
			ContextUpdate{UserSession: &SessionPatch{CurrentSpot: StringPtr("X")}})))
	assert.Equal(t, "X", n.Context().UserSession.CurrentSpot)
}

// orderObserver records dispatch notifications in arrival order.
type orderObserver struct {
	NopObserver
	mu      sync.Mutex
	ids     []string
	pending []int
}

func (o *orderObserver) OnDispatch(msg Message, snapshot SharedContext) {
	o.mu.Lock()
	o.ids = append(o.ids, msg.ID)
	o.pending = append(o.pending, snapshot.SystemStatus.PendingTasks)
	o.mu.Unlock()
}

func TestNetwork_ObserversSeeHistoryOrder(t *testing.T) {
	const workers, perWorker = 16, 50
	obs := &orderObserver{}
	n := NewNetwork(Options{HistoryLimit: workers * perWorker, Observers: []Observer{obs}})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = n.Dispatch(context.Background(),
					NewMessage(AgentFacade, "Z", TypeRequest, ActionCallTool, CallTool{}))
			}
		}()
	}
	wg.Wait()

	history := n.MessageHistory(0)
	require.Len(t, history, workers*perWorker)
	require.Len(t, obs.ids, len(history))
	for i, m := range history {
		assert.Equal(t, m.ID, obs.ids[i])
		// Each request bumps pendingTasks by one, so snapshots count up.
		assert.Equal(t, i+1, obs.pending[i])
	}
}

func TestNetwork_DebugModeReachesObservers(t *testing.T) {
	n, obs := newTestNetwork(Options{})
	assert.False(t, n.DebugMode())

	n.EnableDebugMode()
	assert.True(t, n.DebugMode())
	assert.True(t, obs.debug.Load())

	n.DisableDebugMode()
	assert.False(t, obs.debug.Load())
}

func TestLogObserver_GatesTrafficOnDebug(t *testing.T) {
	var buf bytes.Buffer
	lo := NewLogObserver(log.New(&buf, "", 0))
	n := NewNetwork(Options{Observers: []Observer{lo}})
	n.Register(AgentFacade, (&recorder{}).handle)

	msg := NewMessage(AgentUser, AgentFacade, TypeEvent, "ping", Raw{})
	require.NoError(t, n.Dispatch(context.Background(), msg))
	assert.Empty(t, buf.String())

	n.EnableDebugMode()
	require.NoError(t, n.Dispatch(context.Background(), msg))
	assert.Contains(t, buf.String(), "Debug mode enabled")
	assert.Contains(t, buf.String(), "USER → A EVENT ping")
}

func TestLogObserver_AlwaysLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	lo := NewLogObserver(log.New(&buf, "", 0))
	n := NewNetwork(Options{Observers: []Observer{lo}})
	n.Register(AgentToolRunner, func(context.Context, Message) error { return errors.New("kaput") })

	require.NoError(t, n.Dispatch(context.Background(),
		NewMessage(AgentFacade, AgentToolRunner, TypeRequest, ActionCallTool, CallTool{})))
	assert.Contains(t, buf.String(), "kaput")
}
