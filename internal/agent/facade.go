package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dayuer/tourguide-go/internal/bus"
	"github.com/dayuer/tourguide-go/internal/router"
	"github.com/dayuer/tourguide-go/internal/tools"
)

// DefaultTimeout bounds how long ProcessUserRequest waits for a reply.
const DefaultTimeout = 30 * time.Second

// ErrUnknownMode is returned for interaction modes other than text and photo.
var ErrUnknownMode = errors.New("unknown interaction mode")

// Mode is how the visitor interacts.
type Mode string

const (
	ModeText  Mode = "text"
	ModePhoto Mode = "photo"
)

// ParseMode maps "" to ModeText and rejects unknown values.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeText:
		return ModeText, nil
	case ModePhoto:
		return ModePhoto, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Network is what the facade needs from the bus.
type Network interface {
	Dispatcher
	Context() bus.SharedContext
	AgentHealth() map[bus.AgentID]bus.Health
}

// FacadeConfig tunes the facade.
type FacadeConfig struct {
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	// ShoppingCoords are sent to get_shopping_info. Defaults to the
	// village centre.
	ShoppingCoords string

	// Classifier picks the tool for text requests. Defaults to the built-in
	// keyword rules.
	Classifier *router.Classifier

	// RecordQueries dispatches each visitor utterance as USER/query so it
	// lands in the session history.
	RecordQueries bool
}

// Facade is agent A, the single entry point for UIs.
type Facade struct {
	net        Network
	ledger     *Ledger
	timeout    time.Duration
	coords     string
	classifier *router.Classifier
	record     bool
}

// NewFacade creates agent A. Register Handle on the network as AgentFacade.
func NewFacade(net Network, cfg FacadeConfig) *Facade {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ShoppingCoords == "" {
		cfg.ShoppingCoords = tools.DefaultCoordinates
	}
	if cfg.Classifier == nil {
		cfg.Classifier = router.Default()
	}
	return &Facade{
		net:        net,
		ledger:     NewLedger(),
		timeout:    cfg.Timeout,
		coords:     cfg.ShoppingCoords,
		classifier: cfg.Classifier,
		record:     cfg.RecordQueries,
	}
}

// Plan returns the tool and params the facade would call.
func (f *Facade) Plan(text, spot string, mode Mode) (string, []any) {
	if mode == ModePhoto {
		return tools.ObjectRecognition, []any{spot}
	}
	d := f.classifier.Classify(text)
	switch {
	case d.Commerce():
		return d.Tool, []any{f.coords, spot}
	case d.Tool == tools.VoiceInteraction:
		return d.Tool, []any{spot, text}
	default:
		return d.Tool, []any{spot}
	}
}

// ProcessUserRequest turns one visitor request into a call_tool request
// for agent B and waits for the matching reply. Timeouts and tool errors
// come back as degraded results, not errors; the error return is for an
// unknown mode or a cancelled ctx.
func (f *Facade) ProcessUserRequest(ctx context.Context, text, spot string, mode Mode) (Result, error) {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return Result{}, err
	}

	toolName, params := f.Plan(text, spot, mode)
	req := bus.NewMessage(bus.AgentFacade, bus.AgentToolRunner, bus.TypeRequest, bus.ActionCallTool, bus.CallTool{
		ToolName: toolName,
		Params:   params,
	})
	wait := f.ledger.Add(req.ID)

	dctx := context.WithoutCancel(ctx)
	if f.record && text != "" {
		q := bus.NewMessage(bus.AgentUser, bus.AgentFacade, bus.TypeEvent, bus.ActionQuery, bus.Query{Text: text})
		if err := f.net.Dispatch(dctx, q); err != nil {
			log.Printf("[Facade] ⚠️ Failed to record query: %v", err)
		}
	}

	// Dispatch runs handlers inline; do it off this goroutine so the
	// timeout can fire while the tool is still working.
	go func() {
		if err := f.net.Dispatch(dctx, req); err != nil {
			f.ledger.Resolve(req.ID, errorResult(bus.DispatchFailed{OriginalMessage: req.ID, Error: err.Error()}))
		}
	}()

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	var res Result
	select {
	case res = <-wait:
	case <-timer.C:
		if !f.ledger.Cancel(req.ID) {
			// Resolved between the timer firing and the cancel.
			res = <-wait
			break
		}
		log.Printf("[Facade] ⏱️ Request %s (%s) timed out after %s", req.ID, toolName, f.timeout)
		res = timeoutResult()
	case <-ctx.Done():
		f.ledger.Cancel(req.ID)
		return Result{}, ctx.Err()
	}
	res.RequestID = req.ID
	res.Tool = toolName
	return res, nil
}

// Handle is the network handler for agent A. Replies and errors are matched
// to the waiting request by correlation id.
func (f *Facade) Handle(_ context.Context, msg bus.Message) error {
	if msg.Type != bus.TypeResponse && msg.Type != bus.TypeError {
		return nil
	}
	if msg.CorrelationID == "" {
		log.Printf("[Facade] ⚠️ %s/%s from %s has no correlation id, ignored", msg.Type, msg.Action, msg.Source)
		return nil
	}

	var res Result
	if msg.Type == bus.TypeError {
		res = errorResult(msg.Payload)
	} else {
		res = Result{Data: unwrap(msg.Payload)}
	}
	if !f.ledger.Resolve(msg.CorrelationID, res) {
		log.Printf("[Facade] ⚠️ No pending request %s for %s/%s, ignored", msg.CorrelationID, msg.Type, msg.Action)
	}
	return nil
}

func unwrap(p bus.Payload) any {
	switch v := p.(type) {
	case bus.ToolResult:
		return v.Result
	case bus.Raw:
		return v.Value
	}
	return p
}

// Pending returns the number of requests still waiting for a reply.
func (f *Facade) Pending() int { return f.ledger.Len() }

// SystemStatus returns the system status region of the shared context.
func (f *Facade) SystemStatus() bus.SystemStatus { return f.net.Context().SystemStatus }

// AgentHealth returns the per-agent health map.
func (f *Facade) AgentHealth() map[bus.AgentID]bus.Health { return f.net.AgentHealth() }
