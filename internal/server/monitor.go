package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dayuer/tourguide-go/internal/bus"
)

const (
	monitorQueueSize  = 256
	heartbeatInterval = 10 * time.Second
	readTimeout       = 60 * time.Second
	writeTimeout      = 5 * time.Second
)

// Event is one frame on the monitor websocket.
type Event struct {
	Type    string             `json:"type"`
	Message *bus.Message       `json:"message,omitempty"`
	AgentID bus.AgentID        `json:"agentId,omitempty"`
	Status  bus.Health         `json:"status,omitempty"`
	Error   string             `json:"error,omitempty"`
	Load    *Load              `json:"load,omitempty"`
	Context *bus.SharedContext `json:"context,omitempty"`
	Agents  []bus.AgentID      `json:"agents,omitempty"`
	Debug   *bool              `json:"debug,omitempty"`
}

// Event types.
const (
	EventHello          = "hello"
	EventMessage        = "message"
	EventAgent          = "agent"
	EventHandlerError   = "handler_error"
	EventHistoryCleared = "history_cleared"
	EventHeartbeat      = "heartbeat"
	EventPong           = "pong"
	EventDebug          = "debug"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn wraps a websocket.Conn with a write mutex.
// gorilla/websocket does NOT support concurrent writes.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) WriteJSONSafe(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Conn.WriteJSON(v)
}

func (c *wsConn) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *wsConn) WriteCloseSafe(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeTimeout))
}

// Monitor is a bus observer that streams network activity to websocket
// clients. Events are queued and written by a single pump goroutine so
// dispatch never waits on a slow client; a full queue drops events.
type Monitor struct {
	bus.NopObserver

	mu    sync.Mutex
	conns map[*wsConn]bool

	events  chan Event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// NewMonitor starts a monitor with no clients.
func NewMonitor() *Monitor {
	m := &Monitor{
		conns:   make(map[*wsConn]bool),
		events:  make(chan Event, monitorQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.pump()
	return m
}

func (m *Monitor) OnRegister(id bus.AgentID) {
	m.publish(Event{Type: EventAgent, AgentID: id, Status: bus.HealthOnline})
}

func (m *Monitor) OnUnregister(id bus.AgentID) {
	m.publish(Event{Type: EventAgent, AgentID: id, Status: bus.HealthOffline})
}

func (m *Monitor) OnDispatch(msg bus.Message, _ bus.SharedContext) {
	m.publish(Event{Type: EventMessage, Message: &msg})
}

func (m *Monitor) OnHandlerError(msg bus.Message, target bus.AgentID, err error) {
	m.publish(Event{Type: EventHandlerError, Message: &msg, AgentID: target, Error: err.Error()})
}

func (m *Monitor) OnHistoryCleared() {
	m.publish(Event{Type: EventHistoryCleared})
}

func (m *Monitor) publish(ev Event) {
	if m.Count() == 0 {
		return
	}
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
	}
}

func (m *Monitor) pump() {
	defer close(m.stopped)
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.broadcast(ev)
		}
	}
}

// broadcast writes v to every client, dropping the ones that fail.
func (m *Monitor) broadcast(v any) {
	var dead []*wsConn
	for _, c := range m.snapshot() {
		if err := c.WriteJSONSafe(v); err != nil {
			dead = append(dead, c)
		}
	}
	m.drop(dead)
}

// heartbeat sends a ping frame plus a JSON heartbeat to every client.
func (m *Monitor) heartbeat(load Load) {
	ev := Event{Type: EventHeartbeat, Load: &load}
	var dead []*wsConn
	for _, c := range m.snapshot() {
		if err := c.WritePing(); err != nil {
			dead = append(dead, c)
			continue
		}
		if err := c.WriteJSONSafe(ev); err != nil {
			dead = append(dead, c)
		}
	}
	m.drop(dead)
}

func (m *Monitor) snapshot() []*wsConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := make([]*wsConn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

func (m *Monitor) add(c *wsConn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done:
		return false
	default:
	}
	m.conns[c] = true
	return true
}

func (m *Monitor) remove(c *wsConn) {
	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()
}

func (m *Monitor) drop(dead []*wsConn) {
	if len(dead) == 0 {
		return
	}
	m.mu.Lock()
	for _, c := range dead {
		delete(m.conns, c)
		c.Close()
	}
	m.mu.Unlock()
}

// Count returns the number of connected clients.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Dropped returns how many events were discarded on a full queue.
func (m *Monitor) Dropped() int64 { return m.dropped.Load() }

// Close disconnects every client and stops the pump.
func (m *Monitor) Close() {
	m.once.Do(func() {
		m.mu.Lock()
		close(m.done)
		conns := m.conns
		m.conns = make(map[*wsConn]bool)
		m.mu.Unlock()

		<-m.stopped
		for c := range conns {
			c.WriteCloseSafe(websocket.CloseGoingAway, "server shutdown")
			c.Close()
		}
	})
}

// clientFrame is what monitor clients may send.
type clientFrame struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// handleWS is the monitor endpoint.
//
// Protocol:
//
//	server → client:  {"type": "hello", "agents": [...], "context": {...}}
//	server → client:  {"type": "message", "message": {...}} per dispatch
//	server → client:  {"type": "heartbeat", "load": {...}} every 10s
//	client → server:  {"type": "ping"}                  → pong + load
//	client → server:  {"type": "debug", "enabled": true} → toggles debug mode
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] ⚠️ Upgrade failed: %v", err)
		return
	}

	conn := &wsConn{Conn: raw}
	peer := r.RemoteAddr

	hello := Event{Type: EventHello}
	if s.net != nil {
		snap := s.net.Context()
		hello.Context = &snap
		hello.Agents = s.net.Agents()
	}
	// Hello goes out before the client joins the broadcast set.
	if err := conn.WriteJSONSafe(hello); err != nil || !s.monitor.add(conn) {
		raw.Close()
		return
	}
	log.Printf("[Server] 🔗 Monitor connected: %s", peer)

	defer func() {
		s.monitor.remove(conn)
		raw.Close()
		log.Printf("[Server] 🔌 Monitor disconnected: %s", peer)
	}()

	raw.SetReadDeadline(time.Now().Add(readTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Server] ⚠️ Monitor error: %v", err)
			}
			return
		}
		raw.SetReadDeadline(time.Now().Add(readTimeout))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "ping":
			load := s.stats.snapshot()
			conn.WriteJSONSafe(Event{Type: EventPong, Load: &load})
		case "debug":
			if s.net == nil {
				continue
			}
			s.setDebug(frame.Enabled)
			debug := s.net.DebugMode()
			conn.WriteJSONSafe(Event{Type: EventDebug, Debug: &debug})
		}
	}
}

// heartbeatLoop pings monitor clients every 10 seconds.
func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.monitor.done:
			return
		case <-ticker.C:
			s.monitor.heartbeat(s.stats.snapshot())
		}
	}
}
