// Package server exposes the agent network over HTTP: a JSON API for the
// guide UIs and the monitor panel, plus a websocket that streams every
// dispatched message.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dayuer/tourguide-go/internal/agent"
	"github.com/dayuer/tourguide-go/internal/bus"
	"github.com/dayuer/tourguide-go/internal/events"
)

// SchemaLister describes the registered tools.
type SchemaLister interface {
	Schemas() []map[string]any
}

// Config configures a Server.
type Config struct {
	Host   string
	Port   int
	APIKey string

	Network *bus.Network
	Facade  *agent.Facade
	Tools   SchemaLister
	Events  *events.Engine
}

// Server is the HTTP API and monitor server.
type Server struct {
	addr    string
	apiKey  string
	net     *bus.Network
	facade  *agent.Facade
	tools   SchemaLister
	events  *events.Engine
	monitor *Monitor
	stats   *queryStats

	startTime time.Time

	mux *http.ServeMux
	srv *http.Server
}

// NewServer creates a server and attaches its monitor to the network.
func NewServer(cfg Config) *Server {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	s := &Server{
		addr:      net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
		apiKey:    cfg.APIKey,
		net:       cfg.Network,
		facade:    cfg.Facade,
		tools:     cfg.Tools,
		events:    cfg.Events,
		monitor:   NewMonitor(),
		stats:     newQueryStats(time.Minute),
		startTime: time.Now(),
		mux:       http.NewServeMux(),
	}
	if s.net != nil {
		s.net.AddObserver(s.monitor)
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ws", s.withAuth(s.handleWS))
	s.mux.HandleFunc("/api/status", s.withAuth(s.handleStatus))
	s.mux.HandleFunc("/api/context", s.withAuth(s.handleContext))
	s.mux.HandleFunc("/api/agents", s.withAuth(s.handleAgents))
	s.mux.HandleFunc("/api/history", s.withAuth(s.handleHistory))
	s.mux.HandleFunc("/api/debug", s.withAuth(s.handleDebug))
	s.mux.HandleFunc("/api/tools", s.withAuth(s.handleTools))
	s.mux.HandleFunc("/api/query", s.withAuth(s.handleQuery))
	s.mux.HandleFunc("/api/dispatch", s.withAuth(s.handleDispatch))
	s.mux.HandleFunc("/api/events", s.withAuth(s.handleEvents))

	return s
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler { return s.mux }

// Monitor returns the websocket monitor.
func (s *Server) Monitor() *Monitor { return s.monitor }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("[Server] ✅ HTTP API → http://%s", s.addr)
	log.Printf("[Server] ✅ Monitor → ws://%s/ws", s.addr)

	go s.heartbeatLoop(ctx)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes monitor connections and shuts the listener down gracefully.
func (s *Server) Stop() {
	s.monitor.Close()
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(ctx); err != nil {
			log.Printf("[Server] ⚠️ Shutdown: %v", err)
		}
	}
}

// --- Auth middleware ---

func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			auth := r.Header.Get("Authorization")
			// Browsers cannot set headers on websocket upgrades.
			if auth != "Bearer "+s.apiKey && r.URL.Query().Get("token") != s.apiKey {
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		handler(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status": "ok",
		"uptime": int(time.Since(s.startTime).Seconds()),
	}
	if s.net != nil {
		body["agents"] = s.net.Agents()
	}
	writeJSON(w, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.net == nil {
		writeJSONError(w, "network not attached", http.StatusServiceUnavailable)
		return
	}
	status := map[string]any{
		"uptime":        int(time.Since(s.startTime).Seconds()),
		"agents":        s.net.Agents(),
		"systemStatus":  s.net.Context().SystemStatus,
		"debug":         s.net.DebugMode(),
		"strictRouting": s.net.StrictRouting(),
		"historyLimit":  s.net.HistoryLimit(),
		"historySize":   len(s.net.MessageHistory(0)),
		"monitors":      s.monitor.Count(),
		"load":          s.stats.snapshot(),
	}
	if s.facade != nil {
		status["inFlight"] = s.facade.Pending()
	}
	if s.events != nil {
		status["events"] = s.events.Stats()
	}
	writeJSON(w, status)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) || !s.requireNetwork(w) {
		return
	}
	writeJSON(w, s.net.Context())
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) || !s.requireNetwork(w) {
		return
	}
	writeJSON(w, map[string]any{
		"agents": s.net.Agents(),
		"health": s.net.AgentHealth(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireNetwork(w) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSONError(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			limit = n
		}
		writeJSON(w, map[string]any{"messages": s.net.MessageHistory(limit)})
	case http.MethodDelete:
		s.net.ClearHistory()
		writeJSON(w, map[string]any{"cleared": true})
	default:
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type debugRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	if !s.requireNetwork(w) {
		return
	}
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req debugRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		s.setDebug(req.Enabled)
	default:
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{"debug": s.net.DebugMode()})
}

func (s *Server) setDebug(enabled bool) {
	if enabled {
		s.net.EnableDebugMode()
	} else {
		s.net.DisableDebugMode()
	}
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	schemas := []map[string]any{}
	if s.tools != nil {
		schemas = s.tools.Schemas()
	}
	writeJSON(w, map[string]any{"tools": schemas})
}

// queryRequest is the JSON body for /api/query.
type queryRequest struct {
	Text string `json:"text"`
	Spot string `json:"spot"`
	Mode string `json:"mode"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.facade == nil {
		writeJSONError(w, "facade not attached", http.StatusServiceUnavailable)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	mode, err := agent.ParseMode(req.Mode)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	done := s.stats.begin()
	start := time.Now()
	result, err := s.facade.ProcessUserRequest(r.Context(), req.Text, req.Spot, mode)
	done()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"requestId": result.RequestID,
		"tool":      result.Tool,
		"degraded":  result.Degraded(),
		"result":    result,
		"latencyMs": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !s.requireNetwork(w) {
		return
	}
	var msg bus.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSONError(w, fmt.Sprintf("invalid message: %v", err), http.StatusBadRequest)
		return
	}
	// Handlers outlive the HTTP request, like any other producer on the bus.
	if err := s.net.Dispatch(context.WithoutCancel(r.Context()), msg); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"id": msg.ID, "dispatched": true})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.events == nil {
		writeJSONError(w, "event rules not loaded", http.StatusServiceUnavailable)
		return
	}
	var event map[string]any
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if t, _ := event["type"].(string); t == "" {
		writeJSONError(w, "event missing 'type' field", http.StatusBadRequest)
		return
	}
	results := s.events.Ingest(context.WithoutCancel(r.Context()), event)
	if results == nil {
		results = []events.Result{}
	}
	writeJSON(w, map[string]any{"results": results})
}

func (s *Server) requireNetwork(w http.ResponseWriter) bool {
	if s.net == nil {
		writeJSONError(w, "network not attached", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] ⚠️ Encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
