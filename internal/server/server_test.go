package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/tourguide-go/internal/agent"
	"github.com/dayuer/tourguide-go/internal/bus"
	"github.com/dayuer/tourguide-go/internal/events"
	"github.com/dayuer/tourguide-go/internal/tools"
)

func echoTool(name string) tools.Tool {
	return &tools.Func{
		ToolName: name,
		Desc:     "echo",
		Fn: func(_ context.Context, args []any) (any, error) {
			return map[string]any{"tool": name, "args": args}, nil
		},
	}
}

func newTestServer(t *testing.T, apiKey string) (*Server, *agent.System) {
	t.Helper()
	reg := tools.NewRegistry(
		echoTool(tools.VoiceInteraction),
		echoTool(tools.ObjectRecognition),
		echoTool(tools.GetShoppingInfo),
		echoTool(tools.GetRelatedKnowledge),
	)
	net := bus.NewNetwork(bus.Options{Observers: []bus.Observer{}})
	sys := agent.Start(net, reg, agent.Config{Facade: agent.FacadeConfig{Timeout: 2 * time.Second}})
	engine := events.NewEngine(net)
	engine.SetRules(events.SampleRules())
	s := NewServer(Config{APIKey: apiKey, Network: net, Facade: sys.Facade, Tools: reg, Events: engine})
	t.Cleanup(func() {
		s.Stop()
		sys.Stop()
	})
	return s, sys
}

func do(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	w, body := do(t, s, "GET", "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []any{"A", "B", "D"}, body["agents"])
}

func TestAuth(t *testing.T) {
	s, _ := newTestServer(t, "secret")

	w, body := do(t, s, "GET", "/api/context", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", body["error"])

	req := httptest.NewRequest("GET", "/api/context", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	w, _ = do(t, s, "GET", "/api/context?token=secret", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleQuery_RoundTrip(t *testing.T) {
	s, sys := newTestServer(t, "")

	w, body := do(t, s, "POST", "/api/query", `{"text":"我想买点特产","spot":"东里村"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tools.GetShoppingInfo, body["tool"])
	assert.Equal(t, false, body["degraded"])
	assert.NotEmpty(t, body["requestId"])

	result := body["result"].(map[string]any)
	assert.Equal(t, []any{tools.DefaultCoordinates, "东里村"}, result["args"])

	assert.Eventually(t, func() bool {
		return sys.Network.Context().UserSession.CurrentSpot == "东里村"
	}, time.Second, 10*time.Millisecond)

	_, status := do(t, s, "GET", "/api/status", "")
	load := status["load"].(map[string]any)
	assert.Equal(t, float64(1), load["totalRequests"])
	assert.Equal(t, float64(0), load["activeRequests"])
}

func TestHandleQuery_PhotoMode(t *testing.T) {
	s, _ := newTestServer(t, "")

	_, body := do(t, s, "POST", "/api/query", `{"text":"随便","spot":"古桥","mode":"photo"}`)
	assert.Equal(t, tools.ObjectRecognition, body["tool"])
	assert.Equal(t, []any{"古桥"}, body["result"].(map[string]any)["args"])
}

func TestHandleQuery_BadRequests(t *testing.T) {
	s, _ := newTestServer(t, "")

	cases := []struct {
		name   string
		method string
		body   string
		code   int
	}{
		{"wrong method", "GET", "", http.StatusMethodNotAllowed},
		{"bad json", "POST", "{", http.StatusBadRequest},
		{"unknown mode", "POST", `{"text":"hi","spot":"x","mode":"video"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := do(t, s, tc.method, "/api/query", tc.body)
			assert.Equal(t, tc.code, w.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandleDispatch(t *testing.T) {
	s, sys := newTestServer(t, "")

	w, body := do(t, s, "POST", "/api/dispatch",
		`{"source":"USER","target":"A","type":"EVENT","action":"query","payload":{"text":"讲讲历史"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["dispatched"])
	assert.True(t, strings.HasPrefix(body["id"].(string), "evt_"))
	assert.Equal(t, []string{"讲讲历史"}, sys.Network.Context().UserSession.History)

	w, _ = do(t, s, "POST", "/api/dispatch", `{"source":"USER","type":"EVENT","action":"query","payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = do(t, s, "POST", "/api/dispatch",
		`{"source":"USER","target":"BROADCAST","type":"EVENT","action":"agent_status_change","payload":{"agentId":"C","status":"napping"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "unknown agent status")
	_, ok := sys.Network.AgentHealth()[bus.AgentPresenter]
	assert.False(t, ok)
}

func TestHandleEvents(t *testing.T) {
	s, sys := newTestServer(t, "")

	w, body := do(t, s, "POST", "/api/events", `{"type":"weather.changed","weather":"多云"}`)
	require.Equal(t, http.StatusOK, w.Code)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "environment", results[0].(map[string]any)["effect"])
	assert.Equal(t, "多云", sys.Network.Context().Environment.Weather)

	_, body = do(t, s, "POST", "/api/events", `{"type":"nobody.cares"}`)
	assert.Empty(t, body["results"])

	w, _ = do(t, s, "POST", "/api/events", `{"weather":"晴"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, status := do(t, s, "GET", "/api/status", "")
	stats := status["events"].(map[string]any)
	assert.Equal(t, float64(2), stats["totalEvents"])
}

func TestHandleHistory(t *testing.T) {
	s, sys := newTestServer(t, "")
	for i := 0; i < 3; i++ {
		require.NoError(t, sys.Network.Dispatch(context.Background(),
			bus.NewMessage(bus.AgentUser, bus.AgentFacade, bus.TypeEvent, bus.ActionQuery, bus.Query{Text: "q"})))
	}

	_, body := do(t, s, "GET", "/api/history?limit=2", "")
	assert.Len(t, body["messages"], 2)

	_, body = do(t, s, "GET", "/api/history", "")
	assert.Len(t, body["messages"], 3)

	w, _ := do(t, s, "GET", "/api/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = do(t, s, "DELETE", "/api/history", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["cleared"])
	assert.Empty(t, sys.Network.MessageHistory(0))
	// Clearing history leaves the context alone.
	assert.Len(t, sys.Network.Context().UserSession.History, 3)

	w, _ = do(t, s, "PUT", "/api/history", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleDebug(t *testing.T) {
	s, sys := newTestServer(t, "")

	_, body := do(t, s, "POST", "/api/debug", `{"enabled":true}`)
	assert.Equal(t, true, body["debug"])
	assert.True(t, sys.Network.DebugMode())

	_, body = do(t, s, "POST", "/api/debug", `{"enabled":false}`)
	assert.Equal(t, false, body["debug"])

	_, body = do(t, s, "GET", "/api/debug", "")
	assert.Equal(t, false, body["debug"])
}

func TestHandleAgentsAndTools(t *testing.T) {
	s, _ := newTestServer(t, "")

	_, body := do(t, s, "GET", "/api/agents", "")
	health := body["health"].(map[string]any)
	assert.Equal(t, "online", health["B"])

	_, body = do(t, s, "GET", "/api/tools", "")
	list := body["tools"].([]any)
	require.Len(t, list, 4)
	assert.Equal(t, tools.GetRelatedKnowledge, list[0].(map[string]any)["name"])
}

func TestNoNetworkAttached(t *testing.T) {
	s := NewServer(Config{})
	defer s.Stop()

	w, _ := do(t, s, "GET", "/api/context", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w, _ = do(t, s, "POST", "/api/query", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	_, body := do(t, s, "GET", "/api/tools", "")
	assert.Empty(t, body["tools"])
	w, _ = do(t, s, "POST", "/api/events", `{"type":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func dialMonitor(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello Event
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, EventHello, hello.Type)
	require.Eventually(t, func() bool { return s.Monitor().Count() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == typ {
			return ev
		}
	}
}

func TestMonitor_StreamsDispatchedMessages(t *testing.T) {
	s, sys := newTestServer(t, "")
	conn := dialMonitor(t, s)

	msg := bus.NewMessage(bus.AgentUser, bus.AgentFacade, bus.TypeEvent, bus.ActionQuery, bus.Query{Text: "你好"})
	require.NoError(t, sys.Network.Dispatch(context.Background(), msg))

	ev := readUntil(t, conn, EventMessage)
	require.NotNil(t, ev.Message)
	assert.Equal(t, msg.ID, ev.Message.ID)
	q, ok := ev.Message.Payload.(bus.Query)
	require.True(t, ok)
	assert.Equal(t, "你好", q.Text)

	sys.Network.ClearHistory()
	readUntil(t, conn, EventHistoryCleared)
}

func TestMonitor_PingAndDebugFrames(t *testing.T) {
	s, sys := newTestServer(t, "")
	conn := dialMonitor(t, s)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	pong := readUntil(t, conn, EventPong)
	require.NotNil(t, pong.Load)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "debug", "enabled": true}))
	ev := readUntil(t, conn, EventDebug)
	require.NotNil(t, ev.Debug)
	assert.True(t, *ev.Debug)
	assert.True(t, sys.Network.DebugMode())
}

func TestMonitor_CloseDisconnectsClients(t *testing.T) {
	s, _ := newTestServer(t, "")
	conn := dialMonitor(t, s)

	s.Monitor().Close()
	s.Monitor().Close()
	assert.Equal(t, 0, s.Monitor().Count())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestMonitor_NoClientsDropsNothing(t *testing.T) {
	m := NewMonitor()
	defer m.Close()
	for i := 0; i < monitorQueueSize*2; i++ {
		m.OnHistoryCleared()
	}
	assert.Equal(t, int64(0), m.Dropped())
}

func TestQueryStats_Window(t *testing.T) {
	q := newQueryStats(50 * time.Millisecond)
	assert.Equal(t, Load{}, q.snapshot())

	done := q.begin()
	assert.Equal(t, int64(1), q.snapshot().Active)
	done()
	q.record(30 * time.Millisecond)

	load := q.snapshot()
	assert.Equal(t, int64(0), load.Active)
	assert.Equal(t, int64(1), load.Total)
	assert.Equal(t, int64(2), load.RecentCount)

	time.Sleep(80 * time.Millisecond)
	load = q.snapshot()
	assert.Equal(t, int64(0), load.RecentCount)
	assert.Equal(t, int64(0), load.AvgLatencyMs)
	assert.Equal(t, int64(1), load.Total)
}
