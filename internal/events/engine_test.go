package events

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/tourguide-go/internal/bus"
)

func newEngine(t *testing.T, rules ...Rule) (*Engine, *bus.Network) {
	t.Helper()
	net := bus.NewNetwork(bus.Options{Observers: []bus.Observer{}})
	e := NewEngine(net)
	e.SetRules(rules)
	return e, net
}

func TestIngest_Weather(t *testing.T) {
	e, net := newEngine(t, SampleRules()...)

	results := e.Ingest(context.Background(), map[string]any{"type": "weather.changed", "weather": "小雨"})
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)
	assert.NotEmpty(t, results[0].MessageID)
	assert.Equal(t, "小雨", net.Context().Environment.Weather)

	hist := net.MessageHistory(0)
	require.Len(t, hist, 1)
	assert.Equal(t, Source, hist[0].Source)
	assert.Equal(t, bus.Broadcast, hist[0].Target)
	assert.Equal(t, bus.ActionContextUpdate, hist[0].Action)
}

func TestIngest_FestivalListAddRemove(t *testing.T) {
	e, net := newEngine(t, SampleRules()...)
	ctx := context.Background()

	e.Ingest(ctx, map[string]any{"type": "festival.started", "name": "茶文化节"})
	e.Ingest(ctx, map[string]any{"type": "festival.started", "name": "灯会"})
	e.Ingest(ctx, map[string]any{"type": "festival.started", "name": "灯会"})
	assert.Equal(t, []string{"茶文化节", "灯会"}, net.Context().Environment.ActiveEvents)

	e.Ingest(ctx, map[string]any{"type": "festival.ended", "name": "茶文化节"})
	assert.Equal(t, []string{"灯会"}, net.Context().Environment.ActiveEvents)

	e.Ingest(ctx, map[string]any{"type": "festival.ended", "name": "灯会"})
	assert.Empty(t, net.Context().Environment.ActiveEvents)
}

func TestIngest_SpotAndStatus(t *testing.T) {
	e, net := newEngine(t, SampleRules()...)
	ctx := context.Background()

	e.Ingest(ctx, map[string]any{"type": "beacon.entered", "spot": "古炮楼"})
	assert.Equal(t, "古炮楼", net.Context().UserSession.CurrentSpot)

	e.Ingest(ctx, map[string]any{"type": "agent.status", "agent": "C", "status": "busy"})
	assert.Equal(t, bus.HealthBusy, net.AgentHealth()[bus.AgentPresenter])
}

func TestIngest_UnknownStatusRejected(t *testing.T) {
	e, net := newEngine(t, SampleRules()...)

	results := e.Ingest(context.Background(), map[string]any{"type": "agent.status", "agent": "C", "status": "sleeping"})
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, `unknown agent status "sleeping"`)
	assert.Empty(t, results[0].MessageID)

	_, ok := net.AgentHealth()[bus.AgentPresenter]
	assert.False(t, ok)
	assert.Empty(t, net.MessageHistory(0))
	assert.Equal(t, int64(1), e.Stats().TotalErrors)
}

func TestIngest_QueryRecordsHistory(t *testing.T) {
	e, net := newEngine(t, Rule{EventType: "kiosk.*", Effect: EffectQuery, Text: "{visitor.says}"})

	e.Ingest(context.Background(), map[string]any{
		"type":    "kiosk.voice",
		"visitor": map[string]any{"says": "附近有什么吃的"},
	})
	assert.Equal(t, []string{"附近有什么吃的"}, net.Context().UserSession.History)
}

func TestIngest_PriorityAndConditions(t *testing.T) {
	e, net := newEngine(t,
		Rule{EventType: "weather.*", Effect: EffectEnvironment, Weather: "普通"},
		Rule{EventType: "weather.*", Effect: EffectEnvironment, Weather: "高温", Priority: -1,
			Conditions: map[string]any{"min_temp": 35}},
		Rule{EventType: "weather.*", Effect: EffectEnvironment, Weather: "never", Enabled: boolPtr(false)},
	)
	ctx := context.Background()

	// Higher priority runs first, so the hot-weather rule writes last.
	results := e.Ingest(ctx, map[string]any{"type": "weather.report", "temp": 37.0})
	require.Len(t, results, 2)
	assert.Equal(t, "高温", net.Context().Environment.Weather)

	results = e.Ingest(ctx, map[string]any{"type": "weather.report", "temp": 20.0})
	require.Len(t, results, 1)
	assert.Equal(t, "普通", net.Context().Environment.Weather)
}

func TestIngest_NoTypeOrNoMatch(t *testing.T) {
	e, net := newEngine(t, SampleRules()...)

	results := e.Ingest(context.Background(), map[string]any{"weather": "晴"})
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Error)

	assert.Nil(t, e.Ingest(context.Background(), map[string]any{"type": "unknown"}))
	assert.Empty(t, net.MessageHistory(0))

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.TotalErrors)
	assert.Equal(t, int64(0), stats.TotalDispatches)
	assert.Equal(t, 5, stats.TotalRules)
}

func TestMatchType(t *testing.T) {
	tests := []struct {
		pattern, eventType string
		want               bool
	}{
		{"*", "anything", true},
		{"weather.*", "weather.changed", true},
		{"weather.*", "weatherman", false},
		{"weather.changed", "weather.changed", true},
		{"weather.changed", "weather.cleared", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchType(tt.pattern, tt.eventType), "%s vs %s", tt.pattern, tt.eventType)
	}
}

func TestMatchConditions(t *testing.T) {
	rule := Rule{Conditions: map[string]any{"spot": "东里村", "max_crowd": 50, "min_crowd": 10}}

	assert.True(t, matchConditions(rule, map[string]any{"spot": "东里村", "crowd": 30.0}))
	assert.False(t, matchConditions(rule, map[string]any{"spot": "东里村", "crowd": 60.0}))
	assert.False(t, matchConditions(rule, map[string]any{"spot": "东里村", "crowd": 5.0}))
	assert.False(t, matchConditions(rule, map[string]any{"spot": "古炮楼", "crowd": 30.0}))
	assert.False(t, matchConditions(rule, map[string]any{"spot": "东里村"}))
}

func TestRenderTemplate(t *testing.T) {
	data := map[string]any{"name": "灯会", "where": map[string]any{"spot": "集庆廊桥"}}
	assert.Equal(t, "灯会@集庆廊桥", RenderTemplate("{name}@{where.spot}", data))
	assert.Equal(t, "{missing}", RenderTemplate("{missing}", data))
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteRules(filepath.Join(dir, "village.yaml"), SampleRules()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yml"), []byte("- event_type: x\n  effect: teleport\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	e, _ := newEngine(t)
	require.NoError(t, e.LoadRules(dir))
	assert.Equal(t, 5, e.RuleCount())

	require.NoError(t, e.LoadRules(filepath.Join(dir, "missing")))
	assert.Equal(t, 0, e.RuleCount())
}

func boolPtr(b bool) *bool { return &b }

func TestRuleValidate_AgentStatus(t *testing.T) {
	rule := Rule{EventType: "agent.status", Effect: EffectAgentStatus, Agent: "C"}

	rule.Status = "asleep"
	assert.Error(t, rule.validate())
	rule.Status = "busy"
	assert.NoError(t, rule.validate())
	rule.Status = "{status}"
	assert.NoError(t, rule.validate())
}
