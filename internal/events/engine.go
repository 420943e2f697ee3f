// Package events turns external village events (weather feeds, festival
// schedules, agent heartbeats) into messages on the agent network, using
// YAML rules.
package events

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/dayuer/tourguide-go/internal/bus"
)

// Source is the sender id of every message the engine dispatches.
const Source bus.AgentID = "EVENTS"

// Effects a rule can have.
const (
	EffectEnvironment = "environment"  // EVENT/context_update on the environment region
	EffectSpot        = "spot"         // EVENT/context_update setting the current spot
	EffectAgentStatus = "agent_status" // EVENT/agent_status_change broadcast
	EffectQuery       = "query"        // USER/query to the facade
)

// Rule maps matching events to one network message. String fields are
// templates: {key} and {nested.key} are filled from the event.
type Rule struct {
	EventType  string         `yaml:"event_type"`
	Effect     string         `yaml:"effect"`
	Conditions map[string]any `yaml:"conditions,omitempty"`
	Enabled    *bool          `yaml:"enabled,omitempty"`
	Priority   int            `yaml:"priority,omitempty"`

	// environment
	Weather     string `yaml:"weather,omitempty"`
	AddEvent    string `yaml:"add_event,omitempty"`
	RemoveEvent string `yaml:"remove_event,omitempty"`

	// spot
	Spot string `yaml:"spot,omitempty"`

	// agent_status
	Agent  string `yaml:"agent,omitempty"`
	Status string `yaml:"status,omitempty"`

	// query
	Text string `yaml:"text,omitempty"`

	sourceFile string
}

// IsEnabled returns whether the rule is enabled (default true).
func (r Rule) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// Result reports what one matched rule did.
type Result struct {
	EventType string `json:"eventType"`
	Effect    string `json:"effect"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Network is what the engine needs from the bus.
type Network interface {
	Dispatch(ctx context.Context, msg bus.Message) error
	Context() bus.SharedContext
}

// Engine matches events against rules and dispatches the resulting
// messages.
type Engine struct {
	net Network

	mu    sync.RWMutex
	rules []Rule

	// envMu serialises read-modify-write of the active events list.
	envMu sync.Mutex

	totalEvents     atomic.Int64
	totalDispatches atomic.Int64
	totalErrors     atomic.Int64
}

// NewEngine creates an engine with no rules.
func NewEngine(net Network) *Engine {
	return &Engine{net: net}
}

// SetRules replaces the rule set.
func (e *Engine) SetRules(rules []Rule) {
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
}

// LoadRules loads event rules from all YAML files in the given directory.
// A missing directory leaves the engine without rules.
func (e *Engine) LoadRules(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[Events] No events directory: %s", dir)
			e.SetRules(nil)
			return nil
		}
		return fmt.Errorf("read events dir: %w", err)
	}

	var rules []Rule
	for _, entry := range entries {
		if entry.IsDir() || (!strings.HasSuffix(entry.Name(), ".yaml") && !strings.HasSuffix(entry.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("[Events] ⚠️ Failed to read %s: %v", path, err)
			continue
		}

		var fileRules []Rule
		if err := yaml.Unmarshal(data, &fileRules); err != nil {
			log.Printf("[Events] ⚠️ Failed to parse %s: %v", path, err)
			continue
		}
		for i := range fileRules {
			if err := fileRules[i].validate(); err != nil {
				log.Printf("[Events] ⚠️ Skipping rule in %s: %v", entry.Name(), err)
				continue
			}
			fileRules[i].sourceFile = entry.Name()
			rules = append(rules, fileRules[i])
		}
	}

	e.SetRules(rules)
	log.Printf("[Events] ✅ Loaded %d rules from %s", len(rules), dir)
	return nil
}

func (r Rule) validate() error {
	if r.EventType == "" {
		return fmt.Errorf("missing event_type")
	}
	switch r.Effect {
	case EffectEnvironment:
		if r.Weather == "" && r.AddEvent == "" && r.RemoveEvent == "" {
			return fmt.Errorf("%s: environment rule changes nothing", r.EventType)
		}
	case EffectSpot:
		if r.Spot == "" {
			return fmt.Errorf("%s: spot rule needs spot", r.EventType)
		}
	case EffectAgentStatus:
		if r.Agent == "" || r.Status == "" {
			return fmt.Errorf("%s: agent_status rule needs agent and status", r.EventType)
		}
		if !strings.Contains(r.Status, "{") && !bus.Health(r.Status).Valid() {
			return fmt.Errorf("%s: unknown agent status %q", r.EventType, r.Status)
		}
	case EffectQuery:
		if r.Text == "" {
			return fmt.Errorf("%s: query rule needs text", r.EventType)
		}
	default:
		return fmt.Errorf("%s: unknown effect %q", r.EventType, r.Effect)
	}
	return nil
}

// Ingest dispatches one message per matching rule, highest priority first.
func (e *Engine) Ingest(ctx context.Context, event map[string]any) []Result {
	e.totalEvents.Add(1)

	eventType, _ := event["type"].(string)
	if eventType == "" {
		e.totalErrors.Add(1)
		return []Result{{Error: "event missing 'type' field"}}
	}

	e.mu.RLock()
	var matched []Rule
	for _, rule := range e.rules {
		if rule.IsEnabled() && matchType(rule.EventType, eventType) && matchConditions(rule, event) {
			matched = append(matched, rule)
		}
	}
	e.mu.RUnlock()

	if len(matched) == 0 {
		log.Printf("[Events] No rules matched for event type: %s", eventType)
		return nil
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Priority > matched[j].Priority })

	results := make([]Result, 0, len(matched))
	for _, rule := range matched {
		results = append(results, e.dispatch(ctx, rule, eventType, event))
	}
	return results
}

func (e *Engine) dispatch(ctx context.Context, rule Rule, eventType string, event map[string]any) Result {
	res := Result{EventType: eventType, Effect: rule.Effect}

	var err error
	var msg bus.Message
	if rule.Effect == EffectEnvironment {
		// The active events list is rebuilt from the current context.
		e.envMu.Lock()
		msg = e.environmentMessage(rule, event)
		err = e.net.Dispatch(ctx, msg)
		e.envMu.Unlock()
	} else if msg, err = buildMessage(rule, event); err == nil {
		err = e.net.Dispatch(ctx, msg)
	}

	if msg.ID != "" {
		e.totalDispatches.Add(1)
	}
	if err != nil {
		e.totalErrors.Add(1)
		log.Printf("[Events] ❌ Dispatch failed for %s (%s): %v", eventType, rule.Effect, err)
		res.Error = err.Error()
		return res
	}
	res.MessageID = msg.ID
	log.Printf("[Events] ✅ %s → %s", eventType, rule.Effect)
	return res
}

func (e *Engine) environmentMessage(rule Rule, event map[string]any) bus.Message {
	patch := &bus.EnvironmentPatch{}
	if rule.Weather != "" {
		patch.Weather = bus.StringPtr(RenderTemplate(rule.Weather, event))
	}
	if rule.AddEvent != "" || rule.RemoveEvent != "" {
		current := e.net.Context().Environment.ActiveEvents
		next := make([]string, 0, len(current)+1)
		remove := RenderTemplate(rule.RemoveEvent, event)
		for _, name := range current {
			if rule.RemoveEvent == "" || name != remove {
				next = append(next, name)
			}
		}
		if rule.AddEvent != "" {
			add := RenderTemplate(rule.AddEvent, event)
			if !contains(next, add) {
				next = append(next, add)
			}
		}
		patch.ActiveEvents = next
	}
	return bus.NewMessage(Source, bus.Broadcast, bus.TypeEvent, bus.ActionContextUpdate,
		bus.ContextUpdate{Environment: patch})
}

func buildMessage(rule Rule, event map[string]any) (bus.Message, error) {
	switch rule.Effect {
	case EffectSpot:
		spot := RenderTemplate(rule.Spot, event)
		return bus.NewMessage(Source, bus.AgentContextKeeper, bus.TypeEvent, bus.ActionContextUpdate,
			bus.ContextUpdate{UserSession: &bus.SessionPatch{CurrentSpot: &spot}}), nil
	case EffectAgentStatus:
		status := bus.Health(RenderTemplate(rule.Status, event))
		if !status.Valid() {
			return bus.Message{}, fmt.Errorf("unknown agent status %q", status)
		}
		return bus.NewMessage(Source, bus.Broadcast, bus.TypeEvent, bus.ActionAgentStatusChange,
			bus.AgentStatusChange{
				AgentID: bus.AgentID(RenderTemplate(rule.Agent, event)),
				Status:  status,
			}), nil
	default:
		return bus.NewMessage(bus.AgentUser, bus.AgentFacade, bus.TypeEvent, bus.ActionQuery,
			bus.Query{Text: RenderTemplate(rule.Text, event)}), nil
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// matchType checks if event type matches rule pattern (supports wildcards).
func matchType(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(eventType, prefix+".")
	}
	return pattern == eventType
}

// matchConditions checks if event satisfies all rule conditions. Keys
// prefixed min_ and max_ compare numerically against the unprefixed field.
func matchConditions(rule Rule, event map[string]any) bool {
	for key, expected := range rule.Conditions {
		field := key
		switch {
		case strings.HasPrefix(key, "min_"):
			field = strings.TrimPrefix(key, "min_")
		case strings.HasPrefix(key, "max_"):
			field = strings.TrimPrefix(key, "max_")
		}
		actual := getNestedValue(event, field)
		if actual == nil {
			return false
		}

		if exp, ok := toFloat64(expected); ok {
			val, ok := toFloat64(actual)
			if !ok {
				return false
			}
			switch {
			case strings.HasPrefix(key, "min_"):
				if val < exp {
					return false
				}
			case strings.HasPrefix(key, "max_"):
				if val > exp {
					return false
				}
			default:
				if val != exp {
					return false
				}
			}
			continue
		}
		if fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expected) {
			return false
		}
	}
	return true
}

// toFloat64 converts an interface value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// templatePattern matches {key} and {nested.key} placeholders.
var templatePattern = regexp.MustCompile(`\{([^}]+)\}`)

// RenderTemplate fills placeholders from data. Unknown keys are kept as is.
func RenderTemplate(template string, data map[string]any) string {
	return templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		val := getNestedValue(data, key)
		if val == nil {
			return match
		}
		return fmt.Sprintf("%v", val)
	})
}

// getNestedValue accesses nested map values by dot-separated path.
func getNestedValue(data map[string]any, path string) any {
	current := any(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

// Stats reports rule and traffic counters.
type Stats struct {
	TotalRules      int            `json:"totalRules"`
	TotalEvents     int64          `json:"totalEvents"`
	TotalDispatches int64          `json:"totalDispatches"`
	TotalErrors     int64          `json:"totalErrors"`
	RulesByType     map[string]int `json:"rulesByType"`
}

// Stats returns engine statistics.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	byType := make(map[string]int)
	for _, rule := range e.rules {
		byType[rule.EventType]++
	}
	return Stats{
		TotalRules:      len(e.rules),
		TotalEvents:     e.totalEvents.Load(),
		TotalDispatches: e.totalDispatches.Load(),
		TotalErrors:     e.totalErrors.Load(),
		RulesByType:     byType,
	}
}

// RuleCount returns the number of loaded rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// SampleRules are written by onboard as a starting point.
func SampleRules() []Rule {
	return []Rule{
		{EventType: "weather.changed", Effect: EffectEnvironment, Weather: "{weather}"},
		{EventType: "festival.started", Effect: EffectEnvironment, AddEvent: "{name}"},
		{EventType: "festival.ended", Effect: EffectEnvironment, RemoveEvent: "{name}"},
		{EventType: "beacon.entered", Effect: EffectSpot, Spot: "{spot}"},
		{EventType: "agent.status", Effect: EffectAgentStatus, Agent: "{agent}", Status: "{status}"},
	}
}

// WriteRules writes rules as YAML to path.
func WriteRules(path string, rules []Rule) error {
	data, err := yaml.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshal event rules: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
