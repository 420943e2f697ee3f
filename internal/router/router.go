// Package router classifies visitor text into an intent and the guide tool
// that serves it.
package router

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dayuer/tourguide-go/internal/tools"
)

// Intent names a class of visitor request.
type Intent string

const (
	IntentCommerce  Intent = "commerce"
	IntentKnowledge Intent = "knowledge"
	IntentChat      Intent = "chat"
)

// Rule maps keywords to an intent and tool. A rule matches when the text
// contains any keyword (case-sensitive substring).
type Rule struct {
	Intent   Intent   `yaml:"intent" json:"intent"`
	Tool     string   `yaml:"tool" json:"tool"`
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}

// Decision is the outcome of Classify.
type Decision struct {
	Intent  Intent `json:"intent"`
	Tool    string `json:"tool"`
	Keyword string `json:"keyword,omitempty"` // empty when the fallback applied
}

// Commerce reports whether the decision needs shopping coordinates.
func (d Decision) Commerce() bool { return d.Intent == IntentCommerce }

// RulesFile is the top-level structure of intents.yaml.
type RulesFile struct {
	Rules    []Rule `yaml:"rules"`
	Fallback Rule   `yaml:"fallback"`
}

// DefaultRules returns the built-in rules, first match wins.
func DefaultRules() RulesFile {
	return RulesFile{
		Rules: []Rule{
			{Intent: IntentCommerce, Tool: tools.GetShoppingInfo, Keywords: []string{"买", "吃", "特产", "购物"}},
			{Intent: IntentKnowledge, Tool: tools.GetRelatedKnowledge, Keywords: []string{"历史", "知识", "故事", "背景"}},
		},
		Fallback: Rule{Intent: IntentChat, Tool: tools.VoiceInteraction},
	}
}

// Classifier applies ordered keyword rules.
type Classifier struct {
	rules    []Rule
	fallback Rule
}

// New builds a classifier. An empty fallback tool becomes voice_interaction.
func New(f RulesFile) *Classifier {
	fb := f.Fallback
	if fb.Tool == "" {
		fb.Tool = tools.VoiceInteraction
	}
	if fb.Intent == "" {
		fb.Intent = IntentChat
	}
	rules := make([]Rule, 0, len(f.Rules))
	for _, r := range f.Rules {
		if r.Tool == "" || len(r.Keywords) == 0 {
			continue
		}
		rules = append(rules, r)
	}
	return &Classifier{rules: rules, fallback: fb}
}

// Default returns a classifier over DefaultRules.
func Default() *Classifier { return New(DefaultRules()) }

// Classify picks the first rule with a keyword contained in text.
// Blank text gets the fallback.
func (c *Classifier) Classify(text string) Decision {
	if strings.TrimSpace(text) != "" {
		for _, r := range c.rules {
			for _, kw := range r.Keywords {
				if kw != "" && strings.Contains(text, kw) {
					return Decision{Intent: r.Intent, Tool: r.Tool, Keyword: kw}
				}
			}
		}
	}
	return Decision{Intent: c.fallback.Intent, Tool: c.fallback.Tool}
}

// Tools returns every tool the rules can route to, fallback last, without
// duplicates.
func (c *Classifier) Tools() []string {
	all := make([]Rule, 0, len(c.rules)+1)
	all = append(append(all, c.rules...), c.fallback)
	seen := make(map[string]bool)
	var out []string
	for _, r := range all {
		if !seen[r.Tool] {
			seen[r.Tool] = true
			out = append(out, r.Tool)
		}
	}
	return out
}

// Rules returns a copy of the active rules followed by the fallback.
func (c *Classifier) Rules() RulesFile {
	out := RulesFile{Rules: make([]Rule, len(c.rules)), Fallback: c.fallback}
	copy(out.Rules, c.rules)
	return out
}

// LoadRules reads an intents.yaml file. A missing file yields the defaults.
func LoadRules(path string) (RulesFile, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultRules(), nil
		}
		return RulesFile{}, fmt.Errorf("read intents.yaml: %w", err)
	}
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return RulesFile{}, fmt.Errorf("parse intents.yaml: %w", err)
	}
	if len(f.Rules) == 0 {
		f.Rules = DefaultRules().Rules
	}
	return f, nil
}

// Load reads path and builds a classifier from it.
func Load(path string) (*Classifier, error) {
	f, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return New(f), nil
}

// WriteRules writes f to path as YAML.
func WriteRules(path string, f RulesFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal intents: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
