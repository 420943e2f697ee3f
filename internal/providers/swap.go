package providers

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrNoProvider is returned by a Swappable that has nothing installed.
var ErrNoProvider = errors.New("no LLM provider installed")

type slot struct{ p LLMProvider }

// Swappable forwards to a provider that can be replaced at runtime, e.g.
// when serve reloads its config. In-flight calls finish on the old one.
type Swappable struct {
	cur atomic.Pointer[slot]
}

// NewSwappable wraps initial, which may be nil.
func NewSwappable(initial LLMProvider) *Swappable {
	s := &Swappable{}
	s.Swap(initial)
	return s
}

func (s *Swappable) Chat(ctx context.Context, req ChatRequest) (*LLMResponse, error) {
	p := s.Current()
	if p == nil {
		return nil, ErrNoProvider
	}
	return p.Chat(ctx, req)
}

func (s *Swappable) DefaultModel() string {
	if p := s.Current(); p != nil {
		return p.DefaultModel()
	}
	return ""
}

// Swap installs next and returns the previous provider.
func (s *Swappable) Swap(next LLMProvider) LLMProvider {
	old := s.cur.Swap(&slot{p: next})
	if old == nil {
		return nil
	}
	return old.p
}

// Current returns the installed provider.
func (s *Swappable) Current() LLMProvider {
	if cur := s.cur.Load(); cur != nil {
		return cur.p
	}
	return nil
}
