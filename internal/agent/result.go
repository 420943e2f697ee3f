package agent

import (
	"encoding/json"
	"errors"

	"github.com/dayuer/tourguide-go/internal/bus"
)

var (
	// ErrRequestTimeout marks a request that got no reply in time.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrToolUnavailable marks a request answered with an error.
	ErrToolUnavailable = errors.New("tool unavailable")
)

// Degraded replies shown to the visitor.
const (
	TimeoutText     = "请求超时，请重试。"
	UnavailableText = "服务暂时不可用，请稍后再试。"
)

// Fallback is the degraded result returned on timeout or error.
type Fallback struct {
	Text          string      `json:"text"`
	AudioBase64   string      `json:"audio_base_64"`
	Timeout       bool        `json:"timeout,omitempty"`
	Error         bool        `json:"error,omitempty"`
	OriginalError bus.Payload `json:"originalError,omitempty"`
}

// Result is what ProcessUserRequest yields: either the tool's value or a
// fallback. It encodes as whichever one it holds.
type Result struct {
	RequestID string
	Tool      string
	Data      any
	Fallback  *Fallback
}

// MarshalJSON encodes the tool value or the fallback.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Fallback != nil {
		return json.Marshal(r.Fallback)
	}
	return json.Marshal(r.Data)
}

// Degraded reports whether r carries a fallback instead of tool output.
func (r Result) Degraded() bool { return r.Fallback != nil }

// Err classifies a degraded result; nil for real tool output.
func (r Result) Err() error {
	switch {
	case r.Fallback == nil:
		return nil
	case r.Fallback.Timeout:
		return ErrRequestTimeout
	default:
		return ErrToolUnavailable
	}
}

// Text returns the human-readable part of r when there is an obvious one.
func (r Result) Text() string {
	if r.Fallback != nil {
		return r.Fallback.Text
	}
	switch v := r.Data.(type) {
	case string:
		return v
	}
	data, err := json.Marshal(r.Data)
	if err != nil {
		return ""
	}
	var fields struct {
		Text          string `json:"text"`
		Explanation   string `json:"explanation"`
		RecommendText string `json:"recommend_text"`
		URL           string `json:"url"`
	}
	if json.Unmarshal(data, &fields) != nil {
		return string(data)
	}
	for _, s := range []string{fields.Text, fields.Explanation, fields.RecommendText, fields.URL} {
		if s != "" {
			return s
		}
	}
	return string(data)
}

func timeoutResult() Result {
	return Result{Fallback: &Fallback{Text: TimeoutText, Timeout: true}}
}

func errorResult(payload bus.Payload) Result {
	return Result{Fallback: &Fallback{Text: UnavailableText, Error: true, OriginalError: payload}}
}
