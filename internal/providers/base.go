// Package providers talks to OpenAI-compatible chat completion backends
// (Zhipu, SiliconFlow, MiniMax, DeepSeek and friends) for the guide tools.
package providers

import "context"

// LLMResponse is the answer of one chat completion. FinishReason "error"
// means Content carries a provider failure instead of an answer.
type LLMResponse struct {
	Content      *string `json:"content"`
	FinishReason string  `json:"finish_reason"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest holds all parameters for a chat completion call.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// LLMProvider is the interface for all LLM backends.
type LLMProvider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*LLMResponse, error)

	// DefaultModel returns the default model identifier.
	DefaultModel() string
}
