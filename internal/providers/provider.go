package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultModelName is the free Zhipu text model the guide starts with.
const DefaultModelName = "glm-4-flash"

// Provider is an OpenAI-compatible LLM provider.
type Provider struct {
	APIKey       string
	APIBase      string
	Model        string // default model
	ExtraHeaders map[string]string
	HTTPClient   *http.Client

	gateway *ProviderSpec // detected gateway, if any
}

// NewProvider creates a Provider with given config.
func NewProvider(apiKey, apiBase, defaultModel, providerName string) *Provider {
	if defaultModel == "" {
		defaultModel = DefaultModelName
	}

	p := &Provider{
		APIKey:     apiKey,
		APIBase:    apiBase,
		Model:      defaultModel,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}

	p.gateway = FindGateway(providerName, apiKey, apiBase)
	return p
}

// DefaultModel satisfies the LLMProvider interface.
func (p *Provider) DefaultModel() string { return p.Model }

// Chat sends a chat completion request.
func (p *Provider) Chat(ctx context.Context, req ChatRequest) (*LLMResponse, error) {
	model := req.Model
	if model == "" {
		model = p.Model
	}
	model = p.resolveModel(model)

	maxTokens := req.MaxTokens
	if maxTokens < 1 {
		maxTokens = 4096
	}

	temp := req.Temperature
	p.applyModelOverrides(model, &temp)

	jsonBody, err := json.Marshal(chatBody{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   maxTokens,
		Temperature: temp,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	apiBase, apiKey := p.endpoint(model)
	endpoint := strings.TrimRight(apiBase, "/") + "/chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for k, v := range p.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return failed("Error calling LLM: %v", err), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failed("Error reading response: %v", err), nil
	}
	if resp.StatusCode != http.StatusOK {
		return failed("Error calling LLM (HTTP %d): %s", resp.StatusCode, string(respBody)), nil
	}
	return parseResponse(respBody), nil
}

// endpoint resolves the base URL and key: explicit config first, then the
// gateway, then the provider matched by model name.
func (p *Provider) endpoint(model string) (string, string) {
	apiBase, apiKey := p.APIBase, p.APIKey
	spec := p.gateway
	if spec == nil {
		spec = FindByModel(model)
	}
	if spec != nil {
		if apiBase == "" {
			apiBase = spec.DefaultAPIBase
		}
		if apiKey == "" && spec.EnvKey != "" {
			apiKey = os.Getenv(spec.EnvKey)
		}
	}
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return apiBase, apiKey
}

func (p *Provider) resolveModel(model string) string {
	if p.gateway != nil {
		prefix := p.gateway.ModelPrefix
		if p.gateway.StripModelPrefix {
			parts := strings.SplitN(model, "/", 2)
			model = parts[len(parts)-1]
		}
		if prefix != "" && !strings.HasPrefix(model, prefix+"/") {
			model = prefix + "/" + model
		}
		return model
	}

	// Direct calls use bare names: "zhipu/glm-4-flash" -> "glm-4-flash".
	if spec := FindByModel(model); spec != nil {
		if vendor, name, ok := strings.Cut(model, "/"); ok && vendor == spec.Name {
			model = name
		}
	}
	return model
}

func (p *Provider) applyModelOverrides(model string, temperature *float64) {
	lower := strings.ToLower(model)
	spec := FindByModel(model)
	if spec == nil {
		return
	}
	for _, ov := range spec.ModelOverrides {
		if strings.Contains(lower, ov.Pattern) {
			if t, ok := ov.Overrides["temperature"].(float64); ok {
				*temperature = t
			}
			return
		}
	}
}

// chatBody is the OpenAI-compatible request body.
type chatBody struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// chatCompletion is the part of the completion response the guide reads.
type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// parseResponse extracts the first choice. Malformed bodies, empty choices
// and in-body error objects come back as FinishReason "error".
func parseResponse(body []byte) *LLMResponse {
	var resp chatCompletion
	if err := json.Unmarshal(body, &resp); err != nil {
		return failed("Error parsing response: %v", err)
	}
	if resp.Error != nil {
		return failed("Error from LLM: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return failed("Error: no choices in response")
	}

	choice := resp.Choices[0]
	finishReason := choice.FinishReason
	if finishReason == "" {
		finishReason = "stop"
	}
	return &LLMResponse{Content: choice.Message.Content, FinishReason: finishReason}
}

func failed(format string, args ...any) *LLMResponse {
	msg := fmt.Sprintf(format, args...)
	return &LLMResponse{Content: &msg, FinishReason: "error"}
}
