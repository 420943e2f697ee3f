package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Provider Interface Compliance ---

func TestProvider_ImplementsLLMProvider(t *testing.T) {
	var _ LLMProvider = &Provider{}
}

// --- Model Resolution ---

func TestResolveModel_Direct_StripsVendor(t *testing.T) {
	p := NewProvider("key", "", "zhipu/glm-4-flash", "")
	assert.Equal(t, "glm-4-flash", p.resolveModel("zhipu/glm-4-flash"))
	assert.Equal(t, "GLM-4-Flash", p.resolveModel("GLM-4-Flash"))
}

func TestResolveModel_Gateway_KeepsVendorPath(t *testing.T) {
	p := NewProvider("key", "https://api.siliconflow.cn/v1", "deepseek-ai/DeepSeek-R1-Distill-Qwen-7B", "")
	assert.Equal(t, "deepseek-ai/DeepSeek-R1-Distill-Qwen-7B", p.resolveModel("deepseek-ai/DeepSeek-R1-Distill-Qwen-7B"))
}

func TestResolveModel_Gateway_OpenRouter(t *testing.T) {
	p := NewProvider("sk-or-abc", "", "gpt-4o", "openrouter")
	assert.Equal(t, "openrouter/gpt-4o", p.resolveModel("gpt-4o"))
	assert.Equal(t, "openrouter/gpt-4o", p.resolveModel("openrouter/gpt-4o"))
}

func TestEndpoint_ResolvesFromModelAndEnv(t *testing.T) {
	t.Setenv("ZHIPU_API_KEY", "env-key")
	p := NewProvider("", "", "glm-4-flash", "")
	base, key := p.endpoint("glm-4-flash")
	assert.Equal(t, "https://open.bigmodel.cn/api/paas/v4", base)
	assert.Equal(t, "env-key", key)
}

func TestEndpoint_ExplicitWins(t *testing.T) {
	p := NewProvider("cfg-key", "http://localhost:9000/v1", "glm-4-flash", "")
	base, key := p.endpoint("glm-4-flash")
	assert.Equal(t, "http://localhost:9000/v1", base)
	assert.Equal(t, "cfg-key", key)
}

func TestApplyModelOverrides(t *testing.T) {
	p := NewProvider("", "", "", "")
	temp := 0.7
	p.applyModelOverrides("glm-4v-flash", &temp)
	assert.Equal(t, 0.3, temp)
}

// --- Response Parsing ---

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		content string
		finish  string
	}{
		{"text", `{"choices":[{"message":{"content":"古炮楼建于清末"},"finish_reason":"stop"}]}`, "古炮楼建于清末", "stop"},
		{"missing finish reason", `{"choices":[{"message":{"content":"ok"}}]}`, "ok", "stop"},
		{"empty choices", `{"choices":[]}`, "Error: no choices in response", "error"},
		{"error object", `{"error":{"message":"quota exceeded"}}`, "Error from LLM: quota exceeded", "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := parseResponse([]byte(tt.body))
			require.NotNil(t, resp.Content)
			assert.Equal(t, tt.content, *resp.Content)
			assert.Equal(t, tt.finish, resp.FinishReason)
		})
	}
}

func TestParseResponse_InvalidJSON(t *testing.T) {
	resp := parseResponse([]byte("not json"))
	assert.Contains(t, *resp.Content, "Error parsing")
	assert.Equal(t, "error", resp.FinishReason)
}

// --- Integration with Mock Server ---

func TestProvider_Chat_MockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "glm-4-flash", body["model"])
		assert.Equal(t, float64(4096), body["max_tokens"])
		assert.NotContains(t, body, "tools")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"message":       map[string]any{"content": "我是导游"},
					"finish_reason": "stop",
				},
			},
		})
	}))
	defer server.Close()

	p := NewProvider("test-key", server.URL, "glm-4-flash", "")
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "Hello"}},
		Model:    "glm-4-flash",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Content)
	assert.Equal(t, "我是导游", *resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestProvider_Chat_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte("internal error"))
	}))
	defer server.Close()

	p := NewProvider("key", server.URL, "glm-4-flash", "")
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)
	assert.Contains(t, *resp.Content, "Error calling LLM")
	assert.Equal(t, "error", resp.FinishReason)
}

func TestProvider_Chat_ExtraHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "my-code", r.Header.Get("APP-Code"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}, "finish_reason": "stop"},
			},
		})
	}))
	defer server.Close()

	p := NewProvider("key", server.URL, "glm-4-flash", "")
	p.ExtraHeaders = map[string]string{"APP-Code": "my-code"}
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "test"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", *resp.Content)
}

// --- DefaultModel ---

func TestProvider_DefaultModel(t *testing.T) {
	p := NewProvider("", "", "glm-4-flash", "")
	assert.Equal(t, "glm-4-flash", p.DefaultModel())
}

func TestProvider_DefaultModelFallback(t *testing.T) {
	p := NewProvider("", "", "", "")
	assert.Equal(t, DefaultModelName, p.DefaultModel())
}
