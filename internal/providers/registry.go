package providers

import "strings"

// ProviderSpec holds metadata for one OpenAI-compatible backend.
type ProviderSpec struct {
	Name              string          // config name, e.g. "zhipu"
	Keywords          []string        // model-name keywords for matching (lowercase)
	EnvKey            string          // env var holding the API key
	DisplayName       string          // shown in status
	ModelPrefix       string          // gateway model prefix, e.g. "openrouter"
	IsGateway         bool            // hosts models from many vendors
	DetectByKeyPrefix string          // match api key prefix
	DetectByBaseKW    string          // match substring in api base URL
	DefaultAPIBase    string          // fallback base URL
	StripModelPrefix  bool            // strip "vendor/" before re-prefixing
	ModelOverrides    []ModelOverride // per-model param overrides
}

// ModelOverride applies parameter overrides when a model name matches a pattern.
type ModelOverride struct {
	Pattern   string         // substring to match in model name (lowercase)
	Overrides map[string]any // params to override
}

// Label returns a display label.
func (s *ProviderSpec) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return strings.ToUpper(s.Name[:1]) + s.Name[1:]
}

// Providers is the registry. Order = priority. Gateways first.
var Providers = []*ProviderSpec{
	// Custom OpenAI-compatible endpoint
	{
		Name: "custom", EnvKey: "OPENAI_API_KEY", DisplayName: "Custom",
		IsGateway: true,
	},
	// SiliconFlow hosts DeepSeek/Qwen/Kolors under vendor-prefixed names.
	{
		Name: "siliconflow", Keywords: []string{"siliconflow"},
		EnvKey: "SILICON_FLOW_API_KEY", DisplayName: "SiliconFlow",
		IsGateway: true, DetectByBaseKW: "siliconflow",
		DefaultAPIBase: "https://api.siliconflow.cn/v1",
	},
	// OpenRouter
	{
		Name: "openrouter", Keywords: []string{"openrouter"},
		EnvKey: "OPENROUTER_API_KEY", DisplayName: "OpenRouter",
		ModelPrefix: "openrouter", IsGateway: true,
		DetectByKeyPrefix: "sk-or-", DetectByBaseKW: "openrouter",
		DefaultAPIBase: "https://openrouter.ai/api/v1",
	},
	// Zhipu
	{
		Name: "zhipu", Keywords: []string{"zhipu", "glm"},
		EnvKey: "ZHIPU_API_KEY", DisplayName: "Zhipu AI",
		DefaultAPIBase: "https://open.bigmodel.cn/api/paas/v4",
		ModelOverrides: []ModelOverride{
			{Pattern: "glm-4v", Overrides: map[string]any{"temperature": 0.3}},
		},
	},
	// MiniMax
	{
		Name: "minimax", Keywords: []string{"minimax", "abab"},
		EnvKey: "MINIMAX_API_KEY", DisplayName: "MiniMax",
		DefaultAPIBase: "https://api.minimax.chat/v1",
	},
	// DeepSeek
	{
		Name: "deepseek", Keywords: []string{"deepseek"},
		EnvKey: "DEEPSEEK_API_KEY", DisplayName: "DeepSeek",
		DefaultAPIBase: "https://api.deepseek.com/v1",
	},
	// DashScope
	{
		Name: "dashscope", Keywords: []string{"qwen", "dashscope"},
		EnvKey: "DASHSCOPE_API_KEY", DisplayName: "DashScope",
		DefaultAPIBase: "https://dashscope.aliyuncs.com/compatible-mode/v1",
	},
	// OpenAI
	{
		Name: "openai", Keywords: []string{"openai", "gpt"},
		EnvKey: "OPENAI_API_KEY", DisplayName: "OpenAI",
		DefaultAPIBase: "https://api.openai.com/v1",
	},
}

// FindByModel returns a standard provider spec matching a model name keyword.
// Skips gateways.
func FindByModel(model string) *ProviderSpec {
	lower := strings.ToLower(model)
	for _, spec := range Providers {
		if spec.IsGateway {
			continue
		}
		for _, kw := range spec.Keywords {
			if strings.Contains(lower, kw) {
				return spec
			}
		}
	}
	return nil
}

// FindGateway detects a gateway provider.
// Priority: 1) provider name  2) api key prefix  3) api base keyword.
func FindGateway(providerName, apiKey, apiBase string) *ProviderSpec {
	if providerName != "" {
		spec := FindByName(providerName)
		if spec != nil && spec.IsGateway {
			return spec
		}
	}
	for _, spec := range Providers {
		if spec.DetectByKeyPrefix != "" && apiKey != "" &&
			strings.HasPrefix(apiKey, spec.DetectByKeyPrefix) {
			return spec
		}
		if spec.DetectByBaseKW != "" && apiBase != "" &&
			strings.Contains(apiBase, spec.DetectByBaseKW) {
			return spec
		}
	}
	return nil
}

// FindByName finds a provider spec by config name.
func FindByName(name string) *ProviderSpec {
	for _, spec := range Providers {
		if spec.Name == name {
			return spec
		}
	}
	return nil
}
