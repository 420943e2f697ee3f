// Package config handles configuration loading, saving, and schema definition.
package config

// Config is the top-level tourguide configuration.
// JSON tags are camelCase to match the config file; env tags name the
// TOURGUIDE_* overrides applied after the file is read.
type Config struct {
	Network    NetworkConfig    `json:"network" envPrefix:"NETWORK_"`
	Facade     FacadeConfig     `json:"facade" envPrefix:"FACADE_"`
	ToolRunner ToolRunnerConfig `json:"toolRunner" envPrefix:"TOOLRUNNER_"`
	LLM        LLMConfig        `json:"llm" envPrefix:"LLM_"`
	Map        MapConfig        `json:"map" envPrefix:"MAP_"`
	Cache      CacheConfig      `json:"cache" envPrefix:"CACHE_"`
	Redis      RedisConfig      `json:"redis" envPrefix:"REDIS_"`
	Server     ServerConfig     `json:"server" envPrefix:"SERVER_"`
	Events     EventsConfig     `json:"events" envPrefix:"EVENTS_"`
}

// NetworkConfig tunes the message network.
type NetworkConfig struct {
	HistoryLimit  int  `json:"historyLimit" env:"HISTORY_LIMIT"`
	StrictRouting bool `json:"strictRouting" env:"STRICT_ROUTING"`
	Debug         bool `json:"debug" env:"DEBUG"`
}

// FacadeConfig tunes agent A.
type FacadeConfig struct {
	TimeoutSeconds     int    `json:"timeoutSeconds" env:"TIMEOUT_SECONDS"`
	DefaultCoordinates string `json:"defaultCoordinates" env:"DEFAULT_COORDINATES"`
	IntentsFile        string `json:"intentsFile,omitempty" env:"INTENTS_FILE"`
	RecordQueries      bool   `json:"recordQueries" env:"RECORD_QUERIES"`
}

// ToolRunnerConfig tunes agent B.
type ToolRunnerConfig struct {
	SlowThresholdMs int `json:"slowThresholdMs" env:"SLOW_THRESHOLD_MS"`
}

// LLMConfig selects the OpenAI-compatible backend for the guide tools.
type LLMConfig struct {
	Provider    string `json:"provider,omitempty" env:"PROVIDER"`
	Model       string `json:"model" env:"MODEL"`
	VisionModel string `json:"visionModel,omitempty" env:"VISION_MODEL"`
	APIKey      string `json:"apiKey,omitempty" env:"API_KEY"`
	APIBase     string `json:"apiBase,omitempty" env:"API_BASE"`
}

// MapConfig holds AMap static map settings.
type MapConfig struct {
	APIKey string `json:"apiKey,omitempty" env:"API_KEY"`
	Zoom   int    `json:"zoom" env:"ZOOM"`
	Size   string `json:"size" env:"SIZE"`
}

// CacheConfig bounds the tool result cache. Size 0 disables it.
type CacheConfig struct {
	Size       int `json:"size" env:"SIZE"`
	TTLSeconds int `json:"ttlSeconds" env:"TTL_SECONDS"`
}

// RedisConfig enables the context mirror when URL is set.
type RedisConfig struct {
	URL          string `json:"url,omitempty" env:"URL"`
	Password     string `json:"password,omitempty" env:"PASSWORD"`
	DB           int    `json:"db" env:"DB"`
	MirrorPrefix string `json:"mirrorPrefix" env:"MIRROR_PREFIX"`
}

// ServerConfig holds the monitor/API server settings.
type ServerConfig struct {
	Host   string `json:"host" env:"HOST"`
	Port   int    `json:"port" env:"PORT"`
	APIKey string `json:"apiKey,omitempty" env:"API_KEY"`
}

// EventsConfig locates the external event rules.
type EventsConfig struct {
	RulesDir string `json:"rulesDir,omitempty" env:"RULES_DIR"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Network: NetworkConfig{
			HistoryLimit: 100,
		},
		Facade: FacadeConfig{
			TimeoutSeconds:     30,
			DefaultCoordinates: "118.205,25.235",
		},
		ToolRunner: ToolRunnerConfig{
			SlowThresholdMs: 3000,
		},
		LLM: LLMConfig{
			Model:       "glm-4-flash",
			VisionModel: "glm-4v-flash",
		},
		Map: MapConfig{
			Zoom: 16,
			Size: "750*500",
		},
		Cache: CacheConfig{
			Size:       256,
			TTLSeconds: 600,
		},
		Redis: RedisConfig{
			MirrorPrefix: "tourguide:",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
	}
}
