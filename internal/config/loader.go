package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TOURGUIDE_"

// GetDataDir returns the tourguide home directory (~/.tourguide).
func GetDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tourguide")
}

// GetConfigPath returns the default config file path (~/.tourguide/config.json).
func GetConfigPath() string {
	return filepath.Join(GetDataDir(), "config.json")
}

// GetIntentsPath returns the default intents file path (~/.tourguide/intents.yaml).
func GetIntentsPath() string {
	return filepath.Join(GetDataDir(), "intents.yaml")
}

// GetEventsDir returns the default event rules directory (~/.tourguide/events).
func GetEventsDir() string {
	return filepath.Join(GetDataDir(), "events")
}

// Load reads configuration from a JSON file, then applies TOURGUIDE_*
// environment overrides.
// If path is empty, uses the default config path.
// If the file doesn't exist, starts from DefaultConfig().
func Load(path string) (Config, error) {
	if path == "" {
		path = GetConfigPath()
	}

	cfg := DefaultConfig() // start with defaults so zero-value fields get filled
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return DefaultConfig(), fmt.Errorf("parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return DefaultConfig(), err
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return DefaultConfig(), fmt.Errorf("env overrides: %w", err)
	}
	return cfg, nil
}

// Save writes configuration to a JSON file.
// If path is empty, uses the default config path.
func Save(cfg Config, path string) error {
	if path == "" {
		path = GetConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Timeout returns the facade timeout as a duration.
func (c FacadeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SlowThreshold returns the slow-tool threshold as a duration.
func (c ToolRunnerConfig) SlowThreshold() time.Duration {
	return time.Duration(c.SlowThresholdMs) * time.Millisecond
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Addr returns host:port for the server to listen on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether a Redis URL is configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" }
