// Package config loads client and mock-server settings from a YAML file and
// SNELROI_* environment variables. Environment values win over the file.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SNELROI_"

type Config struct {
	API         APIConfig         `yaml:"api" envPrefix:"API_"`
	Realtime    RealtimeConfig    `yaml:"realtime" envPrefix:"REALTIME_"`
	Credentials CredentialsConfig `yaml:"credentials" envPrefix:"CREDENTIALS_"`
	Log         LogConfig         `yaml:"log" envPrefix:"LOG_"`
	Mock        MockConfig        `yaml:"mock" envPrefix:"MOCK_"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type RealtimeConfig struct {
	BaseDelay         time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxAttempts       int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	TypingQuietPeriod time.Duration `yaml:"typing_quiet_period" env:"TYPING_QUIET_PERIOD"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	Role              string        `yaml:"role" env:"ROLE"`
}

type CredentialsConfig struct {
	DBPath string   `yaml:"db_path" env:"DB_PATH"`
	Keys   []string `yaml:"keys" env:"KEYS" envSeparator:","`
	// Token bypasses the store when set. It is never read from the file.
	Token string `yaml:"-" env:"TOKEN"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	File   string `yaml:"file" env:"FILE"`
}

type MockConfig struct {
	Host        string        `yaml:"host" env:"HOST"`
	Port        int           `yaml:"port" env:"PORT"`
	AgentThink  time.Duration `yaml:"agent_think" env:"AGENT_THINK"`
	AgentTyping time.Duration `yaml:"agent_typing" env:"AGENT_TYPING"`
}

// Dir returns the per-user directory for config, logs and credentials.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "snelroi-chat")
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: 10 * time.Second,
		},
		Realtime: RealtimeConfig{
			BaseDelay:         time.Second,
			MaxAttempts:       5,
			HeartbeatInterval: 30 * time.Second,
			TypingQuietPeriod: 2 * time.Second,
			WriteTimeout:      10 * time.Second,
			Role:              "customer",
		},
		Credentials: CredentialsConfig{
			DBPath: filepath.Join(Dir(), "credentials.db"),
			Keys:   []string{"snel-roi-token", "admin_token", "token", "access_token"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			File:   filepath.Join(Dir(), "support-chat.log"),
		},
		Mock: MockConfig{
			Host:        "127.0.0.1",
			Port:        8000,
			AgentThink:  time.Second,
			AgentTyping: 2 * time.Second,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is an error only when required is true.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "parse %s", path)
			}
		case os.IsNotExist(err) && !required:
		default:
			return nil, errors.Wrap(err, "read config")
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.API.BaseURL) == "" {
		problems = append(problems, "api.base_url is empty")
	}
	positive := map[string]time.Duration{
		"api.timeout":                  c.API.Timeout,
		"realtime.base_delay":          c.Realtime.BaseDelay,
		"realtime.heartbeat_interval":  c.Realtime.HeartbeatInterval,
		"realtime.typing_quiet_period": c.Realtime.TypingQuietPeriod,
		"realtime.write_timeout":       c.Realtime.WriteTimeout,
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}
	if c.Realtime.MaxAttempts <= 0 {
		problems = append(problems, "realtime.max_attempts must be positive")
	}
	if c.Realtime.Role != "customer" && c.Realtime.Role != "admin" {
		problems = append(problems, `realtime.role must be "customer" or "admin"`)
	}
	if len(c.Credentials.Keys) == 0 {
		problems = append(problems, "credentials.keys is empty")
	}
	for _, k := range c.Credentials.Keys {
		if strings.TrimSpace(k) == "" {
			problems = append(problems, "credentials.keys contains an empty key")
			break
		}
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		problems = append(problems, `log.format must be "console" or "json"`)
	}
	if c.Mock.Port <= 0 || c.Mock.Port > 65535 {
		problems = append(problems, "mock.port out of range")
	}
	if len(problems) > 0 {
		return errors.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func sortedKeys(m map[string]time.Duration) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
