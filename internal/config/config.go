package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file or environment leaves a value unset.
const (
	DefaultListenAddr      = ":8787"
	DefaultDatabaseDSN     = "organote.db"
	DefaultVerifyBaseURL   = "https://api.unkey.com"
	DefaultVerifyTimeout   = 10 * time.Second
	DefaultOpenAIModel     = "gpt-4o"
	DefaultWhisperModel    = "whisper-1"
	DefaultPlaceholderUser = "user"
)

// DefaultEventsRetentionDays is how long metering event rows are kept.
const DefaultEventsRetentionDays = 90

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen-addr"` // Address the HTTP server binds to.
}

// DatabaseConfig holds persistent store settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // Postgres or SQLite DSN.
}

// KeyVerifyConfig holds settings for the external key-verification service.
type KeyVerifyConfig struct {
	BaseURL       string        `yaml:"base-url"`       // Verification service base URL.
	RootKey       string        `yaml:"root-key"`       // Root key sent as Authorization.
	APIID         string        `yaml:"api-id"`         // Optional API scope for verification.
	Timeout       time.Duration `yaml:"timeout"`        // Per-request timeout; failures are treated as unauthorized.
	CacheAddr     string        `yaml:"cache-addr"`     // Optional redis address for verification caching.
	CacheTTL      time.Duration `yaml:"cache-ttl"`      // TTL for cached verification results.
	CachePassword string        `yaml:"cache-password"` // Redis password when required.
	CacheDisabled bool          `yaml:"cache-disabled"` // Force-disable caching even if an address is set.
}

// OpenAIConfig holds settings for the upstream model provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api-key"`       // Provider API key.
	BaseURL      string `yaml:"base-url"`      // Optional API base override.
	Model        string `yaml:"model"`         // Chat model for document operations.
	WhisperModel string `yaml:"whisper-model"` // Transcription model.
}

// AuthConfig holds authorization pipeline settings.
type AuthConfig struct {
	UserManagement  bool   `yaml:"user-management"`  // When false every request resolves to the placeholder identity.
	PlaceholderUser string `yaml:"placeholder-user"` // Identity used when user management is disabled.
	SessionSecret   string `yaml:"session-secret"`   // Cookie session signing secret.
	CronSecret      string `yaml:"cron-secret"`      // Shared secret guarding the reset trigger.
}

// AnalyticsConfig holds the optional analytics sink settings.
type AnalyticsConfig struct {
	PostHogKey      string `yaml:"posthog-key"`      // Project API key; empty disables analytics.
	PostHogEndpoint string `yaml:"posthog-endpoint"` // Optional endpoint override.
}

// ResetConfig holds periodic reset settings.
type ResetConfig struct {
	Interval time.Duration `yaml:"interval"` // In-process reset interval; zero disables the ticker.
}

// RetentionConfig holds metering event retention settings.
type RetentionConfig struct {
	EventsDays int `yaml:"events-days"` // Days to keep usage event rows; negative disables cleanup.
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // logrus level name.
	File  string `yaml:"file"`  // Optional rotating log file path.
}

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	KeyVerify KeyVerifyConfig `yaml:"key-verify"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Auth      AuthConfig      `yaml:"auth"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Reset     ResetConfig     `yaml:"reset"`
	Retention RetentionConfig `yaml:"retention"`
	Log       LogConfig       `yaml:"log"`
}

// Load reads configuration from an optional YAML file, applies environment
// overrides, and fills defaults. A missing file is not an error so that
// self-hosted deployments can run on environment variables alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if strings.TrimSpace(path) != "" {
		data, errRead := os.ReadFile(path)
		if errRead != nil {
			if !os.IsNotExist(errRead) {
				return nil, fmt.Errorf("config: read %s: %w", path, errRead)
			}
		} else if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv overrides config values from environment variables. The variable
// names match what the hosted deployment has always used.
func (c *Config) applyEnv() {
	if v := os.Getenv("ORGANOTE_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("UNKEY_ROOT_KEY"); v != "" {
		c.KeyVerify.RootKey = v
	}
	if v := os.Getenv("UNKEY_API_ID"); v != "" {
		c.KeyVerify.APIID = v
	}
	if v := os.Getenv("UNKEY_BASE_URL"); v != "" {
		c.KeyVerify.BaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.KeyVerify.CacheAddr = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_BASE"); v != "" {
		c.OpenAI.BaseURL = v
	}
	if v := os.Getenv("ENABLE_USER_MANAGEMENT"); v != "" {
		c.Auth.UserManagement = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		c.Auth.SessionSecret = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		c.Auth.CronSecret = v
	}
	if v := os.Getenv("POSTHOG_KEY"); v != "" {
		c.Analytics.PostHogKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// applyDefaults fills unset values with defaults.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Database.DSN == "" {
		c.Database.DSN = DefaultDatabaseDSN
	}
	if c.KeyVerify.BaseURL == "" {
		c.KeyVerify.BaseURL = DefaultVerifyBaseURL
	}
	if c.KeyVerify.Timeout <= 0 {
		c.KeyVerify.Timeout = DefaultVerifyTimeout
	}
	if c.KeyVerify.CacheTTL <= 0 {
		c.KeyVerify.CacheTTL = time.Minute
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = DefaultOpenAIModel
	}
	if c.OpenAI.WhisperModel == "" {
		c.OpenAI.WhisperModel = DefaultWhisperModel
	}
	if c.Auth.PlaceholderUser == "" {
		c.Auth.PlaceholderUser = DefaultPlaceholderUser
	}
	if c.Retention.EventsDays == 0 {
		c.Retention.EventsDays = DefaultEventsRetentionDays
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
