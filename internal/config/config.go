// Package config loads service settings from defaults, an optional config
// file, the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"vision-agent/internal/domain"
)

type Config struct {
	Port              int           `mapstructure:"port"`
	APIKey            string        `mapstructure:"api_key"`
	APIKeyParam       string        `mapstructure:"api_key_param"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	SummaryModel      string        `mapstructure:"summary_model"`
	InferenceTimeout  time.Duration `mapstructure:"inference_timeout"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	ContextWindow     int           `mapstructure:"context_window"`
	DefaultMemoryType string        `mapstructure:"default_memory_type"`
	SummaryMaxChars   int           `mapstructure:"summary_max_chars"`
	SummaryUseModel   bool          `mapstructure:"summary_use_model"`
	MaxImageBytes     int           `mapstructure:"max_image_bytes"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	RateLimitRPS      float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst"`
	LogLevel          string        `mapstructure:"log_level"`
}

// APIKeyEnv is the environment variable holding the inference credential.
const APIKeyEnv = "GROQ_API_KEY"

var envKeys = map[string]string{
	"port":                "PORT",
	"api_key":             APIKeyEnv,
	"api_key_param":       "GROQ_API_KEY_PARAM",
	"base_url":            "INFERENCE_BASE_URL",
	"model":               "INFERENCE_MODEL",
	"summary_model":       "SUMMARY_MODEL",
	"inference_timeout":   "INFERENCE_TIMEOUT",
	"session_ttl":         "SESSION_TTL",
	"sweep_interval":      "SWEEP_INTERVAL",
	"context_window":      "CONTEXT_WINDOW",
	"default_memory_type": "DEFAULT_MEMORY_TYPE",
	"summary_max_chars":   "SUMMARY_MAX_CHARS",
	"summary_use_model":   "SUMMARY_USE_MODEL",
	"max_image_bytes":     "MAX_IMAGE_BYTES",
	"cors_origins":        "CORS_ORIGINS",
	"rate_limit_rps":      "RATE_LIMIT_RPS",
	"rate_limit_burst":    "RATE_LIMIT_BURST",
	"log_level":           "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 9000)
	v.SetDefault("api_key", "")
	v.SetDefault("api_key_param", "")
	v.SetDefault("base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("model", "meta-llama/llama-4-scout-17b-16e-instruct")
	v.SetDefault("summary_model", "")
	v.SetDefault("inference_timeout", "30s")
	v.SetDefault("session_ttl", "1h")
	v.SetDefault("sweep_interval", "5m")
	v.SetDefault("context_window", 5)
	v.SetDefault("default_memory_type", string(domain.MemoryTranscript))
	v.SetDefault("summary_max_chars", 2000)
	v.SetDefault("summary_use_model", true)
	v.SetDefault("max_image_bytes", 10<<20)
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("rate_limit_rps", 5.0)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("log_level", "info")
}

// Load builds a Config. path may be empty; flags may be nil. Only flags the
// caller actually set override lower layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", env, err)
		}
	}

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if flags != nil {
		if f := flags.Lookup("port"); f != nil {
			if err := v.BindPFlag("port", f); err != nil {
				return nil, fmt.Errorf("config: bind port flag: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.CORSOrigins = splitOrigins(cfg.CORSOrigins)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first setting that cannot produce a working service.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: port %d out of range", c.Port)
	case c.InferenceTimeout <= 0:
		return errors.New("config: inference_timeout must be positive")
	case c.SessionTTL <= 0:
		return errors.New("config: session_ttl must be positive")
	case c.SweepInterval <= 0:
		return errors.New("config: sweep_interval must be positive")
	case c.ContextWindow <= 0:
		return errors.New("config: context_window must be positive")
	case c.SummaryMaxChars <= 0:
		return errors.New("config: summary_max_chars must be positive")
	case c.MaxImageBytes <= 0:
		return errors.New("config: max_image_bytes must be positive")
	case c.RateLimitRPS < 0:
		return errors.New("config: rate_limit_rps must not be negative")
	case c.RateLimitRPS > 0 && c.RateLimitBurst <= 0:
		return errors.New("config: rate_limit_burst must be positive when rate limiting is enabled")
	}
	if _, err := c.MemoryKind(); err != nil {
		return fmt.Errorf("config: default_memory_type: %w", err)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// MemoryKind returns the memory kind used when a request names none.
func (c *Config) MemoryKind() (domain.MemoryKind, error) {
	return domain.ParseMemoryKind(c.DefaultMemoryType, domain.MemoryTranscript)
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return level, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// splitOrigins accepts both list values and a single comma-separated string
// from the environment.
func splitOrigins(in []string) []string {
	var out []string
	for _, item := range in {
		for _, o := range strings.Split(item, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
