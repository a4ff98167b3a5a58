package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"vision-agent/internal/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envKeys {
		t.Setenv(env, "")
		require.NoError(t, os.Unsetenv(env))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, ":9000", cfg.Addr())
	require.Equal(t, "https://api.groq.com/openai/v1", cfg.BaseURL)
	require.Equal(t, 30*time.Second, cfg.InferenceTimeout)
	require.Equal(t, time.Hour, cfg.SessionTTL)
	require.Equal(t, 5*time.Minute, cfg.SweepInterval)
	require.Equal(t, 5, cfg.ContextWindow)
	require.Equal(t, 2000, cfg.SummaryMaxChars)
	require.True(t, cfg.SummaryUseModel)
	require.Equal(t, 10<<20, cfg.MaxImageBytes)
	require.Equal(t, []string{"*"}, cfg.CORSOrigins)
	require.InDelta(t, 5.0, cfg.RateLimitRPS, 0.001)
	require.Equal(t, 10, cfg.RateLimitBurst)

	kind, err := cfg.MemoryKind()
	require.NoError(t, err)
	require.Equal(t, domain.MemoryTranscript, kind)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"port: 8081\nsession_ttl: 10m\ndefault_memory_type: summary\ncors_origins:\n  - https://a.example\n"), 0o600))

	t.Setenv("PORT", "7000")
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("CORS_ORIGINS", "https://b.example, https://c.example")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Port)
	require.Equal(t, 10*time.Minute, cfg.SessionTTL)
	require.Equal(t, "gsk-test", cfg.APIKey)
	require.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.CORSOrigins)

	kind, err := cfg.MemoryKind()
	require.NoError(t, err)
	require.Equal(t, domain.MemorySummary, kind)
}

func TestLoad_FlagBeatsEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 9000, "")
	require.NoError(t, flags.Parse([]string{"--port", "9100"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Port)
}

func TestLoad_UnsetFlagKeepsEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 9000, "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SESSION_TTL":         "0s",
		"SWEEP_INTERVAL":      "-1m",
		"INFERENCE_TIMEOUT":   "0s",
		"DEFAULT_MEMORY_TYPE": "vector",
		"LOG_LEVEL":           "chatty",
		"RATE_LIMIT_RPS":      "-1",
	}
	for env, value := range cases {
		t.Run(env, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(env, value)
			_, err := Load("", nil)
			require.Error(t, err)
		})
	}
}

func TestValidate_RateLimitDisabledIgnoresBurst(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_RPS", "0")
	t.Setenv("RATE_LIMIT_BURST", "0")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Zero(t, cfg.RateLimitRPS)
}
