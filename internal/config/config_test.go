package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MUSTER_LLM_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.HTTPPort)
	require.Equal(t, 9090, cfg.GRPCPort)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, 168*time.Hour, cfg.Redis.TerminalItemTTL)
	require.Equal(t, "anthropic", cfg.LLM.Provider)
	require.Equal(t, 45*time.Second, cfg.Fleet.LivenessTimeout)
	require.Equal(t, 15*time.Second, cfg.Fleet.SweepInterval)
	require.Equal(t, 2*time.Second, cfg.Dispatcher.Interval)
	require.Equal(t, 30*time.Second, cfg.Dispatcher.AckTimeout)
	require.Equal(t, 3, cfg.Dispatcher.MaxRetries)
	require.Equal(t, time.Minute, cfg.Triggers.TickInterval)
	require.Equal(t, ":8080", cfg.GetHTTPAddr())
	require.Equal(t, ":9090", cfg.GetGRPCAddr())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MUSTER_LLM_API_KEY", "test-key")
	t.Setenv("MUSTER_HTTP_PORT", "8123")
	t.Setenv("MUSTER_FLEET_LIVENESS_TIMEOUT", "90s")
	t.Setenv("MUSTER_DISPATCH_MAX_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8123, cfg.HTTPPort)
	require.Equal(t, 90*time.Second, cfg.Fleet.LivenessTimeout)
	require.Equal(t, 5, cfg.Dispatcher.MaxRetries)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			HTTPPort: 8080,
			GRPCPort: 9090,
			LogLevel: "info",
			Redis:    RedisConfig{Addr: "localhost:6379"},
			LLM:      LLMConfig{Provider: "anthropic", APIKey: "k"},
			Fleet:    FleetConfig{LivenessTimeout: 45 * time.Second, SweepInterval: 15 * time.Second},
			Dispatcher: DispatcherConfig{
				Interval: 2 * time.Second, AckTimeout: 30 * time.Second, MaxRetries: 3,
			},
			Triggers: TriggerConfig{TickInterval: time.Minute},
		}
	}
	require.NoError(t, base().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero http port", func(c *Config) { c.HTTPPort = 0 }},
		{"missing redis addr", func(c *Config) { c.Redis.Addr = "" }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "other" }},
		{"missing api key", func(c *Config) { c.LLM.APIKey = "" }},
		{"sweep slower than liveness", func(c *Config) { c.Fleet.SweepInterval = time.Minute }},
		{"zero retry budget", func(c *Config) { c.Dispatcher.MaxRetries = 0 }},
		{"zero ack timeout", func(c *Config) { c.Dispatcher.AckTimeout = 0 }},
		{"zero trigger tick", func(c *Config) { c.Triggers.TickInterval = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
