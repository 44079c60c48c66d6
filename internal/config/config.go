package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the muster daemon.
type Config struct {
	// Server configuration
	HTTPPort int    `env:"MUSTER_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"MUSTER_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// LLM configuration
	LLM LLMConfig

	// Fleet configuration
	Fleet FleetConfig

	// Dispatcher configuration
	Dispatcher DispatcherConfig

	// Trigger scheduler configuration
	Triggers TriggerConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// TTL applied to terminal work items; 0 keeps them forever.
	TerminalItemTTL time.Duration `env:"MUSTER_TERMINAL_ITEM_TTL" envDefault:"168h"`
}

// LLMConfig holds LLM provider configuration for the planner.
type LLMConfig struct {
	Provider string `env:"MUSTER_LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"MUSTER_LLM_API_KEY"`

	RequestTimeout time.Duration `env:"MUSTER_LLM_REQUEST_TIMEOUT" envDefault:"120s"`
	MaxTokens      int           `env:"MUSTER_LLM_MAX_TOKENS" envDefault:"4096"`

	// Tier to model mapping
	FastModel     string `env:"MUSTER_LLM_FAST_MODEL" envDefault:"claude-3-5-haiku-20241022"`
	BalancedModel string `env:"MUSTER_LLM_BALANCED_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	DeepModel     string `env:"MUSTER_LLM_DEEP_MODEL" envDefault:"claude-3-opus-20240229"`
}

// FleetConfig holds worker fleet hub configuration.
type FleetConfig struct {
	// A worker silent for longer than LivenessTimeout is evicted.
	LivenessTimeout time.Duration `env:"MUSTER_FLEET_LIVENESS_TIMEOUT" envDefault:"45s"`
	// How often the hub sweeps for dead workers and logs fleet health.
	SweepInterval time.Duration `env:"MUSTER_FLEET_SWEEP_INTERVAL" envDefault:"15s"`
}

// DispatcherConfig holds dispatch loop configuration.
type DispatcherConfig struct {
	Interval   time.Duration `env:"MUSTER_DISPATCH_INTERVAL" envDefault:"2s"`
	AckTimeout time.Duration `env:"MUSTER_DISPATCH_ACK_TIMEOUT" envDefault:"30s"`
	MaxRetries int           `env:"MUSTER_DISPATCH_MAX_RETRIES" envDefault:"3"`
}

// TriggerConfig holds trigger scheduler configuration.
type TriggerConfig struct {
	TickInterval time.Duration `env:"MUSTER_TRIGGER_TICK_INTERVAL" envDefault:"1m"`
}

// TimeoutConfig holds process-level timeout configuration.
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"MUSTER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is required")
	}

	if c.Fleet.LivenessTimeout <= 0 {
		return fmt.Errorf("fleet liveness timeout must be positive")
	}
	if c.Fleet.SweepInterval <= 0 {
		return fmt.Errorf("fleet sweep interval must be positive")
	}
	if c.Fleet.SweepInterval > c.Fleet.LivenessTimeout {
		return fmt.Errorf("fleet sweep interval must not exceed the liveness timeout")
	}

	if c.Dispatcher.MaxRetries < 1 {
		return fmt.Errorf("dispatch retry budget must be at least 1")
	}
	if c.Dispatcher.AckTimeout <= 0 {
		return fmt.Errorf("dispatch ack timeout must be positive")
	}

	if c.Triggers.TickInterval <= 0 {
		return fmt.Errorf("trigger tick interval must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address.
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
