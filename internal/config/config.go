package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/garymjr/beadworks/internal/domain"
)

// Config holds all configuration for beadworks
type Config struct {
	// Server configuration
	HTTPPort int    `env:"BEADWORKS_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"BEADWORKS_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// LLM configuration
	LLM LLMConfig

	// Worker pool configuration
	Pool PoolConfig

	// Session store configuration
	Sessions SessionsConfig

	// Event mirroring
	Events EventsConfig

	// Issue tracker configuration
	Tracker TrackerConfig

	// Observer stream configuration
	Stream StreamConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
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
}

// LLMConfig holds agent provider configuration
type LLMConfig struct {
	Provider          string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey            string `env:"LLM_API_KEY"`
	Model             string `env:"LLM_MODEL" envDefault:"claude-sonnet-4-5"`
	MaxTokens         int64  `env:"LLM_MAX_TOKENS" envDefault:"8192"`
	MaxToolIterations int    `env:"LLM_MAX_TOOL_ITERATIONS" envDefault:"40"`
}

// PoolConfig holds worker pool sizing and per-role reasoning effort
type PoolConfig struct {
	PlanningSize        int           `env:"POOL_PLANNING_SIZE" envDefault:"1"`
	ExecutionSize       int           `env:"POOL_EXECUTION_SIZE" envDefault:"2"`
	PlanningEffort      string        `env:"POOL_PLANNING_EFFORT" envDefault:"high"`
	ExecutionEffort     string        `env:"POOL_EXECUTION_EFFORT" envDefault:"low"`
	HealthCheckInterval time.Duration `env:"POOL_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// SessionsConfig holds session store configuration
type SessionsConfig struct {
	Backend         string        `env:"SESSIONS_BACKEND" envDefault:"file"`
	StatePath       string        `env:"SESSIONS_STATE_PATH" envDefault:".beadworks/sessions.json"`
	Retention       time.Duration `env:"SESSIONS_RETENTION" envDefault:"1h"`
	FlushInterval   time.Duration `env:"SESSIONS_FLUSH_INTERVAL" envDefault:"5s"`
	CleanupInterval time.Duration `env:"SESSIONS_CLEANUP_INTERVAL" envDefault:"5m"`
}

// EventsConfig holds event mirroring configuration
type EventsConfig struct {
	RedisMirror  bool  `env:"EVENTS_REDIS_MIRROR" envDefault:"false"`
	StreamMaxLen int64 `env:"EVENTS_REDIS_STREAM_MAXLEN" envDefault:"10000"`
}

// TrackerConfig holds issue tracker CLI configuration
type TrackerConfig struct {
	Binary  string `env:"TRACKER_BINARY" envDefault:"bd"`
	WorkDir string `env:"TRACKER_WORKDIR" envDefault:"."`
}

// StreamConfig holds observer stream configuration
type StreamConfig struct {
	KeepAlive   time.Duration `env:"STREAM_KEEPALIVE" envDefault:"15s"`
	MaxLifetime time.Duration `env:"STREAM_MAX_LIFETIME" envDefault:"30m"`
	ReplayLimit int           `env:"STREAM_REPLAY_LIMIT" envDefault:"50"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	AcquireTimeout  time.Duration `env:"TIMEOUT_ACQUIRE" envDefault:"5m"`
	TurnTimeout     time.Duration `env:"TIMEOUT_TURN" envDefault:"10m"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Load reads configuration from environment variables
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

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	if err := c.PoolSizes().Validate(); err != nil {
		return err
	}
	for role, effort := range c.Efforts() {
		if !effort.Valid() {
			return &domain.ConfigurationError{Field: string(role) + " effort", Reason: fmt.Sprintf("unknown reasoning effort %q", effort)}
		}
	}

	switch c.Sessions.Backend {
	case BackendFile:
		if c.Sessions.StatePath == "" {
			return fmt.Errorf("sessions state path is required for the file backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported sessions backend: %s (must be file or redis)", c.Sessions.Backend)
	}
	if c.Events.RedisMirror && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required for the event mirror")
	}

	if c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM model is required")
	}

	if c.Tracker.Binary == "" {
		return fmt.Errorf("tracker binary is required")
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

// PoolSizes returns the per-role worker counts
func (c *Config) PoolSizes() domain.PoolConfig {
	return domain.PoolConfig{
		Planning:  c.Pool.PlanningSize,
		Execution: c.Pool.ExecutionSize,
	}
}

// Efforts returns the reasoning effort configured for each role
func (c *Config) Efforts() map[domain.Role]domain.ReasoningEffort {
	return map[domain.Role]domain.ReasoningEffort{
		domain.RolePlanning:  domain.ReasoningEffort(c.Pool.PlanningEffort),
		domain.RoleExecution: domain.ReasoningEffort(c.Pool.ExecutionEffort),
	}
}

// UsesRedis reports whether any component needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.Sessions.Backend == BackendRedis || c.Events.RedisMirror
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
